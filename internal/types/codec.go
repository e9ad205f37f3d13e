package types

import (
	"encoding/json"
	"fmt"
)

type producedTypeJSON struct {
	Kind   SqlType          `json:"kind"`
	Fields []Field          `json:"fields,omitempty"`
	Tables []tableEntryJSON `json:"tables,omitempty"`
}

type tableEntryJSON struct {
	Table  string  `json:"table"`
	Fields []Field `json:"fields"`
}

// MarshalProducedType serializes a produced type for checkpoint storage.
// Table order of a MultipleRowType is preserved.
func MarshalProducedType(t ProducedType) ([]byte, error) {
	var doc producedTypeJSON
	switch v := t.(type) {
	case *RowType:
		doc = producedTypeJSON{Kind: SqlTypeRow, Fields: v.Fields()}
	case *MultipleRowType:
		doc = producedTypeJSON{Kind: SqlTypeMultipleRow}
		for _, e := range v.entries {
			doc.Tables = append(doc.Tables, tableEntryJSON{Table: e.TableID, Fields: e.RowType.Fields()})
		}
	default:
		return nil, fmt.Errorf("cannot marshal produced type %T", t)
	}
	return json.Marshal(doc)
}

// UnmarshalProducedType restores a produced type written by MarshalProducedType
func UnmarshalProducedType(data []byte) (ProducedType, error) {
	var doc producedTypeJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode produced type: %w", err)
	}
	switch doc.Kind {
	case SqlTypeRow:
		rt, err := NewRowType(doc.Fields...)
		if err != nil {
			return nil, err
		}
		return rt, nil
	case SqlTypeMultipleRow:
		entries := make([]TableRowType, 0, len(doc.Tables))
		for _, t := range doc.Tables {
			rt, err := NewRowType(t.Fields...)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", t.Table, err)
			}
			entries = append(entries, TableRowType{TableID: t.Table, RowType: rt})
		}
		m, err := NewMultipleRowType(entries...)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown produced type kind %q", doc.Kind)
}
