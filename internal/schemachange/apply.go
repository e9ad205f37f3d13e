package schemachange

import (
	"fmt"

	"cdc-rowstream/internal/types"
)

// Apply returns the row type that results from applying every change of
// event to current, in order. current is not modified. Any change that does
// not fit current fails the whole event.
func Apply(current *types.RowType, event *Event) (*types.RowType, error) {
	if event == nil || len(event.Changes) == 0 {
		return nil, fmt.Errorf("%w: event carries no column changes", ErrInvalidEvent)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: no row type to apply %s to", ErrInvalidEvent, event)
	}

	fields := current.Fields()
	for _, change := range event.Changes {
		var err error
		fields, err = applyChange(fields, change)
		if err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", ErrInvalidEvent, event.TableID, err)
		}
	}

	next, err := types.NewRowType(fields...)
	if err != nil {
		return nil, fmt.Errorf("%w: table %s: %v", ErrInvalidEvent, event.TableID, err)
	}
	return next, nil
}

func applyChange(fields []types.Field, change ColumnChange) ([]types.Field, error) {
	switch c := change.(type) {
	case AddColumn:
		if c.Column.Name == "" {
			return nil, fmt.Errorf("add column without a name")
		}
		if indexOf(fields, c.Column.Name) >= 0 {
			return nil, fmt.Errorf("column %q already exists", c.Column.Name)
		}
		return append(fields, c.Column), nil

	case DropColumn:
		i := indexOf(fields, c.Name)
		if i < 0 {
			return nil, fmt.Errorf("cannot drop unknown column %q", c.Name)
		}
		return append(fields[:i:i], fields[i+1:]...), nil

	case RenameColumn:
		i := indexOf(fields, c.From)
		if i < 0 {
			return nil, fmt.Errorf("cannot rename unknown column %q", c.From)
		}
		if c.To == "" {
			return nil, fmt.Errorf("rename of %q has no target name", c.From)
		}
		if c.To != c.From && indexOf(fields, c.To) >= 0 {
			return nil, fmt.Errorf("cannot rename %q to existing column %q", c.From, c.To)
		}
		fields[i].Name = c.To
		return fields, nil

	case ModifyColumn:
		i := indexOf(fields, c.Name)
		if i < 0 {
			return nil, fmt.Errorf("cannot modify unknown column %q", c.Name)
		}
		if !c.Type.SQL.Valid() {
			return nil, fmt.Errorf("column %q modified to unknown type %q", c.Name, c.Type.SQL)
		}
		fields[i].Type = c.Type
		return fields, nil

	case nil:
		return nil, fmt.Errorf("nil column change")
	}
	return nil, fmt.Errorf("unsupported column change %T", change)
}

func indexOf(fields []types.Field, name string) int {
	for i, f := range fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// ApplyProduced applies event to a produced type of either shape.
//
// For a MultipleRowType only the entry named by the event changes; every other
// entry is carried over as the same value and table order is kept. The
// returned bool is false when the event names a table the multi-table type
// does not hold; the input is then returned unchanged.
func ApplyProduced(current types.ProducedType, event *Event) (types.ProducedType, bool, error) {
	switch t := current.(type) {
	case *types.RowType:
		next, err := Apply(t, event)
		if err != nil {
			return nil, false, err
		}
		return next, true, nil

	case *types.MultipleRowType:
		if event == nil {
			return nil, false, fmt.Errorf("%w: nil event", ErrInvalidEvent)
		}
		if t.RowType(event.TableID) == nil {
			return t, false, nil
		}
		entries := t.Tables()
		for i, e := range entries {
			if e.TableID != event.TableID {
				continue
			}
			next, err := Apply(e.RowType, event)
			if err != nil {
				return nil, false, err
			}
			entries[i].RowType = next
		}
		next, err := types.NewMultipleRowType(entries...)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		return next, true, nil
	}
	return nil, false, fmt.Errorf("%w: unsupported produced type %T", ErrInvalidEvent, current)
}
