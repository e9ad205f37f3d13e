package converter

import (
	"fmt"

	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/types"
)

// DefaultTableKey is the converter key used when a single table is in scope
const DefaultTableKey = ""

// RowConverter builds canonical rows for one table's row type. Image values
// are matched to row type fields by name; a field the image does not carry
// becomes null.
type RowConverter struct {
	rowType    *types.RowType
	converters []ValueConverter
}

// NewRowConverter creates the converter of rowType using factory for each column
func NewRowConverter(rowType *types.RowType, factory Factory) (*RowConverter, error) {
	converters := make([]ValueConverter, rowType.Arity())
	for i, f := range rowType.Fields() {
		c, err := factory.Create(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create converter for column %s: %w", f.Name, err)
		}
		converters[i] = c
	}
	return &RowConverter{rowType: rowType, converters: converters}, nil
}

// RowType returns the row type the converter was built for
func (c *RowConverter) RowType() *types.RowType {
	return c.rowType
}

// Convert builds a row from a single image
func (c *RowConverter) Convert(rec record.Record, img *record.Image) (*types.Row, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: missing row image", record.ErrMalformedRecord)
	}
	return c.build(rec, img, nil)
}

// ConvertUpdate builds one row from both images of an update. Values come
// from after; fields after does not carry are taken from before.
func (c *RowConverter) ConvertUpdate(rec record.Record, before, after *record.Image) (*types.Row, error) {
	if before == nil || after == nil {
		return nil, fmt.Errorf("%w: update without before and after images", record.ErrMalformedRecord)
	}
	return c.build(rec, after, before)
}

func (c *RowConverter) build(rec record.Record, primary, fallback *record.Image) (*types.Row, error) {
	row := types.NewRow(c.rowType.Arity())
	for i := 0; i < c.rowType.Arity(); i++ {
		name := c.rowType.Field(i).Name
		img := primary
		value, ok := primary.Get(name)
		if !ok && fallback != nil {
			img = fallback
			value, ok = fallback.Get(name)
		}
		if !ok || value == nil {
			continue
		}
		schema, found := img.Field(name)
		if !found {
			schema = record.Field{Name: name}
		}
		v, err := c.converters[i].Convert(rec, value, schema)
		if err != nil {
			return nil, err
		}
		row.Fields[i] = v
	}
	return row, nil
}

// BuildTableConverters creates one converter per table of produced. A single
// RowType is stored under DefaultTableKey. The result is a fresh map; callers
// swap it in whole.
func BuildTableConverters(produced types.ProducedType, factory Factory) (map[string]*RowConverter, error) {
	switch t := produced.(type) {
	case *types.RowType:
		c, err := NewRowConverter(t, factory)
		if err != nil {
			return nil, err
		}
		return map[string]*RowConverter{DefaultTableKey: c}, nil
	case *types.MultipleRowType:
		out := make(map[string]*RowConverter, t.Len())
		for _, e := range t.Tables() {
			c, err := NewRowConverter(e.RowType, factory)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", e.TableID, err)
			}
			out[e.TableID] = c
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported produced type %T", produced)
}
