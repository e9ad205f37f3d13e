package types

import (
	"fmt"
	"strings"
)

// ProducedType is the live schema of a deserializer: either a single RowType
// or a MultipleRowType keyed by table identifier.
type ProducedType interface {
	SqlType() SqlType
	String() string
}

// Field is one named, typed column of a RowType
type Field struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// RowType is an immutable, ordered list of fields. Every mutation helper
// returns a new RowType; the receiver is never modified.
type RowType struct {
	fields []Field
	index  map[string]int
}

// NewRowType creates a row type from fields. Duplicate names are rejected.
func NewRowType(fields ...Field) (*RowType, error) {
	rt := &RowType{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has an empty name", i)
		}
		if _, dup := rt.index[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field name %q", f.Name)
		}
		if !f.Type.SQL.Valid() {
			return nil, fmt.Errorf("field %q has unknown type %q", f.Name, f.Type.SQL)
		}
		rt.fields[i] = f
		rt.index[f.Name] = i
	}
	return rt, nil
}

// MustRowType is NewRowType that panics on error, for static definitions and tests
func MustRowType(fields ...Field) *RowType {
	rt, err := NewRowType(fields...)
	if err != nil {
		panic(err)
	}
	return rt
}

// SqlType implements ProducedType
func (rt *RowType) SqlType() SqlType {
	return SqlTypeRow
}

// Arity returns the number of fields
func (rt *RowType) Arity() int {
	return len(rt.fields)
}

// Fields returns a copy of the fields in declaration order
func (rt *RowType) Fields() []Field {
	out := make([]Field, len(rt.fields))
	copy(out, rt.fields)
	return out
}

// Field returns the field at position i
func (rt *RowType) Field(i int) Field {
	return rt.fields[i]
}

// FieldNames returns the field names in declaration order
func (rt *RowType) FieldNames() []string {
	names := make([]string, len(rt.fields))
	for i, f := range rt.fields {
		names[i] = f.Name
	}
	return names
}

// IndexOf returns the position of the named field, or -1
func (rt *RowType) IndexOf(name string) int {
	if i, ok := rt.index[name]; ok {
		return i
	}
	return -1
}

// Equal compares names and types position by position
func (rt *RowType) Equal(other *RowType) bool {
	if rt == nil || other == nil {
		return rt == other
	}
	if len(rt.fields) != len(other.fields) {
		return false
	}
	for i := range rt.fields {
		if rt.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

func (rt *RowType) String() string {
	parts := make([]string, len(rt.fields))
	for i, f := range rt.fields {
		parts[i] = f.Name + " " + f.Type.String()
	}
	return "ROW<" + strings.Join(parts, ", ") + ">"
}

// TableRowType is one entry of a MultipleRowType
type TableRowType struct {
	TableID string
	RowType *RowType
}

// MultipleRowType maps table identifiers to row types. Iteration follows
// insertion order.
type MultipleRowType struct {
	entries []TableRowType
	index   map[string]int
}

// NewMultipleRowType creates a multi-table type. Entries keep the given order.
func NewMultipleRowType(entries ...TableRowType) (*MultipleRowType, error) {
	m := &MultipleRowType{
		entries: make([]TableRowType, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.RowType == nil {
			return nil, fmt.Errorf("table %q has no row type", e.TableID)
		}
		if _, dup := m.index[e.TableID]; dup {
			return nil, fmt.Errorf("duplicate table %q", e.TableID)
		}
		m.index[e.TableID] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return m, nil
}

// MustMultipleRowType is NewMultipleRowType that panics on error
func MustMultipleRowType(entries ...TableRowType) *MultipleRowType {
	m, err := NewMultipleRowType(entries...)
	if err != nil {
		panic(err)
	}
	return m
}

// SqlType implements ProducedType
func (m *MultipleRowType) SqlType() SqlType {
	return SqlTypeMultipleRow
}

// Len returns the number of tables
func (m *MultipleRowType) Len() int {
	return len(m.entries)
}

// Tables returns a copy of the entries in insertion order
func (m *MultipleRowType) Tables() []TableRowType {
	out := make([]TableRowType, len(m.entries))
	copy(out, m.entries)
	return out
}

// TableIDs returns the table identifiers in insertion order
func (m *MultipleRowType) TableIDs() []string {
	ids := make([]string, len(m.entries))
	for i, e := range m.entries {
		ids[i] = e.TableID
	}
	return ids
}

// RowType returns the row type of a table, or nil when it is unknown
func (m *MultipleRowType) RowType(tableID string) *RowType {
	if i, ok := m.index[tableID]; ok {
		return m.entries[i].RowType
	}
	return nil
}

// Equal compares order, identifiers and row types
func (m *MultipleRowType) Equal(other *MultipleRowType) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.entries) != len(other.entries) {
		return false
	}
	for i := range m.entries {
		if m.entries[i].TableID != other.entries[i].TableID ||
			!m.entries[i].RowType.Equal(other.entries[i].RowType) {
			return false
		}
	}
	return true
}

func (m *MultipleRowType) String() string {
	parts := make([]string, len(m.entries))
	for i, e := range m.entries {
		parts[i] = e.TableID + ": " + e.RowType.String()
	}
	return "MULTIPLE_ROW{" + strings.Join(parts, ", ") + "}"
}

// EqualProduced compares two produced types of any shape
func EqualProduced(a, b ProducedType) bool {
	switch x := a.(type) {
	case *RowType:
		y, ok := b.(*RowType)
		return ok && x.Equal(y)
	case *MultipleRowType:
		y, ok := b.(*MultipleRowType)
		return ok && x.Equal(y)
	case nil:
		return b == nil
	}
	return false
}
