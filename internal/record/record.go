package record

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrMalformedRecord is returned when a record lacks the structure its kind requires
var ErrMalformedRecord = errors.New("malformed change record")

// Operation is the data change operation of a record
type Operation string

const (
	OpNone   Operation = ""
	OpCreate Operation = "c"
	OpRead   Operation = "r"
	OpUpdate Operation = "u"
	OpDelete Operation = "d"
)

// Record is a raw change-capture record as produced by a source connector.
// The classification predicates are expected to be mutually exclusive.
type Record interface {
	IsWatermarkBeforeCheckpoint() bool
	IsWatermarkAfterCheckpoint() bool
	IsSchemaChangeEvent() bool
	IsDataChangeRecord() bool

	Operation() Operation
	TableID() string
	Before() *Image
	After() *Image
}

// Field is the source-side schema of one image column
type Field struct {
	Name string
	// Type is the source type name (for example INT, VARCHAR or
	// io.debezium.time.Timestamp); it is informational for codecs.
	Type string
}

// Image is the before or after state of a row as carried by a record
type Image struct {
	// SchemaName is the source-side schema identifier of the image, for
	// example mysql_binlog_source.inventory.customers.Value
	SchemaName string
	Fields     []Field
	Values     map[string]interface{}
}

// NewImage creates an image whose fields follow the order of names
func NewImage(schemaName string, names []string, values map[string]interface{}) *Image {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field{Name: n}
	}
	return &Image{SchemaName: schemaName, Fields: fields, Values: values}
}

// Get returns the value of the named field; ok is false when the image does
// not carry the field at all.
func (img *Image) Get(name string) (interface{}, bool) {
	if img == nil {
		return nil, false
	}
	v, ok := img.Values[name]
	return v, ok
}

// Field returns the schema of the named field
func (img *Image) Field(name string) (Field, bool) {
	if img == nil {
		return Field{}, false
	}
	for _, f := range img.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ValuesEqual is the null-safe equality used to compare two image values
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}

// Kind is the classification of a record. The set is closed; every switch
// over Kind handles all of them.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindInsert
	KindRead
	KindUpdate
	KindDelete
	KindSchemaChange
	KindWatermarkBefore
	KindWatermarkAfter
)

func (k Kind) String() string {
	switch k {
	case KindUnrecognized:
		return "unrecognized"
	case KindInsert:
		return "insert"
	case KindRead:
		return "read"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindSchemaChange:
		return "schema-change"
	case KindWatermarkBefore:
		return "watermark-before"
	case KindWatermarkAfter:
		return "watermark-after"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Classify maps a record onto exactly one Kind. Predicates are checked in the
// order watermark-before, watermark-after, schema change, data change. A data
// change record with an unknown operation is unrecognized.
func Classify(r Record) Kind {
	switch {
	case r.IsWatermarkBeforeCheckpoint():
		return KindWatermarkBefore
	case r.IsWatermarkAfterCheckpoint():
		return KindWatermarkAfter
	case r.IsSchemaChangeEvent():
		return KindSchemaChange
	case r.IsDataChangeRecord():
		switch r.Operation() {
		case OpCreate:
			return KindInsert
		case OpRead:
			return KindRead
		case OpUpdate:
			return KindUpdate
		case OpDelete:
			return KindDelete
		}
	}
	return KindUnrecognized
}
