package record

import "fmt"

// WatermarkKind marks a record as a checkpoint alignment signal
type WatermarkKind string

const (
	WatermarkNone               WatermarkKind = ""
	WatermarkSchemaChangeBefore WatermarkKind = "SCHEMA_CHANGE_BEFORE"
	WatermarkSchemaChangeAfter  WatermarkKind = "SCHEMA_CHANGE_AFTER"
)

const (
	sourceChannelPrefix = "mysql_binlog_source"
	valueSchemaSuffix   = "Value"
)

// Column describes one column of a table as announced by a schema change
// record (Debezium tableChanges or a catalog lookup)
type Column struct {
	Name     string
	TypeName string
	Length   int
	Scale    int
	Optional bool
}

// TableChange is the post-DDL layout of a table
type TableChange struct {
	// Type is CREATE, ALTER or DROP
	Type    string
	TableID string
	Columns []Column
}

// Event is the concrete Record produced by the connectors in this module
type Event struct {
	Watermark    WatermarkKind
	SchemaChange bool
	Op           Operation
	Database     string
	Table        string
	BeforeImage  *Image
	AfterImage   *Image

	// DDL and TableChanges are only set on schema change records
	DDL          string
	TableChanges []TableChange

	// Position is the source position after this record, when the source has one
	Position  string
	Timestamp int64
}

// NewWatermark creates a watermark signal record
func NewWatermark(kind WatermarkKind, database, table string) *Event {
	return &Event{Watermark: kind, Database: database, Table: table}
}

// NewSchemaChange creates a schema change record for a DDL statement
func NewSchemaChange(database, table, ddl string, changes ...TableChange) *Event {
	return &Event{SchemaChange: true, Database: database, Table: table, DDL: ddl, TableChanges: changes}
}

// NewDataChange creates a data change record
func NewDataChange(op Operation, database, table string, before, after *Image) *Event {
	return &Event{Op: op, Database: database, Table: table, BeforeImage: before, AfterImage: after}
}

func (e *Event) IsWatermarkBeforeCheckpoint() bool {
	return e.Watermark == WatermarkSchemaChangeBefore
}

func (e *Event) IsWatermarkAfterCheckpoint() bool {
	return e.Watermark == WatermarkSchemaChangeAfter
}

func (e *Event) IsSchemaChangeEvent() bool {
	return e.Watermark == WatermarkNone && e.SchemaChange
}

func (e *Event) IsDataChangeRecord() bool {
	return e.Watermark == WatermarkNone && !e.SchemaChange && e.Op != OpNone
}

func (e *Event) Operation() Operation {
	return e.Op
}

// TableID returns "database.table", or just the table when no database is known
func (e *Event) TableID() string {
	return TableID(e.Database, e.Table)
}

func (e *Event) Before() *Image {
	return e.BeforeImage
}

func (e *Event) After() *Image {
	return e.AfterImage
}

func (e *Event) String() string {
	return fmt.Sprintf("record{kind=%s table=%s pos=%s}", Classify(e), e.TableID(), e.Position)
}

// TableID joins a database and table name into a table identifier
func TableID(database, table string) string {
	if database == "" {
		return table
	}
	return database + "." + table
}

// ValueSchemaName is the schema name a binlog source gives the before/after
// images of a table
func ValueSchemaName(database, table string) string {
	return sourceChannelPrefix + "." + TableID(database, table) + "." + valueSchemaSuffix
}
