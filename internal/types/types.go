package types

import (
	"fmt"
	"strings"
)

// SqlType is the canonical logical type of a column or of a produced row type
type SqlType string

const (
	SqlTypeNull        SqlType = "NULL"
	SqlTypeString      SqlType = "STRING"
	SqlTypeBoolean     SqlType = "BOOLEAN"
	SqlTypeTinyInt     SqlType = "TINYINT"
	SqlTypeSmallInt    SqlType = "SMALLINT"
	SqlTypeInt         SqlType = "INT"
	SqlTypeBigInt      SqlType = "BIGINT"
	SqlTypeFloat       SqlType = "FLOAT"
	SqlTypeDouble      SqlType = "DOUBLE"
	SqlTypeDecimal     SqlType = "DECIMAL"
	SqlTypeBytes       SqlType = "BYTES"
	SqlTypeDate        SqlType = "DATE"
	SqlTypeTime        SqlType = "TIME"
	SqlTypeTimestamp   SqlType = "TIMESTAMP"
	SqlTypeRow         SqlType = "ROW"
	SqlTypeMultipleRow SqlType = "MULTIPLE_ROW"
)

var knownSqlTypes = map[SqlType]struct{}{
	SqlTypeNull: {}, SqlTypeString: {}, SqlTypeBoolean: {}, SqlTypeTinyInt: {},
	SqlTypeSmallInt: {}, SqlTypeInt: {}, SqlTypeBigInt: {}, SqlTypeFloat: {},
	SqlTypeDouble: {}, SqlTypeDecimal: {}, SqlTypeBytes: {}, SqlTypeDate: {},
	SqlTypeTime: {}, SqlTypeTimestamp: {}, SqlTypeRow: {}, SqlTypeMultipleRow: {},
}

// Valid reports whether t is one of the canonical types
func (t SqlType) Valid() bool {
	_, ok := knownSqlTypes[t]
	return ok
}

// ParseSqlType parses a canonical type name, case-insensitively
func ParseSqlType(s string) (SqlType, error) {
	t := SqlType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown sql type %q", s)
	}
	return t, nil
}

// DataType describes the declared type of a single column. Precision and
// Scale only carry meaning for DECIMAL.
type DataType struct {
	SQL       SqlType `json:"sql"`
	Precision int     `json:"precision,omitempty"`
	Scale     int     `json:"scale,omitempty"`
}

// Of returns a DataType without precision or scale
func Of(t SqlType) DataType {
	return DataType{SQL: t}
}

// Decimal returns a DECIMAL(precision, scale) type
func Decimal(precision, scale int) DataType {
	return DataType{SQL: SqlTypeDecimal, Precision: precision, Scale: scale}
}

func (d DataType) String() string {
	if d.SQL == SqlTypeDecimal && d.Precision > 0 {
		return fmt.Sprintf("DECIMAL(%d, %d)", d.Precision, d.Scale)
	}
	return string(d.SQL)
}

// RowKind tags a canonical row with the change it represents
type RowKind int8

const (
	RowKindInsert RowKind = iota
	RowKindUpdateBefore
	RowKindUpdateAfter
	RowKindDelete
)

func (k RowKind) String() string {
	switch k {
	case RowKindInsert:
		return "INSERT"
	case RowKindUpdateBefore:
		return "UPDATE_BEFORE"
	case RowKindUpdateAfter:
		return "UPDATE_AFTER"
	case RowKindDelete:
		return "DELETE"
	}
	return fmt.Sprintf("RowKind(%d)", int8(k))
}

// Row is a canonical row. Fields are positional against the RowType the row
// was built from. TableID is empty when only one table is in scope.
type Row struct {
	Kind    RowKind       `json:"kind"`
	TableID string        `json:"table_id,omitempty"`
	Fields  []interface{} `json:"fields"`
}

// NewRow creates a row with arity fields, all null
func NewRow(arity int) *Row {
	return &Row{Fields: make([]interface{}, arity)}
}

// Arity returns the number of fields in the row
func (r *Row) Arity() int {
	return len(r.Fields)
}
