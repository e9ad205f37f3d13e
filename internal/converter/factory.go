package converter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/types"
)

// ErrDecode is returned when a column value cannot be converted to its declared type
var ErrDecode = errors.New("failed to decode column value")

// ValueConverter converts one raw image value into the canonical value of a
// column. It is never called with a nil value.
type ValueConverter interface {
	Convert(rec record.Record, value interface{}, field record.Field) (interface{}, error)
}

// ValueConverterFunc adapts a function to ValueConverter
type ValueConverterFunc func(rec record.Record, value interface{}, field record.Field) (interface{}, error)

// Convert implements ValueConverter
func (f ValueConverterFunc) Convert(rec record.Record, value interface{}, field record.Field) (interface{}, error) {
	return f(rec, value, field)
}

// Factory creates the value converter of a column
type Factory interface {
	Create(column types.Field) (ValueConverter, error)
}

// DefaultFactory builds the built-in converters. Temporal values without a
// zone are read in Location.
type DefaultFactory struct {
	Location *time.Location
}

// NewDefaultFactory creates a DefaultFactory, falling back to time.Local
func NewDefaultFactory(loc *time.Location) *DefaultFactory {
	if loc == nil {
		loc = time.Local
	}
	return &DefaultFactory{Location: loc}
}

// Create implements Factory
func (f *DefaultFactory) Create(column types.Field) (ValueConverter, error) {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	switch column.Type.SQL {
	case types.SqlTypeNull:
		return ValueConverterFunc(func(record.Record, interface{}, record.Field) (interface{}, error) {
			return nil, nil
		}), nil
	case types.SqlTypeString:
		return ValueConverterFunc(convertString), nil
	case types.SqlTypeBoolean:
		return ValueConverterFunc(convertBoolean), nil
	case types.SqlTypeTinyInt:
		return integerConverter(types.SqlTypeTinyInt, math.MinInt8, math.MaxInt8), nil
	case types.SqlTypeSmallInt:
		return integerConverter(types.SqlTypeSmallInt, math.MinInt16, math.MaxInt16), nil
	case types.SqlTypeInt:
		return integerConverter(types.SqlTypeInt, math.MinInt32, math.MaxInt32), nil
	case types.SqlTypeBigInt:
		return integerConverter(types.SqlTypeBigInt, math.MinInt64, math.MaxInt64), nil
	case types.SqlTypeFloat:
		return ValueConverterFunc(convertFloat), nil
	case types.SqlTypeDouble:
		return ValueConverterFunc(convertDouble), nil
	case types.SqlTypeDecimal:
		return decimalConverter(column.Type), nil
	case types.SqlTypeBytes:
		return ValueConverterFunc(convertBytes), nil
	case types.SqlTypeDate:
		return dateConverter(loc), nil
	case types.SqlTypeTime:
		return ValueConverterFunc(convertTime), nil
	case types.SqlTypeTimestamp:
		return timestampConverter(loc), nil
	}
	return nil, fmt.Errorf("no converter for column %s of type %s", column.Name, column.Type)
}
