package converter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/types"
)

// Debezium semantic type names that change how integers are read
const (
	debeziumTime           = "io.debezium.time.Time"
	debeziumNanoTime       = "io.debezium.time.NanoTime"
	debeziumMicroTimestamp = "io.debezium.time.MicroTimestamp"
	debeziumNanoTimestamp  = "io.debezium.time.NanoTimestamp"
	connectBytes           = "bytes"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

func decodeError(field record.Field, value interface{}, target types.DataType, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %v (%T) as %s for %s: %v", ErrDecode, value, value, target, field.Name, cause)
	}
	return fmt.Errorf("%w: %v (%T) as %s for %s", ErrDecode, value, value, target, field.Name)
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return uintToInt64(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintToInt64(v)
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
	case decimal.Decimal:
		if !v.Equal(v.Truncate(0)) {
			return 0, fmt.Errorf("decimal %s has a fraction", v)
		}
		return v.IntPart(), nil
	}
	return 0, fmt.Errorf("unsupported type")
}

func uintToInt64(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value overflows int64")
	}
	return int64(v), nil
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("float %v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
	case decimal.Decimal:
		f, _ := v.Float64()
		return f, nil
	}
	i, err := toInt64(value)
	if err != nil {
		return 0, err
	}
	return float64(i), nil
}

func convertBoolean(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, decodeError(field, value, types.Of(types.SqlTypeBoolean), err)
		}
		return b, nil
	}
	i, err := toInt64(value)
	if err != nil {
		return nil, decodeError(field, value, types.Of(types.SqlTypeBoolean), err)
	}
	return i != 0, nil
}

func integerConverter(t types.SqlType, min, max int64) ValueConverterFunc {
	return func(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
		i, err := toInt64(value)
		if err != nil {
			return nil, decodeError(field, value, types.Of(t), err)
		}
		if i < min || i > max {
			return nil, decodeError(field, value, types.Of(t), fmt.Errorf("out of range"))
		}
		switch t {
		case types.SqlTypeTinyInt:
			return int8(i), nil
		case types.SqlTypeSmallInt:
			return int16(i), nil
		case types.SqlTypeInt:
			return int32(i), nil
		}
		return i, nil
	}
}

func convertFloat(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
	f, err := toFloat64(value)
	if err != nil {
		return nil, decodeError(field, value, types.Of(types.SqlTypeFloat), err)
	}
	return float32(f), nil
}

func convertDouble(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
	f, err := toFloat64(value)
	if err != nil {
		return nil, decodeError(field, value, types.Of(types.SqlTypeDouble), err)
	}
	return f, nil
}

func decimalConverter(target types.DataType) ValueConverterFunc {
	return func(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
		var (
			d   decimal.Decimal
			err error
		)
		switch v := value.(type) {
		case decimal.Decimal:
			d = v
		case string:
			d, err = decimal.NewFromString(strings.TrimSpace(v))
		case []byte:
			d, err = decimal.NewFromString(strings.TrimSpace(string(v)))
		case json.Number:
			d, err = decimal.NewFromString(v.String())
		case uint64:
			d, err = decimal.NewFromString(strconv.FormatUint(v, 10))
		case float32:
			d = decimal.NewFromFloat32(v)
		case float64:
			d = decimal.NewFromFloat(v)
		default:
			var i int64
			i, err = toInt64(value)
			d = decimal.NewFromInt(i)
		}
		if err != nil {
			return nil, decodeError(field, value, target, err)
		}
		return d, nil
	}
}

func convertString(_ record.Record, value interface{}, _ record.Field) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.Number:
		return v.String(), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return fmt.Sprint(value), nil
}

func convertBytes(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		if field.Type == connectBytes {
			b, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, decodeError(field, value, types.Of(types.SqlTypeBytes), err)
			}
			return b, nil
		}
		return []byte(v), nil
	}
	return nil, decodeError(field, value, types.Of(types.SqlTypeBytes), nil)
}

func dateConverter(loc *time.Location) ValueConverterFunc {
	return func(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
		switch v := value.(type) {
		case time.Time:
			y, m, d := v.In(loc).Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		case string:
			t, err := time.Parse("2006-01-02", strings.TrimSpace(v))
			if err != nil {
				return nil, decodeError(field, value, types.Of(types.SqlTypeDate), err)
			}
			return t, nil
		}
		days, err := toInt64(value)
		if err != nil {
			return nil, decodeError(field, value, types.Of(types.SqlTypeDate), err)
		}
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(days)), nil
	}
}

func convertTime(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case time.Time:
		midnight := time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, v.Location())
		return v.Sub(midnight), nil
	case string:
		d, err := parseClock(v)
		if err != nil {
			return nil, decodeError(field, value, types.Of(types.SqlTypeTime), err)
		}
		return d, nil
	case []byte:
		d, err := parseClock(string(v))
		if err != nil {
			return nil, decodeError(field, value, types.Of(types.SqlTypeTime), err)
		}
		return d, nil
	}
	n, err := toInt64(value)
	if err != nil {
		return nil, decodeError(field, value, types.Of(types.SqlTypeTime), err)
	}
	switch field.Type {
	case debeziumTime:
		return time.Duration(n) * time.Millisecond, nil
	case debeziumNanoTime:
		return time.Duration(n), nil
	}
	return time.Duration(n) * time.Microsecond, nil
}

// parseClock parses [-]HHH:MM:SS[.fraction], the MySQL TIME text form
func parseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", s)
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || sec >= 60 {
		return 0, fmt.Errorf("invalid seconds in %q", s)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(math.Round(sec*float64(time.Second)))
	if neg {
		d = -d
	}
	return d, nil
}

func timestampConverter(loc *time.Location) ValueConverterFunc {
	return func(_ record.Record, value interface{}, field record.Field) (interface{}, error) {
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			return parseTimestamp(v, loc, field)
		case []byte:
			return parseTimestamp(string(v), loc, field)
		}
		n, err := toInt64(value)
		if err != nil {
			return nil, decodeError(field, value, types.Of(types.SqlTypeTimestamp), err)
		}
		switch field.Type {
		case debeziumMicroTimestamp:
			return time.UnixMicro(n).In(loc), nil
		case debeziumNanoTimestamp:
			return time.Unix(0, n).In(loc), nil
		}
		return time.UnixMilli(n).In(loc), nil
	}
}

func parseTimestamp(s string, loc *time.Location, field record.Field) (interface{}, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return nil, decodeError(field, s, types.Of(types.SqlTypeTimestamp), fmt.Errorf("unknown layout"))
}
