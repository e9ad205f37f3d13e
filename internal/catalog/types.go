package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"cdc-rowstream/internal/types"
)

// ColumnType is a parsed MySQL column type such as "decimal(10,2) unsigned"
type ColumnType struct {
	Name     string
	Length   int
	Scale    int
	Unsigned bool
}

// ParseColumnType parses an INFORMATION_SCHEMA COLUMN_TYPE or a Debezium typeName
func ParseColumnType(s string) (ColumnType, error) {
	ct := ColumnType{}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ct, fmt.Errorf("empty column type")
	}

	rest := s
	if open := strings.IndexByte(s, '('); open >= 0 {
		closing := strings.IndexByte(s[open:], ')')
		if closing < 0 {
			return ct, fmt.Errorf("unbalanced column type %q", s)
		}
		args := s[open+1 : open+closing]
		rest = s[:open] + s[open+closing+1:]
		// enum and set carry value lists, not lengths
		if name := strings.TrimSpace(s[:open]); name != "enum" && name != "set" {
			parts := strings.Split(args, ",")
			if n, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
				ct.Length = n
			}
			if len(parts) > 1 {
				if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					ct.Scale = n
				}
			}
		}
	}

	words := strings.Fields(rest)
	if len(words) == 0 {
		return ct, fmt.Errorf("invalid column type %q", s)
	}
	ct.Name = words[0]
	for _, w := range words[1:] {
		if w == "unsigned" {
			ct.Unsigned = true
		}
	}
	return ct, nil
}

// DataTypeOf maps a MySQL column type to the row field type it decodes to
func DataTypeOf(columnType string) (types.DataType, error) {
	return DataTypeFor(columnType, 0, 0)
}

// DataTypeFor maps a type name with an optional separate length and scale,
// as Debezium announces columns. A length inside typeName takes precedence.
func DataTypeFor(typeName string, length, scale int) (types.DataType, error) {
	ct, err := ParseColumnType(typeName)
	if err != nil {
		return types.DataType{}, err
	}
	if ct.Length == 0 {
		ct.Length, ct.Scale = length, scale
	}
	return ct.DataType()
}

// DataType maps the parsed type
func (ct ColumnType) DataType() (types.DataType, error) {
	switch ct.Name {
	case "bit":
		if ct.Length <= 1 {
			return types.Of(types.SqlTypeBoolean), nil
		}
		return types.Of(types.SqlTypeBytes), nil
	case "bool", "boolean":
		return types.Of(types.SqlTypeBoolean), nil
	case "tinyint":
		if ct.Length == 1 && !ct.Unsigned {
			return types.Of(types.SqlTypeBoolean), nil
		}
		if ct.Unsigned {
			return types.Of(types.SqlTypeSmallInt), nil
		}
		return types.Of(types.SqlTypeTinyInt), nil
	case "smallint":
		if ct.Unsigned {
			return types.Of(types.SqlTypeInt), nil
		}
		return types.Of(types.SqlTypeSmallInt), nil
	case "mediumint", "year":
		return types.Of(types.SqlTypeInt), nil
	case "int", "integer":
		if ct.Unsigned {
			return types.Of(types.SqlTypeBigInt), nil
		}
		return types.Of(types.SqlTypeInt), nil
	case "bigint":
		if ct.Unsigned {
			return types.Decimal(20, 0), nil
		}
		return types.Of(types.SqlTypeBigInt), nil
	case "float":
		return types.Of(types.SqlTypeFloat), nil
	case "double", "real":
		return types.Of(types.SqlTypeDouble), nil
	case "decimal", "numeric", "dec", "fixed":
		precision, scale := ct.Length, ct.Scale
		if precision == 0 {
			precision = 10
		}
		return types.Decimal(precision, scale), nil
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext", "json", "enum", "set":
		return types.Of(types.SqlTypeString), nil
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob", "geometry":
		return types.Of(types.SqlTypeBytes), nil
	case "date":
		return types.Of(types.SqlTypeDate), nil
	case "time":
		return types.Of(types.SqlTypeTime), nil
	case "datetime", "timestamp":
		return types.Of(types.SqlTypeTimestamp), nil
	default:
		return types.DataType{}, fmt.Errorf("unsupported MySQL type %q", ct.Name)
	}
}
