package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	img := NewImage("s", []string{"a"}, map[string]interface{}{"a": 1})
	cases := []struct {
		record Record
		want   Kind
	}{
		{NewWatermark(WatermarkSchemaChangeBefore, "db", "t"), KindWatermarkBefore},
		{NewWatermark(WatermarkSchemaChangeAfter, "db", "t"), KindWatermarkAfter},
		{NewSchemaChange("db", "t", "ALTER TABLE t ADD c INT"), KindSchemaChange},
		{NewDataChange(OpCreate, "db", "t", nil, img), KindInsert},
		{NewDataChange(OpRead, "db", "t", nil, img), KindRead},
		{NewDataChange(OpUpdate, "db", "t", img, img), KindUpdate},
		{NewDataChange(OpDelete, "db", "t", img, nil), KindDelete},
		{NewDataChange("m", "db", "t", nil, nil), KindUnrecognized},
		{&Event{}, KindUnrecognized},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Classify(c.record), "%v", c.record)
	}
}

func TestTableIDAndSchemaName(t *testing.T) {
	require.Equal(t, "inventory.customers", TableID("inventory", "customers"))
	require.Equal(t, "customers", TableID("", "customers"))
	require.Equal(t, "mysql_binlog_source.inventory.customers.Value", ValueSchemaName("inventory", "customers"))
}

func TestValuesEqual(t *testing.T) {
	require.True(t, ValuesEqual(nil, nil))
	require.False(t, ValuesEqual(nil, 0))
	require.False(t, ValuesEqual("", nil))
	require.True(t, ValuesEqual([]byte("ab"), []byte("ab")))
	require.False(t, ValuesEqual(int64(1), int32(1)))
	require.True(t, ValuesEqual(json.Number("3"), json.Number("3")))
}

func TestParseDebeziumUpdateWithSchema(t *testing.T) {
	msg := `{
	  "schema": {
	    "type": "struct",
	    "name": "mysql_binlog_source.inventory.customers.Envelope",
	    "fields": [
	      {"field": "before", "name": "mysql_binlog_source.inventory.customers.Value",
	       "fields": [{"field": "id", "type": "int32"}, {"field": "email", "type": "string"}]},
	      {"field": "after", "name": "mysql_binlog_source.inventory.customers.Value",
	       "fields": [{"field": "id", "type": "int32"}, {"field": "email", "type": "string"}]}
	    ]
	  },
	  "payload": {
	    "before": {"id": 1004, "email": "old@example.com"},
	    "after": {"id": 1004, "email": "new@example.com"},
	    "source": {"db": "inventory", "table": "customers", "file": "mysql-bin.000003", "pos": 4512},
	    "op": "u",
	    "ts_ms": 1700000000000
	  }
	}`
	event, err := ParseDebezium([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, KindUpdate, Classify(event))
	require.Equal(t, "inventory.customers", event.TableID())
	require.Equal(t, "mysql-bin.000003:4512", event.Position)
	require.Equal(t, int64(1700000000000), event.Timestamp)

	before := event.Before()
	require.Equal(t, "mysql_binlog_source.inventory.customers.Value", before.SchemaName)
	require.Equal(t, []Field{{Name: "id", Type: "int32"}, {Name: "email", Type: "string"}}, before.Fields)
	v, ok := event.After().Get("email")
	require.True(t, ok)
	require.Equal(t, "new@example.com", v)
	id, _ := before.Get("id")
	require.Equal(t, json.Number("1004"), id)
}

func TestParseDebeziumWithoutSchema(t *testing.T) {
	msg := `{"before": null, "after": {"b": 2, "a": 1}, "source": {"db": "db", "table": "t"}, "op": "c"}`
	event, err := ParseDebezium([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, KindInsert, Classify(event))
	require.Nil(t, event.Before())
	require.Equal(t, "mysql_binlog_source.db.t.Value", event.After().SchemaName)
	require.Equal(t, []Field{{Name: "a"}, {Name: "b"}}, event.After().Fields)
}

func TestParseDebeziumSchemaChange(t *testing.T) {
	msg := `{"payload": {
	  "source": {"db": "inventory", "table": "orders"},
	  "databaseName": "inventory",
	  "ddl": "ALTER TABLE orders ADD COLUMN note VARCHAR(64)",
	  "tableChanges": [{
	    "type": "ALTER",
	    "id": "\"inventory\".\"orders\"",
	    "table": {"columns": [
	      {"name": "id", "typeName": "INT", "length": 11, "optional": false},
	      {"name": "note", "typeName": "VARCHAR", "length": 64, "optional": true}
	    ]}
	  }]
	}}`
	event, err := ParseDebezium([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, KindSchemaChange, Classify(event))
	require.Equal(t, "inventory.orders", event.TableID())
	require.Len(t, event.TableChanges, 1)
	require.Equal(t, "inventory.orders", event.TableChanges[0].TableID)
	require.Equal(t, []Column{
		{Name: "id", TypeName: "INT", Length: 11},
		{Name: "note", TypeName: "VARCHAR", Length: 64, Optional: true},
	}, event.TableChanges[0].Columns)
}

func TestParseDebeziumSchemaChangeTableFromID(t *testing.T) {
	msg := `{"databaseName": "inventory", "ddl": "ALTER TABLE x",
	  "tableChanges": [{"type": "ALTER", "id": "\"inventory\".\"x\"", "table": {"columns": []}}]}`
	event, err := ParseDebezium([]byte(msg))
	require.NoError(t, err)
	require.Equal(t, "inventory.x", event.TableID())
}

func TestParseDebeziumWatermarksAndUnknown(t *testing.T) {
	event, err := ParseDebezium([]byte(`{"watermark_kind": "SCHEMA_CHANGE_BEFORE", "source": {"db": "d", "table": "t"}}`))
	require.NoError(t, err)
	require.Equal(t, KindWatermarkBefore, Classify(event))

	event, err = ParseDebezium([]byte(`{"payload": {"watermark_kind": "SCHEMA_CHANGE_AFTER"}}`))
	require.NoError(t, err)
	require.Equal(t, KindWatermarkAfter, Classify(event))

	_, err = ParseDebezium([]byte(`{"watermark_kind": "LOW"}`))
	require.ErrorIs(t, err, ErrMalformedRecord)

	for _, msg := range []string{``, `null`, `{"payload": null}`, `{"op": "m", "source": {}}`} {
		event, err = ParseDebezium([]byte(msg))
		require.NoError(t, err, msg)
		require.Equal(t, KindUnrecognized, Classify(event), msg)
	}
}

func TestParseDebeziumMalformed(t *testing.T) {
	for _, msg := range []string{
		`{not json`,
		`{"payload": "text"}`,
		`{"op": "u", "before": [1], "after": {}}`,
		`{"ddl": "x", "tableChanges": ["bad"]}`,
	} {
		_, err := ParseDebezium([]byte(msg))
		require.ErrorIs(t, err, ErrMalformedRecord, msg)
	}
}
