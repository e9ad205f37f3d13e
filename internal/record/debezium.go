package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ParseDebezium decodes a Debezium JSON message, with or without the
// {"schema", "payload"} envelope, into an Event. Empty messages (Kafka
// tombstones) yield an unrecognized record rather than an error.
func ParseDebezium(data []byte) (*Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return &Event{}, nil
	}

	var doc map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	if err := d.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode debezium message: %v", ErrMalformedRecord, err)
	}

	payload := doc
	var schema map[string]interface{}
	if p, ok := doc["payload"]; ok {
		if p == nil {
			return &Event{}, nil
		}
		payload, ok = p.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: payload is %T, not an object", ErrMalformedRecord, p)
		}
		schema, _ = doc["schema"].(map[string]interface{})
	}

	event := &Event{}
	if source, ok := payload["source"].(map[string]interface{}); ok {
		event.Database, _ = source["db"].(string)
		event.Table, _ = source["table"].(string)
		event.Position = sourcePosition(source)
	}
	if ts, ok := payload["ts_ms"].(json.Number); ok {
		event.Timestamp, _ = ts.Int64()
	}

	if kind, ok := payload["watermark_kind"].(string); ok {
		switch WatermarkKind(kind) {
		case WatermarkSchemaChangeBefore, WatermarkSchemaChangeAfter:
			event.Watermark = WatermarkKind(kind)
			return event, nil
		}
		return nil, fmt.Errorf("%w: unknown watermark kind %q", ErrMalformedRecord, kind)
	}

	if _, ok := payload["tableChanges"]; ok {
		return parseSchemaChange(event, payload)
	}
	if _, ok := payload["ddl"]; ok {
		return parseSchemaChange(event, payload)
	}

	op, _ := payload["op"].(string)
	switch Operation(op) {
	case OpCreate, OpRead, OpUpdate, OpDelete:
		event.Op = Operation(op)
	default:
		// heartbeats, transaction markers and anything newer stay unrecognized
		return event, nil
	}

	var err error
	if event.BeforeImage, err = parseImage(payload, schema, "before", event.Database, event.Table); err != nil {
		return nil, err
	}
	if event.AfterImage, err = parseImage(payload, schema, "after", event.Database, event.Table); err != nil {
		return nil, err
	}
	return event, nil
}

func sourcePosition(source map[string]interface{}) string {
	file, _ := source["file"].(string)
	if file == "" {
		return ""
	}
	pos, _ := source["pos"].(json.Number)
	return file + ":" + pos.String()
}

func parseImage(payload, schema map[string]interface{}, name, database, table string) (*Image, error) {
	raw, ok := payload[name]
	if !ok || raw == nil {
		return nil, nil
	}
	values, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s image is %T, not an object", ErrMalformedRecord, name, raw)
	}

	img := &Image{SchemaName: ValueSchemaName(database, table), Values: values}
	if fieldSchema := schemaField(schema, name); fieldSchema != nil {
		if n, ok := fieldSchema["name"].(string); ok && n != "" {
			img.SchemaName = n
		}
		fields, _ := fieldSchema["fields"].([]interface{})
		for _, f := range fields {
			fm, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			fieldName, _ := fm["field"].(string)
			typeName, _ := fm["name"].(string)
			if typeName == "" {
				typeName, _ = fm["type"].(string)
			}
			img.Fields = append(img.Fields, Field{Name: fieldName, Type: typeName})
		}
	}
	if len(img.Fields) == 0 {
		names := make([]string, 0, len(values))
		for k := range values {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, n := range names {
			img.Fields = append(img.Fields, Field{Name: n})
		}
	}
	return img, nil
}

func schemaField(schema map[string]interface{}, name string) map[string]interface{} {
	if schema == nil {
		return nil
	}
	fields, _ := schema["fields"].([]interface{})
	for _, f := range fields {
		fm, ok := f.(map[string]interface{})
		if ok && fm["field"] == name {
			return fm
		}
	}
	return nil
}

func parseSchemaChange(event *Event, payload map[string]interface{}) (*Event, error) {
	event.SchemaChange = true
	event.DDL, _ = payload["ddl"].(string)
	if event.Database == "" {
		event.Database, _ = payload["databaseName"].(string)
	}

	changes, _ := payload["tableChanges"].([]interface{})
	for i, c := range changes {
		cm, ok := c.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: tableChanges[%d] is %T", ErrMalformedRecord, i, c)
		}
		tc := TableChange{}
		tc.Type, _ = cm["type"].(string)
		id, _ := cm["id"].(string)
		tc.TableID = strings.ReplaceAll(id, `"`, "")

		table, _ := cm["table"].(map[string]interface{})
		columns, _ := table["columns"].([]interface{})
		for j, col := range columns {
			colMap, ok := col.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: tableChanges[%d].columns[%d] is %T", ErrMalformedRecord, i, j, col)
			}
			tc.Columns = append(tc.Columns, parseColumn(colMap))
		}
		event.TableChanges = append(event.TableChanges, tc)
	}

	if event.Table == "" && len(event.TableChanges) > 0 {
		id := event.TableChanges[0].TableID
		if i := strings.LastIndex(id, "."); i >= 0 {
			event.Database, event.Table = id[:i], id[i+1:]
		} else {
			event.Table = id
		}
	}
	return event, nil
}

func parseColumn(m map[string]interface{}) Column {
	col := Column{}
	col.Name, _ = m["name"].(string)
	col.TypeName, _ = m["typeName"].(string)
	col.Optional, _ = m["optional"].(bool)
	if n, ok := m["length"].(json.Number); ok {
		l, _ := n.Int64()
		col.Length = int(l)
	}
	if n, ok := m["scale"].(json.Number); ok {
		s, _ := n.Int64()
		col.Scale = int(s)
	}
	return col
}
