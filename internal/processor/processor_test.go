package processor

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-rowstream/internal/checkpoint"
	"cdc-rowstream/internal/converter"
	"cdc-rowstream/internal/deserializer"
	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/resolver"
	"cdc-rowstream/internal/schemachange"
	"cdc-rowstream/internal/types"
)

type sliceSource struct {
	records   []*record.Event
	committed int
}

func (s *sliceSource) Next(context.Context) (*record.Event, error) {
	if len(s.records) == 0 {
		return nil, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, nil
}

func (s *sliceSource) Commit(context.Context, *record.Event) error {
	s.committed++
	return nil
}

func (s *sliceSource) Close() error { return nil }

type captureSink struct {
	rows   []*types.Row
	events []*schemachange.Event
	marks  []string
}

func (c *captureSink) Collect(row *types.Row) error { c.rows = append(c.rows, row); return nil }
func (c *captureSink) CollectSchemaChange(e *schemachange.Event) error {
	c.events = append(c.events, e)
	return nil
}
func (c *captureSink) MarkSchemaChangeBeforeCheckpoint() error {
	c.marks = append(c.marks, "before")
	return nil
}
func (c *captureSink) MarkSchemaChangeAfterCheckpoint() error {
	c.marks = append(c.marks, "after")
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func ordersType() *types.RowType {
	return types.MustRowType(types.Field{Name: "id", Type: types.Of(types.SqlTypeBigInt)})
}

func insert(id int64, position string, extra map[string]interface{}) *record.Event {
	values := map[string]interface{}{"id": id}
	names := []string{"id"}
	for k, v := range extra {
		values[k] = v
		names = append(names, k)
	}
	rec := record.NewDataChange(record.OpCreate, "shop", "orders", nil,
		record.NewImage(record.ValueSchemaName("shop", "orders"), names, values))
	rec.Position = position
	return rec
}

func alterAddNote(position string) []*record.Event {
	schema := record.NewSchemaChange("shop", "orders", "ALTER TABLE orders ADD note TEXT",
		record.TableChange{Type: "ALTER", TableID: "shop.orders", Columns: []record.Column{
			{Name: "id", TypeName: "bigint(20)"},
			{Name: "note", TypeName: "text", Optional: true},
		}})
	after := record.NewWatermark(record.WatermarkSchemaChangeAfter, "shop", "orders")
	after.Position = position
	return []*record.Event{
		record.NewWatermark(record.WatermarkSchemaChangeBefore, "shop", "orders"),
		schema,
		after,
	}
}

type harness struct {
	source *sliceSource
	sink   *captureSink
	store  *checkpoint.FileStore
	d      *deserializer.Deserializer
	coord  *checkpoint.Coordinator
}

func newHarness(t *testing.T, path string, records ...*record.Event) *harness {
	logger := quietLogger()
	d, err := deserializer.New(ordersType(), converter.NewDefaultFactory(time.UTC), resolver.NewTableChangesResolver([]string{"shop.orders"}, logger), logger)
	require.NoError(t, err)
	h := &harness{
		source: &sliceSource{records: records},
		sink:   &captureSink{},
		store:  checkpoint.NewFileStore(path),
		d:      d,
	}
	h.coord = checkpoint.NewCoordinator(h.store, d, h.sink, 0, logger)
	return h
}

func TestProcessorCheckpointsAfterSchemaChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	records := []*record.Event{insert(1, "binlog.000001:100", nil)}
	records = append(records, alterAddNote("binlog.000001:200")...)
	records = append(records, insert(2, "binlog.000001:300", map[string]interface{}{"note": "hi"}))

	h := newHarness(t, path, records...)
	require.NoError(t, NewProcessor(h.source, h.d, h.coord, quietLogger()).Start(context.Background()))

	require.Len(t, h.sink.rows, 2)
	assert.Equal(t, []interface{}{int64(1)}, h.sink.rows[0].Fields)
	assert.Equal(t, []interface{}{int64(2), "hi"}, h.sink.rows[1].Fields)
	require.Len(t, h.sink.events, 1)
	assert.Equal(t, []string{"before", "after"}, h.sink.marks)
	assert.Equal(t, 5, h.source.committed)

	// the final checkpoint follows the last record
	snapshot, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "binlog.000001:300", snapshot.Position)
	assert.Equal(t, []string{"id", "note"}, snapshot.ProducedType.(*types.RowType).FieldNames())
}

func TestProcessorRestoresCheckpointedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	first := newHarness(t, path, alterAddNote("binlog.000001:200")...)
	require.NoError(t, NewProcessor(first.source, first.d, first.coord, quietLogger()).Start(context.Background()))

	second := newHarness(t, path, insert(3, "binlog.000001:400", map[string]interface{}{"note": "x"}))
	snapshot, err := Restore(context.Background(), second.d, second.coord, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, "binlog.000001:200", snapshot.Position)

	require.NoError(t, NewProcessor(second.source, second.d, second.coord, quietLogger()).Start(context.Background()))
	require.Len(t, second.sink.rows, 1)
	assert.Equal(t, []interface{}{int64(3), "x"}, second.sink.rows[0].Fields)
}

func TestProcessorRestoreWithoutCheckpoint(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "none.json"))
	snapshot, err := Restore(context.Background(), h.d, h.coord, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, snapshot)
}

func TestProcessorStopsOnDecodeFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	bad := record.NewDataChange(record.OpCreate, "shop", "orders", nil,
		record.NewImage(record.ValueSchemaName("shop", "orders"), []string{"id"}, map[string]interface{}{"id": "not a number"}))
	h := newHarness(t, path, insert(1, "f:1", nil), bad, insert(2, "f:3", nil))

	err := NewProcessor(h.source, h.d, h.coord, quietLogger()).Start(context.Background())
	require.ErrorIs(t, err, converter.ErrDecode)
	assert.Len(t, h.sink.rows, 1)
	assert.Equal(t, 1, h.source.committed)

	_, err = h.store.Load(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestProcessorSkipsFinalCheckpointInsideSchemaChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	h := newHarness(t, path, alterAddNote("f:2")[:2]...)
	require.NoError(t, NewProcessor(h.source, h.d, h.coord, quietLogger()).Start(context.Background()))
	assert.True(t, h.coord.Pending())

	_, err := h.store.Load(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestProcessorKeepsLayoutOnOtherTableSchemaChange(t *testing.T) {
	ddl, err := record.ParseDebezium([]byte(`{"payload":{"source":{"db":"shop","table":"audit"},
"ddl":"ALTER TABLE audit ADD note TEXT","tableChanges":[{"type":"ALTER","id":"\"shop\".\"audit\"",
"table":{"columns":[{"name":"event_id","typeName":"BIGINT"},{"name":"note","typeName":"TEXT"}]}}]}}`))
	require.NoError(t, err)
	ddl.Position = "cdc/0/2"

	h := newHarness(t, filepath.Join(t.TempDir(), "checkpoint.json"), ddl, insert(1, "cdc/0/3", nil))
	require.NoError(t, NewProcessor(h.source, h.d, h.coord, quietLogger()).Start(context.Background()))

	assert.Equal(t, []string{"id"}, h.d.ProducedType().(*types.RowType).FieldNames())
	assert.Empty(t, h.sink.events)
	require.Len(t, h.sink.rows, 1)
	assert.Equal(t, []interface{}{int64(1)}, h.sink.rows[0].Fields)
}
