package checkpoint

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-rowstream/internal/schemachange"
	"cdc-rowstream/internal/types"
)

type memoryStore struct {
	saved []*Snapshot
}

func (m *memoryStore) Save(_ context.Context, s *Snapshot) error {
	m.saved = append(m.saved, s)
	return nil
}

func (m *memoryStore) Load(_ context.Context) (*Snapshot, error) {
	if len(m.saved) == 0 {
		return nil, ErrNotFound
	}
	return m.saved[len(m.saved)-1], nil
}

type staticSource struct {
	produced types.ProducedType
}

func (s *staticSource) ProducedType() types.ProducedType { return s.produced }

type recordingSink struct {
	calls []string
}

func (r *recordingSink) Collect(*types.Row) error { r.calls = append(r.calls, "row"); return nil }
func (r *recordingSink) CollectSchemaChange(*schemachange.Event) error {
	r.calls = append(r.calls, "schema")
	return nil
}
func (r *recordingSink) MarkSchemaChangeBeforeCheckpoint() error {
	r.calls = append(r.calls, "before")
	return nil
}
func (r *recordingSink) MarkSchemaChangeAfterCheckpoint() error {
	r.calls = append(r.calls, "after")
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCoordinatorDefersCheckpointWhilePending(t *testing.T) {
	store := &memoryStore{}
	sink := &recordingSink{}
	source := &staticSource{produced: rowType("a")}
	c := NewCoordinator(store, source, sink, time.Minute, quietLogger())

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	c.Advance("binlog.000001:100")
	require.NoError(t, c.MarkSchemaChangeBeforeCheckpoint())
	assert.True(t, c.Pending())

	clock = clock.Add(2 * time.Minute)
	written, err := c.MaybeCheckpoint(context.Background())
	require.NoError(t, err)
	assert.False(t, written)
	assert.Empty(t, store.saved)

	require.NoError(t, c.CollectSchemaChange(&schemachange.Event{TableID: "db.t"}))
	source.produced = rowType("a", "b")
	c.Advance("binlog.000001:200")
	require.NoError(t, c.MarkSchemaChangeAfterCheckpoint())

	assert.False(t, c.Pending())
	require.Len(t, store.saved, 1)
	assert.Equal(t, "binlog.000001:200", store.saved[0].Position)
	assert.True(t, types.EqualProduced(rowType("a", "b"), store.saved[0].ProducedType))
	assert.Equal(t, []string{"before", "schema", "after"}, sink.calls)
}

func TestCoordinatorPeriodicCheckpoint(t *testing.T) {
	store := &memoryStore{}
	c := NewCoordinator(store, &staticSource{produced: rowType("a")}, &recordingSink{}, time.Minute, quietLogger())
	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	written, err := c.MaybeCheckpoint(context.Background())
	require.NoError(t, err)
	assert.True(t, written)

	clock = clock.Add(30 * time.Second)
	written, err = c.MaybeCheckpoint(context.Background())
	require.NoError(t, err)
	assert.False(t, written)

	clock = clock.Add(31 * time.Second)
	written, err = c.MaybeCheckpoint(context.Background())
	require.NoError(t, err)
	assert.True(t, written)
	assert.Len(t, store.saved, 2)
}

func TestCoordinatorRestore(t *testing.T) {
	store := &memoryStore{}
	c := NewCoordinator(store, &staticSource{produced: rowType("a")}, &recordingSink{}, 0, quietLogger())

	snapshot, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snapshot)

	store.saved = append(store.saved, &Snapshot{ProducedType: rowType("a"), Position: "f:4"})
	snapshot, err = c.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f:4", snapshot.Position)

	written, err := c.MaybeCheckpoint(context.Background())
	require.NoError(t, err)
	assert.False(t, written, "interval 0 disables periodic checkpoints")

	_, err = c.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "f:4", store.saved[len(store.saved)-1].Position)
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileStore(path)

	_, err := store.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)

	produced := types.MustMultipleRowType(
		types.TableRowType{TableID: "db.a", RowType: rowType("x", "y")},
		types.TableRowType{TableID: "db.b", RowType: rowType("z")},
	)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), &Snapshot{ProducedType: produced, Position: "binlog.000002:4", CreatedAt: created}))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "binlog.000002:4", loaded.Position)
	assert.True(t, created.Equal(loaded.CreatedAt))
	assert.True(t, types.EqualProduced(produced, loaded.ProducedType))
	assert.Equal(t, []string{"db.a", "db.b"}, loaded.ProducedType.(*types.MultipleRowType).TableIDs())
}
