package kafka

import (
	"context"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"cdc-rowstream/internal/record"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const insertMessage = `{"payload":{"op":"c","source":{"db":"shop","table":"orders"},"after":{"id":1}}}`

const schemaMessage = `{"payload":{"source":{"db":"shop","table":"orders"},"ddl":"ALTER TABLE orders ADD x INT",
"tableChanges":[{"type":"ALTER","id":"\"shop\".\"orders\"","table":{"columns":[{"name":"id","typeName":"INT"},{"name":"x","typeName":"INT","optional":true}]}}]}}`

func TestSourceParsesAndCommits(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "cdc", Partition: 0, Offset: 7, Value: []byte(insertMessage)},
		{Topic: "cdc", Partition: 0, Offset: 8, Value: []byte(schemaMessage)},
	}}
	s := NewSource(reader, nil, quietLogger())
	ctx := context.Background()

	rec, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, record.KindInsert, record.Classify(rec))
	require.Equal(t, "cdc/0/7", rec.Position)
	require.NoError(t, s.Commit(ctx, rec))
	require.Equal(t, []int64{7}, reader.committed)

	var kinds []record.Kind
	for i := 0; i < 3; i++ {
		rec, err = s.Next(ctx)
		require.NoError(t, err)
		kinds = append(kinds, record.Classify(rec))
		require.NoError(t, s.Commit(ctx, rec))
	}
	require.Equal(t, []record.Kind{record.KindWatermarkBefore, record.KindSchemaChange, record.KindWatermarkAfter}, kinds)
	require.Equal(t, "cdc/0/8", rec.Position)
	require.Equal(t, []int64{7, 8}, reader.committed)

	_, err = s.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestSourceTombstoneIsUnrecognized(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Topic: "cdc", Offset: 1}}}
	rec, err := NewSource(reader, nil, quietLogger()).Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, record.KindUnrecognized, record.Classify(rec))
}

func TestSourceMalformedMessage(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Topic: "cdc", Offset: 1, Value: []byte(`{"payload":`)}}}
	_, err := NewSource(reader, nil, quietLogger()).Next(context.Background())
	require.Error(t, err)
}

func TestSourceSkipsUncapturedTables(t *testing.T) {
	auditInsert := `{"payload":{"op":"c","source":{"db":"shop","table":"audit"},"after":{"event_id":1}}}`
	auditSchema := `{"payload":{"source":{"db":"shop","table":"audit"},"ddl":"ALTER TABLE audit ADD note TEXT",
"tableChanges":[{"type":"ALTER","id":"\"shop\".\"audit\"","table":{"columns":[{"name":"event_id","typeName":"BIGINT"},{"name":"note","typeName":"TEXT"}]}}]}}`
	reader := &fakeReader{msgs: []kafka.Message{
		{Topic: "cdc", Offset: 1, Value: []byte(auditSchema)},
		{Topic: "cdc", Offset: 2, Value: []byte(auditInsert)},
		{Topic: "cdc", Offset: 3, Value: []byte(insertMessage)},
	}}
	s := NewSource(reader, []string{"shop.orders"}, quietLogger())
	ctx := context.Background()

	rec, err := s.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "shop.orders", rec.TableID())
	require.Equal(t, "cdc/0/3", rec.Position)
	require.Equal(t, []int64{1, 2}, reader.committed)

	require.NoError(t, s.Commit(ctx, rec))
	require.Equal(t, []int64{1, 2, 3}, reader.committed)
}
