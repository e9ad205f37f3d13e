// Package kafka consumes Debezium JSON change records from a Kafka topic.
package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/record"
)

// Config selects the topic and consumer group to read
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
}

// MessageReader is the subset of *kafka.Reader the source needs
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Source parses Debezium envelopes into change records. Schema change
// records are framed by watermarks so checkpoints align on them the same
// way as with the binlog source.
type Source struct {
	reader MessageReader
	tables map[string]bool
	logger *logrus.Logger

	pending []*record.Event
	// messages by the record that completes them
	owners map[*record.Event]kafka.Message
}

// NewReader creates a consumer group reader for cfg
func NewReader(cfg Config) *kafka.Reader {
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 10e6 // 10MB
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: maxBytes,
	})
}

// NewSource creates a source over reader. tableIDs limits the captured
// tables; empty captures every table.
func NewSource(reader MessageReader, tableIDs []string, logger *logrus.Logger) *Source {
	tables := make(map[string]bool, len(tableIDs))
	for _, id := range tableIDs {
		tables[id] = true
	}
	return &Source{reader: reader, tables: tables, logger: logger, owners: make(map[*record.Event]kafka.Message)}
}

func (s *Source) captured(rec *record.Event) bool {
	if len(s.tables) == 0 || !(rec.IsDataChangeRecord() || rec.IsSchemaChangeEvent()) {
		return true
	}
	return s.tables[rec.TableID()]
}

// Next returns the next change record
func (s *Source) Next(ctx context.Context) (*record.Event, error) {
	for len(s.pending) == 0 {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch kafka message: %w", err)
		}
		rec, err := record.ParseDebezium(msg.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to parse message %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
		if !s.captured(rec) {
			// everything fetched before was already committed
			s.logger.Debugf("Skip record of uncaptured table %s", rec.TableID())
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return nil, fmt.Errorf("failed to commit offset %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
			}
			continue
		}

		batch := []*record.Event{rec}
		if rec.IsSchemaChangeEvent() {
			batch = []*record.Event{
				record.NewWatermark(record.WatermarkSchemaChangeBefore, rec.Database, rec.Table),
				rec,
				record.NewWatermark(record.WatermarkSchemaChangeAfter, rec.Database, rec.Table),
			}
		}
		last := batch[len(batch)-1]
		last.Position = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		s.owners[last] = msg
		s.pending = append(s.pending, batch...)
	}
	rec := s.pending[0]
	s.pending = s.pending[1:]
	return rec, nil
}

// Commit commits the offset of the message rec completes. Records that do
// not complete a message are ignored.
func (s *Source) Commit(ctx context.Context, rec *record.Event) error {
	msg, ok := s.owners[rec]
	if !ok {
		return nil
	}
	delete(s.owners, rec)
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit offset %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	return nil
}

// Close closes the reader
func (s *Source) Close() error {
	return s.reader.Close()
}
