package binlog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/catalog"
	"cdc-rowstream/internal/record"
)

// EventReader yields raw binlog events
type EventReader interface {
	ReadEvent(ctx context.Context) (*replication.BinlogEvent, error)
	Position() mysql.Position
	Close() error
}

// ColumnLookup resolves table layouts when the binlog carries no column
// names and after DDL
type ColumnLookup interface {
	Columns(ctx context.Context, database, table string) ([]catalog.Column, error)
	Refresh(ctx context.Context, database, table string) ([]catalog.Column, error)
}

var ddlPattern = regexp.MustCompile("(?is)^\\s*(ALTER|CREATE|DROP|RENAME)\\s+TABLE\\s+(?:IF\\s+(?:NOT\\s+)?EXISTS\\s+)?`?([\\w$]+)`?(?:\\s*\\.\\s*`?([\\w$]+)`?)?")

// Source turns binlog events into change records. A DDL statement on a
// captured table becomes a schema change record framed by watermarks.
type Source struct {
	reader  EventReader
	columns ColumnLookup
	tables  map[string]bool
	logger  *logrus.Logger

	pending []*record.Event
}

// NewSource creates a source over reader. tableIDs limits the captured
// tables; empty captures every table.
func NewSource(reader EventReader, columns ColumnLookup, tableIDs []string, logger *logrus.Logger) *Source {
	tables := make(map[string]bool, len(tableIDs))
	for _, id := range tableIDs {
		tables[id] = true
	}
	return &Source{reader: reader, columns: columns, tables: tables, logger: logger}
}

func (s *Source) captured(tableID string) bool {
	return len(s.tables) == 0 || s.tables[tableID]
}

// Next returns the next change record
func (s *Source) Next(ctx context.Context) (*record.Event, error) {
	for len(s.pending) == 0 {
		event, err := s.reader.ReadEvent(ctx)
		if err != nil {
			return nil, err
		}
		n := len(s.pending)
		if err := s.handle(ctx, event); err != nil {
			return nil, err
		}
		// only the last record of an event carries the position after it,
		// so a checkpoint never lands inside a multi-row event
		if len(s.pending) > n {
			s.pending[len(s.pending)-1].Position = FormatPosition(s.reader.Position())
		}
	}
	rec := s.pending[0]
	s.pending = s.pending[1:]
	return rec, nil
}

// Commit is a no-op; binlog progress is tracked by checkpoints
func (s *Source) Commit(context.Context, *record.Event) error {
	return nil
}

// Close closes the underlying reader
func (s *Source) Close() error {
	return s.reader.Close()
}

func (s *Source) handle(ctx context.Context, event *replication.BinlogEvent) error {
	switch e := event.Event.(type) {
	case *replication.RowsEvent:
		var op record.Operation
		switch event.Header.EventType {
		case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
			op = record.OpCreate
		case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
			op = record.OpUpdate
		case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
			op = record.OpDelete
		default:
			s.logger.Debugf("Unhandled row event type: %d", event.Header.EventType)
			return nil
		}
		return s.handleRows(ctx, event.Header, e, op)

	case *replication.QueryEvent:
		return s.handleQuery(ctx, event.Header, e)

	case *replication.TableMapEvent:
		s.logger.Debugf("Table map for %s.%s (ID: %d)", string(e.Schema), string(e.Table), e.TableID)

	case *replication.XIDEvent:
		s.logger.Debugf("XID event: %d", e.XID)

	default:
		s.logger.Debugf("Unhandled event type: %T", e)
	}
	return nil
}

func (s *Source) handleRows(ctx context.Context, header *replication.EventHeader, e *replication.RowsEvent, op record.Operation) error {
	database, table := string(e.Table.Schema), string(e.Table.Table)
	tableID := record.TableID(database, table)
	if !s.captured(tableID) {
		return nil
	}

	names := e.Table.ColumnNameString()
	if len(names) == 0 {
		// MySQL 5.7 or binlog_row_metadata=MINIMAL
		cols, err := s.columns.Columns(ctx, database, table)
		if err != nil {
			return fmt.Errorf("failed to get column info for %s: %w", tableID, err)
		}
		names = make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
	}
	if len(names) < int(e.Table.ColumnCount) {
		s.logger.Warnf("Column count mismatch on %s: expected %d columns, got %d names", tableID, e.Table.ColumnCount, len(names))
	}

	unsigned := e.Table.UnsignedMap()
	schemaName := record.ValueSchemaName(database, table)
	image := func(row []interface{}) *record.Image {
		values := make(map[string]interface{}, len(row))
		for j := 0; j < len(row) && j < len(names); j++ {
			v := row[j]
			if unsigned[j] {
				v = unsignedValue(v, e.Table.ColumnType[j])
			}
			values[names[j]] = v
		}
		return record.NewImage(schemaName, names, values)
	}

	ts := int64(header.Timestamp) * 1000
	emit := func(before, after *record.Image) {
		rec := record.NewDataChange(op, database, table, before, after)
		rec.Timestamp = ts
		s.pending = append(s.pending, rec)
	}

	if op == record.OpUpdate {
		// event.Rows holds [old_row_1, new_row_1, old_row_2, new_row_2, ...]
		for i := 0; i+1 < len(e.Rows); i += 2 {
			emit(image(e.Rows[i]), image(e.Rows[i+1]))
		}
		return nil
	}
	for _, row := range e.Rows {
		if op == record.OpDelete {
			emit(image(row), nil)
		} else {
			emit(nil, image(row))
		}
	}
	return nil
}

func (s *Source) handleQuery(ctx context.Context, header *replication.EventHeader, e *replication.QueryEvent) error {
	query := string(e.Query)
	m := ddlPattern.FindStringSubmatch(query)
	if m == nil {
		s.logger.Debugf("Query event: %s", query)
		return nil
	}

	database, table := string(e.Schema), m[2]
	if m[3] != "" {
		database, table = m[2], m[3]
	}
	tableID := record.TableID(database, table)
	if !s.captured(tableID) {
		s.logger.Debugf("DDL on uncaptured table %s: %s", tableID, query)
		return nil
	}

	change := record.TableChange{Type: strings.ToUpper(m[1]), TableID: tableID}
	if change.Type == "RENAME" {
		change.Type = "DROP"
	}
	if change.Type != "DROP" {
		cols, err := s.columns.Refresh(ctx, database, table)
		if err != nil {
			// renamed away by ALTER TABLE ... RENAME, or dropped since
			s.logger.Warnf("Failed to refresh layout of %s after DDL: %v", tableID, err)
		} else {
			change.Columns = catalog.RecordColumns(cols)
		}
	}

	ts := int64(header.Timestamp) * 1000
	before := record.NewWatermark(record.WatermarkSchemaChangeBefore, database, table)
	schema := record.NewSchemaChange(database, table, query, change)
	after := record.NewWatermark(record.WatermarkSchemaChangeAfter, database, table)
	for _, rec := range []*record.Event{before, schema, after} {
		rec.Timestamp = ts
	}
	s.pending = append(s.pending, before, schema, after)
	s.logger.Infof("Schema change on %s: %s", tableID, query)
	return nil
}

func unsignedValue(v interface{}, columnType byte) interface{} {
	switch n := v.(type) {
	case int8:
		return uint8(n)
	case int16:
		return uint16(n)
	case int32:
		if columnType == mysql.MYSQL_TYPE_INT24 {
			return uint32(n) & 0xFFFFFF
		}
		return uint32(n)
	case int64:
		return uint64(n)
	}
	return v
}
