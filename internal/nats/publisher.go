package nats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/schemachange"
	"cdc-rowstream/internal/types"
)

const (
	HeaderTable  = "Cdc-Table"
	HeaderKind   = "Cdc-Kind"
	HeaderMarker = "Cdc-Marker"
)

// Subjects names where each kind of emission is published. An empty
// SchemaChange or Control subject disables that stream.
type Subjects struct {
	Rows         string
	SchemaChange string
	Control      string
}

// LayoutSource gives the live produced type, used to name row fields
type LayoutSource interface {
	ProducedType() types.ProducedType
}

type conn interface {
	PublishMsg(msg *nats.Msg) error
	Flush() error
}

// RowMessage is the published form of a row
type RowMessage struct {
	Kind    string        `json:"kind"`
	Table   string        `json:"table,omitempty"`
	Columns []string      `json:"columns,omitempty"`
	Values  []interface{} `json:"values"`
}

// SchemaChangeMessage is the published form of a schema change event
type SchemaChangeMessage struct {
	Table   string   `json:"table"`
	DDL     string   `json:"ddl,omitempty"`
	Changes []string `json:"changes"`
}

// ControlMessage is published for schema change watermarks
type ControlMessage struct {
	Marker    string    `json:"marker"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher publishes everything the deserializer emits to NATS
type Publisher struct {
	nc       *nats.Conn
	conn     conn
	subjects Subjects
	layout   LayoutSource
	logger   *logrus.Logger
}

// Connect opens a NATS connection with the reconnect handlers the service uses
func Connect(url string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Infof("Connected to NATS at %s", url)
	return nc, nil
}

// NewPublisher creates a publisher on an open connection. layout may be nil,
// in which case rows are published without column names.
func NewPublisher(nc *nats.Conn, subjects Subjects, layout LayoutSource, logger *logrus.Logger) *Publisher {
	return &Publisher{nc: nc, conn: nc, subjects: subjects, layout: layout, logger: logger}
}

func (p *Publisher) publish(subject string, header nats.Header, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msg := &nats.Msg{Subject: subject, Header: header, Data: data}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// Collect publishes a row
func (p *Publisher) Collect(row *types.Row) error {
	msg := RowMessage{Kind: row.Kind.String(), Table: row.TableID, Values: row.Fields}
	if p.layout != nil {
		msg.Columns = columnNames(p.layout.ProducedType(), row.TableID)
	}
	header := nats.Header{}
	header.Set(HeaderKind, msg.Kind)
	if row.TableID != "" {
		header.Set(HeaderTable, row.TableID)
	}
	if err := p.publish(p.subjects.Rows, header, msg); err != nil {
		return err
	}
	p.logger.Debugf("Published %s row for %s", msg.Kind, row.TableID)
	return nil
}

// CollectSchemaChange publishes a schema change event
func (p *Publisher) CollectSchemaChange(event *schemachange.Event) error {
	if p.subjects.SchemaChange == "" {
		return nil
	}
	msg := SchemaChangeMessage{Table: event.TableID, DDL: event.DDL, Changes: make([]string, len(event.Changes))}
	for i, c := range event.Changes {
		msg.Changes[i] = c.String()
	}
	header := nats.Header{}
	header.Set(HeaderTable, event.TableID)
	if err := p.publish(p.subjects.SchemaChange, header, msg); err != nil {
		return err
	}
	p.logger.Infof("Published schema change for %s", event.TableID)
	return nil
}

func (p *Publisher) MarkSchemaChangeBeforeCheckpoint() error {
	return p.mark("SCHEMA_CHANGE_BEFORE")
}

// MarkSchemaChangeAfterCheckpoint flushes the connection so everything
// emitted for the schema change is on the server before a checkpoint
func (p *Publisher) MarkSchemaChangeAfterCheckpoint() error {
	if err := p.mark("SCHEMA_CHANGE_AFTER"); err != nil {
		return err
	}
	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}

func (p *Publisher) mark(marker string) error {
	if p.subjects.Control == "" {
		return nil
	}
	header := nats.Header{}
	header.Set(HeaderMarker, marker)
	return p.publish(p.subjects.Control, header, ControlMessage{Marker: marker, Timestamp: time.Now().UTC()})
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.logger.Warnf("Failed to drain NATS connection: %v", err)
			p.nc.Close()
		}
	}
}

// GetConn returns the underlying NATS connection
func (p *Publisher) GetConn() *nats.Conn {
	return p.nc
}

func columnNames(produced types.ProducedType, tableID string) []string {
	switch t := produced.(type) {
	case *types.RowType:
		return t.FieldNames()
	case *types.MultipleRowType:
		if rt := t.RowType(tableID); rt != nil {
			return rt.FieldNames()
		}
	}
	return nil
}
