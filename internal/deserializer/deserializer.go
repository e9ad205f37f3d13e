package deserializer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/checkpoint"
	"cdc-rowstream/internal/converter"
	"cdc-rowstream/internal/filter"
	"cdc-rowstream/internal/record"
	"cdc-rowstream/internal/schemachange"
	"cdc-rowstream/internal/types"
)

// Collector receives everything the deserializer emits, in input order
type Collector interface {
	Collect(row *types.Row) error
	CollectSchemaChange(event *schemachange.Event) error
	MarkSchemaChangeBeforeCheckpoint() error
	MarkSchemaChangeAfterCheckpoint() error
}

// SchemaChangeResolver turns a schema change record into an event against
// the current produced type. A nil event means the record does not affect
// data-level typing.
type SchemaChangeResolver interface {
	Resolve(rec record.Record, current types.ProducedType) (*schemachange.Event, error)
}

// schemaState pairs the live produced type with the converters built from
// it. A state is never modified once published.
type schemaState struct {
	produced   types.ProducedType
	converters map[string]*converter.RowConverter
}

// Deserializer turns raw change records into canonical rows and schema
// change events. Deserialize must be called from a single goroutine;
// ProducedType may be read from any goroutine.
type Deserializer struct {
	factory  converter.Factory
	resolver SchemaChangeResolver
	logger   *logrus.Logger

	state    atomic.Pointer[schemaState]
	policies atomic.Pointer[filter.Policies]
}

// New creates a deserializer producing rows of produced. resolver may be nil,
// which disables schema change support.
func New(produced types.ProducedType, factory converter.Factory, resolver SchemaChangeResolver, logger *logrus.Logger) (*Deserializer, error) {
	if produced == nil {
		return nil, fmt.Errorf("produced type is required")
	}
	d := &Deserializer{
		factory:  factory,
		resolver: resolver,
		logger:   logger,
	}
	state, err := d.newState(produced)
	if err != nil {
		return nil, err
	}
	d.state.Store(state)
	d.SetFieldPolicies(nil)
	return d, nil
}

func (d *Deserializer) newState(produced types.ProducedType) (*schemaState, error) {
	converters, err := converter.BuildTableConverters(produced, d.factory)
	if err != nil {
		return nil, fmt.Errorf("failed to build row converters: %w", err)
	}
	return &schemaState{produced: produced, converters: converters}, nil
}

// ProducedType returns the live produced type
func (d *Deserializer) ProducedType() types.ProducedType {
	return d.state.Load().produced
}

// SchemaChangeEnabled reports whether a resolver is configured
func (d *Deserializer) SchemaChangeEnabled() bool {
	return d.resolver != nil
}

// SetFieldPolicies replaces the include/exclude policies used for updates.
// It may be called while records are being processed.
func (d *Deserializer) SetFieldPolicies(policies filter.Policies) {
	d.policies.Store(&policies)
}

// FieldPolicies returns the active field policies
func (d *Deserializer) FieldPolicies() filter.Policies {
	return *d.policies.Load()
}

// Deserialize processes one record. Skipped records return nil; decode
// failures and malformed records return an error and nothing is emitted
// for the record.
func (d *Deserializer) Deserialize(rec record.Record, out Collector) error {
	switch kind := record.Classify(rec); kind {
	case record.KindWatermarkBefore:
		return out.MarkSchemaChangeBeforeCheckpoint()
	case record.KindWatermarkAfter:
		return out.MarkSchemaChangeAfterCheckpoint()
	case record.KindSchemaChange:
		return d.deserializeSchemaChange(rec, out)
	case record.KindInsert, record.KindRead, record.KindUpdate, record.KindDelete:
		return d.deserializeDataChange(kind, rec, out)
	case record.KindUnrecognized:
		d.logger.Debugf("Unsupported record %v, just skip", rec)
		return nil
	default:
		return fmt.Errorf("unhandled record kind %s", kind)
	}
}

func (d *Deserializer) deserializeSchemaChange(rec record.Record, out Collector) error {
	if d.resolver == nil {
		d.logger.Debugf("Schema change support disabled, skip record %v", rec)
		return nil
	}

	current := d.state.Load()
	event, err := d.resolver.Resolve(rec, current.produced)
	if err != nil {
		return fmt.Errorf("failed to resolve schema change for %s: %w", rec.TableID(), err)
	}
	if event == nil {
		d.logger.Infof("Unsupported resolve schema change event %v, just skip", rec)
		return nil
	}

	d.logger.Debugf("Table[%s] datatype change before: %s", event.TableID, current.produced)
	produced, applied, err := schemachange.ApplyProduced(current.produced, event)
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", event, err)
	}
	if !applied {
		// nothing changed, so the event is not forwarded
		d.logger.Warnf("Schema change for table %s not in scope, ignored: %s", event.TableID, event)
		return nil
	}

	next, err := d.newState(produced)
	if err != nil {
		return err
	}
	d.state.Store(next)
	d.logger.Debugf("Table[%s] datatype change after: %s", event.TableID, produced)

	return out.CollectSchemaChange(event)
}

func (d *Deserializer) deserializeDataChange(kind record.Kind, rec record.Record, out Collector) error {
	state := d.state.Load()
	tableID := rec.TableID()

	var (
		conv     *converter.RowConverter
		rowTable string
	)
	switch state.produced.(type) {
	case *types.MultipleRowType:
		conv = state.converters[tableID]
		rowTable = tableID
		if conv == nil {
			d.logger.Debugf("Ignore newly added table %s", tableID)
			return nil
		}
	default:
		conv = state.converters[converter.DefaultTableKey]
	}

	var (
		row *types.Row
		err error
	)
	switch kind {
	case record.KindInsert, record.KindRead:
		row, err = conv.Convert(rec, rec.After())
		if err == nil {
			row.Kind = types.RowKindInsert
		}
	case record.KindDelete:
		row, err = conv.Convert(rec, rec.Before())
		if err == nil {
			row.Kind = types.RowKindDelete
		}
	case record.KindUpdate:
		before, after := rec.Before(), rec.After()
		if before == nil || after == nil {
			return fmt.Errorf("%w: update on %s without before and after images", record.ErrMalformedRecord, tableID)
		}
		key := filter.NormalizeTableKey(before.SchemaName)
		if !filter.HasObservableChange(key, before, after, d.FieldPolicies()) {
			d.logger.Debugf("Skip update on %s, no change in filtered fields", key)
			return nil
		}
		row, err = conv.ConvertUpdate(rec, before, after)
		if err == nil {
			row.Kind = types.RowKindUpdateAfter
		}
	default:
		return fmt.Errorf("record kind %s is not a data change", kind)
	}
	if err != nil {
		return fmt.Errorf("failed to convert %s record of %s: %w", kind, tableID, err)
	}

	row.TableID = rowTable
	return out.Collect(row)
}

// RestoreCheckpointProducedType reconciles the live type with the type saved
// in a checkpoint and rebuilds the converters. It must run before the first
// record. Without schema change support it does nothing, and a checkpoint of
// a different shape is logged and ignored.
func (d *Deserializer) RestoreCheckpointProducedType(checkpointed types.ProducedType) error {
	if d.resolver == nil || checkpointed == nil {
		return nil
	}

	current := d.state.Load()
	produced, err := checkpoint.Reconcile(current.produced, checkpointed, d.logger)
	if errors.Is(err, checkpoint.ErrIncompatibleShape) {
		d.logger.Warnf("Skip incompatible restore type. produced type: %s, checkpoint type: %s", current.produced, checkpointed)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore checkpointed type: %w", err)
	}

	next, err := d.newState(produced)
	if err != nil {
		return err
	}
	d.state.Store(next)
	return nil
}
