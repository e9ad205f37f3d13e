package processor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/checkpoint"
	"cdc-rowstream/internal/deserializer"
	"cdc-rowstream/internal/record"
)

// Source yields change records in source order
type Source interface {
	Next(ctx context.Context) (*record.Event, error)
	// Commit acknowledges a record once everything it produced is emitted
	Commit(ctx context.Context, rec *record.Event) error
	Close() error
}

// Processor drives records from a source through the deserializer into the
// checkpoint coordinator, which forwards to the output collector
type Processor struct {
	source       Source
	deserializer *deserializer.Deserializer
	coordinator  *checkpoint.Coordinator
	logger       *logrus.Logger
}

// NewProcessor creates a new event processor
func NewProcessor(source Source, d *deserializer.Deserializer, coordinator *checkpoint.Coordinator, logger *logrus.Logger) *Processor {
	return &Processor{
		source:       source,
		deserializer: d,
		coordinator:  coordinator,
		logger:       logger,
	}
}

// Restore loads the last checkpoint and hands its produced type to the
// deserializer. It returns nil when there is no checkpoint yet.
func Restore(ctx context.Context, d *deserializer.Deserializer, coordinator *checkpoint.Coordinator, logger *logrus.Logger) (*checkpoint.Snapshot, error) {
	snapshot, err := coordinator.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if snapshot == nil {
		logger.Info("No checkpoint found, starting fresh")
		return nil, nil
	}
	if err := d.RestoreCheckpointProducedType(snapshot.ProducedType); err != nil {
		return nil, err
	}
	logger.Infof("Restored checkpoint taken at %s, position %s", snapshot.CreatedAt.Format("2006-01-02 15:04:05"), snapshot.Position)
	return snapshot, nil
}

// Start processes records until ctx is cancelled, the source is exhausted,
// or a record fails. A final checkpoint is attempted on a clean stop.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("Starting event processor...")

	for {
		rec, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("Context cancelled, stopping event processor")
				return p.finalCheckpoint()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, io.EOF) {
				p.logger.Info("Source exhausted, stopping event processor")
				return p.finalCheckpoint()
			}
			return fmt.Errorf("failed to read record: %w", err)
		}

		if err := p.process(ctx, rec); err != nil {
			return err
		}
	}
}

func (p *Processor) process(ctx context.Context, rec *record.Event) error {
	p.coordinator.Advance(rec.Position)
	if err := p.deserializer.Deserialize(rec, p.coordinator); err != nil {
		return fmt.Errorf("failed to deserialize %s: %w", rec, err)
	}
	if err := p.source.Commit(ctx, rec); err != nil {
		return err
	}
	if _, err := p.coordinator.MaybeCheckpoint(ctx); err != nil {
		return err
	}
	p.logger.Debugf("Processed %s", rec)
	return nil
}

func (p *Processor) finalCheckpoint() error {
	written, err := p.coordinator.Checkpoint(context.Background())
	if err != nil {
		return err
	}
	if !written {
		p.logger.Warn("Stopped inside a schema change, final checkpoint skipped")
	}
	return nil
}
