package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cdc-rowstream/internal/schemachange"
	"cdc-rowstream/internal/types"
)

// Sink is the downstream the coordinator forwards emissions to
type Sink interface {
	Collect(row *types.Row) error
	CollectSchemaChange(event *schemachange.Event) error
	MarkSchemaChangeBeforeCheckpoint() error
	MarkSchemaChangeAfterCheckpoint() error
}

// TypeSource exposes the produced type to snapshot
type TypeSource interface {
	ProducedType() types.ProducedType
}

// Coordinator forwards emissions to a sink and takes checkpoints. While a
// schema change is between its before and after watermarks no checkpoint is
// taken; the after watermark forces one so the new layout is persisted with
// the position that follows the change.
type Coordinator struct {
	store    Store
	source   TypeSource
	next     Sink
	interval time.Duration
	logger   *logrus.Logger

	mu             sync.Mutex
	pending        bool
	position       string
	lastCheckpoint time.Time
	now            func() time.Time
}

// NewCoordinator creates a coordinator. interval <= 0 disables periodic
// checkpoints.
func NewCoordinator(store Store, source TypeSource, next Sink, interval time.Duration, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		source:   source,
		next:     next,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Restore loads the last snapshot. A missing checkpoint returns nil, nil.
func (c *Coordinator) Restore(ctx context.Context) (*Snapshot, error) {
	snapshot, err := c.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.position = snapshot.Position
	c.lastCheckpoint = c.now()
	c.mu.Unlock()
	return snapshot, nil
}

// Advance records the position of the record being processed. Records
// without a position keep the previous one.
func (c *Coordinator) Advance(position string) {
	if position == "" {
		return
	}
	c.mu.Lock()
	c.position = position
	c.mu.Unlock()
}

// Pending reports whether a schema change is in flight
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) Collect(row *types.Row) error {
	return c.next.Collect(row)
}

func (c *Coordinator) CollectSchemaChange(event *schemachange.Event) error {
	return c.next.CollectSchemaChange(event)
}

func (c *Coordinator) MarkSchemaChangeBeforeCheckpoint() error {
	c.mu.Lock()
	c.pending = true
	c.mu.Unlock()
	return c.next.MarkSchemaChangeBeforeCheckpoint()
}

func (c *Coordinator) MarkSchemaChangeAfterCheckpoint() error {
	if err := c.next.MarkSchemaChangeAfterCheckpoint(); err != nil {
		return err
	}
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
	_, err := c.Checkpoint(context.Background())
	return err
}

// Checkpoint saves a snapshot unless a schema change is pending. It reports
// whether a snapshot was written.
func (c *Coordinator) Checkpoint(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending {
		c.logger.Debug("Schema change in flight, checkpoint deferred")
		return false, nil
	}
	snapshot := &Snapshot{
		ProducedType: c.source.ProducedType(),
		Position:     c.position,
		CreatedAt:    c.now(),
	}
	if err := c.store.Save(ctx, snapshot); err != nil {
		return false, fmt.Errorf("failed to save checkpoint at %s: %w", c.position, err)
	}
	c.lastCheckpoint = snapshot.CreatedAt
	c.logger.WithField("position", c.position).Debug("Checkpoint saved")
	return true, nil
}

// MaybeCheckpoint takes a periodic checkpoint when the interval has elapsed
func (c *Coordinator) MaybeCheckpoint(ctx context.Context) (bool, error) {
	if c.interval <= 0 {
		return false, nil
	}
	c.mu.Lock()
	due := c.now().Sub(c.lastCheckpoint) >= c.interval
	c.mu.Unlock()
	if !due {
		return false, nil
	}
	return c.Checkpoint(ctx)
}
