package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cdc-rowstream/internal/types"
)

// ErrNotFound is returned by Load when no checkpoint has been saved yet
var ErrNotFound = errors.New("checkpoint not found")

// Snapshot is the state saved by a checkpoint
type Snapshot struct {
	ProducedType types.ProducedType
	// Position is the source position the pipeline resumes from
	Position  string
	CreatedAt time.Time
}

type snapshotJSON struct {
	ProducedType json.RawMessage `json:"produced_type"`
	Position     string          `json:"position"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Marshal encodes a snapshot
func (s *Snapshot) Marshal() ([]byte, error) {
	produced, err := types.MarshalProducedType(s.ProducedType)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotJSON{ProducedType: produced, Position: s.Position, CreatedAt: s.CreatedAt})
}

// UnmarshalSnapshot decodes a snapshot written by Marshal
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var doc snapshotJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	produced, err := types.UnmarshalProducedType(doc.ProducedType)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ProducedType: produced, Position: doc.Position, CreatedAt: doc.CreatedAt}, nil
}

// Store persists snapshots
type Store interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// FileStore keeps the latest snapshot in a local JSON file
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the snapshot to a temporary file and renames it into place
func (s *FileStore) Save(_ context.Context, snapshot *Snapshot) error {
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load reads the snapshot, returning ErrNotFound when the file does not exist
func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return UnmarshalSnapshot(data)
}
