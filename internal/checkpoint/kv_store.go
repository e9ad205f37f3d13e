package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// KVStore keeps the latest snapshot under one key of a JetStream key-value bucket
type KVStore struct {
	kv  nats.KeyValue
	key string
}

// NewKVStore opens bucket, creating it when it does not exist
func NewKVStore(conn *nats.Conn, bucket, key string) (*KVStore, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "deserializer checkpoints",
			History:     5,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get KV store '%s': %w", bucket, err)
	}
	return &KVStore{kv: kv, key: key}, nil
}

// Save puts the snapshot under the store key
func (s *KVStore) Save(_ context.Context, snapshot *Snapshot) error {
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	if _, err := s.kv.Put(s.key, data); err != nil {
		return fmt.Errorf("failed to put checkpoint '%s': %w", s.key, err)
	}
	return nil
}

// Load reads the snapshot, returning ErrNotFound when the key is absent
func (s *KVStore) Load(_ context.Context) (*Snapshot, error) {
	entry, err := s.kv.Get(s.key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint '%s': %w", s.key, err)
	}
	return UnmarshalSnapshot(entry.Value())
}
