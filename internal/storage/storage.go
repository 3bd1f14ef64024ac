// Package storage defines the durable storage surface: a key/value store for
// single records such as tree_state, and a snapshot collection keyed by id.
// infrastructure/sqlite provides the durable implementation; memory.go the
// volatile one used by tests and `storage.driver: memory`.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// KeyTreeState is the record holding the live tree topology.
const KeyTreeState = "tree_state"

// ErrNotFound is returned by KV.Get for an absent key.
var ErrNotFound = errors.New("record not found")

// KV stores opaque values by key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// SnapshotRecord is one stored snapshot. Data is the encoded payload; its
// shape is owned by the snapshot package and versioned by SchemaVersion.
type SnapshotRecord struct {
	ID            string
	Name          string
	CreatedAt     time.Time
	IsAutoSave    bool
	SchemaVersion int
	Data          []byte
}

// SnapshotNotFoundError is returned when no snapshot has the id.
type SnapshotNotFoundError struct {
	ID string
}

func (e *SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("snapshot not found: %s", e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *SnapshotNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SnapshotRepository persists snapshots independently of tree_state.
type SnapshotRepository interface {
	Save(ctx context.Context, s *SnapshotRecord) error
	Get(ctx context.Context, id string) (*SnapshotRecord, error)
	// List returns snapshots newest first, without Data.
	List(ctx context.Context) ([]*SnapshotRecord, error)
	Delete(ctx context.Context, id string) error
}

// Backend bundles both logical stores behind one lifecycle.
type Backend interface {
	KV() KV
	Snapshots() SnapshotRepository
	Close() error
}
