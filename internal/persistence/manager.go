package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/storage"
)

// DefaultDebounce coalesces bursts such as batch tab creation.
const DefaultDebounce = 300 * time.Millisecond

// Manager writes the latest scheduled record to the store after a quiet
// period. Only the most recent record is kept; older pending ones are
// superseded.
type Manager struct {
	kv       storage.KV
	debounce time.Duration

	mu      sync.Mutex
	pending *Record
	timer   *time.Timer
	closed  bool

	// writeMu orders writes so a later record never lands before an earlier one.
	writeMu sync.Mutex
	writes  atomic.Int64
}

// NewManager creates a manager over kv. A non-positive debounce uses
// DefaultDebounce.
func NewManager(kv storage.KV, debounce time.Duration) *Manager {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Manager{kv: kv, debounce: debounce}
}

// Load reads tree_state. Absent, unreadable and undecodable records all
// yield (nil, nil): the caller cold starts with no prior topology. The only
// error returned is the context's.
func (m *Manager) Load(ctx context.Context) (*Record, error) {
	data, err := m.kv.Get(ctx, storage.KeyTreeState)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn(log.CatPersist, "tree_state read failed, starting empty", "error", err)
		}
		return nil, nil
	}
	rec, err := Decode(data)
	if err != nil {
		log.Warn(log.CatPersist, "tree_state discarded", "error", err)
		return nil, nil
	}
	log.Debug(log.CatPersist, "tree_state loaded", "entries", len(rec.TreeStructure), "views", len(rec.Views))
	return rec, nil
}

// Schedule replaces the pending record and (re)starts the debounce timer.
func (m *Manager) Schedule(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = rec
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		if err := m.Flush(context.Background()); err != nil {
			log.ErrorErr(log.CatPersist, "debounced write failed", err)
		}
	})
}

// Flush writes the pending record now, if any.
func (m *Manager) Flush(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	rec := m.pending
	m.pending = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	if rec == nil {
		return nil
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := m.kv.Put(ctx, storage.KeyTreeState, data); err != nil {
		return fmt.Errorf("failed to write tree_state: %w", err)
	}
	m.writes.Add(1)
	log.Debug(log.CatPersist, "tree_state written", "entries", len(rec.TreeStructure), "bytes", len(data))
	return nil
}

// Writes returns how many records reached the store.
func (m *Manager) Writes() int64 {
	return m.writes.Load()
}

// Close flushes the pending record and rejects further scheduling.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Flush(ctx)
}
