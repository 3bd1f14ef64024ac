package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

type memoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV returns a volatile KV.
func NewMemoryKV() KV {
	return &memoryKV{data: make(map[string][]byte)}
}

func (m *memoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *memoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(value)
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type memorySnapshots struct {
	mu   sync.RWMutex
	byID map[string]SnapshotRecord
}

// NewMemorySnapshots returns a volatile SnapshotRepository.
func NewMemorySnapshots() SnapshotRepository {
	return &memorySnapshots{byID: make(map[string]SnapshotRecord)}
}

func (m *memorySnapshots) Save(_ context.Context, s *SnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Data = slices.Clone(s.Data)
	m.byID[s.ID] = cp
	return nil
}

func (m *memorySnapshots) Get(_ context.Context, id string) (*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, &SnapshotNotFoundError{ID: id}
	}
	s.Data = slices.Clone(s.Data)
	return &s, nil
}

func (m *memorySnapshots) List(_ context.Context) ([]*SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*SnapshotRecord, 0, len(m.byID))
	for _, s := range m.byID {
		s.Data = nil
		out = append(out, &s)
	}
	slices.SortFunc(out, func(a, b *SnapshotRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (m *memorySnapshots) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return &SnapshotNotFoundError{ID: id}
	}
	delete(m.byID, id)
	return nil
}

type memoryBackend struct {
	kv        KV
	snapshots SnapshotRepository
}

// NewMemoryBackend returns a Backend that forgets everything on exit.
func NewMemoryBackend() Backend {
	return &memoryBackend{kv: NewMemoryKV(), snapshots: NewMemorySnapshots()}
}

func (b *memoryBackend) KV() KV                        { return b.kv }
func (b *memoryBackend) Snapshots() SnapshotRepository { return b.snapshots }
func (b *memoryBackend) Close() error                  { return nil }
