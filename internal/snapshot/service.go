package snapshot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/tabtree/internal/cachemanager"
	"github.com/zjrosen/tabtree/internal/engine"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/storage"
)

// DefaultMaxAutoSaves is how many auto-save snapshots are kept.
const DefaultMaxAutoSaves = 10

const listKey = "all"

// ErrNoEngine is returned by operations that need a running engine when the
// service was built without one (offline CLI use).
var ErrNoEngine = errors.New("snapshot service has no engine")

// Engine is the part of the engine that captures and rebuilds topology.
type Engine interface {
	CaptureTopology(ctx context.Context) (persistence.Topology, error)
	RestoreTopology(ctx context.Context, topo persistence.Topology, policy engine.RestorePolicy) error
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAutoSaves bounds the number of kept auto-saves.
func WithMaxAutoSaves(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAutoSaves = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the snapshot store facade.
type Service struct {
	repo   storage.SnapshotRepository
	engine Engine
	list   *cachemanager.ReadThroughCache[string, []Summary, struct{}]

	maxAutoSaves int
	now          func() time.Time
}

// NewService creates a snapshot service. eng may be nil for offline use, in
// which case Create, AutoSave and Restore fail with ErrNoEngine.
func NewService(repo storage.SnapshotRepository, eng Engine, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		engine:       eng,
		maxAutoSaves: DefaultMaxAutoSaves,
		now:          time.Now,
	}
	cache := cachemanager.NewInMemoryCacheManager[string, []Summary](
		"snapshot-list", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	s.list = cachemanager.NewReadThroughCache[string, []Summary, struct{}](cache, s.readList, false)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) readList(ctx context.Context, _ struct{}) ([]Summary, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	out := make([]Summary, 0, len(records))
	for _, r := range records {
		out = append(out, summaryOf(r))
	}
	return out, nil
}

// Create captures the current topology under name.
func (s *Service) Create(ctx context.Context, name string) (*Summary, error) {
	if name == "" {
		return nil, fmt.Errorf("snapshot name is required")
	}
	return s.capture(ctx, name, false)
}

// AutoSave takes an auto-save snapshot and prunes the oldest auto-saves
// beyond the configured maximum. Manual snapshots are never pruned.
func (s *Service) AutoSave(ctx context.Context) (*Summary, error) {
	name := "Auto-save " + s.now().Format("2006-01-02 15:04")
	sum, err := s.capture(ctx, name, true)
	if err != nil {
		return nil, err
	}
	if err := s.pruneAutoSaves(ctx); err != nil {
		log.ErrorErr(log.CatSnapshot, "failed to prune auto-saves", err)
	}
	return sum, nil
}

func (s *Service) capture(ctx context.Context, name string, auto bool) (*Summary, error) {
	if s.engine == nil {
		return nil, ErrNoEngine
	}
	topo, err := s.engine.CaptureTopology(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture topology: %w", err)
	}
	snap := &Snapshot{
		Summary: Summary{
			ID:         uuid.NewString(),
			Name:       name,
			CreatedAt:  s.now().UTC(),
			IsAutoSave: auto,
		},
		Views:         topo.Views,
		TreeStructure: topo.Entries,
	}
	if err := s.save(ctx, snap); err != nil {
		return nil, err
	}
	log.Info(log.CatSnapshot, "snapshot created", "id", snap.ID, "name", name, "tabs", snap.TabCount(), "auto", auto)
	return &snap.Summary, nil
}

func (s *Service) save(ctx context.Context, snap *Snapshot) error {
	rec, err := toRecord(snap)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	s.list.Invalidate(ctx, listKey)
	return nil
}

func (s *Service) pruneAutoSaves(ctx context.Context) error {
	all, err := s.List(ctx)
	if err != nil {
		return err
	}
	// List is newest first
	kept := 0
	for _, sum := range all {
		if !sum.IsAutoSave {
			continue
		}
		kept++
		if kept <= s.maxAutoSaves {
			continue
		}
		if err := s.Delete(ctx, sum.ID); err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return err
		}
		log.Debug(log.CatSnapshot, "auto-save pruned", "id", sum.ID)
	}
	return nil
}

// List returns every snapshot, newest first.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	out, err := s.list.Get(ctx, listKey, struct{}{}, cachemanager.DefaultExpiration)
	if err != nil {
		return nil, err
	}
	return slices.Clone(out), nil
}

// Get loads one snapshot with its topology.
func (s *Service) Get(ctx context.Context, id string) (*Snapshot, error) {
	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", id, err)
	}
	return fromRecord(rec)
}

// Delete removes a snapshot.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	s.list.Invalidate(ctx, listKey)
	log.Info(log.CatSnapshot, "snapshot deleted", "id", id)
	return nil
}

// Restore opens the snapshot's tabs and rebuilds its tree over them.
func (s *Service) Restore(ctx context.Context, id string, policy engine.RestorePolicy) error {
	if s.engine == nil {
		return ErrNoEngine
	}
	snap, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.engine.RestoreTopology(ctx, snap.Topology(), policy); err != nil {
		return fmt.Errorf("failed to restore snapshot %s: %w", id, err)
	}
	log.Info(log.CatSnapshot, "snapshot restored", "id", id, "policy", policy, "tabs", snap.TabCount())
	return nil
}

// Export returns the portable JSON form of a snapshot.
func (s *Service) Export(ctx context.Context, id string) ([]byte, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return encodeExport(snap)
}

// Import stores an exported snapshot under a fresh id.
func (s *Service) Import(ctx context.Context, data []byte) (*Summary, error) {
	doc, err := decodeExport(data)
	if err != nil {
		return nil, err
	}
	created := doc.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	snap := &Snapshot{
		Summary: Summary{
			ID:         uuid.NewString(),
			Name:       doc.Name,
			CreatedAt:  created.UTC(),
			IsAutoSave: doc.IsAutoSave,
		},
		Views:         doc.Views,
		TreeStructure: doc.TreeStructure,
	}
	if err := s.save(ctx, snap); err != nil {
		return nil, err
	}
	log.Info(log.CatSnapshot, "snapshot imported", "id", snap.ID, "name", snap.Name, "tabs", snap.TabCount())
	return &snap.Summary, nil
}
