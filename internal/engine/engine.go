// Package engine is the tab tree state engine. One Engine instance owns the
// tree, the per-window pinned lists and active views, the unread tracker,
// the expected-event ledger, pending parent associations, drag state and
// the hover auto-expand timer. It reconciles the tree with the host at cold
// start and on every host event, writes structural changes back to the host
// tab order, and hands every topology change to the persister.
//
// Every exported method is safe for concurrent use, but callers are expected
// to serialize requests and host events through one loop (see processor);
// the mutex only guards against timer callbacks and out-of-band readers.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/tabtree/internal/cachemanager"
	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/pubsub"
	"github.com/zjrosen/tabtree/internal/tree"
)

// Persister receives the projected record after topology changes.
// persistence.Manager implements it.
type Persister interface {
	Load(ctx context.Context) (*persistence.Record, error)
	Schedule(rec *persistence.Record)
	Flush(ctx context.Context) error
}

// DragState is the payload a panel parks while a drag is in flight.
type DragState struct {
	TabID          host.TabID      `json:"tabId"`
	TreeData       json.RawMessage `json:"treeData,omitempty"`
	SourceWindowID host.WindowID   `json:"sourceWindowId"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithTreeOptions passes options to every tree.State the engine builds.
func WithTreeOptions(opts ...tree.Option) Option {
	return func(e *Engine) { e.treeOpts = append(e.treeOpts, opts...) }
}

// Engine is the single engine instance.
type Engine struct {
	host     host.Provider
	persist  Persister
	treeOpts []tree.Option

	mu       sync.Mutex
	settings Settings
	state    *tree.State

	pinned     map[host.WindowID][]host.TabID
	activeView map[host.WindowID]tree.ViewID
	activeTab  map[host.WindowID]host.TabID

	unread         *unreadTracker
	ledger         *ledger
	pendingParents cachemanager.CacheManager[string, host.TabID]
	drag           *DragState
	hover          hoverState

	ready       chan struct{}
	initialized bool
	initErr     error

	// dirty marks a topology change to persist and broadcast; changed marks
	// a change that is only broadcast.
	dirty    bool
	changed  bool
	revision uint64
	notifier *pubsub.Broker[pubsub.StateUpdate]
}

// New creates an engine. It does nothing until Initialize or SyncTabs runs.
func New(provider host.Provider, persister Persister, settings Settings, opts ...Option) *Engine {
	settings = settings.withDefaults()
	e := &Engine{
		host:     provider,
		persist:  persister,
		settings: settings,
		notifier: pubsub.NewBroker[pubsub.StateUpdate](pubsub.WithBuffer(16), pubsub.KeepLatest()),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resetLocked()
	return e
}

func (e *Engine) resetLocked() {
	e.cancelHoverLocked()
	e.state = tree.New(e.treeOpts...)
	e.pinned = make(map[host.WindowID][]host.TabID)
	e.activeView = make(map[host.WindowID]tree.ViewID)
	e.activeTab = make(map[host.WindowID]host.TabID)
	e.unread = newUnreadTracker()
	if e.ledger != nil {
		e.ledger.Reset(context.Background())
	}
	e.ledger = newLedger(e.settings.ExpectedEventTTL)
	e.pendingParents = cachemanager.NewInMemoryCacheManager[string, host.TabID](
		"pending-parents", e.settings.ExpectedEventTTL, e.settings.ExpectedEventTTL)
	e.drag = nil
	e.ready = make(chan struct{})
	e.initialized = false
	e.initErr = nil
	e.dirty, e.changed = false, false
}

// Reset discards all in-memory state and re-arms initialization. The next
// Initialize or SyncTabs cold starts from the persisted record.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	log.Info(log.CatSync, "engine reset")
}

// Apply swaps settings at runtime. TTL changes apply to new entries.
func (e *Engine) Apply(s Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s = s.withDefaults()
	e.settings = s
	e.ledger.ttl = s.ExpectedEventTTL
	log.Info(log.CatConfig, "engine settings applied",
		"newTabPosition", s.NewTabPosition, "unreadTracking", s.UnreadTracking, "durableAcks", s.DurableAcks)
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Subscribe delivers a StateUpdatedEvent after every settled change.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[pubsub.StateUpdate] {
	return e.notifier.Subscribe(ctx)
}

// Close stops timers and the broadcast broker.
func (e *Engine) Close() {
	e.mu.Lock()
	e.cancelHoverLocked()
	e.mu.Unlock()
	e.notifier.Close()
}

// Initialize performs the cold start: load tree_state, read the host, match
// and build. Handlers blocked on readiness proceed once it returns.
func (e *Engine) Initialize(ctx context.Context) error {
	rec, err := e.persist.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tree_state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	if err := e.coldStartLocked(ctx, rec); err != nil {
		return err
	}
	return e.commitLocked(ctx, false)
}

// Ready is closed once cold start finished, successfully or not.
func (e *Engine) Ready() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// awaitReady blocks until cold start completed, bounded by InitTimeout.
func (e *Engine) awaitReady(ctx context.Context) error {
	e.mu.Lock()
	ready, timeout := e.ready, e.settings.InitTimeout
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
		return fmt.Errorf("%w after %s", ErrInitializationTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initErr != nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, e.initErr)
	}
	return nil
}

// commitLocked hands the projection to the persister and broadcasts. With
// durable set and DurableAcks on, it waits for the write.
func (e *Engine) commitLocked(ctx context.Context, durable bool) error {
	if e.dirty {
		e.persist.Schedule(persistence.Project(e.state))
		if durable && e.settings.DurableAcks {
			if err := e.persist.Flush(ctx); err != nil {
				log.ErrorErr(log.CatPersist, "durable write failed", err)
			}
		}
	}
	if e.dirty || e.changed {
		e.revision++
		e.notifier.Publish(pubsub.StateUpdatedEvent, pubsub.StateUpdate{Revision: e.revision})
	}
	e.dirty, e.changed = false, false
	return nil
}

// activeViewLocked returns the window's active view, or the first view.
func (e *Engine) activeViewLocked(w host.WindowID) tree.ViewID {
	if id, ok := e.activeView[w]; ok {
		if _, exists := e.state.View(id); exists {
			return id
		}
	}
	if v := e.state.DefaultView(); v != nil {
		return v.ID
	}
	return ""
}

// addRootLocked appends a root for t to its window's active view.
func (e *Engine) addRootLocked(t host.Tab) (*tree.Node, error) {
	n, err := e.state.AddNode(t.ID, tree.Root, e.activeViewLocked(t.WindowID))
	if err != nil {
		return nil, err
	}
	if err := e.state.SetWindow(n.ID, t.WindowID); err != nil {
		return nil, err
	}
	e.state.SetMeta(n.ID, t.URL, t.Title)
	return n, nil
}

// liveTabsLocked indexes every host tab by id.
func (e *Engine) liveTabsLocked(ctx context.Context) (map[host.TabID]host.Tab, error) {
	tabs, err := e.host.QueryTabs(ctx, host.Query{})
	if err != nil {
		return nil, fmt.Errorf("failed to query tabs: %w", err)
	}
	out := make(map[host.TabID]host.Tab, len(tabs))
	for _, t := range tabs {
		out[t.ID] = t
	}
	return out, nil
}
