package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/host/memhost"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/storage"
	"github.com/zjrosen/tabtree/internal/tree"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.InitTimeout = 500 * time.Millisecond
	s.HoverExpandDelay = 30 * time.Millisecond
	return s
}

type fixture struct {
	t       require.TestingT
	host    *memhost.Host
	kv      storage.KV
	persist *persistence.Manager
	eng     *Engine
}

// newFixture builds an engine that has not been initialized. Persistence
// writes only happen on durable acks or explicit flushes.
func newFixture(t require.TestingT, provider host.Provider, h *memhost.Host, kv storage.KV, settings Settings) *fixture {
	persist := persistence.NewManager(kv, time.Hour)
	n := 0
	eng := New(provider, persist, settings, WithTreeOptions(tree.WithIDGenerator(func() tree.NodeID {
		n++
		return tree.NodeID(fmt.Sprintf("n%d", n))
	})))
	return &fixture{t: t, host: h, kv: kv, persist: persist, eng: eng}
}

// startedFixture opens one window with urls and cold starts an engine on it.
func startedFixture(t *testing.T, urls ...string) (*fixture, host.WindowID) {
	t.Helper()
	h := memhost.New()
	w := h.OpenWindow(urls...)
	f := newFixture(t, h, h, storage.NewMemoryKV(), testSettings())
	t.Cleanup(f.eng.Close)
	require.NoError(t, f.eng.Initialize(context.Background()))
	f.settle()
	return f, w
}

// settle feeds queued host events to the engine until the host is quiet.
func (f *fixture) settle() {
	for range 100 {
		evs := f.host.TakeEvents()
		if len(evs) == 0 {
			return
		}
		for _, ev := range evs {
			require.NoError(f.t, f.eng.HandleEvent(context.Background(), ev), "event %s tab %d", ev.Kind, ev.TabID)
		}
	}
	require.FailNow(f.t, "host events did not settle")
}

func (f *fixture) node(tab host.TabID) tree.Node {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	n, ok := f.eng.state.NodeByTab(tab)
	require.True(f.t, ok, "tab %d has no node", tab)
	return *n
}

func (f *fixture) hasNode(tab host.TabID) bool {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	return f.eng.state.HasTab(tab)
}

func (f *fixture) tabOf(id tree.NodeID) host.TabID {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	n, ok := f.eng.state.Node(id)
	require.True(f.t, ok, "node %s missing", id)
	return n.TabID
}

func (f *fixture) childTabs(tab host.TabID) []host.TabID {
	n := f.node(tab)
	out := make([]host.TabID, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, f.tabOf(c))
	}
	return out
}

// rootTabs lists the root tabs of the window's active view.
func (f *fixture) rootTabs(w host.WindowID) []host.TabID {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	v, _ := f.eng.state.View(f.eng.activeViewLocked(w))
	var out []host.TabID
	for _, rid := range v.RootNodeIDs {
		n, _ := f.eng.state.Node(rid)
		if n.WindowID == w {
			out = append(out, n.TabID)
		}
	}
	return out
}

// treeOrder is the depth-first tab order of window w.
func (f *fixture) treeOrder(w host.WindowID) []host.TabID {
	f.eng.mu.Lock()
	defer f.eng.mu.Unlock()
	var out []host.TabID
	for _, n := range f.eng.state.WindowOrder(w) {
		out = append(out, n.TabID)
	}
	return out
}

// hostOrder is the unpinned host order of window w.
func (f *fixture) hostOrder(w host.WindowID) []host.TabID {
	tabs, err := f.host.QueryTabs(context.Background(), host.Query{WindowID: w, Pinned: host.Bool(false)})
	require.NoError(f.t, err)
	out := make([]host.TabID, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.ID)
	}
	return out
}

func (f *fixture) requireConsistent(w host.WindowID) {
	f.eng.mu.Lock()
	err := f.eng.state.Validate()
	f.eng.mu.Unlock()
	require.NoError(f.t, err)
	require.Equal(f.t, f.hostOrder(w), f.treeOrder(w), "host order must equal depth-first order")
}

func (f *fixture) createChild(parent host.TabID, url string) host.TabID {
	t, err := f.eng.CreateTab(context.Background(), CreateTabRequest{URL: url, ParentTabID: parent})
	require.NoError(f.t, err)
	return t.ID
}
