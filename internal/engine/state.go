package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/persistence"
	"github.com/zjrosen/tabtree/internal/tree"
)

// StateView is the GET_STATE payload. Ghost entries are never included.
type StateView struct {
	Views         []tree.View                    `json:"views"`
	Nodes         map[tree.NodeID]tree.Node      `json:"nodes"`
	TabToNode     map[host.TabID]tree.TabRef     `json:"tabToNode"`
	ActiveViews   map[host.WindowID]tree.ViewID  `json:"activeViews"`
	Pinned        map[host.WindowID][]host.TabID `json:"pinned"`
	Unread        []host.TabID                   `json:"unread"`
	ViewTabCounts map[tree.ViewID]int            `json:"viewTabCounts"`
	Initialized   bool                           `json:"initialized"`
}

// GetState returns a ghost-free copy of the state.
func (e *Engine) GetState(ctx context.Context) (*StateView, error) {
	if err := e.awaitReady(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.prunedLocked(ctx)
	if err != nil {
		return nil, err
	}
	rec := persistence.Project(s)

	out := &StateView{
		Views:         rec.Views,
		Nodes:         rec.Nodes,
		TabToNode:     rec.TabToNode,
		ActiveViews:   make(map[host.WindowID]tree.ViewID, len(e.activeView)),
		Pinned:        make(map[host.WindowID][]host.TabID, len(e.pinned)),
		Unread:        e.unread.list(),
		ViewTabCounts: make(map[tree.ViewID]int, len(rec.Views)),
		Initialized:   e.initialized,
	}
	for w, v := range e.activeView {
		out.ActiveViews[w] = v
	}
	for w, ids := range e.pinned {
		out.Pinned[w] = slices.Clone(ids)
	}
	for _, v := range s.Views() {
		out.ViewTabCounts[v.ID] = len(s.DepthFirst(v.ID))
	}
	return out, nil
}

// prunedLocked clones the state without entries whose tab is gone or
// pinned. The live state is left alone; SyncTabs removes ghosts for good.
func (e *Engine) prunedLocked(ctx context.Context) (*tree.State, error) {
	live, err := e.liveTabsLocked(ctx)
	if err != nil {
		return nil, err
	}
	c := e.state.Clone()
	var ghosts []tree.NodeID
	for tab, ref := range c.TabToNode() {
		if t, ok := live[tab]; !ok || t.Pinned {
			ghosts = append(ghosts, ref.NodeID)
		}
	}
	slices.Sort(ghosts)
	if err := c.RemoveNodes(ghosts); err != nil {
		return nil, err
	}
	return c, nil
}

// CaptureTopology returns the ghost-free topology for a snapshot.
func (e *Engine) CaptureTopology(ctx context.Context) (persistence.Topology, error) {
	if err := e.awaitReady(ctx); err != nil {
		return persistence.Topology{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.prunedLocked(ctx)
	if err != nil {
		return persistence.Topology{}, err
	}
	return persistence.Flatten(s), nil
}

// RestorePolicy decides what happens to the current tabs on restore.
type RestorePolicy string

const (
	// RestoreCloseCurrent closes the current unpinned tabs after the
	// snapshot's tabs are open.
	RestoreCloseCurrent RestorePolicy = "close_current"
	// RestoreKeepCurrent keeps them and adds the snapshot's tabs.
	RestoreKeepCurrent RestorePolicy = "keep_current"
)

// ParseRestorePolicy validates a policy name; empty means keep_current.
func ParseRestorePolicy(s string) (RestorePolicy, error) {
	switch p := RestorePolicy(s); p {
	case RestoreCloseCurrent, RestoreKeepCurrent:
		return p, nil
	case "":
		return RestoreKeepCurrent, nil
	}
	return "", fmt.Errorf("unknown restore policy %q", s)
}

// RestoreTopology opens one tab per entry in the first window and rebuilds
// the captured tree over them with the cold start matcher.
func (e *Engine) RestoreTopology(ctx context.Context, topo persistence.Topology, policy RestorePolicy) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range topo.Views {
		if _, ok := e.state.View(v.ID); ok {
			continue
		}
		if _, err := e.state.AddView(v.ID, v.Name, v.Color); err != nil {
			return err
		}
	}

	current, err := e.host.QueryTabs(ctx, host.Query{Pinned: host.Bool(false)})
	if err != nil {
		return fmt.Errorf("failed to query tabs: %w", err)
	}
	windows, err := e.host.QueryWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to query windows: %w", err)
	}
	target := host.NoWindow
	if len(windows) > 0 {
		target = windows[0].ID
	}

	created := make([]host.Tab, 0, len(topo.Entries))
	for _, entry := range topo.Entries {
		t, err := e.host.CreateTab(ctx, host.CreateProperties{WindowID: target, URL: entry.URL, Title: entry.Title})
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", entry.URL, err)
		}
		target = t.WindowID
		created = append(created, t)
	}
	restored, err := e.materializeLocked(topo.Entries, created)
	if err != nil {
		return err
	}
	e.dirty = true

	if policy == RestoreCloseCurrent && len(current) > 0 {
		ids := make([]host.TabID, 0, len(current))
		var nodes []tree.NodeID
		for _, t := range current {
			ids = append(ids, t.ID)
			e.ledger.Expect(ctx, t.ID, host.EventRemoved)
			if n, ok := e.state.NodeByTab(t.ID); ok {
				nodes = append(nodes, n.ID)
			}
		}
		if err := e.host.RemoveTabs(ctx, ids...); err != nil {
			for _, id := range ids {
				e.ledger.Forget(ctx, id, host.EventRemoved)
			}
			return fmt.Errorf("failed to close current tabs: %w", err)
		}
		if err := e.state.RemoveNodes(nodes); err != nil {
			return err
		}
		for _, id := range ids {
			e.unread.forget(id)
		}
	}

	if err := e.enforceAllLocked(ctx); err != nil {
		return err
	}
	log.Info(log.CatSnapshot, "topology restored", "entries", len(topo.Entries), "restored", restored, "policy", policy)
	return e.commitLocked(ctx, true)
}
