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

// coldStartLocked rebuilds the state from rec (nil for none) and the host's
// current tabs, then releases everything waiting on readiness.
func (e *Engine) coldStartLocked(ctx context.Context, rec *persistence.Record) error {
	if e.initErr != nil {
		// a previous attempt failed and released its waiters; re-arm
		e.ready = make(chan struct{})
		e.initErr = nil
	}
	if err := e.buildFromHostLocked(ctx, rec); err != nil {
		e.initErr = err
		close(e.ready)
		log.ErrorErr(log.CatSync, "cold start failed", err)
		return err
	}
	e.initialized = true
	close(e.ready)
	return nil
}

func (e *Engine) buildFromHostLocked(ctx context.Context, rec *persistence.Record) error {
	windows, err := e.host.QueryWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to query windows: %w", err)
	}

	e.state = tree.New(e.treeOpts...)
	e.pinned = make(map[host.WindowID][]host.TabID)
	e.activeView = make(map[host.WindowID]tree.ViewID)
	e.activeTab = make(map[host.WindowID]host.TabID)

	var entries []persistence.Entry
	if rec != nil {
		entries = rec.TreeStructure
		for _, v := range rec.Views {
			if _, err := e.state.AddView(v.ID, v.Name, v.Color); err != nil {
				return err
			}
		}
	}
	if len(e.state.Views()) == 0 {
		for _, seed := range e.settings.DefaultViews {
			if _, err := e.state.AddView("", seed.Name, seed.Color); err != nil {
				return err
			}
		}
	}

	var unpinned []host.Tab
	var all []host.TabID
	for _, w := range windows {
		for _, t := range w.Tabs {
			all = append(all, t.ID)
			if t.Active {
				e.activeTab[w.ID] = t.ID
			}
			if t.Pinned {
				e.pinned[w.ID] = append(e.pinned[w.ID], t.ID)
				continue
			}
			unpinned = append(unpinned, t)
		}
	}

	built, err := e.materializeLocked(entries, unpinned)
	if err != nil {
		return err
	}
	e.unread.seal(all)

	for _, w := range windows {
		if err := e.enforceOrderLocked(ctx, w.ID); err != nil {
			return err
		}
	}
	e.dirty = true
	log.Info(log.CatSync, "cold start complete",
		"windows", len(windows), "nodes", e.state.Len(), "restored", built, "entries", len(entries))
	return nil
}

// materializeLocked matches entries against tabs by URL and builds nodes:
// matched entries under their nearest matched ancestor, the rest of the
// tabs as roots of their window's active view in the given order. Returns
// how many tabs were placed from entries.
func (e *Engine) materializeLocked(entries []persistence.Entry, tabs []host.Tab) (int, error) {
	placements, rest := persistence.Resolve(entries, tabs)

	nodeOf := make(map[int]tree.NodeID, len(placements))
	for _, p := range placements {
		view := p.ViewID
		if _, ok := e.state.View(view); !ok {
			view = e.activeViewLocked(p.Tab.WindowID)
		}
		var (
			n   *tree.Node
			err error
		)
		if p.Parent >= 0 {
			n, err = e.state.AddNode(p.Tab.ID, nodeOf[p.Parent], "")
		} else {
			n, err = e.state.AddNode(p.Tab.ID, tree.Root, view)
			if err == nil {
				err = e.state.SetWindow(n.ID, p.Tab.WindowID)
			}
		}
		if err != nil {
			return 0, err
		}
		e.state.SetMeta(n.ID, p.Tab.URL, p.Tab.Title)
		if err := e.state.SetExpanded(n.ID, p.IsExpanded); err != nil {
			return 0, err
		}
		nodeOf[p.Entry] = n.ID
	}
	if dropped := len(entries) - len(placements); dropped > 0 {
		log.Debug(log.CatSync, "dropped entries without a live tab", "count", dropped)
	}

	// the active tab decides the window's view before new roots land
	for w, tab := range e.activeTab {
		if _, set := e.activeView[w]; set {
			continue
		}
		if n, ok := e.state.NodeByTab(tab); ok {
			e.activeView[w] = n.ViewID
		}
	}

	for _, t := range rest {
		if e.state.HasTab(t.ID) {
			continue
		}
		if _, err := e.addRootLocked(t); err != nil {
			return 0, err
		}
	}
	return len(placements), nil
}

// SyncTabs reconciles against the host. On an uninitialized engine it is
// the cold start; otherwise ghosts are pruned, missing tabs added, pinned
// lists and metadata refreshed and every window re-ordered.
func (e *Engine) SyncTabs(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		rec, err := e.persist.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load tree_state: %w", err)
		}
		if err := e.coldStartLocked(ctx, rec); err != nil {
			return err
		}
		return e.commitLocked(ctx, true)
	}
	if err := e.reconcileLocked(ctx); err != nil {
		return err
	}
	return e.commitLocked(ctx, true)
}

func (e *Engine) reconcileLocked(ctx context.Context) error {
	windows, err := e.host.QueryWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to query windows: %w", err)
	}
	live := make(map[host.TabID]host.Tab)
	alive := make(map[host.WindowID]bool, len(windows))
	for _, w := range windows {
		alive[w.ID] = true
		for _, t := range w.Tabs {
			live[t.ID] = t
		}
	}

	var ghosts []tree.NodeID
	for tab, ref := range e.state.TabToNode() {
		if t, ok := live[tab]; !ok || t.Pinned {
			log.Warn(log.CatSync, "dropping ghost entry", "tab", tab, "node", ref.NodeID)
			ghosts = append(ghosts, ref.NodeID)
		}
	}
	slices.Sort(ghosts)
	if err := e.state.RemoveNodes(ghosts); err != nil {
		return err
	}

	e.pinned = make(map[host.WindowID][]host.TabID)
	e.activeTab = make(map[host.WindowID]host.TabID)
	for w := range e.activeView {
		if !alive[w] {
			delete(e.activeView, w)
		}
	}

	for _, w := range windows {
		for _, t := range w.Tabs {
			if t.Active {
				e.activeTab[w.ID] = t.ID
			}
			if t.Pinned {
				e.pinned[w.ID] = append(e.pinned[w.ID], t.ID)
				continue
			}
			n, ok := e.state.NodeByTab(t.ID)
			if !ok {
				if _, err := e.addRootLocked(t); err != nil {
					return err
				}
				continue
			}
			if n.WindowID != t.WindowID {
				if err := e.rehomeLocked(n, t.WindowID); err != nil {
					return err
				}
			}
			e.state.SetMeta(n.ID, t.URL, t.Title)
		}
	}

	if err := e.enforceAllLocked(ctx); err != nil {
		return err
	}
	e.dirty = true
	log.Info(log.CatSync, "reconciled", "ghosts", len(ghosts), "nodes", e.state.Len())
	return nil
}

// rehomeLocked moves n alone to window w as a root of w's active view. Its
// children stay where they were, promoted in place.
func (e *Engine) rehomeLocked(n *tree.Node, w host.WindowID) error {
	if err := e.state.PromoteChildren(n.ID); err != nil {
		return err
	}
	if err := e.state.MoveToView(n.ID, e.activeViewLocked(w), -1); err != nil {
		return err
	}
	return e.state.SetWindow(n.ID, w)
}

// enforceOrderLocked moves host tabs so the window's unpinned order equals
// the depth-first order of its nodes. Tabs without a node keep their
// relative order at the end.
func (e *Engine) enforceOrderLocked(ctx context.Context, w host.WindowID) error {
	if w == host.NoWindow {
		return nil
	}
	tabs, err := e.host.QueryTabs(ctx, host.Query{WindowID: w})
	if err != nil {
		return fmt.Errorf("failed to query window %d: %w", w, err)
	}
	pinnedCount := 0
	current := make([]host.TabID, 0, len(tabs))
	for _, t := range tabs {
		if t.Pinned {
			pinnedCount++
			continue
		}
		current = append(current, t.ID)
	}

	desired := e.desiredOrderLocked(w, current)
	moves := 0
	for i, id := range desired {
		if current[i] == id {
			continue
		}
		e.ledger.Expect(ctx, id, host.EventMoved)
		if _, err := e.host.MoveTab(ctx, id, host.MoveProperties{Index: pinnedCount + i}); err != nil {
			e.ledger.Forget(ctx, id, host.EventMoved)
			return fmt.Errorf("failed to move tab %d: %w", id, err)
		}
		j := slices.Index(current, id)
		current = slices.Delete(current, j, j+1)
		current = slices.Insert(current, i, id)
		moves++
	}
	if moves > 0 {
		log.Debug(log.CatDrag, "host order enforced", "window", w, "moves", moves)
	}
	return nil
}

func (e *Engine) enforceAllLocked(ctx context.Context) error {
	windows, err := e.host.QueryWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to query windows: %w", err)
	}
	for _, w := range windows {
		if err := e.enforceOrderLocked(ctx, w.ID); err != nil {
			return err
		}
	}
	return nil
}

// desiredOrderLocked is the unpinned order window w must have: its nodes
// depth first, then the tabs without a node in their current order.
func (e *Engine) desiredOrderLocked(w host.WindowID, current []host.TabID) []host.TabID {
	live := make(map[host.TabID]bool, len(current))
	for _, id := range current {
		live[id] = true
	}
	desired := make([]host.TabID, 0, len(current))
	inTree := make(map[host.TabID]bool, len(current))
	for _, n := range e.state.WindowOrder(w) {
		if live[n.TabID] && !inTree[n.TabID] {
			desired = append(desired, n.TabID)
			inTree[n.TabID] = true
		}
	}
	for _, id := range current {
		if !inTree[id] {
			desired = append(desired, id)
		}
	}
	return desired
}

// hostOrderLocked returns the unpinned tab ids of w in index order and
// whether they already follow the tree.
func (e *Engine) hostOrderLocked(ctx context.Context, w host.WindowID) ([]host.TabID, bool, error) {
	if w == host.NoWindow {
		return nil, true, nil
	}
	tabs, err := e.host.QueryTabs(ctx, host.Query{WindowID: w, Pinned: host.Bool(false)})
	if err != nil {
		return nil, false, fmt.Errorf("failed to query window %d: %w", w, err)
	}
	current := make([]host.TabID, 0, len(tabs))
	for _, t := range tabs {
		current = append(current, t.ID)
	}
	return current, slices.Equal(current, e.desiredOrderLocked(w, current)), nil
}

// placeByHostOrderLocked re-inserts n where the host now shows its tab:
// before the next tab that has a node, else after the previous one's root,
// else at the end of the window's active view. With asRoot the anchor is
// the follower's root, so n lands between root trees.
func (e *Engine) placeByHostOrderLocked(n *tree.Node, order []host.TabID, asRoot bool) error {
	pos := slices.Index(order, n.TabID)
	if pos < 0 {
		return nil
	}
	for _, id := range order[pos+1:] {
		f, ok := e.state.NodeByTab(id)
		if !ok || f.WindowID != n.WindowID || f.ID == n.ID {
			continue
		}
		anchor := f.ID
		if asRoot {
			anchor = e.state.RootAncestor(f.ID)
		}
		return e.state.MoveBefore(n.ID, anchor)
	}
	for i := pos - 1; i >= 0; i-- {
		p, ok := e.state.NodeByTab(order[i])
		if !ok || p.WindowID != n.WindowID || p.ID == n.ID {
			continue
		}
		return e.state.MoveAfter(n.ID, e.state.RootAncestor(p.ID))
	}
	return e.state.MoveToView(n.ID, e.activeViewLocked(n.WindowID), -1)
}

// refreshPinnedLocked re-reads the pinned tabs of w.
func (e *Engine) refreshPinnedLocked(ctx context.Context, w host.WindowID) error {
	if w == host.NoWindow {
		return nil
	}
	tabs, err := e.host.QueryTabs(ctx, host.Query{WindowID: w, Pinned: host.Bool(true)})
	if err != nil {
		return fmt.Errorf("failed to query pinned tabs: %w", err)
	}
	if len(tabs) == 0 {
		delete(e.pinned, w)
		return nil
	}
	ids := make([]host.TabID, 0, len(tabs))
	for _, t := range tabs {
		ids = append(ids, t.ID)
	}
	e.pinned[w] = ids
	return nil
}

func (e *Engine) dropPinnedLocked(tab host.TabID) {
	for w, ids := range e.pinned {
		if i := slices.Index(ids, tab); i >= 0 {
			e.pinned[w] = slices.Delete(ids, i, i+1)
			if len(e.pinned[w]) == 0 {
				delete(e.pinned, w)
			}
		}
	}
}

func (e *Engine) isPinnedLocked(tab host.TabID) bool {
	for _, ids := range e.pinned {
		if slices.Contains(ids, tab) {
			return true
		}
	}
	return false
}

// dropWindowLocked removes every node and pinned entry of a closed window.
func (e *Engine) dropWindowLocked(w host.WindowID) {
	removed := 0
	for _, v := range e.state.Views() {
		for _, rid := range slices.Clone(v.RootNodeIDs) {
			r, ok := e.state.Node(rid)
			if !ok || r.WindowID != w {
				continue
			}
			tabs, _ := e.state.RemoveSubtree(rid)
			for _, t := range tabs {
				e.unread.forget(t)
			}
			removed += len(tabs)
		}
	}
	for _, t := range e.pinned[w] {
		e.unread.forget(t)
	}
	delete(e.pinned, w)
	delete(e.activeView, w)
	delete(e.activeTab, w)
	if removed > 0 {
		e.dirty = true
	}
	e.changed = true
	log.Debug(log.CatSync, "window dropped", "window", w, "nodes", removed)
}
