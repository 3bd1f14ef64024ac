package engine

import (
	"context"
	"fmt"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/tree"
)

// HandleEvent applies one host event. It waits for cold start first.
func (e *Engine) HandleEvent(ctx context.Context, ev host.Event) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch ev.Kind {
	case host.EventCreated:
		err = e.onCreatedLocked(ctx, ev)
	case host.EventRemoved:
		err = e.onRemovedLocked(ctx, ev)
	case host.EventMoved:
		err = e.onMovedLocked(ctx, ev)
	case host.EventUpdated:
		err = e.onUpdatedLocked(ctx, ev)
	case host.EventActivated:
		e.onActivatedLocked(ev.WindowID, ev.TabID)
	case host.EventAttached:
		err = e.onAttachedLocked(ctx, ev)
	case host.EventDetached:
		err = e.onDetachedLocked(ctx, ev)
	case host.EventWindowCreated:
		if _, ok := e.activeView[ev.WindowID]; !ok {
			e.activeView[ev.WindowID] = e.activeViewLocked(ev.WindowID)
		}
	case host.EventWindowRemoved:
		e.dropWindowLocked(ev.WindowID)
	default:
		log.Warn(log.CatHost, "ignoring unknown host event", "kind", ev.Kind)
	}
	if err != nil {
		log.ErrorErr(log.CatSync, "host event failed", err, "kind", ev.Kind, "tab", ev.TabID)
		return err
	}
	return e.commitLocked(ctx, false)
}

func (e *Engine) eventTabLocked(ctx context.Context, ev host.Event) (host.Tab, error) {
	if ev.Tab != nil {
		return *ev.Tab, nil
	}
	return e.host.GetTab(ctx, ev.TabID)
}

func pendingKey(w host.WindowID, url string) string {
	return fmt.Sprintf("%d|%s", w, url)
}

func (e *Engine) onCreatedLocked(ctx context.Context, ev host.Event) error {
	if e.state.HasTab(ev.TabID) || e.isPinnedLocked(ev.TabID) {
		return nil
	}
	t, err := e.eventTabLocked(ctx, ev)
	if err != nil {
		// closed again before we got to it
		return nil
	}
	if t.Pinned {
		e.changed = true
		return e.refreshPinnedLocked(ctx, t.WindowID)
	}

	opener, ok := e.pendingParents.Take(ctx, pendingKey(t.WindowID, t.URL))
	if !ok {
		opener = t.OpenerTabID
	}
	if err := e.insertCreatedLocked(t, opener); err != nil {
		return err
	}
	return e.enforceOrderLocked(ctx, t.WindowID)
}

// insertCreatedLocked adds the node for a new tab, under opener per the
// newTabPositionFromLink policy when the opener has a node in the same
// window, else as a root. Background tabs start unread.
func (e *Engine) insertCreatedLocked(t host.Tab, opener host.TabID) error {
	var parent *tree.Node
	if opener != 0 {
		if p, ok := e.state.NodeByTab(opener); ok && p.WindowID == t.WindowID {
			parent = p
		}
	}

	var (
		n   *tree.Node
		err error
	)
	if parent == nil || e.settings.NewTabPosition == PositionEnd {
		n, err = e.addRootLocked(t)
	} else {
		n, err = e.placeUnderLocked(t, parent)
	}
	if err != nil {
		return err
	}
	e.state.SetMeta(n.ID, t.URL, t.Title)
	e.dirty = true

	if !t.Active && e.settings.UnreadTracking && e.unread.mark(t.ID) {
		log.Debug(log.CatUnread, "new background tab unread", "tab", t.ID)
	}
	log.Debug(log.CatSync, "tab added", "tab", t.ID, "node", n.ID, "parent", n.ParentID, "depth", n.Depth)
	return nil
}

func (e *Engine) placeUnderLocked(t host.Tab, parent *tree.Node) (*tree.Node, error) {
	switch e.settings.NewTabPosition {
	case PositionFirstChild:
		return e.state.AddNodeAt(t.ID, parent.ID, "", 0)
	case PositionSibling:
		idx := e.state.IndexInParent(parent.ID) + 1
		if parent.IsRoot() {
			n, err := e.state.AddNodeAt(t.ID, tree.Root, parent.ViewID, idx)
			if err != nil {
				return nil, err
			}
			return n, e.state.SetWindow(n.ID, parent.WindowID)
		}
		return e.state.AddNodeAt(t.ID, parent.ParentID, "", idx)
	default:
		return e.state.AddNode(t.ID, parent.ID, "")
	}
}

func (e *Engine) onRemovedLocked(ctx context.Context, ev host.Event) error {
	self := e.ledger.Consume(ctx, ev.TabID, host.EventRemoved)
	if n, ok := e.state.NodeByTab(ev.TabID); ok {
		if err := e.state.RemoveWithPromotion(n.ID); err != nil {
			return err
		}
		e.dirty = true
	}
	if e.isPinnedLocked(ev.TabID) {
		e.dropPinnedLocked(ev.TabID)
		e.changed = true
	}
	e.unread.forget(ev.TabID)
	if e.activeTab[ev.WindowID] == ev.TabID {
		delete(e.activeTab, ev.WindowID)
	}
	if ev.WindowClosing {
		e.dropWindowLocked(ev.WindowID)
		return nil
	}
	if self {
		return nil
	}
	return e.enforceOrderLocked(ctx, ev.WindowID)
}

func (e *Engine) onMovedLocked(ctx context.Context, ev host.Event) error {
	if e.ledger.Consume(ctx, ev.TabID, host.EventMoved) {
		return nil
	}
	n, ok := e.state.NodeByTab(ev.TabID)
	if !ok {
		if e.isPinnedLocked(ev.TabID) {
			e.changed = true
			return e.refreshPinnedLocked(ctx, ev.WindowID)
		}
		return nil
	}
	order, matches, err := e.hostOrderLocked(ctx, n.WindowID)
	if err != nil || matches {
		return err
	}

	// a user reorder: the tab leaves its subtree and takes the host slot
	if err := e.state.PromoteChildren(n.ID); err != nil {
		return err
	}
	if err := e.placeByHostOrderLocked(n, order, false); err != nil {
		return err
	}
	e.dirty = true
	log.Debug(log.CatSync, "external move applied", "tab", ev.TabID, "from", ev.FromIndex, "to", ev.ToIndex)
	return e.enforceOrderLocked(ctx, n.WindowID)
}

func (e *Engine) onDetachedLocked(ctx context.Context, ev host.Event) error {
	e.ledger.Consume(ctx, ev.TabID, host.EventDetached)
	if e.isPinnedLocked(ev.TabID) {
		e.dropPinnedLocked(ev.TabID)
		e.changed = true
	}
	return nil
}

func (e *Engine) onAttachedLocked(ctx context.Context, ev host.Event) error {
	if e.ledger.Consume(ctx, ev.TabID, host.EventAttached) {
		return nil
	}
	t, err := e.host.GetTab(ctx, ev.TabID)
	if err != nil {
		return nil
	}
	if t.Pinned {
		e.dropPinnedLocked(t.ID)
		e.changed = true
		return e.refreshPinnedLocked(ctx, t.WindowID)
	}

	n, ok := e.state.NodeByTab(t.ID)
	if !ok {
		if _, err := e.addRootLocked(t); err != nil {
			return err
		}
		e.dirty = true
		return e.enforceOrderLocked(ctx, t.WindowID)
	}
	if n.WindowID == t.WindowID {
		return nil
	}

	oldW := n.WindowID
	if err := e.rehomeLocked(n, t.WindowID); err != nil {
		return err
	}
	order, _, err := e.hostOrderLocked(ctx, t.WindowID)
	if err != nil {
		return err
	}
	if err := e.placeByHostOrderLocked(n, order, true); err != nil {
		return err
	}
	e.dirty = true
	log.Debug(log.CatSync, "external attach applied", "tab", t.ID, "from", oldW, "to", t.WindowID)
	if err := e.enforceOrderLocked(ctx, oldW); err != nil {
		return err
	}
	return e.enforceOrderLocked(ctx, t.WindowID)
}

func (e *Engine) onUpdatedLocked(ctx context.Context, ev host.Event) error {
	t, err := e.eventTabLocked(ctx, ev)
	if err != nil {
		return nil
	}

	if ev.Change.Pinned != nil && !e.ledger.Consume(ctx, t.ID, host.EventUpdated) {
		if *ev.Change.Pinned {
			err = e.pinLocked(ctx, t)
		} else {
			err = e.unpinLocked(ctx, t)
		}
		if err != nil {
			return err
		}
	}

	if n, ok := e.state.NodeByTab(t.ID); ok && (ev.Change.URL != nil || ev.Change.Title != nil) {
		e.state.SetMeta(n.ID, t.URL, t.Title)
		e.dirty = true
	}

	if ev.Change.IsContentChange() && !t.Active && e.settings.UnreadTracking && e.unread.mark(t.ID) {
		e.changed = true
		log.Debug(log.CatUnread, "background update marked unread", "tab", t.ID)
	}
	return nil
}

// onActivatedLocked records the active tab, clears its unread flag and
// switches the window to the tab's view.
func (e *Engine) onActivatedLocked(w host.WindowID, tab host.TabID) {
	if e.activeTab[w] != tab {
		e.activeTab[w] = tab
		e.changed = true
	}
	if e.unread.clear(tab) {
		e.changed = true
	}
	if n, ok := e.state.NodeByTab(tab); ok && e.activeView[w] != n.ViewID {
		e.activeView[w] = n.ViewID
		e.changed = true
	}
}
