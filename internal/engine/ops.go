package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/tree"
)

// CreateTabRequest opens a tab, optionally as a child of ParentTabID.
type CreateTabRequest struct {
	URL         string        `json:"url"`
	ParentTabID host.TabID    `json:"parentTabId,omitempty"`
	WindowID    host.WindowID `json:"windowId,omitempty"`
	Active      bool          `json:"active,omitempty"`
}

// hostTabLocked fetches a live tab or reports it as the missing target.
func (e *Engine) hostTabLocked(ctx context.Context, id host.TabID) (host.Tab, error) {
	t, err := e.host.GetTab(ctx, id)
	if errors.Is(err, host.ErrTabNotFound) {
		return host.Tab{}, targetNotFound(id)
	}
	if err != nil {
		return host.Tab{}, fmt.Errorf("failed to get tab %d: %w", id, err)
	}
	return t, nil
}

// nodeLocked returns the node of a live tab.
func (e *Engine) nodeLocked(ctx context.Context, id host.TabID) (*tree.Node, error) {
	n, ok := e.state.NodeByTab(id)
	if !ok {
		return nil, targetNotFound(id)
	}
	if _, err := e.hostTabLocked(ctx, id); err != nil {
		return nil, err
	}
	return n, nil
}

// ActivateTab focuses a tab.
func (e *Engine) ActivateTab(ctx context.Context, id host.TabID) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.hostTabLocked(ctx, id)
	if err != nil {
		return err
	}
	if _, err := e.host.UpdateTab(ctx, id, host.UpdateProperties{Active: host.Bool(true)}); err != nil {
		return fmt.Errorf("failed to activate tab %d: %w", id, err)
	}
	e.onActivatedLocked(t.WindowID, id)
	return e.commitLocked(ctx, false)
}

// CloseTab closes a tab. Its children are promoted unless withDescendants
// closes the whole subtree.
func (e *Engine) CloseTab(ctx context.Context, id host.TabID, withDescendants bool) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.hostTabLocked(ctx, id)
	if err != nil {
		return err
	}

	tabs := []host.TabID{id}
	n, hasNode := e.state.NodeByTab(id)
	if hasNode && withDescendants {
		live, err := e.liveTabsLocked(ctx)
		if err != nil {
			return err
		}
		tabs = tabs[:0]
		for _, x := range e.state.Subtree(n.ID) {
			if _, ok := live[x.TabID]; ok {
				tabs = append(tabs, x.TabID)
			}
		}
	}

	for _, tab := range tabs {
		e.ledger.Expect(ctx, tab, host.EventRemoved)
	}
	if err := e.host.RemoveTabs(ctx, tabs...); err != nil {
		for _, tab := range tabs {
			e.ledger.Forget(ctx, tab, host.EventRemoved)
		}
		return fmt.Errorf("failed to close tabs: %w", err)
	}

	switch {
	case !hasNode:
		e.dropPinnedLocked(id)
		e.changed = true
	case withDescendants:
		if _, err := e.state.RemoveSubtree(n.ID); err != nil {
			return err
		}
		e.dirty = true
	default:
		if err := e.state.RemoveWithPromotion(n.ID); err != nil {
			return err
		}
		e.dirty = true
	}
	for _, tab := range tabs {
		e.unread.forget(tab)
	}
	log.Debug(log.CatSync, "tabs closed", "tab", id, "count", len(tabs))

	if err := e.enforceOrderLocked(ctx, t.WindowID); err != nil {
		return err
	}
	return e.commitLocked(ctx, true)
}

// CreateTab opens a tab. With a parent, the new node is placed per the
// newTabPositionFromLink policy and the host's created event becomes a no-op.
func (e *Engine) CreateTab(ctx context.Context, req CreateTabRequest) (host.Tab, error) {
	if err := e.awaitReady(ctx); err != nil {
		return host.Tab{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	w := req.WindowID
	if req.ParentTabID != 0 {
		p, err := e.nodeLocked(ctx, req.ParentTabID)
		if err != nil {
			return host.Tab{}, err
		}
		w = p.WindowID
		e.pendingParents.Set(ctx, pendingKey(w, req.URL), req.ParentTabID, e.settings.ExpectedEventTTL)
	}

	t, err := e.host.CreateTab(ctx, host.CreateProperties{
		WindowID: w,
		URL:      req.URL,
		Title:    req.URL,
		Active:   req.Active,
		OpenerID: req.ParentTabID,
	})
	if err != nil {
		if req.ParentTabID != 0 {
			_ = e.pendingParents.Delete(ctx, pendingKey(w, req.URL))
		}
		return host.Tab{}, fmt.Errorf("failed to create tab: %w", err)
	}

	if !e.state.HasTab(t.ID) {
		opener, ok := e.pendingParents.Take(ctx, pendingKey(t.WindowID, t.URL))
		if !ok {
			opener = req.ParentTabID
		}
		if err := e.insertCreatedLocked(t, opener); err != nil {
			return host.Tab{}, err
		}
	}
	if err := e.enforceOrderLocked(ctx, t.WindowID); err != nil {
		return host.Tab{}, err
	}
	return t, e.commitLocked(ctx, true)
}

// SetExpanded sets a node's collapse flag.
func (e *Engine) SetExpanded(ctx context.Context, id host.TabID, expanded bool) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.nodeLocked(ctx, id)
	if err != nil {
		return err
	}
	if n.IsExpanded == expanded {
		return nil
	}
	if err := e.state.SetExpanded(n.ID, expanded); err != nil {
		return err
	}
	e.dirty = true
	return e.commitLocked(ctx, true)
}

// PinTab pins a tab. Its children become roots; unpinning never restores them.
func (e *Engine) PinTab(ctx context.Context, id host.TabID) error {
	return e.setPinned(ctx, id, true)
}

// UnpinTab unpins a tab, which comes back as a new root.
func (e *Engine) UnpinTab(ctx context.Context, id host.TabID) error {
	return e.setPinned(ctx, id, false)
}

func (e *Engine) setPinned(ctx context.Context, id host.TabID, pinned bool) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.hostTabLocked(ctx, id)
	if err != nil {
		return err
	}
	if t.Pinned == pinned {
		return nil
	}

	e.ledger.Expect(ctx, id, host.EventUpdated)
	t, err = e.host.UpdateTab(ctx, id, host.UpdateProperties{Pinned: host.Bool(pinned)})
	if err != nil {
		e.ledger.Forget(ctx, id, host.EventUpdated)
		return fmt.Errorf("failed to update tab %d: %w", id, err)
	}
	if pinned {
		err = e.pinLocked(ctx, t)
	} else {
		err = e.unpinLocked(ctx, t)
	}
	if err != nil {
		return err
	}
	return e.commitLocked(ctx, true)
}

// pinLocked takes a now pinned tab out of the tree. Its children become
// roots right after its root ancestor.
func (e *Engine) pinLocked(ctx context.Context, t host.Tab) error {
	if n, ok := e.state.NodeByTab(t.ID); ok {
		promoted, err := e.state.DissolveToRoots(n.ID)
		if err != nil {
			return err
		}
		if err := e.state.RemoveNode(n.ID); err != nil {
			return err
		}
		e.dirty = true
		log.Debug(log.CatPin, "tab pinned", "tab", t.ID, "promoted", len(promoted))
	}
	e.changed = true
	if err := e.refreshPinnedLocked(ctx, t.WindowID); err != nil {
		return err
	}
	return e.enforceOrderLocked(ctx, t.WindowID)
}

// unpinLocked gives a now unpinned tab a fresh root at its host position.
func (e *Engine) unpinLocked(ctx context.Context, t host.Tab) error {
	e.dropPinnedLocked(t.ID)
	e.changed = true
	if err := e.refreshPinnedLocked(ctx, t.WindowID); err != nil {
		return err
	}
	if e.state.HasTab(t.ID) {
		return nil
	}
	n, err := e.addRootLocked(t)
	if err != nil {
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
	log.Debug(log.CatPin, "tab unpinned", "tab", t.ID, "node", n.ID)
	return e.enforceOrderLocked(ctx, t.WindowID)
}
