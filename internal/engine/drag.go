package engine

import (
	"context"
	"fmt"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/tree"
)

// Relation is where a dragged node lands relative to the drop target.
type Relation string

const (
	RelationBefore Relation = "before"
	RelationAfter  Relation = "after"
	RelationChild  Relation = "child"
)

// MoveRequest is a drop of TabID's subtree onto TargetTabID.
type MoveRequest struct {
	TabID       host.TabID `json:"tabId"`
	TargetTabID host.TabID `json:"targetTabId"`
	Relation    Relation   `json:"relation"`
}

// MoveNode applies a drop and rewrites the host order of every affected
// window so it equals the tree's depth-first order. Dropping onto a node of
// another window moves the subtree's tabs there.
func (e *Engine) MoveNode(ctx context.Context, req MoveRequest) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	src, err := e.nodeLocked(ctx, req.TabID)
	if err != nil {
		return err
	}
	dst, err := e.nodeLocked(ctx, req.TargetTabID)
	if err != nil {
		return err
	}
	if src.ID == dst.ID || e.state.IsDescendant(dst.ID, src.ID) {
		return fmt.Errorf("%w: tab %d onto tab %d", tree.ErrCycle, req.TabID, req.TargetTabID)
	}

	oldW := src.WindowID
	switch req.Relation {
	case RelationChild:
		err = e.state.Reparent(src.ID, dst.ID, -1)
	case RelationBefore:
		err = e.state.MoveBefore(src.ID, dst.ID)
	case RelationAfter:
		err = e.state.MoveAfter(src.ID, dst.ID)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRelation, req.Relation)
	}
	if err != nil {
		return err
	}
	e.cancelHoverLocked()
	e.drag = nil
	e.dirty = true

	newW := src.WindowID
	if newW != oldW {
		if err := e.moveSubtreeTabsLocked(ctx, src, newW); err != nil {
			return err
		}
		if err := e.enforceOrderLocked(ctx, oldW); err != nil {
			return err
		}
	}
	if err := e.enforceOrderLocked(ctx, newW); err != nil {
		return err
	}
	log.Debug(log.CatDrag, "node moved", "tab", req.TabID, "target", req.TargetTabID, "relation", req.Relation,
		"depth", src.Depth)
	return e.commitLocked(ctx, true)
}

// moveSubtreeTabsLocked moves the host tabs of n's subtree, skipping skip,
// to the end of window w. Order is fixed afterwards by enforcement.
func (e *Engine) moveSubtreeTabsLocked(ctx context.Context, n *tree.Node, w host.WindowID, skip ...host.TabID) error {
	for _, x := range e.state.Subtree(n.ID) {
		if len(skip) > 0 && x.TabID == skip[0] {
			continue
		}
		e.ledger.Expect(ctx, x.TabID, host.EventDetached)
		e.ledger.Expect(ctx, x.TabID, host.EventAttached)
		if _, err := e.host.MoveTab(ctx, x.TabID, host.MoveProperties{WindowID: w, Index: -1}); err != nil {
			e.ledger.Forget(ctx, x.TabID, host.EventDetached)
			e.ledger.Forget(ctx, x.TabID, host.EventAttached)
			return fmt.Errorf("failed to move tab %d to window %d: %w", x.TabID, w, err)
		}
	}
	return nil
}

// MoveToNewWindow handles a drop outside the tree: the tab's subtree moves
// to a new window and becomes a root there. Returns the new window.
func (e *Engine) MoveToNewWindow(ctx context.Context, id host.TabID) (host.WindowID, error) {
	if err := e.awaitReady(ctx); err != nil {
		return host.NoWindow, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.nodeLocked(ctx, id)
	if err != nil {
		return host.NoWindow, err
	}
	oldW := n.WindowID

	e.ledger.Expect(ctx, id, host.EventDetached)
	e.ledger.Expect(ctx, id, host.EventAttached)
	win, err := e.host.CreateWindow(ctx, id)
	if err != nil {
		e.ledger.Forget(ctx, id, host.EventDetached)
		e.ledger.Forget(ctx, id, host.EventAttached)
		return host.NoWindow, fmt.Errorf("failed to create window: %w", err)
	}
	if err := e.moveSubtreeTabsLocked(ctx, n, win.ID, id); err != nil {
		return host.NoWindow, err
	}

	view := e.activeViewLocked(oldW)
	if err := e.state.MoveToView(n.ID, view, -1); err != nil {
		return host.NoWindow, err
	}
	if err := e.state.SetWindow(n.ID, win.ID); err != nil {
		return host.NoWindow, err
	}
	e.activeView[win.ID] = view
	e.activeTab[win.ID] = id
	e.cancelHoverLocked()
	e.drag = nil
	e.dirty = true

	if err := e.enforceOrderLocked(ctx, win.ID); err != nil {
		return host.NoWindow, err
	}
	if err := e.enforceOrderLocked(ctx, oldW); err != nil {
		return host.NoWindow, err
	}
	log.Debug(log.CatDrag, "subtree moved to new window", "tab", id, "window", win.ID)
	return win.ID, e.commitLocked(ctx, true)
}

// SetDragState parks the payload of a drag in flight.
func (e *Engine) SetDragState(ctx context.Context, ds DragState) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.hostTabLocked(ctx, ds.TabID); err != nil {
		return err
	}
	e.drag = &ds
	return nil
}

// GetDragState returns the parked payload, or nil.
func (e *Engine) GetDragState(ctx context.Context) (*DragState, error) {
	if err := e.awaitReady(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drag == nil {
		return nil, nil
	}
	ds := *e.drag
	return &ds, nil
}

// ClearDragState drops the payload and cancels any pending auto-expand.
func (e *Engine) ClearDragState(ctx context.Context) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drag = nil
	e.cancelHoverLocked()
	return nil
}

// DragHover reports the node under the cursor. A collapsed node with
// children expands after HoverExpandDelay unless the hover moves first.
func (e *Engine) DragHover(ctx context.Context, id host.TabID) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.state.NodeByTab(id)
	if !ok {
		return targetNotFound(id)
	}
	e.hoverLocked(n.ID)
	return nil
}

// DragHoverEnd cancels the pending auto-expand.
func (e *Engine) DragHoverEnd(ctx context.Context) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelHoverLocked()
	return nil
}
