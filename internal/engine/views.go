package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/zjrosen/tabtree/internal/host"
	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/tree"
)

// CreateView appends an empty view.
func (e *Engine) CreateView(ctx context.Context, name, color string) (tree.View, error) {
	if err := e.awaitReady(ctx); err != nil {
		return tree.View{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return tree.View{}, fmt.Errorf("view name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.state.AddView("", name, color)
	if err != nil {
		return tree.View{}, err
	}
	e.dirty = true
	log.Info(log.CatTree, "view created", "view", v.ID, "name", name)
	return *v, e.commitLocked(ctx, true)
}

// DeleteView removes a view. Its trees move to the first remaining view,
// and windows showing it switch there.
func (e *Engine) DeleteView(ctx context.Context, id tree.ViewID) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.state.View(id); !ok {
		return fmt.Errorf("%w: %s", tree.ErrViewNotFound, id)
	}
	var fallback tree.ViewID
	for _, v := range e.state.Views() {
		if v.ID != id {
			fallback = v.ID
			break
		}
	}
	if fallback == "" {
		return tree.ErrLastView
	}
	if err := e.state.RemoveView(id, fallback); err != nil {
		return err
	}
	for w, v := range e.activeView {
		if v == id {
			e.activeView[w] = fallback
		}
	}
	e.dirty = true
	if err := e.enforceAllLocked(ctx); err != nil {
		return err
	}
	log.Info(log.CatTree, "view deleted", "view", id, "fallback", fallback)
	return e.commitLocked(ctx, true)
}

// SwitchView makes a view the active one of window w.
func (e *Engine) SwitchView(ctx context.Context, w host.WindowID, id tree.ViewID) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.state.View(id); !ok {
		return fmt.Errorf("%w: %s", tree.ErrViewNotFound, id)
	}
	if e.activeView[w] == id {
		return nil
	}
	e.activeView[w] = id
	e.changed = true
	return e.commitLocked(ctx, false)
}

// MoveTabToView moves a tab's subtree to the end of another view.
func (e *Engine) MoveTabToView(ctx context.Context, tab host.TabID, id tree.ViewID) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.nodeLocked(ctx, tab)
	if err != nil {
		return err
	}
	if err := e.state.MoveToView(n.ID, id, -1); err != nil {
		return err
	}
	e.dirty = true
	if err := e.enforceOrderLocked(ctx, n.WindowID); err != nil {
		return err
	}
	return e.commitLocked(ctx, true)
}
