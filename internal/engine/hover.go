package engine

import (
	"context"
	"time"

	"github.com/zjrosen/tabtree/internal/log"
	"github.com/zjrosen/tabtree/internal/tree"
)

// hoverState is the debounced auto-expand timer for the node under the
// drag cursor. gen invalidates callbacks of timers that were replaced.
type hoverState struct {
	node  tree.NodeID
	timer *time.Timer
	gen   uint64
}

// hoverLocked moves the hover target to id. Hovering the same target again
// keeps its running timer; a target whose timer already fired re-arms.
func (e *Engine) hoverLocked(id tree.NodeID) {
	if e.hover.node == id && e.hover.timer != nil {
		return
	}
	e.cancelHoverLocked()
	e.hover.node = id

	n, ok := e.state.Node(id)
	if !ok || n.IsExpanded || len(n.Children) == 0 {
		return
	}
	gen := e.hover.gen
	e.hover.timer = time.AfterFunc(e.settings.HoverExpandDelay, func() {
		e.expandOnHover(id, gen)
	})
}

func (e *Engine) cancelHoverLocked() {
	if e.hover.timer != nil {
		e.hover.timer.Stop()
		e.hover.timer = nil
	}
	e.hover.node = ""
	e.hover.gen++
}

func (e *Engine) expandOnHover(id tree.NodeID, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hover.gen != gen || e.hover.node != id {
		return
	}
	e.hover.timer = nil
	n, ok := e.state.Node(id)
	if !ok || n.IsExpanded {
		return
	}
	_ = e.state.SetExpanded(id, true)
	e.dirty = true
	log.Debug(log.CatDrag, "auto-expanded hovered node", "node", id, "tab", n.TabID)
	e.commitLocked(context.Background(), false)
}
