// Package memhost is an in-memory Tab Provider. It keeps tab order per window
// with pinned tabs ahead of unpinned ones, and queues one host event per
// observable change. Events are drained either by a single Subscribe consumer
// or synchronously with TakeEvents.
package memhost

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/zjrosen/tabtree/internal/host"
)

type window struct {
	id     host.WindowID
	tabs   []host.TabID
	active host.TabID
}

// Host implements host.Provider in memory.
type Host struct {
	mu          sync.Mutex
	windows     map[host.WindowID]*window
	windowOrder []host.WindowID
	tabs        map[host.TabID]*host.Tab
	nextTab     host.TabID
	nextWindow  host.WindowID

	pending []host.Event
	notify  chan struct{}

	moveCalls int
}

var _ host.Provider = (*Host)(nil)

// New returns an empty host.
func New() *Host {
	return &Host{
		windows: make(map[host.WindowID]*window),
		tabs:    make(map[host.TabID]*host.Tab),
		notify:  make(chan struct{}, 1),
	}
}

// OpenWindow creates a window holding one tab per url, in order, and
// returns the window id. The first tab is active.
func (h *Host) OpenWindow(urls ...string) host.WindowID {
	h.mu.Lock()
	defer h.mu.Unlock()

	w := h.newWindowLocked()
	for i, u := range urls {
		h.insertLocked(w, host.CreateProperties{URL: u, Title: u, Active: i == 0})
	}
	return w.id
}

// CloseWindow closes every tab of the window the way a user closing the
// window does: removed events flagged WindowClosing, then window_removed.
func (h *Host) CloseWindow(id host.WindowID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, ok := h.windows[id]
	if !ok {
		return fmt.Errorf("%w: %d", host.ErrWindowNotFound, id)
	}
	for _, tid := range slices.Clone(w.tabs) {
		delete(h.tabs, tid)
		h.emitLocked(host.Event{Kind: host.EventRemoved, TabID: tid, WindowID: id, WindowClosing: true})
	}
	w.tabs = nil
	h.dropWindowLocked(id)
	return nil
}

// TakeEvents returns and clears the queued events.
func (h *Host) TakeEvents() []host.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.pending
	h.pending = nil
	return out
}

// MoveCalls reports how many MoveTab calls were made.
func (h *Host) MoveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveCalls
}

// Order returns the tab ids of a window in index order.
func (h *Host) Order(id host.WindowID) []host.TabID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.windows[id]; ok {
		return slices.Clone(w.tabs)
	}
	return nil
}

// URLs returns the urls of a window in index order.
func (h *Host) URLs(id host.WindowID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(w.tabs))
	for _, tid := range w.tabs {
		out = append(out, h.tabs[tid].URL)
	}
	return out
}

// Subscribe streams queued events to a single consumer until ctx ends.
func (h *Host) Subscribe(ctx context.Context) <-chan host.Event {
	out := make(chan host.Event, 64)
	go func() {
		defer close(out)
		for {
			for _, ev := range h.TakeEvents() {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-h.notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (h *Host) QueryTabs(_ context.Context, q host.Query) ([]host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []host.Tab
	for _, wid := range h.windowOrder {
		if q.WindowID != host.NoWindow && wid != q.WindowID {
			continue
		}
		for _, tid := range h.windows[wid].tabs {
			t := h.tabs[tid]
			if q.Pinned != nil && t.Pinned != *q.Pinned {
				continue
			}
			out = append(out, *t)
		}
	}
	return out, nil
}

func (h *Host) GetTab(_ context.Context, id host.TabID) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if !ok {
		return host.Tab{}, host.TabNotFound(id)
	}
	return *t, nil
}

func (h *Host) QueryWindows(_ context.Context) ([]host.Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]host.Window, 0, len(h.windowOrder))
	for _, wid := range h.windowOrder {
		w := host.Window{ID: wid}
		for _, tid := range h.windows[wid].tabs {
			w.Tabs = append(w.Tabs, *h.tabs[tid])
		}
		out = append(out, w)
	}
	return out, nil
}

func (h *Host) CreateTab(_ context.Context, props host.CreateProperties) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var w *window
	if props.WindowID == host.NoWindow {
		if len(h.windowOrder) == 0 {
			w = h.newWindowLocked()
		} else {
			w = h.windows[h.windowOrder[0]]
		}
	} else {
		var ok bool
		if w, ok = h.windows[props.WindowID]; !ok {
			return host.Tab{}, fmt.Errorf("%w: %d", host.ErrWindowNotFound, props.WindowID)
		}
	}
	if props.OpenerID != 0 {
		if _, ok := h.tabs[props.OpenerID]; !ok {
			props.OpenerID = 0
		}
	}
	t := h.insertLocked(w, props)
	return *t, nil
}

func (h *Host) RemoveTabs(_ context.Context, ids ...host.TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range ids {
		if _, ok := h.tabs[id]; !ok {
			return host.TabNotFound(id)
		}
	}
	for _, id := range ids {
		t := h.tabs[id]
		w := h.windows[t.WindowID]
		pos := slices.Index(w.tabs, id)
		w.tabs = slices.Delete(w.tabs, pos, pos+1)
		delete(h.tabs, id)
		closing := len(w.tabs) == 0
		h.emitLocked(host.Event{Kind: host.EventRemoved, TabID: id, WindowID: w.id, WindowClosing: closing})
		if closing {
			h.dropWindowLocked(w.id)
			continue
		}
		h.reindexLocked(w)
		if w.active == id {
			w.active = 0
			next := w.tabs[min(pos, len(w.tabs)-1)]
			h.activateLocked(w, next)
		}
	}
	return nil
}

func (h *Host) MoveTab(_ context.Context, id host.TabID, props host.MoveProperties) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.moveCalls++
	t, ok := h.tabs[id]
	if !ok {
		return host.Tab{}, host.TabNotFound(id)
	}
	src := h.windows[t.WindowID]
	dst := src
	if props.WindowID != host.NoWindow && props.WindowID != t.WindowID {
		if dst, ok = h.windows[props.WindowID]; !ok {
			return host.Tab{}, fmt.Errorf("%w: %d", host.ErrWindowNotFound, props.WindowID)
		}
	}

	from := slices.Index(src.tabs, id)
	src.tabs = slices.Delete(src.tabs, from, from+1)
	to := h.clampLocked(dst, t.Pinned, props.Index)
	dst.tabs = slices.Insert(dst.tabs, to, id)
	h.reindexLocked(dst)

	if dst == src {
		if from != to {
			h.emitLocked(host.Event{Kind: host.EventMoved, TabID: id, WindowID: src.id, FromIndex: from, ToIndex: to})
		}
		return *t, nil
	}

	t.WindowID = dst.id
	t.Active = false
	h.emitLocked(host.Event{Kind: host.EventDetached, TabID: id, OldWindowID: src.id, FromIndex: from})
	h.emitLocked(host.Event{Kind: host.EventAttached, TabID: id, WindowID: dst.id, ToIndex: to})
	h.afterDetachLocked(src, id, from)
	return *t, nil
}

func (h *Host) UpdateTab(_ context.Context, id host.TabID, props host.UpdateProperties) (host.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tabs[id]
	if !ok {
		return host.Tab{}, host.TabNotFound(id)
	}
	w := h.windows[t.WindowID]

	var change host.ChangeInfo
	if props.URL != nil && *props.URL != t.URL {
		t.URL = *props.URL
		change.URL = host.String(t.URL)
	}
	if props.Title != nil && *props.Title != t.Title {
		t.Title = *props.Title
		change.Title = host.String(t.Title)
	}
	if props.Status != nil {
		t.Status = *props.Status
		change.Status = host.String(t.Status)
	}

	movedFrom := -1
	if props.Pinned != nil && *props.Pinned != t.Pinned {
		from := slices.Index(w.tabs, id)
		w.tabs = slices.Delete(w.tabs, from, from+1)
		t.Pinned = *props.Pinned
		// pinning lands at the end of the pinned zone, unpinning at its edge
		to := pinnedCount(h, w)
		w.tabs = slices.Insert(w.tabs, to, id)
		h.reindexLocked(w)
		change.Pinned = host.Bool(t.Pinned)
		if from != to {
			movedFrom = from
		}
	}

	if change != (host.ChangeInfo{}) {
		snap := *t
		h.emitLocked(host.Event{Kind: host.EventUpdated, TabID: id, WindowID: w.id, Tab: &snap, Change: change})
	}
	if movedFrom >= 0 {
		h.emitLocked(host.Event{Kind: host.EventMoved, TabID: id, WindowID: w.id, FromIndex: movedFrom, ToIndex: t.Index})
	}
	if props.Active != nil && *props.Active && w.active != id {
		h.activateLocked(w, id)
	}
	return *t, nil
}

func (h *Host) CreateWindow(_ context.Context, tabID host.TabID) (host.Window, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.tabs[tabID]
	if !ok {
		return host.Window{}, host.TabNotFound(tabID)
	}
	src := h.windows[t.WindowID]
	dst := h.newWindowLocked()

	from := slices.Index(src.tabs, tabID)
	src.tabs = slices.Delete(src.tabs, from, from+1)
	dst.tabs = []host.TabID{tabID}
	t.WindowID = dst.id
	t.Active = true
	dst.active = tabID
	h.reindexLocked(dst)

	h.emitLocked(host.Event{Kind: host.EventDetached, TabID: tabID, OldWindowID: src.id, FromIndex: from})
	h.emitLocked(host.Event{Kind: host.EventAttached, TabID: tabID, WindowID: dst.id, ToIndex: 0})
	h.afterDetachLocked(src, tabID, from)
	return host.Window{ID: dst.id, Tabs: []host.Tab{*t}}, nil
}

func (h *Host) newWindowLocked() *window {
	h.nextWindow++
	w := &window{id: h.nextWindow}
	h.windows[w.id] = w
	h.windowOrder = append(h.windowOrder, w.id)
	h.emitLocked(host.Event{Kind: host.EventWindowCreated, WindowID: w.id})
	return w
}

func (h *Host) dropWindowLocked(id host.WindowID) {
	delete(h.windows, id)
	h.windowOrder = slices.DeleteFunc(h.windowOrder, func(w host.WindowID) bool { return w == id })
	h.emitLocked(host.Event{Kind: host.EventWindowRemoved, WindowID: id})
}

func (h *Host) afterDetachLocked(src *window, id host.TabID, from int) {
	if len(src.tabs) == 0 {
		h.dropWindowLocked(src.id)
		return
	}
	h.reindexLocked(src)
	if src.active == id {
		src.active = 0
		h.activateLocked(src, src.tabs[min(from, len(src.tabs)-1)])
	}
}

func (h *Host) insertLocked(w *window, props host.CreateProperties) *host.Tab {
	h.nextTab++
	t := &host.Tab{
		ID:          h.nextTab,
		WindowID:    w.id,
		URL:         props.URL,
		Title:       props.Title,
		Pinned:      props.Pinned,
		OpenerTabID: props.OpenerID,
		Status:      "complete",
	}
	idx := -1
	if props.Index != nil {
		idx = *props.Index
	}
	pos := h.clampLocked(w, t.Pinned, idx)
	h.tabs[t.ID] = t
	w.tabs = slices.Insert(w.tabs, pos, t.ID)
	h.reindexLocked(w)

	snap := *t
	h.emitLocked(host.Event{Kind: host.EventCreated, TabID: t.ID, WindowID: w.id, Tab: &snap})
	if props.Active || w.active == 0 {
		h.activateLocked(w, t.ID)
	}
	return t
}

// clampLocked keeps pinned tabs inside the pinned zone and unpinned tabs
// after it. idx < 0 means the end of the tab's zone. The tab must not be in
// w.tabs.
func (h *Host) clampLocked(w *window, pinned bool, idx int) int {
	pc := pinnedCount(h, w)
	lo, hi := pc, len(w.tabs)
	if pinned {
		lo, hi = 0, pc
	}
	if idx < 0 || idx > hi {
		return hi
	}
	return max(idx, lo)
}

func pinnedCount(h *Host, w *window) int {
	n := 0
	for _, tid := range w.tabs {
		if h.tabs[tid].Pinned {
			n++
		}
	}
	return n
}

func (h *Host) activateLocked(w *window, id host.TabID) {
	prev := w.active
	if prev != 0 {
		if pt, ok := h.tabs[prev]; ok {
			pt.Active = false
		}
	}
	w.active = id
	h.tabs[id].Active = true
	h.emitLocked(host.Event{Kind: host.EventActivated, TabID: id, WindowID: w.id, PreviousTabID: prev})
}

func (h *Host) reindexLocked(w *window) {
	for i, tid := range w.tabs {
		h.tabs[tid].Index = i
	}
}

func (h *Host) emitLocked(ev host.Event) {
	h.pending = append(h.pending, ev)
	select {
	case h.notify <- struct{}{}:
	default:
	}
}
