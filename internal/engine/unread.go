package engine

import (
	"slices"

	"github.com/zjrosen/tabtree/internal/host"
)

// unreadTracker flags tabs that received content in the background. Tabs
// that existed when the first cold start completed are sealed as read for
// the rest of the engine lifetime.
type unreadTracker struct {
	sealed  bool
	initial map[host.TabID]struct{}
	unread  map[host.TabID]struct{}
}

func newUnreadTracker() *unreadTracker {
	return &unreadTracker{
		initial: make(map[host.TabID]struct{}),
		unread:  make(map[host.TabID]struct{}),
	}
}

// seal records the pre-existing tabs. Only the first call counts.
func (u *unreadTracker) seal(tabs []host.TabID) {
	if u.sealed {
		return
	}
	u.sealed = true
	for _, id := range tabs {
		u.initial[id] = struct{}{}
	}
}

// mark flags tab unread and reports whether that changed anything.
func (u *unreadTracker) mark(tab host.TabID) bool {
	if !u.sealed {
		return false
	}
	if _, pre := u.initial[tab]; pre {
		return false
	}
	if _, ok := u.unread[tab]; ok {
		return false
	}
	u.unread[tab] = struct{}{}
	return true
}

func (u *unreadTracker) clear(tab host.TabID) bool {
	if _, ok := u.unread[tab]; !ok {
		return false
	}
	delete(u.unread, tab)
	return true
}

func (u *unreadTracker) isUnread(tab host.TabID) bool {
	_, ok := u.unread[tab]
	return ok
}

// forget drops every trace of a closed tab.
func (u *unreadTracker) forget(tab host.TabID) {
	delete(u.unread, tab)
	delete(u.initial, tab)
}

func (u *unreadTracker) list() []host.TabID {
	out := make([]host.TabID, 0, len(u.unread))
	for id := range u.unread {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
