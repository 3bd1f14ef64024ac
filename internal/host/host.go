// Package host defines the Tab Provider capability the engine consumes: the
// narrow surface of tab and window operations plus the host event stream.
// Adapters over a real browser implement Provider; memhost is the in-memory
// implementation used by tests and by `tabtree serve --simulate`.
package host

import (
	"context"
	"errors"
	"fmt"
)

// TabID identifies a tab for the lifetime of one host session.
type TabID int

// WindowID identifies a host window.
type WindowID int

// NoWindow is the zero WindowID; the host never allocates it.
const NoWindow WindowID = 0

// Tab is the host's view of a single tab.
type Tab struct {
	ID          TabID    `json:"id"`
	WindowID    WindowID `json:"windowId"`
	Index       int      `json:"index"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Pinned      bool     `json:"pinned"`
	Active      bool     `json:"active"`
	OpenerTabID TabID    `json:"openerTabId,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// Window is a host window with its tabs in index order.
type Window struct {
	ID   WindowID `json:"id"`
	Tabs []Tab    `json:"tabs"`
}

// CreateProperties describes a tab to open.
type CreateProperties struct {
	WindowID WindowID
	URL      string
	Title    string
	Index    *int // nil appends
	Active   bool
	Pinned   bool
	OpenerID TabID
}

// MoveProperties describes a move. WindowID zero keeps the tab's window.
// Index -1 appends.
type MoveProperties struct {
	WindowID WindowID
	Index    int
}

// UpdateProperties carries the fields to change; nil fields are untouched.
type UpdateProperties struct {
	URL    *string
	Title  *string
	Active *bool
	Pinned *bool
	Status *string
}

// Query filters QueryTabs. A zero Query returns every tab.
type Query struct {
	WindowID WindowID
	Pinned   *bool
}

// Provider is the Tab Provider capability.
type Provider interface {
	QueryTabs(ctx context.Context, q Query) ([]Tab, error)
	GetTab(ctx context.Context, id TabID) (Tab, error)
	CreateTab(ctx context.Context, props CreateProperties) (Tab, error)
	RemoveTabs(ctx context.Context, ids ...TabID) error
	MoveTab(ctx context.Context, id TabID, props MoveProperties) (Tab, error)
	UpdateTab(ctx context.Context, id TabID, props UpdateProperties) (Tab, error)
	// CreateWindow opens a new window holding the given tab, moved out of
	// its current window.
	CreateWindow(ctx context.Context, tabID TabID) (Window, error)
	QueryWindows(ctx context.Context) ([]Window, error)
	// Subscribe delivers host events in the order the host produced them
	// until ctx is cancelled.
	Subscribe(ctx context.Context) <-chan Event
}

// ErrTabNotFound is returned when a tab id has no live host tab.
var ErrTabNotFound = errors.New("tab not found")

// ErrWindowNotFound is returned when a window id has no live host window.
var ErrWindowNotFound = errors.New("window not found")

// TabNotFound wraps ErrTabNotFound with the offending id.
func TabNotFound(id TabID) error {
	return fmt.Errorf("%w: %d", ErrTabNotFound, id)
}

// Bool returns a pointer to b, for UpdateProperties literals.
func Bool(b bool) *bool { return &b }

// String returns a pointer to s, for UpdateProperties literals.
func String(s string) *string { return &s }
