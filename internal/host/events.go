package host

// EventKind names a host event.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventRemoved       EventKind = "removed"
	EventMoved         EventKind = "moved"
	EventUpdated       EventKind = "updated"
	EventActivated     EventKind = "activated"
	EventAttached      EventKind = "attached"
	EventDetached      EventKind = "detached"
	EventWindowCreated EventKind = "window_created"
	EventWindowRemoved EventKind = "window_removed"
)

// ChangeInfo lists the fields an updated event changed.
type ChangeInfo struct {
	URL    *string `json:"url,omitempty"`
	Title  *string `json:"title,omitempty"`
	Pinned *bool   `json:"pinned,omitempty"`
	Status *string `json:"status,omitempty"`
}

// IsContentChange reports whether the update reflects new page content,
// which is what the unread tracker reacts to.
func (c ChangeInfo) IsContentChange() bool {
	if c.URL != nil || c.Title != nil {
		return true
	}
	return c.Status != nil && *c.Status == "complete"
}

// Event is one entry of the host event stream.
//
// Field use per kind:
//   - created, updated: Tab holds the tab after the change; updated also sets Change.
//   - removed: WindowID of the closed tab, WindowClosing when the window went with it.
//   - moved: WindowID, FromIndex, ToIndex.
//   - activated: WindowID, and PreviousTabID when known.
//   - detached: OldWindowID and FromIndex.
//   - attached: WindowID and ToIndex of the destination.
//   - window_created, window_removed: WindowID only.
type Event struct {
	Kind          EventKind  `json:"kind"`
	TabID         TabID      `json:"tabId,omitempty"`
	WindowID      WindowID   `json:"windowId,omitempty"`
	OldWindowID   WindowID   `json:"oldWindowId,omitempty"`
	Tab           *Tab       `json:"tab,omitempty"`
	FromIndex     int        `json:"fromIndex,omitempty"`
	ToIndex       int        `json:"toIndex,omitempty"`
	PreviousTabID TabID      `json:"previousTabId,omitempty"`
	WindowClosing bool       `json:"windowClosing,omitempty"`
	Change        ChangeInfo `json:"change"`
}
