package engine

import (
	"fmt"
	"time"
)

// Position is the newTabPositionFromLink policy.
type Position string

const (
	// PositionChild appends the new tab as the opener's last child.
	PositionChild Position = "child"
	// PositionFirstChild inserts it as the opener's first child.
	PositionFirstChild Position = "first_child"
	// PositionSibling places it directly after the opener.
	PositionSibling Position = "sibling"
	// PositionEnd ignores the opener and appends a root.
	PositionEnd Position = "end"
)

// ParsePosition validates a policy name.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case PositionChild, PositionFirstChild, PositionSibling, PositionEnd:
		return p, nil
	}
	return "", fmt.Errorf("unknown new tab position %q", s)
}

// ViewSeed describes a view created when there is no persisted state.
type ViewSeed struct {
	Name  string
	Color string
}

// Settings are the tunables the engine reads on every operation. They can be
// swapped at runtime with Apply.
type Settings struct {
	InitTimeout      time.Duration
	ExpectedEventTTL time.Duration
	HoverExpandDelay time.Duration
	NewTabPosition   Position
	// DurableAcks makes structural requests wait for the tree_state write.
	DurableAcks    bool
	UnreadTracking bool
	DefaultViews   []ViewSeed
}

// DefaultSettings returns the built-in values.
func DefaultSettings() Settings {
	return Settings{
		InitTimeout:      5 * time.Second,
		ExpectedEventTTL: 2 * time.Second,
		HoverExpandDelay: time.Second,
		NewTabPosition:   PositionChild,
		DurableAcks:      true,
		UnreadTracking:   true,
		DefaultViews:     []ViewSeed{{Name: "Default", Color: "#4A90D9"}},
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.InitTimeout <= 0 {
		s.InitTimeout = d.InitTimeout
	}
	if s.ExpectedEventTTL <= 0 {
		s.ExpectedEventTTL = d.ExpectedEventTTL
	}
	if s.HoverExpandDelay <= 0 {
		s.HoverExpandDelay = d.HoverExpandDelay
	}
	if s.NewTabPosition == "" {
		s.NewTabPosition = d.NewTabPosition
	}
	if len(s.DefaultViews) == 0 {
		s.DefaultViews = d.DefaultViews
	}
	return s
}
