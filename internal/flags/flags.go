// Package flags holds the feature flags read from the config file.
package flags

import (
	"maps"

	"github.com/zjrosen/tabtree/internal/log"
)

const (
	// FlagSnapshotAutoSave turns on the periodic auto-save snapshot.
	FlagSnapshotAutoSave = "snapshot-autosave"

	// FlagHostSimulation serves the in-memory host and its /host/* endpoints
	// instead of waiting for a real browser.
	FlagHostSimulation = "host-simulation"

	// FlagUnreadTracking controls unread marking of background updates.
	FlagUnreadTracking = "unread-tracking"
)

// Defaults returns the value of every known flag when the config sets none.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagSnapshotAutoSave: false,
		FlagHostSimulation:   false,
		FlagUnreadTracking:   true,
	}
}

// Registry is a read-only set of flags.
type Registry struct {
	flags map[string]bool
}

// New builds a Registry from Defaults overlaid with the configured values.
// Unknown names in configured are kept so typos show up in the debug log.
func New(configured map[string]bool) *Registry {
	merged := Defaults()
	maps.Copy(merged, configured)
	r := &Registry{flags: merged}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(merged), "flags", r.All())
	return r
}

// Enabled reports whether the named flag is on. Unknown flags and a nil
// registry report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	value, exists := r.flags[name]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name)
		return false
	}
	return value
}

// All returns a copy of every flag.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return map[string]bool{}
	}
	return maps.Clone(r.flags)
}
