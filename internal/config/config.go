// Package config provides configuration types, defaults, and persistence for tabtree.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zjrosen/tabtree/internal/engine"
	"github.com/zjrosen/tabtree/internal/flags"
	"github.com/zjrosen/tabtree/internal/log"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ViewConfig seeds one view when there is no persisted state.
type ViewConfig struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Color string `mapstructure:"color" yaml:"color,omitempty"`
}

// Config holds all tabtree configuration.
type Config struct {
	Storage  StorageConfig   `mapstructure:"storage"`
	Engine   EngineConfig    `mapstructure:"engine"`
	Views    []ViewConfig    `mapstructure:"views"`
	Snapshot SnapshotConfig  `mapstructure:"snapshot"`
	Server   ServerConfig    `mapstructure:"server"`
	Tracing  TracingConfig   `mapstructure:"tracing"`
	Flags    map[string]bool `mapstructure:"flags"`
}

// StorageConfig selects where tree_state and snapshots live.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "memory". Memory loses everything on exit.
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file.
	// Default: ~/.tabtree/tabtree.db
	Path string `mapstructure:"path"`
}

// EngineConfig holds the engine tunables.
type EngineConfig struct {
	InitTimeout      time.Duration `mapstructure:"init_timeout"`
	PersistDebounce  time.Duration `mapstructure:"persist_debounce"`
	ExpectedEventTTL time.Duration `mapstructure:"expected_event_ttl"`
	HoverExpandDelay time.Duration `mapstructure:"hover_expand_delay"`
	// NewTabPositionFromLink is one of child, first_child, sibling, end.
	NewTabPositionFromLink string `mapstructure:"new_tab_position_from_link"`
	// DurableAcks makes structural requests wait for the tree_state write.
	DurableAcks bool `mapstructure:"durable_acks"`
}

// SnapshotConfig controls auto-save snapshots. Auto-save only runs when the
// snapshot-autosave flag is on.
type SnapshotConfig struct {
	AutoSaveInterval time.Duration `mapstructure:"auto_save_interval"`
	MaxAutoSaves     int           `mapstructure:"max_auto_saves"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/tabtree/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultDBPath returns ~/.tabtree/tabtree.db, or a relative path if the
// home directory is unavailable.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tabtree", "tabtree.db")
	}
	return filepath.Join(home, ".tabtree", "tabtree.db")
}

// DefaultTracesFilePath returns ~/.config/tabtree/traces/traces.jsonl or
// empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tabtree", "traces", "traces.jsonl")
}

// DefaultViews returns the views seeded on a fresh install.
func DefaultViews() []ViewConfig {
	return []ViewConfig{{Name: "Default", Color: "#4A90D9"}}
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Path:   DefaultDBPath(),
		},
		Engine: EngineConfig{
			InitTimeout:            5 * time.Second,
			PersistDebounce:        300 * time.Millisecond,
			ExpectedEventTTL:       2 * time.Second,
			HoverExpandDelay:       time.Second,
			NewTabPositionFromLink: string(engine.PositionChild),
			DurableAcks:            true,
		},
		Views: DefaultViews(),
		Snapshot: SnapshotConfig{
			AutoSaveInterval: 30 * time.Minute,
			MaxAutoSaves:     10,
		},
		Server: ServerConfig{
			Addr: "localhost:17345",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // derived at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Flags: flags.Defaults(),
	}
}

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Validate checks every section.
func (c Config) Validate() error {
	if err := ValidateStorage(c.Storage); err != nil {
		return err
	}
	if err := ValidateEngine(c.Engine); err != nil {
		return err
	}
	if err := ValidateViews(c.Views); err != nil {
		return err
	}
	if err := ValidateSnapshot(c.Snapshot); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateStorage checks the storage section. An empty driver means sqlite.
func ValidateStorage(s StorageConfig) error {
	switch s.Driver {
	case "", DriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverSQLite, DriverMemory, s.Driver)
	}
	return nil
}

// ValidateEngine checks the engine tunables.
func ValidateEngine(e EngineConfig) error {
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"engine.init_timeout", e.InitTimeout},
		{"engine.persist_debounce", e.PersistDebounce},
		{"engine.expected_event_ttl", e.ExpectedEventTTL},
		{"engine.hover_expand_delay", e.HoverExpandDelay},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", d.key, d.d)
		}
	}
	if _, err := engine.ParsePosition(e.NewTabPositionFromLink); err != nil {
		return fmt.Errorf("engine.new_tab_position_from_link: %w", err)
	}
	return nil
}

// ValidateViews checks the seeded views. An empty list is valid and falls
// back to DefaultViews.
func ValidateViews(views []ViewConfig) error {
	for i, view := range views {
		if view.Name == "" {
			return fmt.Errorf("view %d: name is required", i)
		}
		if view.Color != "" && !colorPattern.MatchString(view.Color) {
			return fmt.Errorf("view %d (%s): color must be #RGB or #RRGGBB, got %q", i, view.Name, view.Color)
		}
	}
	return nil
}

// ValidateSnapshot checks auto-save settings.
func ValidateSnapshot(s SnapshotConfig) error {
	if s.AutoSaveInterval <= 0 {
		return fmt.Errorf("snapshot.auto_save_interval must be positive, got %v", s.AutoSaveInterval)
	}
	if s.MaxAutoSaves < 1 {
		return fmt.Errorf("snapshot.max_auto_saves must be at least 1, got %d", s.MaxAutoSaves)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Path requirements only matter when tracing is on.
	if tracing.Enabled {
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// GetViews returns the configured views, or defaults when none are set.
func (c Config) GetViews() []ViewConfig {
	if len(c.Views) == 0 {
		return DefaultViews()
	}
	return c.Views
}

// EngineSettings converts the config to the settings the engine reads.
// Call Validate first; an unknown position falls back to child.
func (c Config) EngineSettings() engine.Settings {
	fl := flags.New(c.Flags)
	pos, err := engine.ParsePosition(c.Engine.NewTabPositionFromLink)
	if err != nil {
		pos = engine.PositionChild
	}
	views := c.GetViews()
	seeds := make([]engine.ViewSeed, 0, len(views))
	for _, v := range views {
		seeds = append(seeds, engine.ViewSeed{Name: v.Name, Color: v.Color})
	}
	return engine.Settings{
		InitTimeout:      c.Engine.InitTimeout,
		ExpectedEventTTL: c.Engine.ExpectedEventTTL,
		HoverExpandDelay: c.Engine.HoverExpandDelay,
		NewTabPosition:   pos,
		DurableAcks:      c.Engine.DurableAcks,
		UnreadTracking:   fl.Enabled(flags.FlagUnreadTracking),
		DefaultViews:     seeds,
	}
}

// TracesFilePath returns the configured trace file or the default one.
func (c Config) TracesFilePath() string {
	if c.Tracing.FilePath != "" {
		return c.Tracing.FilePath
	}
	return DefaultTracesFilePath()
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# tabtree configuration

# Where tree_state and snapshots are stored
storage:
  driver: sqlite          # "sqlite" or "memory" (memory is lost on exit)
  # path: ~/.tabtree/tabtree.db

engine:
  init_timeout: 5s        # how long requests wait for the first reconciliation
  persist_debounce: 300ms # coalescing window for tree_state writes
  expected_event_ttl: 2s  # how long a self-induced host event is expected
  hover_expand_delay: 1s  # drag hover time before a collapsed node expands
  # Where a tab opened from a link goes: child, first_child, sibling, end
  new_tab_position_from_link: child
  durable_acks: true      # structural requests wait for the write to land

# Views created when there is no saved state
views:
  - name: Default
    color: "#4A90D9"

snapshot:
  auto_save_interval: 30m
  max_auto_saves: 10      # older auto-saves are pruned; manual ones are kept

server:
  addr: localhost:17345

# Feature flags
flags:
  snapshot-autosave: false
  host-simulation: false
  unread-tracking: true

# Distributed tracing (OpenTelemetry)
# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout, otlp
#   file_path: ~/.config/tabtree/traces/traces.jsonl
#
# Example: send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
