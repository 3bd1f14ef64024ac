package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. TABTREE_SERVER_ADDR.
const EnvPrefix = "TABTREE"

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("engine.init_timeout", d.Engine.InitTimeout)
	v.SetDefault("engine.persist_debounce", d.Engine.PersistDebounce)
	v.SetDefault("engine.expected_event_ttl", d.Engine.ExpectedEventTTL)
	v.SetDefault("engine.hover_expand_delay", d.Engine.HoverExpandDelay)
	v.SetDefault("engine.new_tab_position_from_link", d.Engine.NewTabPositionFromLink)
	v.SetDefault("engine.durable_acks", d.Engine.DurableAcks)
	v.SetDefault("views", d.Views)
	v.SetDefault("snapshot.auto_save_interval", d.Snapshot.AutoSaveInterval)
	v.SetDefault("snapshot.max_auto_saves", d.Snapshot.MaxAutoSaves)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("flags", d.Flags)
}

// BindEnv makes TABTREE_* environment variables override file values.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Unmarshal decodes v into a Config and validates it.
func Unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads one config file on a fresh viper instance with defaults and
// env overrides. A missing file yields the defaults. It is used for hot reload.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return Unmarshal(v)
}
