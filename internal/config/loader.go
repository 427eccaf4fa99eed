// Package config loads and watches RobustMQ node configuration.
//
// It layers sources with koanf in increasing priority: struct defaults,
// then the TOML config file, then environment variables prefixed
// ROBUSTMQ_<SECTION>_<KEY> (e.g. ROBUSTMQ_MQTT_TCP_ADDR). Every underscore
// after the prefix becomes a key separator, so ROBUSTMQ_MQTT_TCP_ADDR sets
// mqtt.tcp.addr, and a key whose own name contains an underscore (such as
// cluster.node_id) cannot be set from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "ROBUSTMQ_"

// Loader loads configuration from multiple sources.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	loaded    bool
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix overrides the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the TOML configuration file path.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration from the file and environment and unmarshals
// the result into target. Target must already hold its zero-value
// defaults; koanf only overrides fields present in a source.
func (l *Loader) Load(target any) error {
	if l.filePath != "" {
		if err := l.LoadFile(l.filePath); err != nil {
			return fmt.Errorf("load config file: %w", err)
		}
	}
	if err := l.LoadEnv(); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if err := l.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	l.loaded = true
	return nil
}

// LoadFile loads configuration from a TOML file.
func (l *Loader) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	provider := file.Provider(path)
	if err := l.k.Load(provider, toml.Parser()); err != nil {
		return fmt.Errorf("load file %s: %w", path, err)
	}
	return nil
}

// LoadEnv loads configuration from environment variables.
// ROBUSTMQ_MQTT_TCP_ADDR=0.0.0.0:1883 maps to mqtt.tcp.addr.
func (l *Loader) LoadEnv() error {
	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "_", ".")
		return s
	}
	provider := env.Provider(l.envPrefix, ".", envTransformer)
	if err := l.k.Load(provider, nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

// LoadMap loads configuration from an in-memory map, used by tests and by
// flag-derived overrides.
func (l *Loader) LoadMap(data map[string]any) error {
	if err := l.k.Load(mapProvider(data), nil); err != nil {
		return fmt.Errorf("load map: %w", err)
	}
	return nil
}

// Unmarshal decodes the loaded configuration into target using koanf tags.
func (l *Loader) Unmarshal(target any) error {
	return l.k.Unmarshal("", target)
}

func (l *Loader) Get(key string) any       { return l.k.Get(key) }
func (l *Loader) GetString(key string) string { return l.k.String(key) }
func (l *Loader) GetInt(key string) int    { return l.k.Int(key) }
func (l *Loader) GetBool(key string) bool  { return l.k.Bool(key) }
func (l *Loader) IsLoaded() bool           { return l.loaded }
func (l *Loader) All() map[string]any      { return l.k.All() }
func (l *Loader) Keys() []string           { return l.k.Keys() }
