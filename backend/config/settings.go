/*
 * backend/internal/config/settings.go
 *
 * Runtime settings resolved from the environment and an optional YAML file.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Settings carries the operator-facing configuration for a server instance.
// Zero values fall back to the package defaults.
type Settings struct {
	HTTPAddr      string        `yaml:"httpAddr"`
	IngestAddr    string        `yaml:"ingestAddr"`
	MaxEntries    int           `yaml:"maxEntries"`
	StreamLimit   int           `yaml:"streamLimit"`
	AuthToken     string        `yaml:"authToken"`
	AuthRequired  bool          `yaml:"authRequired"`
	TraceTimeout  time.Duration `yaml:"traceTimeout"`
	EntryThrottle time.Duration `yaml:"entryThrottle"`
	WatchThrottle time.Duration `yaml:"watchThrottle"`

	// File is the path the settings were loaded from, empty when env-only.
	File string `yaml:"-"`
}

// DefaultSettings returns the built-in configuration.
func DefaultSettings() Settings {
	return Settings{
		HTTPAddr:      ":8930",
		IngestAddr:    ":4228",
		MaxEntries:    DefaultMaxEntries,
		StreamLimit:   DefaultStreamLimit,
		TraceTimeout:  TraceTimeout,
		EntryThrottle: EntryThrottleInterval,
		WatchThrottle: WatchThrottleInterval,
	}
}

// LoadSettings resolves settings from the optional YAML file named by
// SPYGLASS_CONFIG (or the explicit path argument) and then applies
// SPYGLASS_* environment overrides on top.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path == "" {
		path = os.Getenv("SPYGLASS_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse settings file %s: %w", path, err)
		}
		s.File = path
	}

	s.applyEnv()
	s.clamp()
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("SPYGLASS_HTTP_ADDR"); v != "" {
		s.HTTPAddr = v
	}
	if v := os.Getenv("SPYGLASS_INGEST_ADDR"); v != "" {
		s.IngestAddr = v
	}
	if v, ok := envInt("SPYGLASS_MAX_ENTRIES"); ok {
		s.MaxEntries = v
	}
	if v, ok := envInt("SPYGLASS_STREAM_LIMIT"); ok {
		s.StreamLimit = v
	}
	if v := os.Getenv("SPYGLASS_AUTH_TOKEN"); v != "" {
		s.AuthToken = v
	}
	if v := os.Getenv("SPYGLASS_AUTH_REQUIRED"); v != "" {
		s.AuthRequired = isTruthy(v)
	}
	if v, ok := envInt("SPYGLASS_TRACE_TIMEOUT_MS"); ok && v > 0 {
		s.TraceTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("SPYGLASS_ENTRY_THROTTLE_MS"); ok && v > 0 {
		s.EntryThrottle = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("SPYGLASS_WATCH_THROTTLE_MS"); ok && v > 0 {
		s.WatchThrottle = time.Duration(v) * time.Millisecond
	}
}

// clamp keeps resource bounds inside the supported ranges so a bad value can
// never balloon memory or zero out a ring.
func (s *Settings) clamp() {
	if s.MaxEntries < MinMaxEntries {
		s.MaxEntries = MinMaxEntries
	}
	if s.MaxEntries > MaxMaxEntries {
		s.MaxEntries = MaxMaxEntries
	}
	if s.StreamLimit < MinStreamLimit {
		s.StreamLimit = MinStreamLimit
	}
	if s.StreamLimit > MaxStreamLimit {
		s.StreamLimit = MaxStreamLimit
	}
	if s.TraceTimeout <= 0 {
		s.TraceTimeout = TraceTimeout
	}
	if s.EntryThrottle <= 0 {
		s.EntryThrottle = EntryThrottleInterval
	}
	if s.WatchThrottle <= 0 {
		s.WatchThrottle = WatchThrottleInterval
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
