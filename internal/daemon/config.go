// Package daemon holds the khatad configuration: a TOML file for
// behavior, environment variables for provider secrets.
package daemon

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	API         APIConfig         `toml:"api"`
	Storage     StorageConfig     `toml:"storage"`
	Collections CollectionsConfig `toml:"collections"`
	Scoring     ScoringConfig     `toml:"scoring"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// BaseURL is the public URL the telephony provider calls back to
	// (a tunnel URL during local development).
	BaseURL string `toml:"base_url"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	Path string `toml:"path"`
}

// CollectionsConfig configures the reminder scheduler and the
// conversation controller.
type CollectionsConfig struct {
	ScanInterval  string `toml:"scan_interval"`
	MaxConcurrent int    `toml:"max_concurrent"`

	// TimeUnit is the length of one collections "day". Production keeps
	// 24h; a demo can shrink it to e.g. "1m" to watch the whole
	// escalation ladder play out in minutes.
	TimeUnit string `toml:"time_unit"`

	// Escalation thresholds in time units past due.
	Level1After float64 `toml:"level1_after"`
	Level2After float64 `toml:"level2_after"`
	Level3After float64 `toml:"level3_after"`
	Level4After float64 `toml:"level4_after"`

	// ExtensionUnits is how many time units an extension request adds.
	ExtensionUnits int `toml:"extension_units"`

	// PromiseWindowUnits is how many time units a payment promise
	// pauses reminders; PromiseGraceUnits is the extra slack before a
	// lapsed promise re-arms.
	PromiseWindowUnits float64 `toml:"promise_window_units"`
	PromiseGraceUnits  float64 `toml:"promise_grace_units"`
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	// TimeUnit is the length of one scoring "day".
	TimeUnit string `toml:"time_unit"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8090,
			BaseURL: "http://localhost:8090",
		},
		Storage: StorageConfig{
			Path: "khata.db",
		},
		Collections: CollectionsConfig{
			ScanInterval:       "1m",
			MaxConcurrent:      4,
			TimeUnit:           "24h",
			Level1After:        1,
			Level2After:        3,
			Level3After:        7,
			Level4After:        14,
			ExtensionUnits:     3,
			PromiseWindowUnits: 1,
			PromiseGraceUnits:  1,
		},
		Scoring: ScoringConfig{
			TimeUnit: "24h",
		},
	}
}

// Load reads the config file at path, layered over defaults. A missing
// file is not an error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	t := c.Collections
	if !(t.Level1After < t.Level2After && t.Level2After < t.Level3After && t.Level3After < t.Level4After) {
		return fmt.Errorf("collections thresholds must be strictly increasing, got %v %v %v %v",
			t.Level1After, t.Level2After, t.Level3After, t.Level4After)
	}
	return nil
}

// ─── Duration Helpers ───────────────────────────────────────────────────────

// parseDuration parses a duration string, falling back on bad or empty
// input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ScanIntervalDuration returns the parsed scheduler cadence.
func (c CollectionsConfig) ScanIntervalDuration() time.Duration {
	return parseDuration(c.ScanInterval, time.Minute)
}

// TimeUnitDuration returns the parsed collections time unit.
func (c CollectionsConfig) TimeUnitDuration() time.Duration {
	return parseDuration(c.TimeUnit, 24*time.Hour)
}

// TimeUnitDuration returns the parsed scoring time unit.
func (c ScoringConfig) TimeUnitDuration() time.Duration {
	return parseDuration(c.TimeUnit, 24*time.Hour)
}

// Addr returns the host:port listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
