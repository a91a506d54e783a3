// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete memory engine configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Embedding  CollabConfig     `yaml:"embedding"`
	Synthesis  CollabConfig     `yaml:"synthesis"`
	Watcher    WatcherConfig    `yaml:"watcher"`
}

// ServerConfig contains HTTP control-surface settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SnapshotConfig controls periodic index persistence.
type SnapshotConfig struct {
	Dir       string        `yaml:"dir"`
	Tag       string        `yaml:"tag"`
	Interval  time.Duration `yaml:"interval"`
	Retention int           `yaml:"retention"`
}

// ReasoningConfig bounds the deliberation loop and retrieval.
//
// The hypothetical and rejected thresholds are deliberately separate knobs:
// question text and option text embed differently, and a single shared
// value has not been calibrated across both. Defaults keep them equal.
type ReasoningConfig struct {
	TopK                  int     `yaml:"top_k"`
	Iterations            int     `yaml:"iterations"`
	ConfidenceThreshold   float64 `yaml:"confidence_threshold"`
	HypotheticalThreshold float64 `yaml:"hypothetical_threshold"`
	RejectedThreshold     float64 `yaml:"rejected_threshold"`
}

// ExtractionConfig controls threshold-triggered principle extraction.
type ExtractionConfig struct {
	Threshold int    `yaml:"threshold"` // canonical records before a pass fires
	Window    int    `yaml:"window"`    // recent records fed to the collaborator
	Mode      string `yaml:"mode"`      // rules, llm
}

// CollabConfig points at an external OpenAI-compatible collaborator.
type CollabConfig struct {
	Provider   string        `yaml:"provider"` // hash/simulator for local, openai for remote
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	RPS        float64       `yaml:"rps"` // rate limit toward the collaborator
}

// WatcherConfig holds the persisted watcher settings: global daemon
// behavior plus one entry per source platform.
type WatcherConfig struct {
	Interval   time.Duration    `yaml:"interval"`
	Verbose    bool             `yaml:"verbose"`
	DaemonMode bool             `yaml:"daemon_mode"`
	PIDFile    string           `yaml:"pid_file"`
	LogFile    string           `yaml:"log_file"`
	DedupTTL   time.Duration    `yaml:"dedup_ttl"`
	Platforms  []PlatformConfig `yaml:"platforms"`
}

// PlatformConfig configures one source platform adapter.
//
// RequireConsent marks platforms that must not be captured on implicit
// consent: with no ledger entry recorded they are skipped (with a
// warning) until an explicit grant lands.
type PlatformConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	CachePath      string        `yaml:"cache_path"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	RequireConsent bool          `yaml:"require_consent"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8480,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Snapshot: SnapshotConfig{
			Dir:       "data/snapshots",
			Tag:       "default",
			Interval:  15 * time.Minute,
			Retention: 10,
		},
		Reasoning: ReasoningConfig{
			TopK:                  5,
			Iterations:            5,
			ConfidenceThreshold:   0.85,
			HypotheticalThreshold: 0.65,
			RejectedThreshold:     0.65,
		},
		Extraction: ExtractionConfig{
			Threshold: 10,
			Window:    50,
			Mode:      "rules",
		},
		Embedding: CollabConfig{
			Provider:   "hash",
			Model:      "text-embedding-3-small",
			Dimensions: 64,
			Timeout:    30 * time.Second,
			RPS:        10,
		},
		Synthesis: CollabConfig{
			Provider: "simulator",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
			RPS:      5,
		},
		Watcher: WatcherConfig{
			Interval: 5 * time.Minute,
			DedupTTL: 24 * time.Hour,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the format ${VAR_NAME} are expanded. Missing fields keep
// their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Snapshot.Retention < 1 {
		return fmt.Errorf("snapshot.retention must be >= 1, got %d", c.Snapshot.Retention)
	}
	if c.Extraction.Threshold < 1 {
		return fmt.Errorf("extraction.threshold must be >= 1, got %d", c.Extraction.Threshold)
	}
	if c.Reasoning.Iterations < 1 {
		return fmt.Errorf("reasoning.iterations must be >= 1, got %d", c.Reasoning.Iterations)
	}
	if c.Reasoning.ConfidenceThreshold < 0 || c.Reasoning.ConfidenceThreshold > 1 {
		return fmt.Errorf("reasoning.confidence_threshold must be in [0,1], got %f", c.Reasoning.ConfidenceThreshold)
	}
	seen := make(map[string]bool, len(c.Watcher.Platforms))
	for _, p := range c.Watcher.Platforms {
		if p.Name == "" {
			return fmt.Errorf("watcher platform with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate watcher platform %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// PlatformInterval returns the effective poll interval for a platform,
// falling back to the global watcher interval.
func (c *Config) PlatformInterval(p PlatformConfig) time.Duration {
	if p.CheckInterval > 0 {
		return p.CheckInterval
	}
	if c.Watcher.Interval > 0 {
		return c.Watcher.Interval
	}
	return 5 * time.Minute
}
