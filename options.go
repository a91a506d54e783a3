package engram

import (
	"log/slog"

	"github.com/engramdev/engram/internal/config"
	"github.com/engramdev/engram/internal/embedding"
	"github.com/engramdev/engram/internal/extraction"
	"github.com/engramdev/engram/internal/synthesis"
)

// engineConfig holds everything New needs to assemble an engine.
type engineConfig struct {
	cfg        *config.Config
	configFile string
	logger     *slog.Logger

	// Collaborator overrides. When nil they are built from cfg.
	embedder    embedding.Embedder
	synthesizer synthesis.Synthesizer
	extractor   extraction.Extractor

	adapters []SourceAdapter
}

// Option is a function that configures the engine.
type Option func(*engineConfig)

func defaultEngineConfig() *engineConfig {
	return &engineConfig{
		cfg:    config.DefaultConfig(),
		logger: slog.Default(),
	}
}

// WithConfig replaces the whole configuration. The config is validated
// by New.
func WithConfig(cfg *Config) Option {
	return func(c *engineConfig) {
		c.cfg = cfg
	}
}

// WithConfigFile loads configuration from a YAML file, with ${VAR}
// references expanded from the environment.
func WithConfigFile(path string) Option {
	return func(c *engineConfig) {
		c.configFile = path
	}
}

// WithDataDir places all engine state (logs, cursors, consent ledger)
// under dir.
func WithDataDir(dir string) Option {
	return func(c *engineConfig) {
		c.cfg.DataDir = dir
	}
}

// WithLogger sets the structured logger for all components.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithEmbedder overrides the embedding collaborator. Useful for tests
// and for plugging in providers beyond the built-in ones.
func WithEmbedder(e embedding.Embedder) Option {
	return func(c *engineConfig) {
		c.embedder = e
	}
}

// WithSynthesizer overrides the deliberation collaborator.
func WithSynthesizer(s synthesis.Synthesizer) Option {
	return func(c *engineConfig) {
		c.synthesizer = s
	}
}

// WithExtractor overrides the principle-extraction collaborator.
func WithExtractor(e extraction.Extractor) Option {
	return func(c *engineConfig) {
		c.extractor = e
	}
}

// WithAdapter registers a platform source adapter with the watcher
// pipeline. May be given multiple times.
func WithAdapter(a SourceAdapter) Option {
	return func(c *engineConfig) {
		c.adapters = append(c.adapters, a)
	}
}
