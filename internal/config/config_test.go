package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engram.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "rules", cfg.Extraction.Mode)
	assert.Equal(t, cfg.Reasoning.HypotheticalThreshold, cfg.Reasoning.RejectedThreshold)
}

func TestLoadFromFile_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/engram
snapshot:
  retention: 3
  tag: nightly
extraction:
  threshold: 25
watcher:
  interval: 30s
  platforms:
    - name: augment
      enabled: true
      check_interval: 10s
    - name: cursor
      enabled: false
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/engram", cfg.DataDir)
	assert.Equal(t, 3, cfg.Snapshot.Retention)
	assert.Equal(t, "nightly", cfg.Snapshot.Tag)
	assert.Equal(t, 25, cfg.Extraction.Threshold)
	// Untouched sections keep defaults.
	assert.Equal(t, 0.85, cfg.Reasoning.ConfidenceThreshold)

	require.Len(t, cfg.Watcher.Platforms, 2)
	assert.Equal(t, 10*time.Second, cfg.PlatformInterval(cfg.Watcher.Platforms[0]))
	assert.Equal(t, 30*time.Second, cfg.PlatformInterval(cfg.Watcher.Platforms[1]))
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("ENGRAM_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
embedding:
  provider: openai
  api_key: ${ENGRAM_TEST_KEY}
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Embedding.APIKey)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"zero retention", func(c *Config) { c.Snapshot.Retention = 0 }},
		{"zero threshold", func(c *Config) { c.Extraction.Threshold = 0 }},
		{"zero iterations", func(c *Config) { c.Reasoning.Iterations = 0 }},
		{"confidence out of range", func(c *Config) { c.Reasoning.ConfidenceThreshold = 1.5 }},
		{"duplicate platform", func(c *Config) {
			c.Watcher.Platforms = []PlatformConfig{{Name: "warp"}, {Name: "warp"}}
		}},
		{"unnamed platform", func(c *Config) {
			c.Watcher.Platforms = []PlatformConfig{{Name: ""}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
