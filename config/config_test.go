package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Reflection.MaxAttempts)
	assert.Equal(t, 5, cfg.Reflection.Concurrency)
	assert.InDelta(t, 0.92, cfg.Signals.DedupThreshold, 0.001)
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing paper dir", func(c *Config) { c.Paper.Dir = "" }},
		{"missing workspace dir", func(c *Config) { c.Workspace.Dir = "" }},
		{"missing embedding url", func(c *Config) { c.Embedding.URL = "" }},
		{"zero dedup threshold", func(c *Config) { c.Signals.DedupThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Signals.DedupThreshold = 1.5 }},
		{"zero max attempts", func(c *Config) { c.Reflection.MaxAttempts = 0 }},
		{"zero concurrency", func(c *Config) { c.Reflection.Concurrency = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_Merge(t *testing.T) {
	base := DefaultConfig()
	other := &Config{}
	other.Workspace.Dir = "/tmp/runs"
	other.Reflection.MaxAttempts = 7
	other.Models.Timeout = time.Minute

	base.Merge(other)

	assert.Equal(t, "/tmp/runs", base.Workspace.Dir)
	assert.Equal(t, 7, base.Reflection.MaxAttempts)
	assert.Equal(t, time.Minute, base.Models.Timeout)
	// Zero values in other must not clobber defaults.
	assert.Equal(t, "papers", base.Paper.Dir)
	assert.Equal(t, 5, base.Reflection.Concurrency)
}

func TestLoadFromFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paperforge.yaml")

	cfg := DefaultConfig()
	cfg.Workspace.Dir = "/data/runs"
	cfg.Reflection.MaxAttempts = 4
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/runs", loaded.Workspace.Dir)
	assert.Equal(t, 4, loaded.Reflection.MaxAttempts)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	// The wrapped error still matches, so callers can tell a missing
	// file from a broken one without unwrapping by hand.
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
