// Package config provides configuration loading and management for Paperforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Paperforge configuration.
type Config struct {
	Paper      PaperConfig      `yaml:"paper"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Models     ModelsConfig     `yaml:"models"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Signals    SignalsConfig    `yaml:"signals"`
	Reflection ReflectionConfig `yaml:"reflection"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Events     EventsConfig     `yaml:"events"`
}

// PaperConfig configures paper input resolution.
type PaperConfig struct {
	// Dir is the root directory holding one subdirectory per paper id.
	Dir string `yaml:"dir"`
}

// WorkspaceConfig configures run workspace persistence.
type WorkspaceConfig struct {
	// Dir is the root directory for run workspaces.
	Dir string `yaml:"dir"`
}

// ModelsConfig configures the LLM model registry.
type ModelsConfig struct {
	// RegistryPath is an optional JSON file with capability and endpoint
	// definitions. Empty means built-in defaults.
	RegistryPath string `yaml:"registry_path"`
	// Timeout is the maximum time to wait for a single model response.
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding service client.
type EmbeddingConfig struct {
	// URL is the OpenAI-compatible embeddings endpoint.
	URL string `yaml:"url"`
	// Model is the embedding model identifier.
	Model string `yaml:"model"`
	// Dimensions is the expected vector dimension (0 = accept whatever
	// the service returns).
	Dimensions int `yaml:"dimensions"`
}

// SignalsConfig configures supervisory signal design.
type SignalsConfig struct {
	// RetrievalTopK is how many paper chunks ground each candidate signal.
	RetrievalTopK int `yaml:"retrieval_top_k"`
	// DedupThreshold is the cosine similarity above which two signal
	// descriptions count as duplicates.
	DedupThreshold float64 `yaml:"dedup_threshold"`
	// MaxPerSection caps candidate signals extracted from one section.
	MaxPerSection int `yaml:"max_per_section"`
}

// ReflectionConfig configures the reflection loop.
type ReflectionConfig struct {
	// MaxAttempts is the iteration budget for one run.
	MaxAttempts int `yaml:"max_attempts"`
	// Concurrency bounds parallel model calls during evaluation and
	// chunk embedding.
	Concurrency int `yaml:"concurrency"`
}

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty = disabled).
	Addr string `yaml:"addr"`
}

// EventsConfig configures optional NATS run-event publishing.
type EventsConfig struct {
	// URL is the NATS server URL (empty = publishing disabled).
	URL string `yaml:"url"`
	// SubjectPrefix is prepended to all event subjects.
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paper: PaperConfig{
			Dir: "papers",
		},
		Workspace: WorkspaceConfig{
			Dir: "workspaces",
		},
		Models: ModelsConfig{
			Timeout: 5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			URL:        "http://localhost:11434/v1",
			Model:      "nomic-embed-text",
			Dimensions: 0,
		},
		Signals: SignalsConfig{
			RetrievalTopK:  3,
			DedupThreshold: 0.92,
			MaxPerSection:  12,
		},
		Reflection: ReflectionConfig{
			MaxAttempts: 3,
			Concurrency: 5,
		},
		Events: EventsConfig{
			SubjectPrefix: "paperforge",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Paper.Dir == "" {
		return fmt.Errorf("paper.dir is required")
	}
	if c.Workspace.Dir == "" {
		return fmt.Errorf("workspace.dir is required")
	}
	if c.Embedding.URL == "" {
		return fmt.Errorf("embedding.url is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Signals.DedupThreshold <= 0 || c.Signals.DedupThreshold > 1 {
		return fmt.Errorf("signals.dedup_threshold must be in (0, 1], got %v", c.Signals.DedupThreshold)
	}
	if c.Signals.RetrievalTopK <= 0 {
		return fmt.Errorf("signals.retrieval_top_k must be positive")
	}
	if c.Reflection.MaxAttempts <= 0 {
		return fmt.Errorf("reflection.max_attempts must be positive")
	}
	if c.Reflection.Concurrency <= 0 {
		return fmt.Errorf("reflection.concurrency must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Paper.Dir != "" {
		c.Paper.Dir = other.Paper.Dir
	}
	if other.Workspace.Dir != "" {
		c.Workspace.Dir = other.Workspace.Dir
	}
	if other.Models.RegistryPath != "" {
		c.Models.RegistryPath = other.Models.RegistryPath
	}
	if other.Models.Timeout != 0 {
		c.Models.Timeout = other.Models.Timeout
	}
	if other.Embedding.URL != "" {
		c.Embedding.URL = other.Embedding.URL
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimensions != 0 {
		c.Embedding.Dimensions = other.Embedding.Dimensions
	}
	if other.Signals.RetrievalTopK != 0 {
		c.Signals.RetrievalTopK = other.Signals.RetrievalTopK
	}
	if other.Signals.DedupThreshold != 0 {
		c.Signals.DedupThreshold = other.Signals.DedupThreshold
	}
	if other.Signals.MaxPerSection != 0 {
		c.Signals.MaxPerSection = other.Signals.MaxPerSection
	}
	if other.Reflection.MaxAttempts != 0 {
		c.Reflection.MaxAttempts = other.Reflection.MaxAttempts
	}
	if other.Reflection.Concurrency != 0 {
		c.Reflection.Concurrency = other.Reflection.Concurrency
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
	if other.Events.URL != "" {
		c.Events.URL = other.Events.URL
	}
	if other.Events.SubjectPrefix != "" {
		c.Events.SubjectPrefix = other.Events.SubjectPrefix
	}
}
