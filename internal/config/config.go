// Package config loads the static configuration supplied at process start:
// the taxonomy and topic tables, LLM provider settings, cache tuning, and
// logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviders are the accepted llm.provider values.
var ValidProviders = []string{"openai", "gemini"}

// Config holds all plurals configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Detection settings
	Detection DetectionConfig `yaml:"detection"`

	// Perspective cache tuning
	Cache CacheConfig `yaml:"cache"`

	// Persistent store
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation capability.
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // openai, gemini
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	BaseURL           string  `yaml:"base_url"`
	Timeout           string  `yaml:"timeout"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DetectionConfig configures the controversy detector.
type DetectionConfig struct {
	// Mode selects the classifier: "rules" or "llm" (LLM with rule
	// fallback).
	Mode string `yaml:"mode"`
	// TopicsPath points at an external fingerprint table. Empty uses the
	// built-in table.
	TopicsPath string `yaml:"topics_path"`
	// TaxonomyPath points at an external community taxonomy. Empty uses
	// the built-in taxonomy.
	TaxonomyPath string `yaml:"taxonomy_path"`
	// StronglyHeldThreshold gates full surfacing versus a casual mention.
	StronglyHeldThreshold float64 `yaml:"strongly_held_threshold"`
}

// CacheConfig tunes the perspective cache.
type CacheConfig struct {
	HotSize         int    `yaml:"hot_size"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	File   string `yaml:"file"`   // empty logs to stderr
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Timeout:           "60s",
			MaxTokens:         800,
			Temperature:       0.4,
			RequestsPerSecond: 2,
		},
		Detection: DetectionConfig{
			Mode:                  "llm",
			StronglyHeldThreshold: 0.6,
		},
		Cache: CacheConfig{
			HotSize:         512,
			RefreshInterval: "24h",
		},
		Store: StoreConfig{
			DatabasePath: "plurals.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("PLURALS_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("PLURALS_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if db := os.Getenv("PLURALS_DB"); db != "" {
		c.Store.DatabasePath = db
	}
	if level := os.Getenv("PLURALS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetLLMTimeout returns the parsed LLM timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetRefreshInterval returns the parsed cache refresh interval.
func (c *Config) GetRefreshInterval() time.Duration {
	d, err := time.ParseDuration(c.Cache.RefreshInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	if c.Detection.Mode != "rules" && c.Detection.Mode != "llm" {
		return fmt.Errorf("invalid detection mode: %s (valid: rules, llm)", c.Detection.Mode)
	}
	if c.Detection.StronglyHeldThreshold < 0 || c.Detection.StronglyHeldThreshold > 1 {
		return fmt.Errorf("strongly_held_threshold %.2f out of range [0,1]", c.Detection.StronglyHeldThreshold)
	}
	if c.Cache.HotSize <= 0 {
		return fmt.Errorf("cache hot_size must be positive, got %d", c.Cache.HotSize)
	}
	if _, err := time.ParseDuration(c.Cache.RefreshInterval); err != nil {
		return fmt.Errorf("invalid refresh_interval: %w", err)
	}
	return nil
}
