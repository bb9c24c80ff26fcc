package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by ApplyEnv.
const (
	EnvProviderURL = "GROQ_API_URL"
	EnvProviderKey = "GROQ_API_KEY"
	EnvModel       = "AGRONOMIST_MODEL"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "openai/gpt-oss-120b"

// Cache backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all Agronomist configuration.
type Config struct {
	Listen    string         `yaml:"listen"`
	DBPath    string         `yaml:"db_path"`
	PublicDir string         `yaml:"public_dir"`
	Provider  ProviderConfig `yaml:"provider"`
	Cache     CacheConfig    `yaml:"cache"`
	Usage     UsageConfig    `yaml:"usage"`
	Metrics   MetricsConfig  `yaml:"metrics"`
}

// ProviderConfig defines the upstream chat-completions endpoint.
// URL is the full endpoint, e.g. https://api.groq.com/openai/v1/chat/completions.
type ProviderConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig controls the advisory cache.
// A TTL of zero keeps entries until cleared.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// UsageConfig controls upstream call accounting.
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig selects the metrics exporter: none, stdout or prometheus.
// The prometheus exporter is served at /metrics.
type MetricsConfig struct {
	Exporter string `yaml:"exporter"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8000",
		DBPath:    "agronomist.db",
		PublicDir: "public",
		Provider: ProviderConfig{
			Model:       DefaultModel,
			Temperature: 0.3,
			MaxTokens:   800,
			Timeout:     30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: BackendSQLite,
			TTL:     24 * time.Hour,
		},
		Usage: UsageConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Exporter: "none",
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// LoadOrDefault loads path if it exists and otherwise falls back to defaults
// plus environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		ApplyEnv(cfg)
		return cfg, nil
	}
	return Load(path)
}

// ApplyEnv overrides provider settings from the environment when set.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvProviderURL); v != "" {
		cfg.Provider.URL = v
	}
	if v := os.Getenv(EnvProviderKey); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Provider.Model = v
	}
}

// Validate reports settings that would prevent the service from starting.
// Missing provider credentials are allowed; lookups then degrade.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case BackendSQLite:
			if c.DBPath == "" {
				return errors.New("config: db_path is required for the sqlite cache")
			}
		case BackendMemory:
		default:
			return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
		}
		if c.Cache.TTL < 0 {
			return errors.New("config: cache ttl must not be negative")
		}
	}
	if c.Usage.Enabled && c.DBPath == "" {
		return errors.New("config: db_path is required for usage tracking")
	}
	switch c.Metrics.Exporter {
	case "", "none", "stdout", "prometheus":
	default:
		return fmt.Errorf("config: unknown metrics exporter %q", c.Metrics.Exporter)
	}
	if c.Provider.MaxTokens <= 0 {
		return errors.New("config: provider max_tokens must be positive")
	}
	return nil
}
