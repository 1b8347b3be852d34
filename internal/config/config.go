// Package config loads and validates the project configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/specgen/internal/foundation"
)

// ProviderConfig describes one LLM provider endpoint. APIKey supports
// ${VAR} expansion so secrets stay out of the config file.
type ProviderConfig struct {
	Name        string  `yaml:"name"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"` // Go duration, default 60s
}

// ParsedTimeout returns the request timeout, defaulting to 60s.
func (p ProviderConfig) ParsedTimeout() time.Duration {
	if p.Timeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// LoggingConfig controls slog setup.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	File       string `yaml:"file"`   // empty = stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// JournalConfig controls the optional SQLite run journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// EventsConfig controls optional NATS run-completion publishing.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// DaemonConfig controls daemon mode.
type DaemonConfig struct {
	Interval string `yaml:"interval"` // Go duration between scheduled runs
	Watch    bool   `yaml:"watch"`    // watch a local source file for changes
}

// ParsedInterval returns the scheduling interval, defaulting to 1h.
func (d DaemonConfig) ParsedInterval() time.Duration {
	if d.Interval == "" {
		return time.Hour
	}
	iv, err := time.ParseDuration(d.Interval)
	if err != nil || iv <= 0 {
		return time.Hour
	}
	return iv
}

// Config is the root project configuration.
type Config struct {
	Source              string           `yaml:"source"` // URL or file path of the API document
	StateFile           string           `yaml:"state_file"`
	LegacyProviderStats string           `yaml:"legacy_provider_stats_file"`
	OutputDir           string           `yaml:"output_dir"`
	Workers             int              `yaml:"workers"`
	Providers           []ProviderConfig `yaml:"providers"`
	Logging             LoggingConfig    `yaml:"logging"`
	Journal             JournalConfig    `yaml:"journal"`
	Metrics             MetricsConfig    `yaml:"metrics"`
	Events              EventsConfig     `yaml:"events"`
	Daemon              DaemonConfig     `yaml:"daemon"`
}

// Load reads the configuration file, applies .env bootstrap, environment
// overrides, defaults and validation.
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate().ToError(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnvOverrides lets SPECGEN_* environment variables override file
// values, and expands ${VAR} references in provider API keys.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SPECGEN_SOURCE"); v != "" {
		c.Source = v
	}
	if v := os.Getenv("SPECGEN_STATE_FILE"); v != "" {
		c.StateFile = v
	}
	if v := os.Getenv("SPECGEN_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("SPECGEN_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("SPECGEN_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
	}
}

func (c *Config) applyDefaults() {
	if c.StateFile == "" {
		c.StateFile = ".specgen/state.json"
	}
	if c.OutputDir == "" {
		c.OutputDir = "generated-tests"
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = ".specgen/journal.db"
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9477"
	}
	if c.Events.Enabled && c.Events.Subject == "" {
		c.Events.Subject = "specgen.runs"
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() foundation.ValidationResult {
	var errs []foundation.FieldError
	if c.Source == "" {
		errs = append(errs, foundation.NewValidationError("source", "required", "api document source is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, foundation.NewValidationError("workers", "positive", "worker count must be positive"))
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, foundation.NewValidationError(field+".name", "required", "provider name is required"))
		}
		if seen[p.Name] {
			errs = append(errs, foundation.NewValidationError(field+".name", "unique", "duplicate provider name "+p.Name))
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			errs = append(errs, foundation.NewValidationError(field+".base_url", "required", "provider base URL is required"))
		}
		if p.Model == "" {
			errs = append(errs, foundation.NewValidationError(field+".model", "required", "provider model is required"))
		}
	}
	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, foundation.NewValidationError("events.url", "required", "NATS URL is required when events are enabled"))
	}
	if len(errs) > 0 {
		return foundation.Invalid(errs...)
	}
	return foundation.Valid()
}
