// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Keys      []KeyEntry      `yaml:"keys"`
	Seed      SeedConfig      `yaml:"seed"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Cache backends.
const (
	CacheBackendTTL    = "ttl"    // map + lazy expiry + background sweep
	CacheBackendMemory = "memory" // otter, size-bounded
)

// CacheConfig holds data and response cache settings.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"` // HTTP response cache; query caching is always on
	Backend       string        `yaml:"backend"`
	MaxSize       int           `yaml:"max_size"` // memory backend only
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	ResponseTTL   time.Duration `yaml:"response_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Coalesce      bool          `yaml:"coalesce"` // single-flight concurrent misses
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel parses Level, falling back to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// KeyEntry is an API key seed in the config file.
type KeyEntry struct {
	Name   string `yaml:"name"`
	Key    string `yaml:"key"` // plaintext, hashed on bootstrap
	UserID string `yaml:"user_id"`
	Role   string `yaml:"role"`
}

// SeedConfig lists content created on first start.
type SeedConfig struct {
	ExamSets []ExamSetEntry `yaml:"exam_sets"`
}

// ExamSetEntry is an exam set seed. ID keeps reseeding idempotent.
type ExamSetEntry struct {
	ID          string          `yaml:"id"`
	Title       string          `yaml:"title"`
	Level       string          `yaml:"level"`
	Skill       string          `yaml:"skill"`
	Description string          `yaml:"description"`
	DurationMin int             `yaml:"duration_min"`
	Published   *bool           `yaml:"published"`
	Questions   []QuestionEntry `yaml:"questions"`
}

// IsPublished reports whether the seed is published (defaults to true when nil).
func (e ExamSetEntry) IsPublished() bool {
	return e.Published == nil || *e.Published
}

// QuestionEntry is a question seed.
type QuestionEntry struct {
	Prompt  string   `yaml:"prompt"`
	Options []string `yaml:"options"`
	Answer  string   `yaml:"answer"`
	Points  int      `yaml:"points"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "vstepro.db",
		},
		Cache: CacheConfig{
			Enabled:       true,
			Backend:       CacheBackendTTL,
			MaxSize:       10_000,
			DefaultTTL:    time.Hour,
			ResponseTTL:   5 * time.Minute,
			SweepInterval: 60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	switch c.Cache.Backend {
	case CacheBackendTTL, CacheBackendMemory:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheBackendMemory && c.Cache.MaxSize <= 0 {
		return fmt.Errorf("config: cache.max_size must be positive for the memory backend")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
