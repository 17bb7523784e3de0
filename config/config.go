// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the HTTP listen port
	DefaultPort = "8080"

	// DefaultPrimaryBaseURL is the public APIs.guru v2 directory
	DefaultPrimaryBaseURL = "https://api.apis.guru/v2"

	// DefaultCacheTTL applies to entries stored without an explicit TTL
	DefaultCacheTTL = 24 * time.Hour

	// DefaultBodySizeLimit caps request bodies (1MB; the API is read-only)
	DefaultBodySizeLimit int64 = 1 << 20

	// DefaultRateLimit is the per-source request rate in requests per second
	DefaultRateLimit = 10.0

	cacheDirName = "openapi-directory"
)

// Cache backends
const (
	BackendMemory     = "memory"
	BackendPersistent = "persistent"
	BackendRedis      = "redis"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Sources SourcesConfig `yaml:"sources"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// AdminKey protects /admin routes with a Bearer token. Empty leaves them open.
	AdminKey      string `yaml:"admin_key"`
	BodySizeLimit int64  `yaml:"body_size_limit"`
}

// CacheConfig selects and tunes the cache backend
type CacheConfig struct {
	Disabled   bool          `yaml:"disabled"`
	Backend    string        `yaml:"backend"`
	Dir        string        `yaml:"dir"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	RedisURL   string        `yaml:"redis_url"`
}

// SweepInterval is how often expired entries are removed: a tenth of the default TTL,
// never more often than once a second
func (c CacheConfig) SweepInterval() time.Duration {
	return max(c.DefaultTTL/10, time.Second)
}

// SourcesConfig locates the three directories
type SourcesConfig struct {
	PrimaryBaseURL   string `yaml:"primary_base_url"`
	SecondaryBaseURL string `yaml:"secondary_base_url"`
	CustomDir        string `yaml:"custom_dir"`

	// Timeout bounds a single upstream request
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit is requests per second per source; zero disables limiting
	RateLimit float64 `yaml:"rate_limit"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	// Format is "json", "pretty" or "auto"
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          DefaultPort,
			BodySizeLimit: DefaultBodySizeLimit,
		},
		Cache: CacheConfig{
			Backend:    BackendPersistent,
			Dir:        defaultCacheDir(),
			DefaultTTL: DefaultCacheTTL,
		},
		Sources: SourcesConfig{
			PrimaryBaseURL: DefaultPrimaryBaseURL,
			Timeout:        30 * time.Second,
			RateLimit:      DefaultRateLimit,
		},
		Logging: LogConfig{
			Format: "auto",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), cacheDirName)
	}
	return filepath.Join(dir, cacheDirName)
}

// Load builds the configuration from defaults, an optional YAML file, an optional
// .env file and the environment, later layers overriding earlier ones.
// An empty path skips the YAML file; a missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	data = []byte(expandString(string(data)))
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with the recognised environment variables
func applyEnv(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setString("PORT", &cfg.Server.Port)
	setString("ADMIN_KEY", &cfg.Server.AdminKey)

	setBool("DISABLE_CACHE", &cfg.Cache.Disabled)
	setString("CACHE_BACKEND", &cfg.Cache.Backend)
	setString("OPENAPI_DIRECTORY_CACHE_DIR", &cfg.Cache.Dir)
	setString("REDIS_URL", &cfg.Cache.RedisURL)
	if v := os.Getenv("OPENAPI_DIRECTORY_CACHE_TTL"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			errs = append(errs, fmt.Errorf("OPENAPI_DIRECTORY_CACHE_TTL: expected a positive number of milliseconds, got %q", v))
		} else {
			cfg.Cache.DefaultTTL = time.Duration(ms) * time.Millisecond
		}
	}

	setString("PRIMARY_BASE_URL", &cfg.Sources.PrimaryBaseURL)
	setString("SECONDARY_BASE_URL", &cfg.Sources.SecondaryBaseURL)
	setString("CUSTOM_SPECS_DIR", &cfg.Sources.CustomDir)
	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("HTTP_TIMEOUT: %w", err))
		} else {
			cfg.Sources.Timeout = d
		}
	}
	if v := os.Getenv("SOURCE_RATE_LIMIT"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOURCE_RATE_LIMIT: %w", err))
		} else {
			cfg.Sources.RateLimit = r
		}
	}

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// parseDuration accepts plain integers as seconds or Go duration strings
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Validate checks the combined configuration
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendPersistent:
	case BackendRedis:
		if c.Cache.RedisURL == "" && !c.Cache.Disabled {
			return fmt.Errorf("cache backend %q requires REDIS_URL", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache default TTL must be positive")
	}
	if c.Sources.PrimaryBaseURL == "" && c.Sources.SecondaryBaseURL == "" && c.Sources.CustomDir == "" {
		return fmt.Errorf("at least one source must be configured")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "pretty", "auto":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// expandString replaces ${VAR} and ${VAR:-default} placeholders with environment values.
// A variable that is unset or empty takes its default; without a default the placeholder is kept.
func expandString(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start

		b.WriteString(s[:start])
		placeholder := s[start : end+1]
		name, def, hasDefault := strings.Cut(s[start+2:end], ":-")

		switch value := os.Getenv(name); {
		case value != "":
			b.WriteString(value)
		case hasDefault:
			b.WriteString(def)
		default:
			b.WriteString(placeholder)
		}
		s = s[end+1:]
	}
}
