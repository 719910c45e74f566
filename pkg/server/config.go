package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/logging"
)

// Storage backends.
const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ConfigFileEnv names the environment variable pointing at an optional YAML
// config file.
const ConfigFileEnv = "TINYUPTIME_CONFIG"

// Config holds server configuration.
type Config struct {
	Port    string `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	// Backend is badger, postgres or memory.
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`

	MaxMemoryMB int64 `yaml:"max_memory_mb"`
	MaxDiskGB   int64 `yaml:"max_disk_gb"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	QueryCacheSize int     `yaml:"query_cache_size"`
	IngestRate     float64 `yaml:"ingest_rate"`
	IngestBurst    int     `yaml:"ingest_burst"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:           config.DefaultPort,
		DataDir:        config.DefaultDataDir,
		Backend:        config.DefaultBackend,
		MaxMemoryMB:    config.DefaultMaxMemoryMB,
		MaxDiskGB:      config.DefaultMaxDiskGB,
		LogLevel:       config.DefaultLogLevel,
		QueryCacheSize: config.QueryCacheSize,
		IngestRate:     config.IngestRateLimit,
		IngestBurst:    config.IngestRateBurst,
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named
// by TINYUPTIME_CONFIG, then TINYUPTIME_* environment variables and PORT.
func LoadConfig() (Config, error) {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path := getenv(ConfigFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	var errs []error
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := getenv(key); v != "" {
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid value for %s: %q", key, v))
				return
			}
			*dst = parsed
		}
	}

	setString("PORT", &cfg.Port)
	setString("TINYUPTIME_DATA_DIR", &cfg.DataDir)
	setString("TINYUPTIME_BACKEND", &cfg.Backend)
	setString("TINYUPTIME_POSTGRES_DSN", &cfg.PostgresDSN)
	setInt64("TINYUPTIME_MAX_MEMORY_MB", &cfg.MaxMemoryMB)
	setInt64("TINYUPTIME_MAX_DISK_GB", &cfg.MaxDiskGB)
	setString("TINYUPTIME_LOG_LEVEL", &cfg.LogLevel)

	if v := getenv("TINYUPTIME_LOG_JSON"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid value for TINYUPTIME_LOG_JSON: %q", v))
		} else {
			cfg.LogJSON = parsed
		}
	}

	cacheSize := int64(cfg.QueryCacheSize)
	setInt64("TINYUPTIME_QUERY_CACHE_SIZE", &cacheSize)
	cfg.QueryCacheSize = int(cacheSize)

	if v := getenv("TINYUPTIME_INGEST_RATE"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid value for TINYUPTIME_INGEST_RATE: %q", v))
		} else {
			cfg.IngestRate = parsed
		}
	}
	burst := int64(cfg.IngestBurst)
	setInt64("TINYUPTIME_INGEST_BURST", &burst)
	cfg.IngestBurst = int(burst)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail later at startup.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendBadger, BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres backend requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	if c.Port == "" {
		return errors.New("port cannot be empty")
	}
	if c.QueryCacheSize < 1 {
		return fmt.Errorf("query_cache_size must be positive, got %d", c.QueryCacheSize)
	}
	return nil
}

// MaxDiskBytes returns the disk limit in bytes, 0 when unlimited.
func (c Config) MaxDiskBytes() int64 {
	if c.MaxDiskGB <= 0 {
		return 0
	}
	return c.MaxDiskGB << 30
}

// SlogLevel maps the configured level onto slog.
func (c Config) SlogLevel() slog.Level {
	return logging.ParseLevel(c.LogLevel)
}
