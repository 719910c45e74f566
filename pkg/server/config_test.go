package server

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyuptime/pkg/config"
)

func envFrom(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(envFrom(nil))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
	require.Equal(t, BackendBadger, cfg.Backend)
	require.Equal(t, config.DefaultPort, cfg.Port)
	require.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadConfig_Env(t *testing.T) {
	cfg, err := loadConfig(envFrom(map[string]string{
		"PORT":                        "9090",
		"TINYUPTIME_DATA_DIR":         "/var/lib/tinyuptime",
		"TINYUPTIME_BACKEND":          "memory",
		"TINYUPTIME_MAX_MEMORY_MB":    "128",
		"TINYUPTIME_MAX_DISK_GB":      "5",
		"TINYUPTIME_LOG_LEVEL":        "debug",
		"TINYUPTIME_LOG_JSON":         "true",
		"TINYUPTIME_QUERY_CACHE_SIZE": "64",
		"TINYUPTIME_INGEST_RATE":      "2.5",
		"TINYUPTIME_INGEST_BURST":     "10",
	}))
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, "/var/lib/tinyuptime", cfg.DataDir)
	require.Equal(t, BackendMemory, cfg.Backend)
	require.EqualValues(t, 128, cfg.MaxMemoryMB)
	require.EqualValues(t, 5<<30, cfg.MaxDiskBytes())
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	require.True(t, cfg.LogJSON)
	require.Equal(t, 64, cfg.QueryCacheSize)
	require.Equal(t, 2.5, cfg.IngestRate)
	require.Equal(t, 10, cfg.IngestBurst)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tinyuptime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
backend: postgres
postgres_dsn: postgres://localhost/uptime
log_level: warn
query_cache_size: 32
`), 0o644))

	cfg, err := loadConfig(envFrom(map[string]string{
		ConfigFileEnv: path,
		"PORT":        "7001",
	}))
	require.NoError(t, err)

	require.Equal(t, "7001", cfg.Port, "env overrides file")
	require.Equal(t, BackendPostgres, cfg.Backend)
	require.Equal(t, "postgres://localhost/uptime", cfg.PostgresDSN)
	require.Equal(t, slog.LevelWarn, cfg.SlogLevel())
	require.Equal(t, 32, cfg.QueryCacheSize)
	require.Equal(t, config.DefaultDataDir, cfg.DataDir, "unset keys keep defaults")
}

func TestLoadConfig_Errors(t *testing.T) {
	badYAML := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("port: [unterminated"), 0o644))

	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing file",
			env:  map[string]string{ConfigFileEnv: filepath.Join(t.TempDir(), "nope.yaml")},
			want: "read config file",
		},
		{
			name: "malformed file",
			env:  map[string]string{ConfigFileEnv: badYAML},
			want: "parse config file",
		},
		{
			name: "bad integer",
			env:  map[string]string{"TINYUPTIME_MAX_MEMORY_MB": "lots"},
			want: "TINYUPTIME_MAX_MEMORY_MB",
		},
		{
			name: "bad bool",
			env:  map[string]string{"TINYUPTIME_LOG_JSON": "maybe"},
			want: "TINYUPTIME_LOG_JSON",
		},
		{
			name: "bad float",
			env:  map[string]string{"TINYUPTIME_INGEST_RATE": "fast"},
			want: "TINYUPTIME_INGEST_RATE",
		},
		{
			name: "unknown backend",
			env:  map[string]string{"TINYUPTIME_BACKEND": "sqlite"},
			want: "unknown storage backend",
		},
		{
			name: "postgres without dsn",
			env:  map[string]string{"TINYUPTIME_BACKEND": "postgres"},
			want: "postgres_dsn",
		},
		{
			name: "zero cache size",
			env:  map[string]string{"TINYUPTIME_QUERY_CACHE_SIZE": "0"},
			want: "query_cache_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(envFrom(tt.env))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_JoinsParseErrors(t *testing.T) {
	_, err := loadConfig(envFrom(map[string]string{
		"TINYUPTIME_MAX_MEMORY_MB": "x",
		"TINYUPTIME_INGEST_BURST":  "y",
	}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "TINYUPTIME_MAX_MEMORY_MB")
	require.Contains(t, err.Error(), "TINYUPTIME_INGEST_BURST")
}

func TestMaxDiskBytes_Unlimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDiskGB = 0
	require.Zero(t, cfg.MaxDiskBytes())
}
