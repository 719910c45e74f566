package server

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/tinyuptime/pkg/export"
	"github.com/nicktill/tinyuptime/pkg/ingest"
	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/query"
	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/server/monitor"
	"github.com/nicktill/tinyuptime/pkg/storage"
	"github.com/nicktill/tinyuptime/pkg/storage/badger"
	"github.com/nicktill/tinyuptime/pkg/storage/memory"
	"github.com/nicktill/tinyuptime/pkg/storage/postgres"
	"github.com/nicktill/tinyuptime/pkg/telemetry"
)

// InitializeStorage opens the gateway selected by cfg.Backend.
func InitializeStorage(ctx context.Context, cfg Config) (storage.Gateway, error) {
	log := logging.Component("server")

	switch cfg.Backend {
	case BackendBadger:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := badger.New(badger.Config{
			Path:        cfg.DataDir,
			MaxMemoryMB: cfg.MaxMemoryMB,
		})
		if err != nil {
			return nil, err
		}
		log.Info("badger storage initialized", "path", cfg.DataDir, "max_memory_mb", cfg.MaxMemoryMB)
		return store, nil

	case BackendPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Info("postgres storage initialized")
		return store, nil

	case BackendMemory:
		log.Warn("memory storage selected, rollups will not survive a restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// Components bundles the wired request handlers and monitors.
type Components struct {
	Registry    *registry.Registry
	Ingest      *ingest.Handler
	Query       *query.Handler
	Export      *export.Handler
	Hub         *ingest.Hub
	Metrics     *telemetry.Metrics
	Persistence *monitor.PersistenceMonitor
	Disk        *monitor.DiskMonitor
	Gateway     storage.Gateway
}

// InitializeHandlers creates the registry and every handler, and subscribes
// the observers that react to rollup updates.
func InitializeHandlers(cfg Config, gw storage.Gateway, promReg prometheus.Registerer) (*Components, error) {
	log := logging.Component("server")

	reg := registry.New(gw)

	metrics, err := telemetry.New(promReg, reg.Len)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	queryHandler, err := query.NewHandler(reg, cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query handler: %w", err)
	}

	persistence := &monitor.PersistenceMonitor{}

	// Only an on-disk backend has a directory worth measuring.
	var disk *monitor.DiskMonitor
	if cfg.Backend == BackendBadger {
		disk = monitor.NewDiskMonitor(cfg.DataDir, cfg.MaxDiskBytes())
	}

	ingestHandler := ingest.NewHandler(reg, gw, cfg.IngestRate, cfg.IngestBurst)
	ingestHandler.SetRateLimitRecorder(metrics)
	if disk != nil {
		ingestHandler.SetStorageChecker(disk)
	}
	ingestHandler.OnDelete(queryHandler.Forget)

	hub := ingest.NewHub()

	reg.OnUpdate(metrics.ObserveUpdate)
	reg.OnUpdate(persistence.Observe)
	reg.OnUpdate(hub.Observe)

	log.Info("handlers initialized",
		"backend", cfg.Backend,
		"query_cache_size", cfg.QueryCacheSize,
		"ingest_rate", cfg.IngestRate,
		"disk_limit_bytes", cfg.MaxDiskBytes(),
	)

	return &Components{
		Registry:    reg,
		Ingest:      ingestHandler,
		Query:       queryHandler,
		Export:      export.NewHandler(reg),
		Hub:         hub,
		Metrics:     metrics,
		Persistence: persistence,
		Disk:        disk,
		Gateway:     gw,
	}, nil
}
