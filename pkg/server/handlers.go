package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/httpx"
	"github.com/nicktill/tinyuptime/pkg/server/monitor"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	Backend   string         `json:"backend"`
	Stats     *storage.Stats `json:"stats,omitempty"`
	UsedBytes int64          `json:"used_bytes,omitempty"`
	MaxBytes  int64          `json:"max_bytes,omitempty"`
	Exceeded  bool           `json:"exceeded"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string                    `json:"status"`
	Version     string                    `json:"version"`
	Uptime      string                    `json:"uptime"`
	Engines     int                       `json:"engines"`
	Persistence monitor.PersistenceStatus `json:"persistence"`
}

// TargetsResponse lists the targets with a loaded engine.
type TargetsResponse struct {
	Targets []string `json:"targets"`
	Count   int      `json:"count"`
}

// handleHealth returns service health status.
func handleHealth(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		if !c.Persistence.IsHealthy() {
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		response := HealthResponse{
			Status:      overallStatus,
			Version:     Version,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			Engines:     c.Registry.Len(),
			Persistence: c.Persistence.Status(),
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns gateway statistics and, for on-disk backends,
// directory usage against the configured limit.
func handleStorageUsage(c *Components, backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		st, err := c.Gateway.Stats(ctx)
		if err != nil {
			httpx.RespondError(w, http.StatusServiceUnavailable, err)
			return
		}

		usage := StorageUsage{Backend: backend, Stats: st}
		if c.Disk != nil {
			used, err := c.Disk.Usage()
			if err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, err)
				return
			}
			usage.UsedBytes = used
			usage.MaxBytes = c.Disk.Limit()
			usage.Exceeded = c.Disk.Exceeded()
		}

		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// handleListTargets returns the ids of loaded engines. Targets that only
// exist in storage appear once they are queried or updated.
func handleListTargets(c *Components) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := c.Registry.IDs()
		httpx.RespondJSON(w, http.StatusOK, TargetsResponse{Targets: ids, Count: len(ids)})
	}
}

// SetupRoutes configures all HTTP routes for the server and returns the
// handler to serve.
func SetupRoutes(router *mux.Router, c *Components, gatherer prometheus.Gatherer, cfg Config) http.Handler {
	router.Use(c.Metrics.Middleware)

	// API routes
	api := router.PathPrefix("/v1").Subrouter()

	// Heartbeat ingestion and target lifecycle
	api.HandleFunc("/targets", handleListTargets(c)).Methods("GET")
	api.HandleFunc("/targets/{id}/heartbeats", c.Ingest.HandleHeartbeat).Methods("POST")
	api.HandleFunc("/targets/{id}", c.Ingest.HandleDeleteTarget).Methods("DELETE")

	// Rollup queries
	api.HandleFunc("/targets/{id}/uptime", c.Query.HandleUptime).Methods("GET")
	api.HandleFunc("/targets/{id}/summary", c.Query.HandleSummary).Methods("GET")
	api.HandleFunc("/targets/{id}/chart", c.Query.HandleChart).Methods("GET")
	api.HandleFunc("/targets/{id}/series", c.Query.HandleSeries).Methods("GET")

	// Export/import
	api.HandleFunc("/targets/{id}/export", c.Export.HandleExport).Methods("GET")
	api.HandleFunc("/targets/{id}/import", c.Export.HandleImport).Methods("POST")

	// Service status
	api.HandleFunc("/storage", handleStorageUsage(c, cfg.Backend)).Methods("GET")
	api.HandleFunc("/health", handleHealth(c)).Methods("GET")

	// WebSocket for real-time updates
	api.HandleFunc("/ws", c.Hub.HandleWebSocket).Methods("GET")

	// Prometheus scrape endpoint
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// mux skips middleware for unmatched routes, so CORS wraps the router
	// to answer preflights.
	return corsMiddleware(cfg.Port)(router)
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := []string{
		"http://localhost:" + port,
		"http://127.0.0.1:" + port,
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if origin == allowedOrigin {
					allowed = true
					break
				}
			}

			// Only set CORS headers for allowed origins
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
