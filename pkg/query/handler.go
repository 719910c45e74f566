package query

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/httpx"
	"github.com/nicktill/tinyuptime/pkg/ingest"
	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/rollup"
	"github.com/nicktill/tinyuptime/pkg/stats"
)

// Handler serves uptime reports from the registry.
type Handler struct {
	registry *registry.Registry
	cache    *resultCache
	log      *slog.Logger
}

// NewHandler creates a query handler with an LRU result cache of cacheSize
// targets. The handler subscribes to registry updates to invalidate it.
func NewHandler(reg *registry.Registry, cacheSize int) (*Handler, error) {
	if cacheSize <= 0 {
		cacheSize = config.QueryCacheSize
	}
	cache, err := newResultCache(cacheSize, config.QueryCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	h := &Handler{
		registry: reg,
		cache:    cache,
		log:      logging.Component("query"),
	}
	reg.OnUpdate(h.invalidate)
	return h, nil
}

func (h *Handler) invalidate(ev registry.Event) {
	h.cache.invalidate(ev.TargetID)
}

// Forget drops cached results for a deleted target.
func (h *Handler) Forget(targetID string) {
	h.cache.invalidate(targetID)
}

// Window is one aggregate in a response.
type Window struct {
	Duration   string   `json:"duration"`
	Uptime     float64  `json:"uptime"`
	AvgLatency *float64 `json:"avg_latency"`
	Up         int      `json:"up"`
	Down       int      `json:"down"`
	Fallback   bool     `json:"fallback,omitempty"`
}

func newWindow(d string, agg rollup.Aggregate) Window {
	return Window{
		Duration:   d,
		Uptime:     agg.Uptime,
		AvgLatency: agg.AvgLatency,
		Up:         agg.Up,
		Down:       agg.Down,
		Fallback:   agg.Fallback,
	}
}

// UptimeResponse is returned by /v1/targets/{id}/uptime.
type UptimeResponse struct {
	Target string `json:"target"`
	Window
}

// SummaryResponse is returned by /v1/targets/{id}/summary.
type SummaryResponse struct {
	Target  string   `json:"target"`
	Windows []Window `json:"windows"`
}

// Point is one chart bucket.
type Point struct {
	Timestamp   int64    `json:"timestamp"`
	Up          int      `json:"up"`
	Down        int      `json:"down"`
	Maintenance int      `json:"maintenance"`
	Uptime      float64  `json:"uptime"`
	Ping        *float64 `json:"ping"`
	PingMin     *float64 `json:"ping_min"`
	PingMax     *float64 `json:"ping_max"`
}

// SeriesResponse is returned by /chart and /series.
type SeriesResponse struct {
	Target     string           `json:"target"`
	Resolution stats.Resolution `json:"resolution"`
	Periods    int              `json:"periods"`
	Points     []Point          `json:"points"`
}

func newPoint(b stats.Bucket) Point {
	p := Point{
		Timestamp:   b.PeriodKey,
		Up:          b.Up,
		Down:        b.Down,
		Maintenance: b.Maintenance,
		Uptime:      b.Uptime(),
	}
	if avg, ok := b.Latency(); ok {
		lo, hi := b.MinLatency, b.MaxLatency
		p.Ping, p.PingMin, p.PingMax = &avg, &lo, &hi
	}
	return p
}

// normalizeDuration treats a bare number as hours, matching badge URLs like
// ?duration=24.
func normalizeDuration(s string) string {
	if s == "" {
		return config.QueryDefaultDuration
	}
	if _, err := strconv.Atoi(s); err == nil {
		return s + "h"
	}
	return s
}

// ChartWindow picks the resolution and period count for a chart covering the
// last hours hours: minutes up to a day, hours up to 30 days, days beyond.
func ChartWindow(hours int) (stats.Resolution, int) {
	switch {
	case hours <= 24:
		return stats.Minute, hours * 60
	case hours <= 720:
		return stats.Hour, hours
	default:
		return stats.Day, (hours + 23) / 24
	}
}

// targetID reads and validates the {id} path segment, answering 400 when it
// is unusable.
func targetID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := ingest.ValidateTargetID(id); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return "", false
	}
	return id, true
}

func (h *Handler) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), config.QueryTimeout)
}

// HandleUptime handles GET /v1/targets/{id}/uptime?duration=24h.
func (h *Handler) HandleUptime(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(w, r)
	if !ok {
		return
	}
	duration := normalizeDuration(r.URL.Query().Get("duration"))

	cacheKey := "uptime:" + duration
	if v, ok := h.cache.get(id, cacheKey); ok {
		httpx.RespondJSON(w, http.StatusOK, v)
		return
	}

	ctx, cancel := h.queryContext(r)
	defer cancel()

	tk := h.cache.begin(id)
	var agg rollup.Aggregate
	err := h.registry.View(ctx, id, func(e *rollup.Engine) error {
		var err error
		agg, err = e.AggregateByDuration(duration)
		return err
	})
	if err != nil {
		h.respondError(w, id, err)
		return
	}

	resp := UptimeResponse{Target: id, Window: newWindow(duration, agg)}
	h.cache.put(tk, cacheKey, resp)
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleSummary handles GET /v1/targets/{id}/summary.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(w, r)
	if !ok {
		return
	}

	const cacheKey = "summary"
	if v, ok := h.cache.get(id, cacheKey); ok {
		httpx.RespondJSON(w, http.StatusOK, v)
		return
	}

	ctx, cancel := h.queryContext(r)
	defer cancel()

	tk := h.cache.begin(id)
	resp := SummaryResponse{Target: id}
	err := h.registry.View(ctx, id, func(e *rollup.Engine) error {
		windows := []struct {
			name string
			fn   func() (rollup.Aggregate, error)
		}{
			{"24h", e.Last24Hours},
			{"7d", e.Last7Days},
			{"30d", e.Last30Days},
			{"1y", e.Last1Year},
		}
		for _, win := range windows {
			agg, err := win.fn()
			if err != nil {
				return err
			}
			resp.Windows = append(resp.Windows, newWindow(win.name, agg))
		}
		return nil
	})
	if err != nil {
		h.respondError(w, id, err)
		return
	}

	h.cache.put(tk, cacheKey, resp)
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleChart handles GET /v1/targets/{id}/chart?period=<hours>.
func (h *Handler) HandleChart(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(w, r)
	if !ok {
		return
	}

	hours := config.ChartDefaultHours
	if v := r.URL.Query().Get("period"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid period %q: want a positive number of hours", v))
			return
		}
		hours = parsed
	}

	res, periods := ChartWindow(hours)
	h.respondSeries(w, r, id, res, periods)
}

// HandleSeries handles GET /v1/targets/{id}/series?resolution=hour&periods=24.
func (h *Handler) HandleSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	resName := q.Get("resolution")
	if resName == "" {
		resName = string(stats.Hour)
	}
	res, err := stats.ParseResolution(resName)
	if err != nil {
		httpx.RespondDomainError(w, err)
		return
	}

	periods := 24
	if v := q.Get("periods"); v != "" {
		periods, err = strconv.Atoi(v)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid periods %q", v))
			return
		}
	}

	h.respondSeries(w, r, id, res, periods)
}

func (h *Handler) respondSeries(w http.ResponseWriter, r *http.Request, id string, res stats.Resolution, periods int) {
	ctx, cancel := h.queryContext(r)
	defer cancel()

	var buckets []stats.Bucket
	err := h.registry.View(ctx, id, func(e *rollup.Engine) error {
		var err error
		buckets, err = e.Series(res, periods)
		return err
	})
	if err != nil {
		h.respondError(w, id, err)
		return
	}

	resp := SeriesResponse{
		Target:     id,
		Resolution: res,
		Periods:    periods,
		Points:     make([]Point, 0, len(buckets)),
	}
	for _, b := range buckets {
		resp.Points = append(resp.Points, newPoint(b))
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondError(w http.ResponseWriter, id string, err error) {
	status := httpx.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("query failed", "target", id, "error", err)
	}
	httpx.RespondError(w, status, err)
}
