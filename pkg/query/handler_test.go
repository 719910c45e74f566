package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/rollup"
	"github.com/nicktill/tinyuptime/pkg/stats"
	"github.com/nicktill/tinyuptime/pkg/status"
	"github.com/nicktill/tinyuptime/pkg/storage/memory"
)

var now = time.Date(2024, 5, 20, 15, 45, 30, 0, time.UTC)

func ms(v float64) *float64 { return &v }

func newTestServer(t *testing.T, gw *memory.Storage) (*Handler, *registry.Registry, *mux.Router) {
	t.Helper()
	clock := rollup.ClockFunc(func() time.Time { return now })
	reg := registry.New(gw,
		registry.WithLogger(logging.Discard()),
		registry.WithEngineOptions(rollup.WithClock(clock), rollup.WithLogger(logging.Discard())),
	)

	h, err := NewHandler(reg, 16)
	require.NoError(t, err)
	h.log = logging.Discard()

	router := mux.NewRouter()
	router.HandleFunc("/v1/targets/{id}/uptime", h.HandleUptime).Methods("GET")
	router.HandleFunc("/v1/targets/{id}/summary", h.HandleSummary).Methods("GET")
	router.HandleFunc("/v1/targets/{id}/chart", h.HandleChart).Methods("GET")
	router.HandleFunc("/v1/targets/{id}/series", h.HandleSeries).Methods("GET")
	return h, reg, router
}

func get(t *testing.T, router http.Handler, url string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr
}

func TestHandleUptime(t *testing.T) {
	_, reg, router := newTestServer(t, memory.New())
	ctx := context.Background()

	_, err := reg.Update(ctx, "api", status.Up, ms(80), now)
	require.NoError(t, err)
	_, err = reg.Update(ctx, "api", status.Down, nil, now)
	require.NoError(t, err)

	var resp UptimeResponse
	rr := get(t, router, "/v1/targets/api/uptime", &resp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "api", resp.Target)
	require.Equal(t, "24h", resp.Duration)
	require.Equal(t, 0.5, resp.Uptime)
	require.NotNil(t, resp.AvgLatency)
	require.Equal(t, 80.0, *resp.AvgLatency)

	// A bare number means hours
	rr = get(t, router, "/v1/targets/api/uptime?duration=24", &resp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "24h", resp.Duration)
}

func TestHandleUptime_UnknownTargetReportsZero(t *testing.T) {
	_, _, router := newTestServer(t, memory.New())

	var resp UptimeResponse
	rr := get(t, router, "/v1/targets/new-target/uptime?duration=7d", &resp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Zero(t, resp.Uptime)
	require.Nil(t, resp.AvgLatency)
}

func TestReadsDoNotLoadEngines(t *testing.T) {
	_, reg, router := newTestServer(t, memory.New())

	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("t-%d", i)
		for _, path := range []string{"uptime", "summary", "chart", "series"} {
			rr := get(t, router, "/v1/targets/"+id+"/"+path, nil)
			require.Equal(t, http.StatusOK, rr.Code, path)
		}
	}
	require.Zero(t, reg.Len())
}

func TestReadsRejectBadTargetID(t *testing.T) {
	_, reg, router := newTestServer(t, memory.New())

	long := strings.Repeat("x", config.IngestMaxTargetIDLen+1)
	for _, path := range []string{"uptime", "summary", "chart", "series"} {
		rr := get(t, router, "/v1/targets/"+long+"/"+path, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, path)

		rr = get(t, router, "/v1/targets/a%20b/"+path, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
	require.Zero(t, reg.Len())
}

func TestResultCache_DropsResultComputedBeforeInvalidation(t *testing.T) {
	c, err := newResultCache(4, time.Minute)
	require.NoError(t, err)

	tk := c.begin("api")
	c.invalidate("api")
	c.put(tk, "summary", "stale")
	_, ok := c.get("api", "summary")
	require.False(t, ok)

	tk = c.begin("api")
	c.put(tk, "summary", "fresh")
	v, ok := c.get("api", "summary")
	require.True(t, ok)
	require.Equal(t, "fresh", v)
}

func TestHandleUptime_BadDuration(t *testing.T) {
	_, _, router := newTestServer(t, memory.New())

	tests := []struct {
		duration string
		message  string
	}{
		{"3x", "unsupported duration unit"},
		{"xh", "invalid duration format"},
		{"2000m", "query range exceeded"},
		{"2y", "query range exceeded"},
	}
	for _, tt := range tests {
		rr := get(t, router, "/v1/targets/api/uptime?duration="+tt.duration, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code, tt.duration)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Contains(t, body["message"], tt.message)
	}
}

func TestHandleUptime_PersistenceFailure(t *testing.T) {
	gw := memory.New()
	require.NoError(t, gw.Close())
	_, _, router := newTestServer(t, gw)

	rr := get(t, router, "/v1/targets/api/uptime", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleUptime_CacheInvalidation(t *testing.T) {
	h, reg, router := newTestServer(t, memory.New())
	ctx := context.Background()

	_, err := reg.Update(ctx, "api", status.Up, nil, now)
	require.NoError(t, err)

	var resp UptimeResponse
	get(t, router, "/v1/targets/api/uptime", &resp)
	require.Equal(t, 1.0, resp.Uptime)

	// Mutating the engine behind the registry's back is not observed...
	err = reg.With(ctx, "api", func(e *rollup.Engine) error {
		_, err := e.Update(ctx, status.Down, nil, now)
		return err
	})
	require.NoError(t, err)
	get(t, router, "/v1/targets/api/uptime", &resp)
	require.Equal(t, 1.0, resp.Uptime, "served from cache")

	// ...until the TTL expires
	h.cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	get(t, router, "/v1/targets/api/uptime", &resp)
	require.InDelta(t, 0.5, resp.Uptime, 1e-9)
	h.cache.now = time.Now

	// A registry update invalidates immediately
	_, err = reg.Update(ctx, "api", status.Down, nil, now)
	require.NoError(t, err)
	get(t, router, "/v1/targets/api/uptime", &resp)
	require.InDelta(t, 1.0/3.0, resp.Uptime, 1e-9)

	h.Forget("api")
	require.Zero(t, h.cache.len())
}

func TestHandleSummary(t *testing.T) {
	_, reg, router := newTestServer(t, memory.New())

	_, err := reg.Update(context.Background(), "api", status.Maintenance, nil, now)
	require.NoError(t, err)

	var resp SummaryResponse
	rr := get(t, router, "/v1/targets/api/summary", &resp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, resp.Windows, 4)

	names := make([]string, 0, len(resp.Windows))
	for _, w := range resp.Windows {
		names = append(names, w.Duration)
		require.Equal(t, 1.0, w.Uptime)
		require.Nil(t, w.AvgLatency)
	}
	require.Equal(t, []string{"24h", "7d", "30d", "1y"}, names)
}

func TestHandleChart(t *testing.T) {
	_, reg, router := newTestServer(t, memory.New())
	ctx := context.Background()

	_, err := reg.Update(ctx, "api", status.Up, ms(100), now.Add(-30*time.Minute))
	require.NoError(t, err)
	_, err = reg.Update(ctx, "api", status.Up, ms(300), now.Add(-30*time.Minute))
	require.NoError(t, err)
	_, err = reg.Update(ctx, "api", status.Down, nil, now)
	require.NoError(t, err)

	var resp SeriesResponse
	rr := get(t, router, "/v1/targets/api/chart?period=2", &resp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, stats.Minute, resp.Resolution)
	require.Equal(t, 120, resp.Periods)
	require.Len(t, resp.Points, 2)

	first := resp.Points[0]
	require.Equal(t, stats.Minute.Key(now.Add(-30*time.Minute)), first.Timestamp)
	require.NotNil(t, first.Ping)
	require.Equal(t, 200.0, *first.Ping)
	require.Equal(t, 100.0, *first.PingMin)
	require.Equal(t, 300.0, *first.PingMax)
	require.Nil(t, resp.Points[1].Ping)
	require.Equal(t, 0.0, resp.Points[1].Uptime)

	rr = get(t, router, "/v1/targets/api/chart?period=168", &resp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, stats.Hour, resp.Resolution)
	require.Len(t, resp.Points, 1)

	rr = get(t, router, "/v1/targets/api/chart?period=0", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = get(t, router, "/v1/targets/api/chart?period=9000", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleSeries(t *testing.T) {
	_, reg, router := newTestServer(t, memory.New())

	_, err := reg.Update(context.Background(), "api", status.Up, nil, now)
	require.NoError(t, err)

	var resp SeriesResponse
	rr := get(t, router, "/v1/targets/api/series?resolution=day&periods=30", &resp)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, stats.Day, resp.Resolution)
	require.Len(t, resp.Points, 1)
	require.Equal(t, stats.Day.Key(now), resp.Points[0].Timestamp)

	rr = get(t, router, "/v1/targets/api/series?resolution=week", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = get(t, router, "/v1/targets/api/series?resolution=hour&periods=721", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = get(t, router, "/v1/targets/api/series?periods=abc", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChartWindow(t *testing.T) {
	tests := []struct {
		hours   int
		res     stats.Resolution
		periods int
	}{
		{1, stats.Minute, 60},
		{24, stats.Minute, 1440},
		{25, stats.Hour, 25},
		{720, stats.Hour, 720},
		{721, stats.Day, 31},
		{8760, stats.Day, 365},
	}
	for _, tt := range tests {
		res, periods := ChartWindow(tt.hours)
		require.Equal(t, tt.res, res, tt.hours)
		require.Equal(t, tt.periods, periods, tt.hours)
	}
}
