// Package telemetry exposes Prometheus metrics for updates, engines and the
// HTTP API.
package telemetry

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/rollup"
)

const namespace = "tinyuptime"

var histogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds the collectors. The zero value is not usable; use New.
type Metrics struct {
	updates        *prometheus.CounterVec
	updateErrors   *prometheus.CounterVec
	replayed       prometheus.Counter
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. engines reports the
// number of loaded engines at scrape time and may be nil.
func New(reg prometheus.Registerer, engines func() int) (*Metrics, error) {
	m := &Metrics{
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Check results folded into rollups, by reported status.",
		}, []string{"status"}),
		updateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_errors_total",
			Help:      "Failed updates, by kind.",
		}, []string{"kind"}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_samples_total",
			Help:      "Historical samples applied through backfill.",
		}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers.",
			Buckets:   histogramBuckets,
		}, []string{"method", "route"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses.",
		}, []string{"route"}),
	}

	collectors := []prometheus.Collector{
		m.updates, m.updateErrors, m.replayed,
		m.requestTotal, m.requestLatency, m.rateLimitHits,
	}
	if engines != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engines",
			Help:      "Targets with a loaded rollup engine.",
		}, func() float64 { return float64(engines()) }))
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ErrorKind classifies an update error for the kind label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rollup.ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, rollup.ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}

// ObserveUpdate records one registry event. It has the registry.Observer
// signature.
func (m *Metrics) ObserveUpdate(ev registry.Event) {
	if ev.Samples > 1 {
		m.replayed.Add(float64(ev.Samples))
	} else {
		label := "invalid"
		if ev.Status.Valid() {
			label = ev.Status.String()
		}
		m.updates.WithLabelValues(label).Inc()
	}
	if ev.Err != nil {
		m.updateErrors.WithLabelValues(ErrorKind(ev.Err)).Inc()
	}
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited(route string) {
	m.rateLimitHits.WithLabelValues(route).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware records request counts and latency labelled by the matched mux
// route template, so target ids never become label values.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		m.requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.requestLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
