package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/httpx"
	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/status"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

// StorageChecker reports whether the durable store is over its size limit.
type StorageChecker interface {
	Exceeded() bool
}

// RateLimitRecorder counts rejected requests.
type RateLimitRecorder interface {
	RateLimited(route string)
}

// Handler accepts check results and target deletions.
type Handler struct {
	registry *registry.Registry
	gateway  storage.Gateway
	limiter  *rate.Limiter
	log      *slog.Logger

	storageChecker StorageChecker
	rateRecorder   RateLimitRecorder
	onDelete       []func(targetID string)
}

// NewHandler creates an ingest handler. ratePerSec <= 0 disables rate
// limiting.
func NewHandler(reg *registry.Registry, gateway storage.Gateway, ratePerSec float64, burst int) *Handler {
	h := &Handler{
		registry: reg,
		gateway:  gateway,
		log:      logging.Component("ingest"),
	}
	if ratePerSec > 0 {
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	return h
}

// SetStorageChecker rejects heartbeats while the store is over its limit.
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// SetRateLimitRecorder reports rejected requests to rec.
func (h *Handler) SetRateLimitRecorder(rec RateLimitRecorder) {
	h.rateRecorder = rec
}

// OnDelete registers a callback run after a target is deleted.
func (h *Handler) OnDelete(fn func(targetID string)) {
	h.onDelete = append(h.onDelete, fn)
}

// StatusValue accepts a status as a name ("up") or a numeric code (1).
type StatusValue struct {
	status.Code
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StatusValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		raw = unquoted
	}

	code, err := status.Parse(raw)
	if err != nil {
		return err
	}
	s.Code = code
	return nil
}

// HeartbeatRequest is the body of POST /v1/targets/{id}/heartbeats.
type HeartbeatRequest struct {
	Status    *StatusValue `json:"status"`
	LatencyMs *float64     `json:"latency_ms,omitempty"`
	Timestamp *time.Time   `json:"timestamp,omitempty"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Status    string `json:"status"`
	Target    string `json:"target"`
	Reported  string `json:"reported"`
	Timestamp int64  `json:"timestamp"`
}

// DeleteResponse acknowledges a target deletion.
type DeleteResponse struct {
	Status        string `json:"status"`
	Target        string `json:"target"`
	EngineRemoved bool   `json:"engine_removed"`
}

func (h *Handler) allow(route string, w http.ResponseWriter) bool {
	if h.limiter == nil || h.limiter.Allow() {
		return true
	}
	if h.rateRecorder != nil {
		h.rateRecorder.RateLimited(route)
	}
	w.Header().Set("Retry-After", "1")
	httpx.RespondErrorString(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// HandleHeartbeat handles POST /v1/targets/{id}/heartbeats.
func (h *Handler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !h.allow("heartbeats", w) {
		return
	}

	id := mux.Vars(r)["id"]
	if err := ValidateTargetID(id); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	if h.storageChecker != nil && h.storageChecker.Exceeded() {
		httpx.RespondErrorString(w, http.StatusInsufficientStorage, "storage limit exceeded")
		return
	}

	var req HeartbeatRequest
	r.Body = http.MaxBytesReader(w, r.Body, config.IngestMaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid heartbeat: %w", err))
		return
	}
	if req.Status == nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "status is required")
		return
	}
	if err := ValidateLatency(req.LatencyMs); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	var at time.Time
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	used, err := h.registry.Update(ctx, id, req.Status.Code, req.LatencyMs, at)
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.log.Warn("heartbeat not persisted", "target", id, "error", err)
		}
		httpx.RespondDomainError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusAccepted, HeartbeatResponse{
		Status:    "accepted",
		Target:    id,
		Reported:  req.Status.Code.String(),
		Timestamp: used.Unix(),
	})
}

// HandleDeleteTarget handles DELETE /v1/targets/{id}. The durable delete runs
// under the target's lock, so writes wait for it and start from empty storage.
func (h *Handler) HandleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := ValidateTargetID(id); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.DeleteTargetTimeout)
	defer cancel()

	removed, err := h.registry.Delete(ctx, id, func(ctx context.Context) error {
		return h.gateway.DeleteTarget(ctx, id)
	})
	if err != nil {
		h.log.Error("delete target failed", "target", id, "error", err)
		httpx.RespondError(w, http.StatusServiceUnavailable, fmt.Errorf("delete target %s: %w", id, err))
		return
	}

	for _, fn := range h.onDelete {
		fn(id)
	}

	h.log.Info("target deleted", "target", id, "engine_removed", removed)
	httpx.RespondJSON(w, http.StatusOK, DeleteResponse{
		Status:        "deleted",
		Target:        id,
		EngineRemoved: removed,
	})
}
