package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/httpx"
	"github.com/nicktill/tinyuptime/pkg/ingest"
	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/stats"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	log      *slog.Logger
}

// NewHandler creates a new export/import handler
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{
		exporter: NewExporter(reg),
		importer: NewImporter(reg),
		log:      logging.Component("export"),
	}
}

// HandleExport handles GET /v1/targets/{id}/export
// Query params:
//   - resolution: minute, hour or day (default: day)
//   - format: json, csv or parquet (default: json)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := ingest.ValidateTargetID(id); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = FormatJSON
	}
	if !ValidFormat(format) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "invalid format, must be json, csv or parquet")
		return
	}

	res := stats.Day
	if s := query.Get("resolution"); s != "" {
		parsed, err := stats.ParseResolution(s)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}
		res = parsed
	}

	opts := ExportOptions{Target: id, Resolution: res, Format: format}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	// Load before writing headers so storage errors still get a status code
	buckets, err := h.exporter.Buckets(ctx, opts)
	if err != nil {
		h.log.Error("export failed", "target", id, "error", err)
		httpx.RespondDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-%s.%s", id, res, format))

	result, err := h.exporter.write(w, opts, buckets)
	if err != nil {
		// Headers are already out; all we can do is log.
		h.log.Error("export write failed", "target", id, "error", err)
		return
	}

	h.log.Info("exported buckets", "target", id, "resolution", res, "format", format, "buckets", result.BucketsExported)
}

// HandleImport handles POST /v1/targets/{id}/import. The body is a JSON
// array of heartbeats, each with a required timestamp.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := ingest.ValidateTargetID(id); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.ImportMaxBodyBytes)
	heartbeats, err := Decode(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, ErrTooManySamples) {
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.ImportTimeout)
	defer cancel()

	result, err := h.importer.Import(ctx, id, heartbeats)
	if err != nil {
		h.log.Error("import failed", "target", id, "applied", result.Applied, "error", err)
		// Part of the batch is already counted; a resend would count it twice.
		if result != nil && result.Applied > 0 {
			httpx.RespondAppliedError(w, err)
			return
		}
		httpx.RespondDomainError(w, err)
		return
	}

	if len(result.Errors) > 0 {
		h.log.Warn("import completed with invalid heartbeats", "target", id, "skipped", result.Skipped)
	}
	h.log.Info("imported heartbeats", "target", id, "applied", result.Applied, "time_range", result.TimeRange)

	httpx.RespondJSON(w, http.StatusOK, result)
}
