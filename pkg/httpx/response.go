// Package httpx holds the JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/rollup"
	"github.com/nicktill/tinyuptime/pkg/stats"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Component("http").Warn("failed to encode JSON response", "error", err)
	}
}

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`

	// Applied is set when the request changed in-memory state before it
	// failed. Clients must not resend it.
	Applied bool `json:"applied,omitempty"`
}

// RespondError writes an error response with the given status code.
func RespondError(w http.ResponseWriter, status int, err error) {
	RespondErrorString(w, status, err.Error())
}

// RespondErrorString writes an error response with the given status code and message.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// StatusFor maps rollup and registry errors onto HTTP status codes. Caller
// mistakes are 400; storage trouble is 503 so clients treat statistics as
// temporarily unavailable.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, rollup.ErrInvalidStatus),
		errors.Is(err, rollup.ErrRangeExceeded),
		errors.Is(err, rollup.ErrInvalidDurationFormat),
		errors.Is(err, rollup.ErrUnsupportedDurationUnit),
		errors.Is(err, stats.ErrUnknownResolution),
		errors.Is(err, registry.ErrEmptyTarget):
		return http.StatusBadRequest
	case errors.Is(err, rollup.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondDomainError writes err with the status chosen by StatusFor. Updates
// that reached memory but not storage are flagged as applied.
func RespondDomainError(w http.ResponseWriter, err error) {
	respondDomain(w, err, errors.Is(err, rollup.ErrNotPersisted))
}

// RespondAppliedError is RespondDomainError for a request that is known to
// have changed state before err.
func RespondAppliedError(w http.ResponseWriter, err error) {
	respondDomain(w, err, true)
}

func respondDomain(w http.ResponseWriter, err error, applied bool) {
	status := StatusFor(err)
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Applied: applied,
	})
}
