package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/rollup"
	"github.com/nicktill/tinyuptime/pkg/stats"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", rollup.ErrInvalidStatus), http.StatusBadRequest},
		{rollup.ErrRangeExceeded, http.StatusBadRequest},
		{rollup.ErrInvalidDurationFormat, http.StatusBadRequest},
		{rollup.ErrUnsupportedDurationUnit, http.StatusBadRequest},
		{stats.ErrUnknownResolution, http.StatusBadRequest},
		{registry.ErrEmptyTarget, http.StatusBadRequest},
		{fmt.Errorf("%w: sweep: boom", rollup.ErrPersistence), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRespondDomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondDomainError(rec, fmt.Errorf("%w: 1441 minute periods", rollup.ErrRangeExceeded))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "Bad Request", body.Error)
	require.Contains(t, body.Message, "1441")
}
