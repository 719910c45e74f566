package ingest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/nicktill/tinyuptime/pkg/config"
)

var (
	// ErrTargetIDEmpty is returned when the target id path segment is empty.
	ErrTargetIDEmpty = errors.New("target id cannot be empty")

	// ErrTargetIDTooLong is returned when a target id exceeds the length limit.
	ErrTargetIDTooLong = fmt.Errorf("target id too long (max %d chars)", config.IngestMaxTargetIDLen)

	// ErrTargetIDInvalid is returned for ids with whitespace or control characters.
	ErrTargetIDInvalid = errors.New("target id contains whitespace or control characters")

	// ErrLatencyOutOfRange is returned for negative, non-finite or absurd latencies.
	ErrLatencyOutOfRange = fmt.Errorf("latency_ms must be between 0 and %d", config.IngestMaxLatencyMs)
)

// ValidateTargetID checks a target id before it reaches the registry.
func ValidateTargetID(id string) error {
	if id == "" {
		return ErrTargetIDEmpty
	}
	if len(id) > config.IngestMaxTargetIDLen {
		return fmt.Errorf("%w: %d chars", ErrTargetIDTooLong, len(id))
	}
	if strings.IndexFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return fmt.Errorf("%w: %q", ErrTargetIDInvalid, id)
	}
	return nil
}

// ValidateLatency checks an optional latency in milliseconds.
func ValidateLatency(latency *float64) error {
	if latency == nil {
		return nil
	}
	v := *latency
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > config.IngestMaxLatencyMs {
		return fmt.Errorf("%w: got %v", ErrLatencyOutOfRange, v)
	}
	return nil
}
