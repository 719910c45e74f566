package rollup

import (
	"errors"
	"fmt"

	"github.com/nicktill/tinyuptime/pkg/stats"
	"github.com/nicktill/tinyuptime/pkg/status"
)

var (
	// ErrInvalidStatus is returned by Update for an unknown status code. No
	// bucket is touched when it is returned.
	ErrInvalidStatus = status.ErrInvalidStatus

	// ErrRangeExceeded is returned when a query asks for more periods than a
	// resolution retains.
	ErrRangeExceeded = errors.New("query range exceeded")

	// ErrInvalidDurationFormat is returned when a duration string has no
	// usable magnitude.
	ErrInvalidDurationFormat = errors.New("invalid duration format")

	// ErrUnsupportedDurationUnit is returned for a unit outside m, h, d, w, M, y.
	ErrUnsupportedDurationUnit = errors.New("unsupported duration unit")

	// ErrPersistence wraps gateway failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotPersisted is the ErrPersistence returned by Update and Sweep. The
	// in-memory state has already changed when it is returned, so the same
	// sample must not be sent again.
	ErrNotPersisted = fmt.Errorf("%w: kept in memory only", ErrPersistence)

	// ErrUnknownResolution is returned for a resolution the engine does not keep.
	ErrUnknownResolution = stats.ErrUnknownResolution
)
