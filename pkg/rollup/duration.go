package rollup

import (
	"fmt"
	"strconv"

	"github.com/nicktill/tinyuptime/pkg/stats"
)

// Duration is a query window expressed as a period count at a resolution.
type Duration struct {
	Resolution stats.Resolution
	Periods    int
}

// ParseDuration converts "<int><unit>" into a resolution and period count.
//
//	m  minutes     -> minute x n
//	h  hours       -> hour x n
//	d  days        -> day x n
//	w  weeks       -> day x 7n
//	M  months      -> day x 30n
//	y  years       -> day x 365n
//
// Plain units are range-checked by Aggregate. Scaled units are checked here,
// before multiplying, so huge magnitudes cannot wrap around.
func ParseDuration(s string) (Duration, error) {
	if len(s) < 2 {
		return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 1 {
		return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
	}

	switch unit := s[len(s)-1]; unit {
	case 'm':
		return Duration{stats.Minute, n}, nil
	case 'h':
		return Duration{stats.Hour, n}, nil
	case 'd':
		return Duration{stats.Day, n}, nil
	case 'w':
		return scaledDays(s, n, 7)
	case 'M':
		return scaledDays(s, n, 30)
	case 'y':
		return scaledDays(s, n, 365)
	default:
		return Duration{}, fmt.Errorf("%w: %q", ErrUnsupportedDurationUnit, string(unit))
	}
}

func scaledDays(s string, n, days int) (Duration, error) {
	if limit := stats.Day.Capacity(); n > limit/days {
		return Duration{}, fmt.Errorf("%w: %q is more than %d days", ErrRangeExceeded, s, limit)
	}
	return Duration{stats.Day, n * days}, nil
}

// String renders d back in its canonical unit.
func (d Duration) String() string {
	switch d.Resolution {
	case stats.Minute:
		return strconv.Itoa(d.Periods) + "m"
	case stats.Hour:
		return strconv.Itoa(d.Periods) + "h"
	}
	return strconv.Itoa(d.Periods) + "d"
}
