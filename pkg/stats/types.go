package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownResolution is returned for a resolution name other than minute,
// hour or day.
var ErrUnknownResolution = errors.New("unknown resolution")

// Resolution represents the granularity of a rolling window.
type Resolution string

const (
	Minute Resolution = "minute" // 24h of 1-minute buckets
	Hour   Resolution = "hour"   // 30d of 1-hour buckets
	Day    Resolution = "day"    // 365d of 1-day buckets
)

// Resolutions lists every resolution, finest first.
var Resolutions = []Resolution{Minute, Hour, Day}

// ParseResolution validates a resolution name.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case Minute, Hour, Day:
		return r, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownResolution, s)
}

// Index returns the position of r in Resolutions.
func (r Resolution) Index() int {
	switch r {
	case Minute:
		return 0
	case Hour:
		return 1
	case Day:
		return 2
	}
	return -1
}

// Step returns the bucket width.
func (r Resolution) Step() time.Duration {
	switch r {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	}
	return 0
}

// StepSeconds returns the bucket width in seconds.
func (r Resolution) StepSeconds() int64 {
	return int64(r.Step() / time.Second)
}

// Capacity is both the in-memory window size and the largest period count a
// query may ask for.
func (r Resolution) Capacity() int {
	switch r {
	case Minute:
		return 1440
	case Hour:
		return 720
	case Day:
		return 365
	}
	return 0
}

// Retention is the span of time the window covers.
func (r Resolution) Retention() time.Duration {
	return time.Duration(r.Capacity()) * r.Step()
}

// Key truncates t to the start of its period, in epoch seconds. Truncation is
// done in UTC for every resolution so a host timezone change cannot shift
// bucket boundaries.
func (r Resolution) Key(t time.Time) int64 {
	u := t.UTC()
	switch r {
	case Minute:
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), 0, 0, time.UTC).Unix()
	case Hour:
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC).Unix()
	case Day:
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix()
	}
	return u.Unix()
}

// HorizonKey is the oldest period key retained relative to now.
func (r Resolution) HorizonKey(now time.Time) int64 {
	return r.Key(now) - int64(r.Retention()/time.Second)
}

// Bucket stores aggregated counters for one target, one resolution and one
// truncated period.
type Bucket struct {
	PeriodKey   int64 `json:"timestamp"`
	Up          int   `json:"up"`
	Down        int   `json:"down"`
	Maintenance int   `json:"maintenance"`

	// Pings counts UP samples that carried a latency. The latency fields are
	// only meaningful while Pings > 0.
	Pings      int     `json:"pings"`
	AvgLatency float64 `json:"ping"`
	MinLatency float64 `json:"ping_min"`
	MaxLatency float64 `json:"ping_max"`

	// Extras holds forward-compatible numeric counters.
	Extras map[string]float64 `json:"extras,omitempty"`
}

// Time returns the period start.
func (b *Bucket) Time() time.Time {
	return time.Unix(b.PeriodKey, 0).UTC()
}

// Total returns the number of flattened samples.
func (b *Bucket) Total() int {
	return b.Up + b.Down
}

// Empty reports whether the bucket has seen no samples.
func (b *Bucket) Empty() bool {
	return b.Up == 0 && b.Down == 0
}

// Uptime returns up/(up+down), or 0 for an empty bucket.
func (b *Bucket) Uptime() float64 {
	if b.Empty() {
		return 0
	}
	return float64(b.Up) / float64(b.Total())
}

// Latency returns the mean latency if any UP sample carried one.
func (b *Bucket) Latency() (float64, bool) {
	if b.Pings == 0 {
		return 0, false
	}
	return b.AvgLatency, true
}

// Clone returns a deep copy.
func (b *Bucket) Clone() Bucket {
	c := *b
	if b.Extras != nil {
		c.Extras = make(map[string]float64, len(b.Extras))
		for k, v := range b.Extras {
			c.Extras[k] = v
		}
	}
	return c
}

// Extras keys used for typed counters that have no column of their own.
const (
	ExtraMaintenance = "maintenance"
	ExtraPings       = "pings"
)

// EncodeExtras serializes the extension map together with the typed counters
// that are persisted inside it.
func EncodeExtras(b Bucket) ([]byte, error) {
	out := make(map[string]float64, len(b.Extras)+2)
	for k, v := range b.Extras {
		out[k] = v
	}
	out[ExtraMaintenance] = float64(b.Maintenance)
	out[ExtraPings] = float64(b.Pings)
	return json.Marshal(out)
}

// DecodeExtras restores the typed counters and the extension map from a
// serialized extras blob. Rows written before the ping counter existed get
// Pings derived from the UP samples that were not maintenance.
func DecodeExtras(b *Bucket, data []byte) error {
	b.Maintenance = 0
	b.Pings = 0
	b.Extras = nil

	pingsSet := false
	if len(data) > 0 {
		var in map[string]float64
		if err := json.Unmarshal(data, &in); err != nil {
			return fmt.Errorf("decode extras: %w", err)
		}

		for k, v := range in {
			switch k {
			case ExtraMaintenance:
				b.Maintenance = int(v)
			case ExtraPings:
				b.Pings = int(v)
				pingsSet = true
			default:
				if b.Extras == nil {
					b.Extras = make(map[string]float64)
				}
				b.Extras[k] = v
			}
		}
	}

	if !pingsSet {
		b.Pings = b.Up - b.Maintenance
	}
	if b.Pings < 0 {
		b.Pings = 0
	}
	return nil
}
