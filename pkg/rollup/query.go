package rollup

import (
	"fmt"
	"slices"

	"github.com/nicktill/tinyuptime/pkg/stats"
)

// Aggregate summarizes a window of buckets.
type Aggregate struct {
	Resolution stats.Resolution `json:"resolution"`
	Periods    int              `json:"periods"`
	Up         int              `json:"up"`
	Down       int              `json:"down"`

	// Uptime is up/(up+down) in [0, 1].
	Uptime float64 `json:"uptime"`

	// AvgLatency is nil when no UP sample in the window carried a latency.
	AvgLatency *float64 `json:"avg_latency"`

	// Fallback is set when the window was empty and the most recent bucket
	// was reported instead.
	Fallback bool `json:"fallback,omitempty"`
}

func (e *Engine) checkRange(res stats.Resolution, periods int) (*window, error) {
	w, err := e.window(res)
	if err != nil {
		return nil, err
	}
	if periods < 1 || periods > res.Capacity() {
		return nil, fmt.Errorf("%w: %d %s periods requested, max %d", ErrRangeExceeded, periods, res, res.Capacity())
	}
	return w, nil
}

// Aggregate reports uptime and mean latency over the last periods buckets of
// res, counting back from the current period. Missing periods count as no
// data. If the whole window is empty the most recent bucket held for res is
// reported instead, and if there is none the result has zero uptime and no
// latency.
func (e *Engine) Aggregate(res stats.Resolution, periods int) (Aggregate, error) {
	w, err := e.checkRange(res, periods)
	if err != nil {
		return Aggregate{}, err
	}

	agg := Aggregate{Resolution: res, Periods: periods}

	var (
		pings    int
		weighted float64
	)
	add := func(b *stats.Bucket) {
		agg.Up += b.Up
		agg.Down += b.Down
		if b.Pings > 0 {
			pings += b.Pings
			weighted += b.AvgLatency * float64(b.Pings)
		}
	}

	key := res.Key(e.clock.Now())
	step := res.StepSeconds()
	for i := 0; i < periods; i++ {
		if b, ok := w.buckets.Get(key); ok {
			add(b)
		}
		key -= step
	}

	if agg.Up+agg.Down == 0 {
		last, ok := w.newest()
		if !ok || last.Empty() {
			return agg, nil
		}
		agg.Fallback = true
		add(last)
	}

	agg.Uptime = float64(agg.Up) / float64(agg.Up+agg.Down)
	if pings > 0 {
		avg := weighted / float64(pings)
		agg.AvgLatency = &avg
	}
	return agg, nil
}

// Series returns copies of the buckets present in the last periods periods of
// res, oldest first. Periods without a bucket are omitted.
func (e *Engine) Series(res stats.Resolution, periods int) ([]stats.Bucket, error) {
	w, err := e.checkRange(res, periods)
	if err != nil {
		return nil, err
	}

	out := make([]stats.Bucket, 0, min(periods, w.buckets.Len()))
	key := res.Key(e.clock.Now())
	step := res.StepSeconds()
	for i := 0; i < periods; i++ {
		if b, ok := w.buckets.Get(key); ok {
			out = append(out, b.Clone())
		}
		key -= step
	}
	slices.Reverse(out)
	return out, nil
}

// Last24Hours aggregates the last 24 hour buckets.
func (e *Engine) Last24Hours() (Aggregate, error) { return e.Aggregate(stats.Hour, 24) }

// Last7Days aggregates the last 7 day buckets.
func (e *Engine) Last7Days() (Aggregate, error) { return e.Aggregate(stats.Day, 7) }

// Last30Days aggregates the last 30 day buckets.
func (e *Engine) Last30Days() (Aggregate, error) { return e.Aggregate(stats.Day, 30) }

// Last1Year aggregates the last 365 day buckets.
func (e *Engine) Last1Year() (Aggregate, error) { return e.Aggregate(stats.Day, 365) }

// AggregateByDuration parses s with ParseDuration and aggregates the result.
func (e *Engine) AggregateByDuration(s string) (Aggregate, error) {
	d, err := ParseDuration(s)
	if err != nil {
		return Aggregate{}, err
	}
	return e.Aggregate(d.Resolution, d.Periods)
}
