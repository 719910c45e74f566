package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/ordmap"
	"github.com/nicktill/tinyuptime/pkg/stats"
	"github.com/nicktill/tinyuptime/pkg/status"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

// Clock supplies the current time. Tests swap it to simulate arbitrary instants.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// window is one resolution's rolling set of buckets. Buckets are kept in
// period order so eviction always drops the oldest period, whatever order
// samples arrive in.
type window struct {
	res     stats.Resolution
	buckets *ordmap.Map[int64, *stats.Bucket]

	// last is the bucket touched most recently. It only saves a map lookup
	// for consecutive samples in the same period.
	last *stats.Bucket
}

func newWindow(res stats.Resolution, log *slog.Logger) *window {
	w := &window{res: res}
	w.buckets = ordmap.New(res.Capacity(), func(key int64, b *stats.Bucket) {
		if w.last == b {
			w.last = nil
		}
		log.Debug("bucket evicted", "resolution", res, "period", key)
	})
	return w
}

// bucket returns the bucket for key, creating an empty one when the period
// has not been seen. It returns nil when the window is full and key is older
// than every period held: that period was already evicted and must not be
// rebuilt from zero.
func (w *window) bucket(key int64) *stats.Bucket {
	if w.last != nil && w.last.PeriodKey == key {
		return w.last
	}

	b, ok := w.buckets.Get(key)
	if !ok {
		if first, ok := w.buckets.FirstKey(); ok && key < first && w.buckets.Len() >= w.buckets.Cap() {
			return nil
		}
		b = &stats.Bucket{PeriodKey: key}
		w.insert(b)
	}
	w.last = b
	return b
}

// insert adds a bucket whose key is not held yet, keeping period order.
func (w *window) insert(b *stats.Bucket) {
	newest, ok := w.buckets.LastKey()
	if !ok || b.PeriodKey > newest {
		w.buckets.Push(b.PeriodKey, b)
		return
	}

	// Backfill: rebuild around the new key. Push evicts the smallest period
	// if the window overflows.
	held := make([]*stats.Bucket, 0, w.buckets.Len()+1)
	for {
		e, ok := w.buckets.Shift()
		if !ok {
			break
		}
		held = append(held, e.Value)
	}
	i := sort.Search(len(held), func(i int) bool { return held[i].PeriodKey > b.PeriodKey })
	held = append(held, nil)
	copy(held[i+1:], held[i:])
	held[i] = b
	for _, h := range held {
		w.buckets.Push(h.PeriodKey, h)
	}
}

// newest returns the bucket with the greatest period key.
func (w *window) newest() (*stats.Bucket, bool) {
	return w.buckets.Last()
}

// Engine maintains minute, hour and day rollups for one target.
//
// An Engine is not safe for concurrent use: callers must serialize every
// operation on the same target. Different engines share nothing.
type Engine struct {
	targetID  string
	gateway   storage.Gateway
	clock     Clock
	log       *slog.Logger
	windows   [3]*window
	migration bool
}

// New creates the engine for targetID and pre-populates its windows from the
// gateway, bounded by each resolution's retention horizon.
func New(ctx context.Context, targetID string, gateway storage.Gateway, opts ...Option) (*Engine, error) {
	e := &Engine{
		targetID: targetID,
		gateway:  gateway,
		clock:    SystemClock,
		log:      logging.Component("rollup"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("target", targetID)

	for i, res := range stats.Resolutions {
		e.windows[i] = newWindow(res, e.log)
	}

	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	now := e.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range e.windows {
		w := w
		g.Go(func() error {
			rows, err := e.gateway.LoadBuckets(gctx, e.targetID, w.res, w.res.HorizonKey(now))
			if err != nil {
				return fmt.Errorf("%w: load %s buckets: %w", ErrPersistence, w.res, err)
			}
			for i := range rows {
				b := rows[i]
				if _, ok := w.buckets.Get(b.PeriodKey); !ok {
					w.insert(&b)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.log.Debug("engine loaded",
		"minute", e.windows[0].buckets.Len(),
		"hour", e.windows[1].buckets.Len(),
		"day", e.windows[2].buckets.Len())
	return nil
}

// TargetID returns the target this engine aggregates.
func (e *Engine) TargetID() string { return e.targetID }

// SetMigrationMode toggles bulk-backfill mode. While enabled, buckets older
// than their resolution's retention horizon are not persisted and the
// retention sweep is skipped.
func (e *Engine) SetMigrationMode(enabled bool) { e.migration = enabled }

// MigrationMode reports whether bulk-backfill mode is enabled.
func (e *Engine) MigrationMode() bool { return e.migration }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.clock.Now() }

func (e *Engine) window(res stats.Resolution) (*window, error) {
	i := res.Index()
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolution, res)
	}
	return e.windows[i], nil
}

// Update folds one check result into all three resolutions and persists the
// touched buckets. A zero at means now. It returns the timestamp used.
//
// The status is validated before any bucket is touched. A persistence error
// is returned after the in-memory update; storage catches up on the next
// successful write of the same bucket.
//
// A resolution whose window is full ignores samples older than every period
// it holds, so a backfill never displaces newer buckets.
func (e *Engine) Update(ctx context.Context, code status.Code, latency *float64, at time.Time) (time.Time, error) {
	if at.IsZero() {
		at = e.clock.Now()
	}

	sample, err := status.Classify(code, latency, at)
	if err != nil {
		return time.Time{}, err
	}

	var touched [3]*stats.Bucket
	for i, w := range e.windows {
		b := w.bucket(w.res.Key(sample.Time))
		if b == nil {
			e.log.Debug("sample older than window", "resolution", w.res, "at", sample.Time)
			continue
		}
		apply(b, sample)
		touched[i] = b
	}

	now := e.clock.Now()
	for i, w := range e.windows {
		b := touched[i]
		if b == nil {
			continue
		}
		if e.migration && b.PeriodKey < w.res.HorizonKey(now) {
			continue
		}
		if err := e.gateway.UpsertBucket(ctx, e.targetID, w.res, b.Clone()); err != nil {
			return at, fmt.Errorf("%w: upsert %s bucket %d: %w", ErrNotPersisted, w.res, b.PeriodKey, err)
		}
	}

	if !e.migration {
		if err := e.Sweep(ctx); err != nil {
			return at, err
		}
	}

	return at, nil
}

// Sweep deletes persisted minute and hour buckets older than their retention
// horizon. Day buckets are only bounded by the in-memory window.
func (e *Engine) Sweep(ctx context.Context) error {
	now := e.clock.Now()
	for _, res := range []stats.Resolution{stats.Minute, stats.Hour} {
		if err := e.gateway.DeleteBucketsBefore(ctx, e.targetID, res, res.HorizonKey(now)); err != nil {
			return fmt.Errorf("%w: sweep %s buckets: %w", ErrNotPersisted, res, err)
		}
	}
	return nil
}

// apply adds one sample to a bucket. Maintenance counts as available but is
// tracked separately and never contributes latency. DOWN samples ignore any
// latency they carry.
func apply(b *stats.Bucket, s status.Sample) {
	switch {
	case s.Maintenance:
		b.Up++
		b.Maintenance++
	case s.Flat == status.Up:
		b.Up++
		if s.Latency == nil || math.IsNaN(*s.Latency) || math.IsInf(*s.Latency, 0) {
			return
		}
		l := *s.Latency
		b.Pings++
		if b.Pings == 1 {
			b.AvgLatency = l
			b.MinLatency = l
			b.MaxLatency = l
			return
		}
		b.AvgLatency = (b.AvgLatency*float64(b.Pings-1) + l) / float64(b.Pings)
		b.MinLatency = math.Min(b.MinLatency, l)
		b.MaxLatency = math.Max(b.MaxLatency, l)
	default:
		b.Down++
	}
}

// Bucket returns a copy of the bucket for the period containing t.
func (e *Engine) Bucket(res stats.Resolution, t time.Time) (stats.Bucket, bool) {
	w, err := e.window(res)
	if err != nil {
		return stats.Bucket{}, false
	}
	b, ok := w.buckets.Get(res.Key(t))
	if !ok {
		return stats.Bucket{}, false
	}
	return b.Clone(), true
}

// Buckets returns copies of every bucket held for res, oldest period first.
func (e *Engine) Buckets(res stats.Resolution) ([]stats.Bucket, error) {
	w, err := e.window(res)
	if err != nil {
		return nil, err
	}

	keys := w.buckets.Keys()
	out := make([]stats.Bucket, 0, len(keys))
	for _, key := range keys {
		b, _ := w.buckets.Get(key)
		out = append(out, b.Clone())
	}
	return out, nil
}

// Len returns the number of buckets held in memory for res.
func (e *Engine) Len(res stats.Resolution) int {
	w, err := e.window(res)
	if err != nil {
		return 0
	}
	return w.buckets.Len()
}
