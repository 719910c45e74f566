// Package registry owns one rollup.Engine per monitored target.
//
// Engines are created lazily on first write and pre-populated from the
// storage gateway. Concurrent first accesses for the same target share one
// load. Every operation on a target runs under that target's lock, so engines
// never see concurrent calls. Reads of a target that is not loaded go through
// a transient engine and never register one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/rollup"
	"github.com/nicktill/tinyuptime/pkg/status"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

// ErrEmptyTarget is returned for an empty target id.
var ErrEmptyTarget = errors.New("empty target id")

// Event describes one update attempt that reached an engine. Err is nil on
// success. A persistence error still means the in-memory state changed.
type Event struct {
	TargetID string
	Status   status.Code
	Time     time.Time
	Samples  int // >1 for a replayed backfill
	Err      error
}

// Observer is notified after every update attempt. Observers run on the
// caller's goroutine after the target lock is released and must not block.
type Observer func(Event)

// Sample is one historical check result for Replay.
type Sample struct {
	Status  status.Code
	Latency *float64
	Time    time.Time
}

// ReplayResult summarizes a backfill.
type ReplayResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// entry holds one target's engine. engine is nil for the placeholder Delete
// installs while purging a target that was never loaded. dead is set under mu
// once the entry has left the map; holders must look the target up again.
type entry struct {
	mu     sync.Mutex
	engine *rollup.Engine
	dead   bool
}

// Registry maps target ids to engines.
type Registry struct {
	gateway    storage.Gateway
	engineOpts []rollup.Option
	log        *slog.Logger

	mu        sync.RWMutex
	entries   map[string]*entry
	observers []Observer
	deletes   uint64 // bumped when a delete starts and ends

	loads singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithEngineOptions passes options to every engine the registry creates.
func WithEngineOptions(opts ...rollup.Option) Option {
	return func(r *Registry) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates an empty registry backed by gateway.
func New(gateway storage.Gateway, opts ...Option) *Registry {
	r := &Registry{
		gateway: gateway,
		log:     logging.Component("registry"),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnUpdate registers an observer.
func (r *Registry) OnUpdate(fn Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

func (r *Registry) notify(ev Event) {
	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) entry(ctx context.Context, id string) (*entry, error) {
	if id == "" {
		return nil, ErrEmptyTarget
	}
	if en := r.lookup(id); en != nil {
		return en, nil
	}

	v, err, _ := r.loads.Do(id, func() (any, error) {
		for {
			if en := r.lookup(id); en != nil {
				return en, nil
			}

			r.mu.RLock()
			gen := r.deletes
			r.mu.RUnlock()

			start := time.Now()
			engine, err := rollup.New(ctx, id, r.gateway, r.engineOpts...)
			if err != nil {
				return nil, err
			}

			en := &entry{engine: engine}
			r.mu.Lock()
			if cur := r.entries[id]; cur != nil {
				r.mu.Unlock()
				return cur, nil
			}
			if r.deletes != gen {
				// A delete ran during the load; the rows read may be gone.
				r.mu.Unlock()
				continue
			}
			r.entries[id] = en
			r.mu.Unlock()

			r.log.Debug("engine created", "target", id, "took", time.Since(start))
			return en, nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("load target %s: %w", id, err)
	}
	return v.(*entry), nil
}

// GetOrCreate returns the engine for id, loading it on first access. The
// engine is not locked; use With for anything that reads or mutates it.
func (r *Registry) GetOrCreate(ctx context.Context, id string) (*rollup.Engine, error) {
	var engine *rollup.Engine
	err := r.With(ctx, id, func(e *rollup.Engine) error {
		engine = e
		return nil
	})
	return engine, err
}

// With runs fn with exclusive access to the engine for id, loading it on
// first access.
func (r *Registry) With(ctx context.Context, id string, fn func(*rollup.Engine) error) error {
	for {
		en, err := r.entry(ctx, id)
		if err != nil {
			return err
		}

		en.mu.Lock()
		if en.dead {
			en.mu.Unlock()
			continue
		}
		defer en.mu.Unlock()
		return fn(en.engine)
	}
}

// View runs fn on the engine for id without registering one. A loaded target
// is read under its lock; any other target is read through a transient engine
// built from storage, which shows zero stats for an unknown id.
func (r *Registry) View(ctx context.Context, id string, fn func(*rollup.Engine) error) error {
	if id == "" {
		return ErrEmptyTarget
	}

	for en := r.lookup(id); en != nil; en = r.lookup(id) {
		en.mu.Lock()
		if en.dead {
			en.mu.Unlock()
			continue
		}
		err := fn(en.engine)
		en.mu.Unlock()
		return err
	}

	engine, err := rollup.New(ctx, id, r.gateway, r.engineOpts...)
	if err != nil {
		return fmt.Errorf("load target %s: %w", id, err)
	}
	return fn(engine)
}

// Update records one check result for id. A zero at means now.
func (r *Registry) Update(ctx context.Context, id string, code status.Code, latency *float64, at time.Time) (time.Time, error) {
	var used time.Time
	err := r.With(ctx, id, func(e *rollup.Engine) error {
		var err error
		used, err = e.Update(ctx, code, latency, at)
		return err
	})

	if err != nil && !errors.Is(err, rollup.ErrInvalidStatus) && !errors.Is(err, rollup.ErrNotPersisted) {
		// The engine could not be loaded; nothing was attempted.
		return used, err
	}
	if err != nil {
		r.log.Warn("update failed", "target", id, "status", code, "error", err)
	}

	r.notify(Event{TargetID: id, Status: code, Time: used, Samples: 1, Err: err})
	return used, err
}

// Replay folds historical samples into id in migration mode, oldest first.
// Samples with an invalid status are skipped. A persistence failure stops the
// replay. Migration mode is always switched off again and a retention sweep
// runs once at the end.
func (r *Registry) Replay(ctx context.Context, id string, samples []Sample) (ReplayResult, error) {
	ordered := slices.Clone(samples)
	slices.SortStableFunc(ordered, func(a, b Sample) int {
		return a.Time.Compare(b.Time)
	})

	var (
		result ReplayResult
		last   Sample
	)
	err := r.With(ctx, id, func(e *rollup.Engine) error {
		e.SetMigrationMode(true)
		defer e.SetMigrationMode(false)

		for _, s := range ordered {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := e.Update(ctx, s.Status, s.Latency, s.Time); err != nil {
				if errors.Is(err, rollup.ErrInvalidStatus) {
					result.Skipped++
					continue
				}
				return err
			}
			result.Applied++
			last = s
		}

		e.SetMigrationMode(false)
		return e.Sweep(ctx)
	})

	r.log.Info("replay finished", "target", id, "applied", result.Applied, "skipped", result.Skipped, "error", err)
	if result.Applied > 0 {
		r.notify(Event{TargetID: id, Status: last.Status, Time: last.Time, Samples: result.Applied, Err: err})
	}
	return result, err
}

// Delete drops the engine for id and runs purge, if not nil, while holding
// the target's lock. No write for id can land until purge returns, and the
// next access rebuilds the engine from whatever purge left in storage. It
// reports whether an engine was loaded.
func (r *Registry) Delete(ctx context.Context, id string, purge func(context.Context) error) (bool, error) {
	if id == "" {
		return false, ErrEmptyTarget
	}

	for {
		r.mu.Lock()
		r.deletes++
		en, loaded := r.entries[id]
		if !loaded {
			// Placeholder so loads and writes for id wait on the purge.
			en = &entry{}
			en.mu.Lock()
			r.entries[id] = en
		}
		r.mu.Unlock()

		if loaded {
			en.mu.Lock()
			if en.dead {
				en.mu.Unlock()
				continue
			}
		}

		var err error
		if purge != nil {
			err = purge(ctx)
		}

		en.dead = true
		r.mu.Lock()
		r.deletes++
		if r.entries[id] == en {
			delete(r.entries, id)
		}
		r.mu.Unlock()
		en.mu.Unlock()

		loaded = loaded && en.engine != nil
		if loaded {
			r.log.Debug("engine removed", "target", id)
		}
		return loaded, err
	}
}

// Remove drops the in-memory engine for id. Durable rows are left alone.
func (r *Registry) Remove(id string) bool {
	removed, _ := r.Delete(context.Background(), id, nil)
	return removed
}

// Len returns the number of loaded engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, en := range r.entries {
		if en.engine != nil {
			n++
		}
	}
	return n
}

// IDs returns the loaded target ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id, en := range r.entries {
		if en.engine != nil {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
