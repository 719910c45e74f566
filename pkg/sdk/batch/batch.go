package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ErrFull is returned by Add when the spool holds MaxSize items.
var ErrFull = errors.New("spool is full")

// Config holds configuration for the spool
type Config struct {
	MaxSize     int
	FlushEvery  time.Duration
	SendTimeout time.Duration

	// Retry reports whether items whose send failed with err should be kept
	// for the next flush. Nil keeps them on every error.
	Retry func(err error) bool
}

// SendFunc delivers the items buffered under one key.
type SendFunc[T any] func(ctx context.Context, key string, items []T) error

// Spool buffers items per key and delivers them periodically. Items stay in
// insertion order within a key.
type Spool[T any] struct {
	config Config
	send   SendFunc[T]

	pending map[string][]T
	size    int
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool
	dropped  atomic.Int64
}

// New creates a new spool
func New[T any](send SendFunc[T], config Config) *Spool[T] {
	if config.MaxSize <= 0 {
		config.MaxSize = 10000
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 30 * time.Second
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	return &Spool[T]{
		config:  config,
		send:    send,
		pending: make(map[string][]T),
		done:    make(chan struct{}),
	}
}

// Start starts the flush loop
func (s *Spool[T]) Start(ctx context.Context) error {
	if s.cancel != nil {
		return errors.New("spool already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.flushLoop()
	return nil
}

// Add buffers item under key.
func (s *Spool[T]) Add(key string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size >= s.config.MaxSize {
		s.dropped.Add(1)
		return ErrFull
	}
	s.pending[key] = append(s.pending[key], item)
	s.size++
	return nil
}

// Len returns the number of buffered items.
func (s *Spool[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Dropped returns how many items were rejected because the spool was full.
func (s *Spool[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Flush sends everything buffered, one call per key in key order. Failed
// keys are put back when Retry allows it.
func (s *Spool[T]) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.size == 0 {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.pending
	s.pending = make(map[string][]T)
	s.size = 0
	s.mu.Unlock()

	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var errs []error
	for _, key := range keys {
		items := snapshot[key]

		sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
		err := s.send(sendCtx, key, items)
		cancel()
		if err == nil {
			continue
		}

		errs = append(errs, fmt.Errorf("%s: %w", key, err))
		if s.config.Retry == nil || s.config.Retry(err) {
			s.requeue(key, items)
		}
	}
	return errors.Join(errs...)
}

// requeue puts items back ahead of anything added since the snapshot,
// dropping the oldest when that would exceed MaxSize.
func (s *Spool[T]) requeue(key string, items []T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.config.MaxSize - s.size
	if room <= 0 {
		s.dropped.Add(int64(len(items)))
		return
	}
	if len(items) > room {
		s.dropped.Add(int64(len(items) - room))
		items = items[len(items)-room:]
	}
	s.pending[key] = append(slices.Clone(items), s.pending[key]...)
	s.size += len(items)
}

// Stop stops the flush loop and makes a final delivery attempt.
func (s *Spool[T]) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
		// Wait for flush loop to finish
		<-s.done
	}
	return s.Flush(ctx)
}

// flushLoop periodically flushes buffered items
func (s *Spool[T]) flushLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			// Only flush if no flush is already running
			if s.flushing.CompareAndSwap(false, true) {
				_ = s.Flush(s.ctx)
				s.flushing.Store(false)
			}
		}
	}
}
