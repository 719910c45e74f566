package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nicktill/tinyuptime/pkg/stats"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

type tableKey struct {
	target string
	res    stats.Resolution
}

// Storage stores buckets in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	tables map[tableKey]map[int64]stats.Bucket
	closed bool
	mu     sync.RWMutex

	// FailWrites, when set, is returned by UpsertBucket and
	// DeleteBucketsBefore. Tests use it to simulate an unavailable store.
	FailWrites error
}

// New creates an in-memory gateway
func New() *Storage {
	return &Storage{
		tables: make(map[tableKey]map[int64]stats.Bucket),
	}
}

// LoadBuckets returns buckets at or after sinceKey, oldest first
func (s *Storage) LoadBuckets(ctx context.Context, targetID string, res stats.Resolution, sinceKey int64) ([]stats.Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	table := s.tables[tableKey{targetID, res}]
	results := make([]stats.Bucket, 0, len(table))
	for key, b := range table {
		if key >= sinceKey {
			results = append(results, b.Clone())
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PeriodKey < results[j].PeriodKey
	})
	return results, nil
}

// UpsertBucket stores a copy of b
func (s *Storage) UpsertBucket(ctx context.Context, targetID string, res stats.Resolution, b stats.Bucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if s.FailWrites != nil {
		return s.FailWrites
	}

	key := tableKey{targetID, res}
	table, ok := s.tables[key]
	if !ok {
		table = make(map[int64]stats.Bucket)
		s.tables[key] = table
	}
	table[b.PeriodKey] = b.Clone()
	return nil
}

// DeleteBucketsBefore removes buckets older than beforeKey
func (s *Storage) DeleteBucketsBefore(ctx context.Context, targetID string, res stats.Resolution, beforeKey int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if s.FailWrites != nil {
		return s.FailWrites
	}

	table := s.tables[tableKey{targetID, res}]
	for key := range table {
		if key < beforeKey {
			delete(table, key)
		}
	}
	return nil
}

// DeleteTarget drops every table row of the target
func (s *Storage) DeleteTarget(ctx context.Context, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	for _, res := range stats.Resolutions {
		delete(s.tables, tableKey{targetID, res})
	}
	return nil
}

// Close marks the store closed
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &storage.Stats{
		Buckets: make(map[stats.Resolution]uint64, len(stats.Resolutions)),
	}

	targets := make(map[string]bool)
	for key, table := range s.tables {
		if len(table) == 0 {
			continue
		}
		result.Buckets[key.res] += uint64(len(table))
		targets[key.target] = true
	}
	result.Targets = uint64(len(targets))

	// Rough size estimate (each bucket ~80 bytes)
	var total uint64
	for _, n := range result.Buckets {
		total += n
	}
	result.SizeBytes = total * 80

	return result, nil
}

// Len returns the number of stored buckets for one target and resolution.
func (s *Storage) Len(targetID string, res stats.Resolution) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[tableKey{targetID, res}])
}

// Bucket returns one stored bucket.
func (s *Storage) Bucket(targetID string, res stats.Resolution, periodKey int64) (stats.Bucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.tables[tableKey{targetID, res}][periodKey]
	if !ok {
		return stats.Bucket{}, false
	}
	return b.Clone(), true
}

// SetFailWrites makes subsequent writes fail with err (nil restores them).
func (s *Storage) SetFailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailWrites = err
}
