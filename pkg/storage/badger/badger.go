package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/tinyuptime/pkg/stats"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

// Storage implements storage.Gateway using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

var _ storage.Gateway = (*Storage)(nil)

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = laptop-friendly defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB gateway
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Buckets are tiny and rewritten often; keep memory bounded.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithLogger(nil).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// row is the stored value; it mirrors one row of the logical per-resolution table.
type row struct {
	TargetID  string          `json:"target_id"`
	Timestamp int64           `json:"timestamp"`
	Up        int             `json:"up"`
	Down      int             `json:"down"`
	Ping      float64         `json:"ping"`
	PingMin   float64         `json:"ping_min"`
	PingMax   float64         `json:"ping_max"`
	Extras    json.RawMessage `json:"extras,omitempty"`
}

// LoadBuckets scans the target/resolution prefix starting at sinceKey
func (s *Storage) LoadBuckets(ctx context.Context, targetID string, res stats.Resolution, sinceKey int64) ([]stats.Bucket, error) {
	var results []stats.Bucket

	err := s.run(ctx, "load", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			prefix := makePrefix(targetID, res)

			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			opts.PrefetchSize = 100

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(makeKey(prefix, sinceKey)); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}

				err := it.Item().Value(func(val []byte) error {
					b, owner, err := decodeRow(val)
					if err != nil {
						return err
					}
					// Another target sharing the hash prefix
					if owner != targetID {
						return nil
					}
					results = append(results, b)
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UpsertBucket writes the bucket under its period key
func (s *Storage) UpsertBucket(ctx context.Context, targetID string, res stats.Resolution, b stats.Bucket) error {
	value, err := encodeRow(targetID, b)
	if err != nil {
		return fmt.Errorf("failed to encode bucket: %w", err)
	}

	return s.run(ctx, "upsert", func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(makeKey(makePrefix(targetID, res), b.PeriodKey), value)
		})
	})
}

// DeleteBucketsBefore removes every key of the prefix older than beforeKey
func (s *Storage) DeleteBucketsBefore(ctx context.Context, targetID string, res stats.Resolution, beforeKey int64) error {
	return s.run(ctx, "delete", func() error {
		keys, err := s.collectKeys(ctx, makePrefix(targetID, res), targetID, beforeKey)
		if err != nil {
			return err
		}
		return s.deleteKeys(keys)
	})
}

// DeleteTarget removes the target at every resolution
func (s *Storage) DeleteTarget(ctx context.Context, targetID string) error {
	return s.run(ctx, "delete target", func() error {
		var keys [][]byte
		for _, res := range stats.Resolutions {
			found, err := s.collectKeys(ctx, makePrefix(targetID, res), targetID, math.MaxInt64)
			if err != nil {
				return err
			}
			keys = append(keys, found...)
		}
		return s.deleteKeys(keys)
	})
}

// collectKeys returns the keys under prefix owned by targetID whose period
// is < beforeKey.
func (s *Storage) collectKeys(ctx context.Context, prefix []byte, targetID string, beforeKey int64) ([][]byte, error) {
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			if parsePeriod(item.Key()) >= beforeKey {
				break // keys are ordered by period within the prefix
			}

			var owner string
			if err := item.Value(func(val []byte) error {
				_, o, err := decodeRow(val)
				owner = o
				return err
			}); err != nil {
				return err
			}
			if owner == targetID {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		return nil
	})
	return keys, err
}

func (s *Storage) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete bucket: %w", err)
		}
	}
	return wb.Flush()
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when nothing was collected
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	result := &storage.Stats{
		Buckets: make(map[stats.Resolution]uint64, len(stats.Resolutions)),
	}

	err := s.run(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			targets := make(map[uint64]bool)
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				key := it.Item().Key()
				if len(key) != keyLen {
					continue
				}
				targets[binary.BigEndian.Uint64(key[0:8])] = true
				if int(key[8]) < len(stats.Resolutions) {
					result.Buckets[stats.Resolutions[key[8]]]++
				}
			}

			result.Targets = uint64(len(targets))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	result.SizeBytes = uint64(lsmSize + vlogSize)
	return result, nil
}

// run executes fn off the caller's goroutine so a cancelled context never
// leaves the caller blocked on a slow LSM operation.
func (s *Storage) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("badger %s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// Key format: [xxhash(target) (8 bytes)][resolution (1 byte)][period key (8 bytes)]
//
// The period key is stored big-endian with its sign bit flipped so byte order
// matches numeric order for pre-1970 periods too.
const (
	prefixLen = 9
	keyLen    = prefixLen + 8
)

func makePrefix(targetID string, res stats.Resolution) []byte {
	prefix := make([]byte, prefixLen)
	binary.BigEndian.PutUint64(prefix[0:8], xxhash.Sum64String(targetID))
	prefix[8] = byte(res.Index())
	return prefix
}

const signBit = 1 << 63

func makeKey(prefix []byte, periodKey int64) []byte {
	key := make([]byte, keyLen)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[prefixLen:], uint64(periodKey)^signBit)
	return key
}

func parsePeriod(key []byte) int64 {
	if len(key) != keyLen {
		return 0
	}
	return int64(binary.BigEndian.Uint64(key[prefixLen:]) ^ signBit)
}

func encodeRow(targetID string, b stats.Bucket) ([]byte, error) {
	extras, err := stats.EncodeExtras(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(row{
		TargetID:  targetID,
		Timestamp: b.PeriodKey,
		Up:        b.Up,
		Down:      b.Down,
		Ping:      b.AvgLatency,
		PingMin:   b.MinLatency,
		PingMax:   b.MaxLatency,
		Extras:    extras,
	})
}

func decodeRow(data []byte) (stats.Bucket, string, error) {
	var r row
	if err := json.Unmarshal(data, &r); err != nil {
		return stats.Bucket{}, "", fmt.Errorf("failed to decode bucket: %w", err)
	}

	b := stats.Bucket{
		PeriodKey:  r.Timestamp,
		Up:         r.Up,
		Down:       r.Down,
		AvgLatency: r.Ping,
		MinLatency: r.PingMin,
		MaxLatency: r.PingMax,
	}
	if err := stats.DecodeExtras(&b, r.Extras); err != nil {
		return stats.Bucket{}, "", err
	}
	return b, r.TargetID, nil
}
