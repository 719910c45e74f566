package storage

import (
	"context"
	"errors"

	"github.com/nicktill/tinyuptime/pkg/stats"
)

// ErrClosed is returned by gateways used after Close.
var ErrClosed = errors.New("storage: closed")

// Gateway defines the durable bucket store used by the rollup engine.
// Implementations: memory (testing), badger (default), postgres (shared SQL).
type Gateway interface {
	// LoadBuckets returns the buckets of one target and resolution whose
	// period key is >= sinceKey, ordered by period key ascending.
	LoadBuckets(ctx context.Context, targetID string, res stats.Resolution, sinceKey int64) ([]stats.Bucket, error)

	// UpsertBucket inserts or replaces the bucket at (targetID, res, b.PeriodKey).
	UpsertBucket(ctx context.Context, targetID string, res stats.Resolution, b stats.Bucket) error

	// DeleteBucketsBefore removes buckets with a period key < beforeKey.
	DeleteBucketsBefore(ctx context.Context, targetID string, res stats.Resolution, beforeKey int64) error

	// DeleteTarget removes every bucket of a target at every resolution.
	DeleteTarget(ctx context.Context, targetID string) error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the gateway
	Close() error
}

// Stats provides storage health and usage info
type Stats struct {
	// Buckets stored per resolution
	Buckets map[stats.Resolution]uint64 `json:"buckets"`

	// Distinct targets with at least one bucket
	Targets uint64 `json:"targets"`

	// Storage size in bytes (0 when unknown)
	SizeBytes uint64 `json:"size_bytes"`
}
