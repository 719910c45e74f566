package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nicktill/tinyuptime/pkg/stats"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Storage implements storage.Gateway on PostgreSQL, one table per resolution.
type Storage struct {
	pool *pgxpool.Pool
}

var _ storage.Gateway = (*Storage)(nil)

// Open connects to dsn, applies pending migrations and returns the gateway.
func Open(ctx context.Context, dsn string) (*Storage, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}

	if err := Migrate(ctx, dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return New(pool), nil
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := goose.UpContext(runCtx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func tableFor(res stats.Resolution) (string, error) {
	switch res {
	case stats.Minute:
		return "stat_minutely", nil
	case stats.Hour:
		return "stat_hourly", nil
	case stats.Day:
		return "stat_daily", nil
	}
	return "", fmt.Errorf("unknown resolution %q", res)
}

// LoadBuckets reads rows at or after sinceKey, oldest first.
func (s *Storage) LoadBuckets(ctx context.Context, targetID string, res stats.Resolution, sinceKey int64) ([]stats.Bucket, error) {
	table, err := tableFor(res)
	if err != nil {
		return nil, err
	}

	query := `SELECT timestamp, up, down, ping, ping_min, ping_max, extras
		FROM ` + table + ` WHERE target_id = $1 AND timestamp >= $2 ORDER BY timestamp`
	rows, err := s.pool.Query(ctx, query, targetID, sinceKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	var results []stats.Bucket
	for rows.Next() {
		var (
			b      stats.Bucket
			extras []byte
		)
		if err := rows.Scan(&b.PeriodKey, &b.Up, &b.Down, &b.AvgLatency, &b.MinLatency, &b.MaxLatency, &extras); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if err := stats.DecodeExtras(&b, extras); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	return results, nil
}

// UpsertBucket inserts or replaces the row keyed by (target_id, timestamp).
func (s *Storage) UpsertBucket(ctx context.Context, targetID string, res stats.Resolution, b stats.Bucket) error {
	table, err := tableFor(res)
	if err != nil {
		return err
	}

	extras, err := stats.EncodeExtras(b)
	if err != nil {
		return err
	}

	query := `INSERT INTO ` + table + ` (target_id, timestamp, up, down, ping, ping_min, ping_max, extras)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (target_id, timestamp) DO UPDATE SET
			up = EXCLUDED.up,
			down = EXCLUDED.down,
			ping = EXCLUDED.ping,
			ping_min = EXCLUDED.ping_min,
			ping_max = EXCLUDED.ping_max,
			extras = EXCLUDED.extras`
	if _, err := s.pool.Exec(ctx, query, targetID, b.PeriodKey, b.Up, b.Down, b.AvgLatency, b.MinLatency, b.MaxLatency, string(extras)); err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}
	return nil
}

// DeleteBucketsBefore removes expired rows.
func (s *Storage) DeleteBucketsBefore(ctx context.Context, targetID string, res stats.Resolution, beforeKey int64) error {
	table, err := tableFor(res)
	if err != nil {
		return err
	}

	query := `DELETE FROM ` + table + ` WHERE target_id = $1 AND timestamp < $2`
	if _, err := s.pool.Exec(ctx, query, targetID, beforeKey); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// DeleteTarget removes the target from every table in one transaction.
func (s *Storage) DeleteTarget(ctx context.Context, targetID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, res := range stats.Resolutions {
		table, _ := tableFor(res)
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE target_id = $1`, targetID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}

// Stats counts rows per table and distinct targets.
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	result := &storage.Stats{
		Buckets: make(map[stats.Resolution]uint64, len(stats.Resolutions)),
	}

	var size int64
	for _, res := range stats.Resolutions {
		table, _ := tableFor(res)

		var count, tableSize int64
		row := s.pool.QueryRow(ctx, `SELECT COUNT(1), pg_total_relation_size('`+table+`') FROM `+table)
		if err := row.Scan(&count, &tableSize); err != nil {
			return nil, fmt.Errorf("stats %s: %w", table, err)
		}
		result.Buckets[res] = uint64(count)
		size += tableSize
	}
	result.SizeBytes = uint64(size)

	const targetsQuery = `SELECT COUNT(DISTINCT target_id) FROM (
		SELECT target_id FROM stat_minutely
		UNION SELECT target_id FROM stat_hourly
		UNION SELECT target_id FROM stat_daily
	) t`
	var targets int64
	if err := s.pool.QueryRow(ctx, targetsQuery).Scan(&targets); err != nil {
		return nil, fmt.Errorf("stats targets: %w", err)
	}
	result.Targets = uint64(targets)

	return result, nil
}

// Close releases pooled connections.
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}
