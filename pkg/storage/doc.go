/*
Package storage defines the persistence gateway behind the rollup engine.

The engine keeps its rolling windows in memory and treats storage as a
write-through mirror. A gateway only has to honour three operations:

	LoadBuckets(target, resolution, sinceKey)      // once, when an engine is created
	UpsertBucket(target, resolution, bucket)       // up to 3x per heartbeat
	DeleteBucketsBefore(target, resolution, key)   // minute/hour retention sweep

Logically every resolution is its own table:

	target_id | timestamp | up | down | ping | ping_min | ping_max | extras
	unique (target_id, timestamp)

where timestamp is the UTC-truncated period start in epoch seconds and extras
is a JSON object carrying the maintenance and ping counters plus any extension
fields.

# Backends

  - memory: maps guarded by a mutex, for tests and ephemeral runs
  - badger: BadgerDB, keys are [xxhash(target)][resolution][period] so each
    target/resolution is one ordered prefix scan
  - postgres: stat_minutely / stat_hourly / stat_daily tables managed by goose
    migrations

Gateways must be safe for concurrent use by different targets.
*/
package storage
