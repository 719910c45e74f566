// Package export provides backup and backfill of per-target uptime history.
//
// # Overview
//
// Export dumps one resolution of a target's retained buckets. Import replays
// historical heartbeats through the registry in migration mode, so history
// from another monitor can be folded in without the retention sweep running
// after every sample.
//
// # Supported Formats
//
// JSON:
//   - Metadata (target, resolution, export time, bucket count) plus buckets
//   - Same bucket shape the series endpoint returns
//
// CSV:
//   - One row per bucket, latency columns empty when no UP sample had one
//   - Export-only
//
// Parquet:
//   - Zstd-compressed columns, one row per bucket
//   - Export-only, intended for offline analysis
//
// # HTTP API
//
// Export endpoint: GET /v1/targets/{id}/export
// Query parameters:
//   - resolution: minute, hour or day (default: day)
//   - format: json, csv or parquet (default: json)
//
// Example:
//
//	curl "http://localhost:8080/v1/targets/api/export?resolution=hour&format=parquet" \
//	  -o api-hour.parquet
//
// Import endpoint: POST /v1/targets/{id}/import
//
// Example:
//
//	curl -X POST "http://localhost:8080/v1/targets/api/import" \
//	  -H "Content-Type: application/json" \
//	  -d '[{"status":"up","latency_ms":42,"timestamp":"2025-11-18T03:00:00Z"},
//	       {"status":0,"timestamp":"2025-11-18T03:01:00Z"}]'
//
// # Error Handling
//
// Each heartbeat is validated on its own. Entries with a bad status, latency
// or missing timestamp are skipped and reported in ImportResult.Errors. A
// storage failure stops the replay; samples applied before it stay in memory.
package export
