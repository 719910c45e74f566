// Package rollup folds uptime check results into rolling minute, hour and day
// buckets for a single monitored target.
//
// Each Engine keeps three bounded windows in memory:
//
//	minute  1440 buckets  24 hours
//	hour     720 buckets  30 days
//	day      365 buckets  365 days
//
// Every Update increments the bucket for the sample's period in all three
// windows and writes those buckets through a storage.Gateway. Aggregate and
// Series answer queries from memory only.
//
// Status flattening:
//
//	UP, MAINTENANCE   -> up  (MAINTENANCE also counted separately)
//	DOWN, PENDING     -> down
//
// Latency is averaged over UP samples that carried one. The mean is a running
// mean, so a bucket never stores individual samples.
//
// Migration mode is for bulk backfill of historical results: buckets older
// than their resolution's retention horizon stay in memory only and the
// retention sweep is suspended.
//
// An Engine has no internal locking. registry.Registry serializes access per
// target.
package rollup
