// Package storagetest holds the behaviour every storage.Gateway must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/nicktill/tinyuptime/pkg/stats"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

// Run exercises a gateway against the logical bucket contract. newGateway
// must return an empty gateway; Run closes it.
func Run(t *testing.T, newGateway func(t *testing.T) storage.Gateway) {
	t.Run("UpsertAndLoad", func(t *testing.T) { testUpsertAndLoad(t, newGateway(t)) })
	t.Run("UpsertReplaces", func(t *testing.T) { testUpsertReplaces(t, newGateway(t)) })
	t.Run("IsolatesTargetsAndResolutions", func(t *testing.T) { testIsolation(t, newGateway(t)) })
	t.Run("DeleteBucketsBefore", func(t *testing.T) { testDeleteBefore(t, newGateway(t)) })
	t.Run("DeleteTarget", func(t *testing.T) { testDeleteTarget(t, newGateway(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newGateway(t)) })
	t.Run("PeriodsBeforeEpoch", func(t *testing.T) { testBeforeEpoch(t, newGateway(t)) })
}

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Unix()

func bucket(key int64, up, down int) stats.Bucket {
	return stats.Bucket{
		PeriodKey:  key,
		Up:         up,
		Down:       down,
		Pings:      up,
		AvgLatency: 100,
		MinLatency: 50,
		MaxLatency: 150,
	}
}

func testUpsertAndLoad(t *testing.T, gw storage.Gateway) {
	defer gw.Close()
	ctx := context.Background()

	// Written out of order on purpose
	for _, off := range []int64{120, 0, 60} {
		if err := gw.UpsertBucket(ctx, "web", stats.Minute, bucket(base+off, 1, 0)); err != nil {
			t.Fatalf("UpsertBucket failed: %v", err)
		}
	}

	withExtras := stats.Bucket{
		PeriodKey:   base + 180,
		Up:          3,
		Maintenance: 1,
		Pings:       2,
		AvgLatency:  10,
		MinLatency:  5,
		MaxLatency:  15,
		Extras:      map[string]float64{"cert_days": 30},
	}
	if err := gw.UpsertBucket(ctx, "web", stats.Minute, withExtras); err != nil {
		t.Fatalf("UpsertBucket failed: %v", err)
	}

	got, err := gw.LoadBuckets(ctx, "web", stats.Minute, base+60)
	if err != nil {
		t.Fatalf("LoadBuckets failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 buckets since key, got %d", len(got))
	}
	for i, want := range []int64{base + 60, base + 120, base + 180} {
		if got[i].PeriodKey != want {
			t.Errorf("bucket %d key = %d, want %d", i, got[i].PeriodKey, want)
		}
	}

	last := got[2]
	if last.Up != 3 || last.Maintenance != 1 || last.Pings != 2 {
		t.Errorf("counters not preserved: %+v", last)
	}
	if last.AvgLatency != 10 || last.MinLatency != 5 || last.MaxLatency != 15 {
		t.Errorf("latency not preserved: %+v", last)
	}
	if last.Extras["cert_days"] != 30 {
		t.Errorf("extras not preserved: %+v", last.Extras)
	}
}

func testUpsertReplaces(t *testing.T, gw storage.Gateway) {
	defer gw.Close()
	ctx := context.Background()

	if err := gw.UpsertBucket(ctx, "web", stats.Hour, bucket(base, 1, 0)); err != nil {
		t.Fatalf("UpsertBucket failed: %v", err)
	}
	if err := gw.UpsertBucket(ctx, "web", stats.Hour, bucket(base, 5, 2)); err != nil {
		t.Fatalf("UpsertBucket failed: %v", err)
	}

	got, err := gw.LoadBuckets(ctx, "web", stats.Hour, 0)
	if err != nil {
		t.Fatalf("LoadBuckets failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected one row per (target, timestamp), got %d", len(got))
	}
	if got[0].Up != 5 || got[0].Down != 2 {
		t.Errorf("Expected replaced counters 5/2, got %d/%d", got[0].Up, got[0].Down)
	}
}

func testIsolation(t *testing.T, gw storage.Gateway) {
	defer gw.Close()
	ctx := context.Background()

	writes := []struct {
		target string
		res    stats.Resolution
	}{
		{"a", stats.Minute},
		{"a", stats.Day},
		{"b", stats.Minute},
	}
	for _, w := range writes {
		if err := gw.UpsertBucket(ctx, w.target, w.res, bucket(base, 1, 0)); err != nil {
			t.Fatalf("UpsertBucket failed: %v", err)
		}
	}

	for _, tc := range []struct {
		target string
		res    stats.Resolution
		want   int
	}{
		{"a", stats.Minute, 1},
		{"a", stats.Hour, 0},
		{"a", stats.Day, 1},
		{"b", stats.Minute, 1},
		{"c", stats.Minute, 0},
	} {
		got, err := gw.LoadBuckets(ctx, tc.target, tc.res, 0)
		if err != nil {
			t.Fatalf("LoadBuckets failed: %v", err)
		}
		if len(got) != tc.want {
			t.Errorf("%s/%s: expected %d buckets, got %d", tc.target, tc.res, tc.want, len(got))
		}
	}
}

func testDeleteBefore(t *testing.T, gw storage.Gateway) {
	defer gw.Close()
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		if err := gw.UpsertBucket(ctx, "web", stats.Minute, bucket(base+i*60, 1, 0)); err != nil {
			t.Fatalf("UpsertBucket failed: %v", err)
		}
	}
	if err := gw.UpsertBucket(ctx, "other", stats.Minute, bucket(base, 1, 0)); err != nil {
		t.Fatalf("UpsertBucket failed: %v", err)
	}

	if err := gw.DeleteBucketsBefore(ctx, "web", stats.Minute, base+180); err != nil {
		t.Fatalf("DeleteBucketsBefore failed: %v", err)
	}

	got, err := gw.LoadBuckets(ctx, "web", stats.Minute, 0)
	if err != nil {
		t.Fatalf("LoadBuckets failed: %v", err)
	}
	if len(got) != 2 || got[0].PeriodKey != base+180 {
		t.Errorf("Expected keys from base+180 to survive, got %+v", got)
	}

	other, err := gw.LoadBuckets(ctx, "other", stats.Minute, 0)
	if err != nil {
		t.Fatalf("LoadBuckets failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("Delete leaked into another target: %d buckets left", len(other))
	}
}

func testDeleteTarget(t *testing.T, gw storage.Gateway) {
	defer gw.Close()
	ctx := context.Background()

	for _, res := range stats.Resolutions {
		if err := gw.UpsertBucket(ctx, "gone", res, bucket(base, 1, 0)); err != nil {
			t.Fatalf("UpsertBucket failed: %v", err)
		}
	}
	if err := gw.UpsertBucket(ctx, "kept", stats.Day, bucket(base, 1, 0)); err != nil {
		t.Fatalf("UpsertBucket failed: %v", err)
	}

	if err := gw.DeleteTarget(ctx, "gone"); err != nil {
		t.Fatalf("DeleteTarget failed: %v", err)
	}

	for _, res := range stats.Resolutions {
		got, err := gw.LoadBuckets(ctx, "gone", res, 0)
		if err != nil {
			t.Fatalf("LoadBuckets failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("%s: expected no buckets after DeleteTarget, got %d", res, len(got))
		}
	}

	kept, err := gw.LoadBuckets(ctx, "kept", stats.Day, 0)
	if err != nil {
		t.Fatalf("LoadBuckets failed: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("DeleteTarget removed another target's rows")
	}
}

func testStats(t *testing.T, gw storage.Gateway) {
	defer gw.Close()
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		if err := gw.UpsertBucket(ctx, "a", stats.Minute, bucket(base+i*60, 1, 0)); err != nil {
			t.Fatalf("UpsertBucket failed: %v", err)
		}
	}
	if err := gw.UpsertBucket(ctx, "b", stats.Day, bucket(base, 1, 0)); err != nil {
		t.Fatalf("UpsertBucket failed: %v", err)
	}

	st, err := gw.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Buckets[stats.Minute] != 3 || st.Buckets[stats.Day] != 1 {
		t.Errorf("unexpected bucket counts: %+v", st.Buckets)
	}
	if st.Targets != 2 {
		t.Errorf("Expected 2 targets, got %d", st.Targets)
	}
}

func testBeforeEpoch(t *testing.T, gw storage.Gateway) {
	defer gw.Close()
	ctx := context.Background()

	for _, key := range []int64{-120, -60, 0, 60} {
		if err := gw.UpsertBucket(ctx, "old", stats.Minute, bucket(key, 1, 0)); err != nil {
			t.Fatalf("UpsertBucket failed: %v", err)
		}
	}

	got, err := gw.LoadBuckets(ctx, "old", stats.Minute, -120)
	if err != nil {
		t.Fatalf("LoadBuckets failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Expected 4 distinct buckets, got %d", len(got))
	}
	for i, want := range []int64{-120, -60, 0, 60} {
		if got[i].PeriodKey != want {
			t.Errorf("bucket %d key = %d, want %d", i, got[i].PeriodKey, want)
		}
	}

	if err := gw.DeleteBucketsBefore(ctx, "old", stats.Minute, -60); err != nil {
		t.Fatalf("DeleteBucketsBefore failed: %v", err)
	}
	got, err = gw.LoadBuckets(ctx, "old", stats.Minute, -1<<40)
	if err != nil {
		t.Fatalf("LoadBuckets failed: %v", err)
	}
	if len(got) != 3 || got[0].PeriodKey != -60 {
		t.Errorf("Expected keys from -60 to survive, got %+v", got)
	}
}
