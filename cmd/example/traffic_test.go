package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/nicktill/tinyuptime/pkg/sdk"
)

func TestSimTarget_Statuses(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	target := &simTarget{name: "db", baseLatency: 5, jitter: 2, failRate: 0.1, maintEvery: 20, maintLen: 3}
	now := time.Date(2024, 7, 4, 10, 0, 0, 0, time.UTC)

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		hb := target.next(rng, now)
		seen[hb.Status]++

		switch hb.Status {
		case sdk.StatusUp:
			if hb.LatencyMs == nil || *hb.LatencyMs < 5 || *hb.LatencyMs > 7 {
				t.Fatalf("up heartbeat latency out of range: %v", hb.LatencyMs)
			}
		case sdk.StatusDown, sdk.StatusMaintenance:
			if hb.LatencyMs != nil {
				t.Fatalf("%s heartbeat should carry no latency", hb.Status)
			}
		default:
			t.Fatalf("unexpected status %q", hb.Status)
		}
	}

	// 200 probes with a 3-in-20 window.
	if seen[sdk.StatusMaintenance] != 30 {
		t.Errorf("maintenance heartbeats = %d, want 30", seen[sdk.StatusMaintenance])
	}
	if seen[sdk.StatusUp] == 0 || seen[sdk.StatusDown] == 0 {
		t.Errorf("expected both up and down heartbeats, got %v", seen)
	}
}

func TestBackfill(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	now := time.Date(2024, 7, 4, 10, 30, 15, 0, time.UTC)

	hbs := backfill(rng, defaultTargets()[0], now, 2)
	if len(hbs) != 121 {
		t.Fatalf("len = %d, want 121", len(hbs))
	}
	if !hbs[0].Timestamp.Equal(time.Date(2024, 7, 4, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("first timestamp = %v", hbs[0].Timestamp)
	}
	if !hbs[len(hbs)-1].Timestamp.Before(now) {
		t.Errorf("last timestamp %v should be before now", hbs[len(hbs)-1].Timestamp)
	}
}
