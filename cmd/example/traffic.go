package main

import (
	"math/rand"
	"time"

	"github.com/nicktill/tinyuptime/pkg/sdk"
)

// simTarget produces plausible heartbeats for one fake service.
type simTarget struct {
	name        string
	baseLatency float64 // ms
	jitter      float64 // ms
	failRate    float64

	// Outages last a few probes once they start.
	outageLeft int
	// A maintenance window every maintEvery probes, maintLen long.
	maintEvery int
	maintLen   int
	probes     int
}

func defaultTargets() []*simTarget {
	return []*simTarget{
		{name: "checkout-api", baseLatency: 80, jitter: 40, failRate: 0.02},
		{name: "postgres-primary", baseLatency: 4, jitter: 3, failRate: 0.005, maintEvery: 240, maintLen: 10},
		{name: "cdn-edge", baseLatency: 25, jitter: 60, failRate: 0.05},
	}
}

func (s *simTarget) next(rng *rand.Rand, now time.Time) sdk.Heartbeat {
	s.probes++
	hb := sdk.Heartbeat{Timestamp: now.UTC()}

	if s.maintEvery > 0 && s.probes%s.maintEvery < s.maintLen {
		hb.Status = sdk.StatusMaintenance
		return hb
	}

	if s.outageLeft == 0 && rng.Float64() < s.failRate {
		s.outageLeft = 1 + rng.Intn(5)
	}
	if s.outageLeft > 0 {
		s.outageLeft--
		hb.Status = sdk.StatusDown
		return hb
	}

	latency := s.baseLatency + rng.Float64()*s.jitter
	hb.Status = sdk.StatusUp
	hb.LatencyMs = &latency
	return hb
}

// backfill generates one heartbeat per minute for the hours before now, so
// a fresh server has history to chart.
func backfill(rng *rand.Rand, t *simTarget, now time.Time, hours int) []sdk.Heartbeat {
	start := now.Add(-time.Duration(hours) * time.Hour).Truncate(time.Minute)
	hbs := make([]sdk.Heartbeat, 0, hours*60)
	for ts := start; ts.Before(now); ts = ts.Add(time.Minute) {
		hbs = append(hbs, t.next(rng, ts))
	}
	return hbs
}
