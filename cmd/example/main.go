package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/sdk"
)

func main() {
	log := logging.Component("example")

	endpoint := os.Getenv("TINYUPTIME_URL")
	if endpoint == "" {
		endpoint = "http://localhost:8080"
	}
	interval := 5 * time.Second
	if v := os.Getenv("EXAMPLE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Error("invalid EXAMPLE_INTERVAL", "value", v, "error", err)
			os.Exit(1)
		}
		interval = d
	}
	backfillHours := 0
	if v := os.Getenv("EXAMPLE_BACKFILL_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Error("invalid EXAMPLE_BACKFILL_HOURS", "value", v)
			os.Exit(1)
		}
		backfillHours = n
	}

	client, err := sdk.New(sdk.ClientConfig{
		Endpoint:   endpoint,
		APIKey:     os.Getenv("TINYUPTIME_API_KEY"),
		FlushEvery: 15 * time.Second,
	})
	if err != nil {
		log.Error("failed to create tinyuptime client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		log.Error("failed to start tinyuptime client", "error", err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	targets := defaultTargets()

	if backfillHours > 0 {
		now := time.Now()
		for _, t := range targets {
			result, err := client.Import(ctx, t.name, backfill(rng, t, now, backfillHours))
			if err != nil {
				log.Warn("backfill failed", "target", t.name, "error", err)
				continue
			}
			log.Info("backfilled history", "target", t.name, "applied", result.Applied, "time_range", result.TimeRange)
		}
	}

	log.Info("reporting heartbeats", "endpoint", endpoint, "interval", interval, "targets", len(targets))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reports := 0
	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down", "spooled", client.Spooled())
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := client.Stop(stopCtx); err != nil {
				log.Warn("spooled heartbeats not delivered", "error", err)
			}
			stopCancel()
			return
		case now := <-ticker.C:
			for _, t := range targets {
				hb := t.next(rng, now)
				if err := client.Report(ctx, t.name, hb); err != nil {
					log.Warn("heartbeat rejected", "target", t.name, "status", hb.Status, "error", err)
					continue
				}
				log.Debug("heartbeat reported", "target", t.name, "status", hb.Status)
			}

			reports++
			// Print a summary roughly every minute.
			if reports%max(1, int(time.Minute/interval)) == 0 {
				for _, t := range targets {
					up, err := client.Uptime(ctx, t.name, "24h")
					if err != nil {
						log.Warn("uptime query failed", "target", t.name, "error", err)
						continue
					}
					log.Info("uptime", "target", t.name, "24h", up.Uptime, "avg_latency_ms", up.AvgLatency)
				}
			}
		}
	}
}
