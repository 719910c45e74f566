package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nicktill/tinyuptime/pkg/sdk/batch"
	"github.com/nicktill/tinyuptime/pkg/sdk/transport"
)

// Heartbeat statuses accepted by the server.
const (
	StatusDown        = "down"
	StatusUp          = "up"
	StatusPending     = "pending"
	StatusMaintenance = "maintenance"
)

// ClientConfig holds configuration for the tinyuptime client
type ClientConfig struct {
	Endpoint   string        `json:"endpoint"`
	APIKey     string        `json:"api_key"`
	SpoolSize  int           `json:"spool_size"`
	FlushEvery time.Duration `json:"flush_every"`
}

// Heartbeat is one probe outcome.
type Heartbeat struct {
	Status    string    `json:"status"`
	LatencyMs *float64  `json:"latency_ms,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatResponse is returned when the server accepts a heartbeat.
type HeartbeatResponse struct {
	Status    string `json:"status"`
	Target    string `json:"target"`
	Reported  string `json:"reported"`
	Timestamp int64  `json:"timestamp"`
}

// Window is the aggregate over one query duration.
type Window struct {
	Duration   string   `json:"duration"`
	Uptime     float64  `json:"uptime"`
	AvgLatency *float64 `json:"avg_latency"`
	Up         int      `json:"up"`
	Down       int      `json:"down"`
	Fallback   bool     `json:"fallback,omitempty"`
}

// Uptime is the response of the uptime endpoint.
type Uptime struct {
	Target string `json:"target"`
	Window
}

// Summary holds the standard windows for a target.
type Summary struct {
	Target  string   `json:"target"`
	Windows []Window `json:"windows"`
}

// ImportResult reports the outcome of a bulk import.
type ImportResult struct {
	Target     string    `json:"target"`
	Received   int       `json:"received"`
	Applied    int       `json:"applied"`
	Skipped    int       `json:"skipped"`
	TimeRange  string    `json:"time_range"`
	ImportedAt time.Time `json:"imported_at"`
	Errors     []string  `json:"errors,omitempty"`
}

// Client is the tinyuptime SDK client
type Client struct {
	config    ClientConfig
	transport transport.Transport
	spool     *batch.Spool[Heartbeat]
	now       func() time.Time
}

// New creates a new tinyuptime client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080"
	}
	if cfg.SpoolSize == 0 {
		cfg.SpoolSize = 10000
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 30 * time.Second
	}

	trans, err := transport.NewHTTP(cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return newClient(cfg, trans), nil
}

func newClient(cfg ClientConfig, trans transport.Transport) *Client {
	c := &Client{
		config:    cfg,
		transport: trans,
		now:       time.Now,
	}
	c.spool = batch.New(c.importSpooled, batch.Config{
		MaxSize:    cfg.SpoolSize,
		FlushEvery: cfg.FlushEvery,
		Retry:      transport.IsTemporary,
	})
	return c
}

// Start begins replaying spooled heartbeats in the background.
func (c *Client) Start(ctx context.Context) error {
	if err := c.spool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start spool: %w", err)
	}
	return nil
}

// Stop stops the background loop and tries once more to deliver spooled
// heartbeats.
func (c *Client) Stop(ctx context.Context) error {
	if err := c.spool.Stop(ctx); err != nil {
		return fmt.Errorf("failed to flush spooled heartbeats: %w", err)
	}
	return nil
}

// Spooled returns the number of heartbeats waiting for redelivery.
func (c *Client) Spooled() int {
	return c.spool.Len()
}

func targetPath(target string, suffix string) string {
	return "/v1/targets/" + url.PathEscape(target) + suffix
}

// Heartbeat sends one heartbeat. A zero Timestamp lets the server stamp it.
func (c *Client) Heartbeat(ctx context.Context, target string, hb Heartbeat) (*HeartbeatResponse, error) {
	body := struct {
		Status    string     `json:"status"`
		LatencyMs *float64   `json:"latency_ms,omitempty"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
	}{Status: hb.Status, LatencyMs: hb.LatencyMs}
	if !hb.Timestamp.IsZero() {
		body.Timestamp = &hb.Timestamp
	}

	var resp HeartbeatResponse
	if err := c.transport.Do(ctx, http.MethodPost, targetPath(target, "/heartbeats"), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report sends a heartbeat and spools it for later import when the server
// is unreachable or overloaded. It returns nil once the heartbeat is either
// delivered or spooled. A heartbeat the server counted but could not store
// is not spooled; its error satisfies transport.IsApplied.
func (c *Client) Report(ctx context.Context, target string, hb Heartbeat) error {
	if hb.Timestamp.IsZero() {
		hb.Timestamp = c.now().UTC()
	}

	_, err := c.Heartbeat(ctx, target, hb)
	if err == nil || !transport.IsTemporary(err) {
		return err
	}
	if spoolErr := c.spool.Add(target, hb); spoolErr != nil {
		return errors.Join(err, spoolErr)
	}
	return nil
}

// Flush imports spooled heartbeats now.
func (c *Client) Flush(ctx context.Context) error {
	return c.spool.Flush(ctx)
}

// Uptime queries uptime over duration (e.g. "24h", "7d").
func (c *Client) Uptime(ctx context.Context, target, duration string) (*Uptime, error) {
	path := targetPath(target, "/uptime")
	if duration != "" {
		path += "?duration=" + url.QueryEscape(duration)
	}

	var resp Uptime
	if err := c.transport.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Summary returns the 24h, 7d, 30d and 1y windows.
func (c *Client) Summary(ctx context.Context, target string) (*Summary, error) {
	var resp Summary
	if err := c.transport.Do(ctx, http.MethodGet, targetPath(target, "/summary"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Import replays timestamped heartbeats into target.
func (c *Client) Import(ctx context.Context, target string, hbs []Heartbeat) (*ImportResult, error) {
	var resp ImportResult
	if err := c.transport.Do(ctx, http.MethodPost, targetPath(target, "/import"), hbs, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete removes a target and its stored rollups.
func (c *Client) Delete(ctx context.Context, target string) error {
	return c.transport.Do(ctx, http.MethodDelete, targetPath(target, ""), nil, nil)
}

func (c *Client) importSpooled(ctx context.Context, target string, hbs []Heartbeat) error {
	_, err := c.Import(ctx, target, hbs)
	return err
}
