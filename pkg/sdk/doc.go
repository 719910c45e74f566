/*
Package sdk provides the tinyuptime client library for reporting heartbeats
and reading uptime from Go programs.

# Quick Start

	client, err := sdk.New(sdk.ClientConfig{
	    Endpoint: "http://localhost:8080",
	})
	if err != nil {
	    log.Fatal(err)
	}

	// Start replaying spooled heartbeats in the background
	client.Start(ctx)
	defer client.Stop(context.Background())

	latency := 87.0
	err = client.Report(ctx, "checkout-api", sdk.Heartbeat{
	    Status:    sdk.StatusUp,
	    LatencyMs: &latency,
	})

# Statuses

A heartbeat is one of StatusUp, StatusDown, StatusPending or
StatusMaintenance. The server counts maintenance as up and pending as down.
Latency is only meaningful for up heartbeats and is ignored otherwise.

# Report vs Heartbeat

Heartbeat sends a single request and returns the server's error as is.

Report stamps the heartbeat with the local time before sending. When the
request fails with a network error, 429 or a 5xx status, the heartbeat is
kept in an in-memory spool and later delivered through the import endpoint,
which places it in the correct minute, hour and day buckets. Rejections such
as 400 are returned to the caller and never spooled.

The spool holds at most ClientConfig.SpoolSize heartbeats (default 10000).
When full, Report returns batch.ErrFull joined with the original error.

# Queries

	uptime, err := client.Uptime(ctx, "checkout-api", "7d")
	fmt.Printf("%.2f%%\n", uptime.Uptime*100)

	summary, err := client.Summary(ctx, "checkout-api")
	for _, w := range summary.Windows {
	    fmt.Println(w.Duration, w.Uptime)
	}

Durations use the server's syntax: a positive count followed by m, h, d or y
(for example 90m, 24h, 30d, 1y).

# Errors

Non-2xx responses are returned as *transport.StatusError carrying the HTTP
status and the server's message:

	var se *transport.StatusError
	if errors.As(err, &se) && se.Code == http.StatusBadRequest {
	    // invalid target id, status or duration
	}

# See Also

The cmd/example program reports simulated heartbeats for a few targets
using this package.
*/
package sdk
