package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/ingest"
	"github.com/nicktill/tinyuptime/pkg/registry"
)

// ErrTooManySamples is returned when an import exceeds config.ImportMaxSamples.
var ErrTooManySamples = fmt.Errorf("import exceeds %d samples", config.ImportMaxSamples)

// maxReportedErrors caps the per-sample messages returned to the caller.
const maxReportedErrors = 20

// Importer replays historical heartbeats into a target.
type Importer struct {
	registry *registry.Registry
}

// NewImporter creates a new importer
func NewImporter(reg *registry.Registry) *Importer {
	return &Importer{registry: reg}
}

// ImportedHeartbeat is one element of the import array. Status is decoded
// per element so a bad entry does not reject the whole file.
type ImportedHeartbeat struct {
	Status    json.RawMessage `json:"status"`
	LatencyMs *float64        `json:"latency_ms,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	Target     string    `json:"target"`
	Received   int       `json:"received"`
	Applied    int       `json:"applied"`
	Skipped    int       `json:"skipped"`
	TimeRange  string    `json:"time_range"`
	ImportedAt time.Time `json:"imported_at"`
	Errors     []string  `json:"errors,omitempty"`
}

// Decode reads a JSON array of heartbeats.
func Decode(r io.Reader) ([]ImportedHeartbeat, error) {
	var heartbeats []ImportedHeartbeat
	if err := json.NewDecoder(r).Decode(&heartbeats); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if len(heartbeats) > config.ImportMaxSamples {
		return nil, ErrTooManySamples
	}
	return heartbeats, nil
}

func toSample(h ImportedHeartbeat) (registry.Sample, error) {
	if len(h.Status) == 0 {
		return registry.Sample{}, errors.New("status is required")
	}
	var sv ingest.StatusValue
	if err := sv.UnmarshalJSON(h.Status); err != nil {
		return registry.Sample{}, err
	}
	if h.Timestamp.IsZero() {
		return registry.Sample{}, errors.New("timestamp is required")
	}
	if err := ingest.ValidateLatency(h.LatencyMs); err != nil {
		return registry.Sample{}, err
	}
	return registry.Sample{Status: sv.Code, Latency: h.LatencyMs, Time: h.Timestamp}, nil
}

// Import validates heartbeats and replays the valid ones into target.
// Samples older than a resolution's retention are kept in memory but not
// persisted at that resolution. A resolution whose window is already full
// ignores samples older than every period it holds.
func (im *Importer) Import(ctx context.Context, target string, heartbeats []ImportedHeartbeat) (*ImportResult, error) {
	result := &ImportResult{
		Target:     target,
		Received:   len(heartbeats),
		TimeRange:  "empty",
		ImportedAt: time.Now().UTC(),
	}

	samples := make([]registry.Sample, 0, len(heartbeats))
	var invalid int
	for i, h := range heartbeats {
		s, err := toSample(h)
		if err != nil {
			invalid++
			if len(result.Errors) < maxReportedErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("heartbeat %d: %v", i, err))
			}
			continue
		}
		samples = append(samples, s)
	}

	if len(samples) > 0 {
		minTime, maxTime := samples[0].Time, samples[0].Time
		for _, s := range samples {
			if s.Time.Before(minTime) {
				minTime = s.Time
			}
			if s.Time.After(maxTime) {
				maxTime = s.Time
			}
		}
		result.TimeRange = fmt.Sprintf("%s to %s", minTime.UTC().Format(time.RFC3339), maxTime.UTC().Format(time.RFC3339))
	}

	replayed, err := im.registry.Replay(ctx, target, samples)
	result.Applied = replayed.Applied
	result.Skipped = replayed.Skipped + invalid
	if err != nil {
		return result, err
	}
	return result, nil
}
