package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/nicktill/tinyuptime/pkg/registry"
	"github.com/nicktill/tinyuptime/pkg/rollup"
	"github.com/nicktill/tinyuptime/pkg/stats"
)

// Supported export formats.
const (
	FormatJSON    = "json"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ValidFormat reports whether format can be exported.
func ValidFormat(format string) bool {
	switch format {
	case FormatJSON, FormatCSV, FormatParquet:
		return true
	}
	return false
}

// ContentType returns the MIME type for format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "application/json"
	}
}

// Exporter dumps a target's in-memory window.
type Exporter struct {
	registry *registry.Registry
	now      func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(reg *registry.Registry) *Exporter {
	return &Exporter{registry: reg, now: time.Now}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	Target     string
	Resolution stats.Resolution
	Format     string
}

// ExportResult contains stats about the export
type ExportResult struct {
	Target          string           `json:"target"`
	Resolution      stats.Resolution `json:"resolution"`
	BucketsExported int              `json:"buckets_exported"`
	Format          string           `json:"format"`
	ExportedAt      time.Time        `json:"exported_at"`
}

// Document is the JSON export layout.
type Document struct {
	Metadata struct {
		Target      string           `json:"target"`
		Resolution  stats.Resolution `json:"resolution"`
		ExportedAt  time.Time        `json:"exported_at"`
		BucketCount int              `json:"bucket_count"`
		Version     string           `json:"version"`
	} `json:"metadata"`
	Buckets []stats.Bucket `json:"buckets"`
}

// BucketRow is the parquet row layout.
type BucketRow struct {
	Target      string  `parquet:"target,zstd"`
	Resolution  string  `parquet:"resolution,zstd"`
	PeriodStart int64   `parquet:"period_start"`
	Up          int64   `parquet:"up"`
	Down        int64   `parquet:"down"`
	Maintenance int64   `parquet:"maintenance"`
	Pings       int64   `parquet:"pings"`
	AvgLatency  float64 `parquet:"ping"`
	MinLatency  float64 `parquet:"ping_min"`
	MaxLatency  float64 `parquet:"ping_max"`
	Uptime      float64 `parquet:"uptime"`
}

func toRow(target string, res stats.Resolution, b *stats.Bucket) BucketRow {
	return BucketRow{
		Target:      target,
		Resolution:  string(res),
		PeriodStart: b.PeriodKey,
		Up:          int64(b.Up),
		Down:        int64(b.Down),
		Maintenance: int64(b.Maintenance),
		Pings:       int64(b.Pings),
		AvgLatency:  b.AvgLatency,
		MinLatency:  b.MinLatency,
		MaxLatency:  b.MaxLatency,
		Uptime:      b.Uptime(),
	}
}

// Buckets returns the target's retained buckets at opts.Resolution, oldest
// first. Targets with no history yield an empty slice and are not loaded into
// the registry.
func (e *Exporter) Buckets(ctx context.Context, opts ExportOptions) ([]stats.Bucket, error) {
	var buckets []stats.Bucket
	err := e.registry.View(ctx, opts.Target, func(eng *rollup.Engine) error {
		var err error
		buckets, err = eng.Buckets(opts.Resolution)
		return err
	})
	return buckets, err
}

// Export writes the target's buckets to w in opts.Format.
func (e *Exporter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	buckets, err := e.Buckets(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.write(w, opts, buckets)
}

func (e *Exporter) write(w io.Writer, opts ExportOptions, buckets []stats.Bucket) (*ExportResult, error) {
	result := &ExportResult{
		Target:          opts.Target,
		Resolution:      opts.Resolution,
		BucketsExported: len(buckets),
		Format:          opts.Format,
		ExportedAt:      e.now().UTC(),
	}

	var err error
	switch opts.Format {
	case FormatJSON:
		err = writeJSON(w, result, buckets)
	case FormatCSV:
		err = writeCSV(w, buckets)
	case FormatParquet:
		err = writeParquet(w, opts, buckets)
	default:
		return nil, fmt.Errorf("unsupported export format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func writeJSON(w io.Writer, result *ExportResult, buckets []stats.Bucket) error {
	var doc Document
	doc.Metadata.Target = result.Target
	doc.Metadata.Resolution = result.Resolution
	doc.Metadata.ExportedAt = result.ExportedAt
	doc.Metadata.BucketCount = len(buckets)
	doc.Metadata.Version = "1.0"
	doc.Buckets = buckets
	if doc.Buckets == nil {
		doc.Buckets = []stats.Bucket{}
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

var csvHeader = []string{"timestamp", "up", "down", "maintenance", "pings", "ping", "ping_min", "ping_max", "uptime"}

func writeCSV(w io.Writer, buckets []stats.Bucket) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range buckets {
		b := &buckets[i]
		row := []string{
			b.Time().Format(time.RFC3339),
			strconv.Itoa(b.Up),
			strconv.Itoa(b.Down),
			strconv.Itoa(b.Maintenance),
			strconv.Itoa(b.Pings),
			"", "", "",
			strconv.FormatFloat(b.Uptime(), 'f', -1, 64),
		}
		// Latency columns stay empty when no UP sample carried one
		if b.Pings > 0 {
			row[5] = strconv.FormatFloat(b.AvgLatency, 'f', -1, 64)
			row[6] = strconv.FormatFloat(b.MinLatency, 'f', -1, 64)
			row[7] = strconv.FormatFloat(b.MaxLatency, 'f', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeParquet(w io.Writer, opts ExportOptions, buckets []stats.Bucket) error {
	pw := parquet.NewGenericWriter[BucketRow](w, parquet.Compression(&parquet.Zstd))

	rows := make([]BucketRow, len(buckets))
	for i := range buckets {
		rows[i] = toRow(opts.Target, opts.Resolution, &buckets[i])
	}

	if _, err := pw.Write(rows); err != nil {
		pw.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
