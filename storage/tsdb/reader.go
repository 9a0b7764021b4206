package tsdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360/agrostream/errors"
)

// Point is one time-series sample returned to the dashboard.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Reader runs the dashboard's Flux queries.
type Reader struct {
	query  FluxQuerier
	bucket string
}

// NewReader builds a reader over a query API and target bucket.
func NewReader(query FluxQuerier, bucket string) *Reader {
	return &Reader{query: query, bucket: bucket}
}

// QueryRange returns raw samples for one plot and metric within the time
// range, oldest first, capped at limit.
func (r *Reader) QueryRange(ctx context.Context, plotID, metric string, from, to time.Time, limit int) ([]Point, error) {
	if plotID == "" || metric == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Reader", "QueryRange",
			"plot id and metric are required")
	}

	return r.run(ctx, r.rangeQuery(plotID, metric, from, to, limit))
}

// QueryWindowed returns per-window mean values for one plot and metric.
// Windows with no samples are omitted rather than zero-filled.
func (r *Reader) QueryWindowed(ctx context.Context, plotID, metric string, from, to time.Time, window time.Duration, limit int) ([]Point, error) {
	if plotID == "" || metric == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Reader", "QueryWindowed",
			"plot id and metric are required")
	}
	if window < time.Millisecond {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Reader", "QueryWindowed",
			"window must be at least 1ms")
	}

	return r.run(ctx, r.windowQuery(plotID, metric, from, to, window, limit))
}

func (r *Reader) run(ctx context.Context, flux string) ([]Point, error) {
	result, err := r.query.Query(ctx, flux)
	if err != nil {
		return nil, errors.WrapTransient(err, "Reader", "run", "flux query")
	}

	var points []Point
	for result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			continue
		}
		points = append(points, Point{Time: record.Time(), Value: value})
	}
	if result.Err() != nil {
		return nil, errors.WrapTransient(result.Err(), "Reader", "run", "read flux result")
	}

	return points, nil
}

func (r *Reader) rangeQuery(plotID, metric string, from, to time.Time, limit int) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r.plot_id == "%s" and r.metric == "%s")
  |> filter(fn: (r) => r._field == "value")
  |> sort(columns: ["_time"], desc: false)
  |> limit(n: %d)`,
		r.bucket,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
		Measurement,
		escapeFlux(plotID), escapeFlux(metric),
		limit)
}

func (r *Reader) windowQuery(plotID, metric string, from, to time.Time, window time.Duration, limit int) string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r.plot_id == "%s" and r.metric == "%s")
  |> filter(fn: (r) => r._field == "value")
  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)
  |> sort(columns: ["_time"], desc: false)
  |> limit(n: %d)`,
		r.bucket,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
		Measurement,
		escapeFlux(plotID), escapeFlux(metric),
		fluxDuration(window),
		limit)
}

// escapeFlux sanitizes a value for interpolation inside a Flux string
// literal.
func escapeFlux(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// fluxDuration renders a duration as a Flux duration literal. Whole
// seconds render as seconds; finer windows render in milliseconds so a
// sub-second window never collapses to 0s.
func fluxDuration(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
