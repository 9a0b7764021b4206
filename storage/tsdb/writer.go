package tsdb

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/telemetry"
)

// Writer persists readings as InfluxDB points.
type Writer struct {
	write PointWriter
}

// NewWriter builds a writer over a blocking write API.
func NewWriter(write PointWriter) *Writer {
	return &Writer{write: write}
}

// WriteReading stores one reading. The point carries the query dimensions
// as tags and the measured value as the single field, timestamped with
// the reading's own capture time.
func (w *Writer) WriteReading(ctx context.Context, r telemetry.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}

	tags := map[string]string{
		"property_id": r.PropertyID,
		"plot_id":     r.PlotID,
		"metric":      r.Metric,
	}
	// Empty tag values are invalid in line protocol; the optional
	// dimensions are only tagged when present.
	if r.SensorID != "" {
		tags["sensor_id"] = r.SensorID
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}

	point := influxdb2.NewPoint(Measurement, tags,
		map[string]any{"value": r.Value},
		r.TimestampUTC)

	if err := w.write.WritePoint(ctx, point); err != nil {
		return errors.WrapTransient(err, "Writer", "WriteReading", "write point")
	}
	return nil
}
