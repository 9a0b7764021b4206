// Package ingest accepts sensor readings over HTTP and fans them into
// the two sinks: the readings channel on the stream bus and the raw
// time-series store. The bus publish comes first; a reading that never
// entered the stream must not be archived, while a reading that entered
// the stream but missed the archive is still processed downstream.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/metric"
	"github.com/c360/agrostream/telemetry"
)

// ReadingWriter is the time-series sink. Satisfied by tsdb.Writer.
type ReadingWriter interface {
	WriteReading(ctx context.Context, r telemetry.Reading) error
}

// Writer is the dual-sink ingestion writer.
type Writer struct {
	publisher bus.Publisher
	channel   bus.Channel
	points    ReadingWriter
	metrics   *metric.Metrics
	logger    *slog.Logger
}

// NewWriter builds the ingestion writer. metrics and logger may be nil.
func NewWriter(publisher bus.Publisher, channel bus.Channel, points ReadingWriter,
	metrics *metric.Metrics, logger *slog.Logger) (*Writer, error) {
	if publisher == nil || points == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Writer", "NewWriter",
			"publisher and time-series writer are required")
	}
	if err := channel.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		publisher: publisher,
		channel:   channel,
		points:    points,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Channel returns the readings channel this writer publishes to.
func (w *Writer) Channel() bus.Channel {
	return w.channel
}

// Ingest validates a reading, publishes it to the readings channel keyed
// by plot id, then archives it in the time-series store. Validation
// failures write nothing. A storage failure after a successful publish is
// reported as a write failure; the caller must not republish, the
// reading is already in flight.
func (w *Writer) Ingest(ctx context.Context, r telemetry.Reading) error {
	if err := r.Validate(); err != nil {
		w.recordIngested("rejected")
		return err
	}

	payload, err := r.Encode()
	if err != nil {
		w.recordIngested("rejected")
		return err
	}

	if err := w.publisher.Publish(ctx, w.channel, r.PlotID, payload); err != nil {
		w.recordIngested("publish_failed")
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrPublishFailed, err),
			"Writer", "Ingest", "publish reading")
	}

	if err := w.points.WriteReading(ctx, r); err != nil {
		w.recordIngested("storage_failed")
		w.logger.Error("reading published but not archived",
			"component", "ingest",
			"reading_id", r.ReadingID,
			"plot_id", r.PlotID,
			"error", err)
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrWriteFailed, err),
			"Writer", "Ingest", "store reading")
	}

	w.recordIngested("accepted")
	w.logger.Debug("reading ingested",
		"component", "ingest",
		"reading_id", r.ReadingID,
		"plot_id", r.PlotID,
		"metric", r.Metric)
	return nil
}

func (w *Writer) recordIngested(status string) {
	if w.metrics != nil {
		w.metrics.RecordReadingIngested(status)
	}
}
