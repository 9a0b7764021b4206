package ingest

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/telemetry"
)

var readingsChannel = bus.Channel{Name: "readings", Stream: "AGRO_READINGS", SubjectPrefix: "readings"}

type capturePublisher struct {
	channels []bus.Channel
	keys     []string
	payloads [][]byte
	err      error
}

func (p *capturePublisher) Publish(_ context.Context, ch bus.Channel, key string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, ch)
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

type captureReadingWriter struct {
	readings []telemetry.Reading
	err      error
}

func (w *captureReadingWriter) WriteReading(_ context.Context, r telemetry.Reading) error {
	if w.err != nil {
		return w.err
	}
	w.readings = append(w.readings, r)
	return nil
}

func validReading() telemetry.Reading {
	return telemetry.Reading{
		ReadingID:    "r-42",
		ProducerID:   "gateway-1",
		PropertyID:   "farm-1",
		PlotID:       "plot-7",
		SensorID:     "sensor-3",
		Metric:       "soil_moisture",
		Value:        27.5,
		Unit:         "%",
		TimestampUTC: time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC),
	}
}

func newTestWriter(t *testing.T, publisher bus.Publisher, points ReadingWriter) *Writer {
	t.Helper()
	writer, err := NewWriter(publisher, readingsChannel, points, nil, nil)
	require.NoError(t, err)
	return writer
}

func TestNewWriterValidation(t *testing.T) {
	_, err := NewWriter(nil, readingsChannel, &captureReadingWriter{}, nil, nil)
	assert.Error(t, err)

	_, err = NewWriter(&capturePublisher{}, readingsChannel, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewWriter(&capturePublisher{}, bus.Channel{}, &captureReadingWriter{}, nil, nil)
	assert.Error(t, err)
}

func TestIngestPublishesThenArchives(t *testing.T) {
	publisher := &capturePublisher{}
	points := &captureReadingWriter{}
	writer := newTestWriter(t, publisher, points)

	reading := validReading()
	require.NoError(t, writer.Ingest(context.Background(), reading))

	require.Len(t, publisher.payloads, 1)
	assert.Equal(t, "readings", publisher.channels[0].Name)
	assert.Equal(t, "plot-7", publisher.keys[0])

	decoded, err := telemetry.DecodeReading(publisher.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, reading.ReadingID, decoded.ReadingID)
	assert.Equal(t, reading.Value, decoded.Value)

	require.Len(t, points.readings, 1)
	assert.Equal(t, reading.ReadingID, points.readings[0].ReadingID)
}

func TestIngestValidationFailureWritesNothing(t *testing.T) {
	publisher := &capturePublisher{}
	points := &captureReadingWriter{}
	writer := newTestWriter(t, publisher, points)

	reading := validReading()
	reading.PlotID = ""
	err := writer.Ingest(context.Background(), reading)

	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "plot_id")
	assert.Empty(t, publisher.payloads, "validation failure must not publish")
	assert.Empty(t, points.readings, "validation failure must not archive")
}

func TestIngestPublishFailureSkipsArchive(t *testing.T) {
	publisher := &capturePublisher{err: fmt.Errorf("nats unreachable")}
	points := &captureReadingWriter{}
	writer := newTestWriter(t, publisher, points)

	err := writer.Ingest(context.Background(), validReading())

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrPublishFailed))
	assert.True(t, errors.IsTransient(err))
	assert.Empty(t, points.readings, "failed publish must not reach the archive")
}

func TestIngestStorageFailureAfterPublish(t *testing.T) {
	publisher := &capturePublisher{}
	points := &captureReadingWriter{err: fmt.Errorf("influx down")}
	writer := newTestWriter(t, publisher, points)

	err := writer.Ingest(context.Background(), validReading())

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrWriteFailed))
	assert.False(t, stderrors.Is(err, errors.ErrPublishFailed))
	require.Len(t, publisher.payloads, 1, "reading is already in the stream")
}
