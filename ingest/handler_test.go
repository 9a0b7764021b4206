package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agrostream/bus"
	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/rule"
	"github.com/c360/agrostream/telemetry"
)

type fakeIngestor struct {
	err  error
	last telemetry.Reading
}

func (f *fakeIngestor) Ingest(_ context.Context, r telemetry.Reading) error {
	f.last = r
	return f.err
}

func (f *fakeIngestor) Channel() bus.Channel {
	return readingsChannel
}

func newTestMux(ingestor Ingestor) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(ingestor, nil).Routes(mux)
	return mux
}

func readingBody(t *testing.T) string {
	t.Helper()
	data, err := validReading().Encode()
	require.NoError(t, err)
	return string(data)
}

func TestPostReadingAccepted(t *testing.T) {
	ingestor := &fakeIngestor{}
	mux := newTestMux(ingestor)

	req := httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader(readingBody(t)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "readings", resp.Channel)
	assert.Equal(t, "plot-7", resp.Key)
	assert.Equal(t, "r-42", resp.ReadingID)
	assert.Equal(t, "r-42", ingestor.last.ReadingID)
}

func TestPostReadingMalformedBody(t *testing.T) {
	mux := newTestMux(&fakeIngestor{})

	req := httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed")
}

func TestPostReadingValidationErrorNamesField(t *testing.T) {
	validationErr := errors.WrapInvalid(
		fmt.Errorf("%w: plot_id", errors.ErrMissingField),
		"Reading", "Validate", "check required fields")
	mux := newTestMux(&fakeIngestor{err: validationErr})

	req := httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader(readingBody(t)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "plot_id")
}

func TestPostReadingPublishFailure(t *testing.T) {
	publishErr := errors.WrapTransient(
		fmt.Errorf("%w: nats unreachable", errors.ErrPublishFailed),
		"Writer", "Ingest", "publish reading")
	mux := newTestMux(&fakeIngestor{err: publishErr})

	req := httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader(readingBody(t)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "reading not accepted")
}

func TestPostReadingStorageFailure(t *testing.T) {
	storageErr := errors.WrapTransient(
		fmt.Errorf("%w: influx down", errors.ErrWriteFailed),
		"Writer", "Ingest", "store reading")
	mux := newTestMux(&fakeIngestor{err: storageErr})

	req := httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader(readingBody(t)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "accepted but not archived")
}

func TestPostReadingMethodNotAllowed(t *testing.T) {
	mux := newTestMux(&fakeIngestor{})

	req := httptest.NewRequest(http.MethodGet, "/v1/readings", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// A dry soil moisture reading travels the whole ingest path: HTTP accept,
// keyed publish, point write, and the published payload triggers the rule.
func TestDryReadingEndToEnd(t *testing.T) {
	publisher := &capturePublisher{}
	points := &captureReadingWriter{}
	writer, err := NewWriter(publisher, readingsChannel, points, nil, nil)
	require.NoError(t, err)
	mux := newTestMux(writer)

	reading := telemetry.Reading{
		ReadingID:    "r1",
		ProducerID:   "producer-1",
		PropertyID:   "prop-1",
		PlotID:       "plot-9",
		SensorID:     "s-1",
		Metric:       "soil_moisture",
		Value:        22.5,
		Unit:         "%",
		TimestampUTC: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
	}
	body, err := reading.Encode()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/readings", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, publisher.keys, 1)
	require.Len(t, points.readings, 1)
	assert.Equal(t, "plot-9", publisher.keys[0])
	assert.Equal(t, "r1", points.readings[0].ReadingID)

	published, err := telemetry.DecodeReading(publisher.payloads[0])
	require.NoError(t, err)
	alert, fired := rule.NewEvaluator().Evaluate(published)
	require.True(t, fired)
	assert.Equal(t, "soil_moisture_below_30", alert.Rule)
	assert.Equal(t, telemetry.SeverityHigh, alert.Severity)
	assert.Equal(t, "plot-9", alert.PlotID)
	assert.Contains(t, alert.Message, "22.5")
}

func TestIngestHealthz(t *testing.T) {
	mux := newTestMux(&fakeIngestor{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
