package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agrostream/errors"
)

func validReading() Reading {
	return Reading{
		ReadingID:    "r1",
		ProducerID:   "producer-1",
		PropertyID:   "p1",
		PlotID:       "plot-9",
		SensorID:     "s1",
		Metric:       "soil_moisture",
		Value:        22.5,
		Unit:         "%",
		TimestampUTC: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestReadingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Reading)
		missing string
	}{
		{"missing reading_id", func(r *Reading) { r.ReadingID = "" }, "reading_id"},
		{"missing property_id", func(r *Reading) { r.PropertyID = "" }, "property_id"},
		{"missing plot_id", func(r *Reading) { r.PlotID = "" }, "plot_id"},
		{"missing metric", func(r *Reading) { r.Metric = "" }, "metric"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReading()
			tt.mutate(&r)

			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.missing)
		})
	}

	assert.NoError(t, validReading().Validate())
}

func TestReadingRoundTrip(t *testing.T) {
	r := validReading()

	data, err := r.Encode()
	require.NoError(t, err)

	got, err := DecodeReading(data)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestReadingWireFieldNames(t *testing.T) {
	data, err := validReading().Encode()
	require.NoError(t, err)

	for _, field := range []string{
		"reading_id", "producer_id", "property_id", "plot_id",
		"sensor_id", "metric", "value", "unit", "timestamp_utc",
	} {
		assert.Contains(t, string(data), `"`+field+`"`)
	}
}

func TestDecodeReadingRejectsMalformedPayload(t *testing.T) {
	_, err := DecodeReading([]byte("not json at all"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestDecodeReadingRejectsIncompletePayload(t *testing.T) {
	_, err := DecodeReading([]byte(`{"reading_id":"r1"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewAlertIDDeterministic(t *testing.T) {
	a := NewAlertID("r1", "soil_moisture_below_30")
	b := NewAlertID("r1", "soil_moisture_below_30")
	assert.Equal(t, a, b)

	// Different reading or rule gives a different identifier.
	assert.NotEqual(t, a, NewAlertID("r2", "soil_moisture_below_30"))
	assert.NotEqual(t, a, NewAlertID("r1", "some_other_rule"))
}

func TestAlertRoundTrip(t *testing.T) {
	a := Alert{
		AlertID:      NewAlertID("r1", "soil_moisture_below_30"),
		PropertyID:   "p1",
		PlotID:       "plot-9",
		Rule:         "soil_moisture_below_30",
		Severity:     SeverityHigh,
		Message:      "soil moisture low (22.5%)",
		CreatedAtUTC: time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC),
	}

	data, err := a.Encode()
	require.NoError(t, err)

	got, err := DecodeAlert(data)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestDecodeAlertRejectsMissingFields(t *testing.T) {
	_, err := DecodeAlert([]byte(`{"alert_id":"a1","plot_id":"plot-9"}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "rule")
}
