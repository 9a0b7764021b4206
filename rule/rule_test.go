package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agrostream/telemetry"
)

func reading(metric string, value float64) telemetry.Reading {
	return telemetry.Reading{
		ReadingID:    "r1",
		ProducerID:   "producer-1",
		PropertyID:   "p1",
		PlotID:       "plot-9",
		SensorID:     "s1",
		Metric:       metric,
		Value:        value,
		Unit:         "%",
		TimestampUTC: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateSoilMoistureThreshold(t *testing.T) {
	eval := NewEvaluator()

	tests := []struct {
		name  string
		value float64
		fires bool
	}{
		{"well below threshold", 5, true},
		{"just below threshold", 29.999, true},
		{"at threshold", 30, false},
		{"above threshold", 30.001, false},
		{"far above threshold", 95, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fired := eval.Evaluate(reading("soil_moisture", tt.value))
			assert.Equal(t, tt.fires, fired)
		})
	}
}

func TestEvaluateMetricCaseInsensitive(t *testing.T) {
	eval := NewEvaluator()

	for _, metric := range []string{"soil_moisture", "SOIL_MOISTURE", "Soil_Moisture"} {
		_, fired := eval.Evaluate(reading(metric, 10))
		assert.True(t, fired, "metric %q should fire", metric)
	}
}

func TestEvaluateOtherMetricsNeverFire(t *testing.T) {
	eval := NewEvaluator()

	for _, metric := range []string{"temperature", "humidity", "ph", ""} {
		for _, value := range []float64{-10, 0, 15, 31, 1000} {
			_, fired := eval.Evaluate(reading(metric, value))
			assert.False(t, fired, "metric %q value %v must not fire", metric, value)
		}
	}
}

func TestEvaluateAlertContents(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 1, 0, time.UTC)
	eval := NewEvaluatorAt(func() time.Time { return at })

	alert, fired := eval.Evaluate(reading("soil_moisture", 22.5))
	require.True(t, fired)

	assert.Equal(t, SoilMoistureRule, alert.Rule)
	assert.Equal(t, telemetry.SeverityHigh, alert.Severity)
	assert.Equal(t, "p1", alert.PropertyID)
	assert.Equal(t, "plot-9", alert.PlotID)
	assert.Contains(t, alert.Message, "22.5%")
	assert.Equal(t, at, alert.CreatedAtUTC)
	assert.Equal(t, telemetry.NewAlertID("r1", SoilMoistureRule), alert.AlertID)
}

func TestEvaluateDeterministicAcrossRedelivery(t *testing.T) {
	eval := NewEvaluator()

	a1, fired1 := eval.Evaluate(reading("soil_moisture", 22.5))
	a2, fired2 := eval.Evaluate(reading("soil_moisture", 22.5))

	require.True(t, fired1)
	require.True(t, fired2)
	assert.Equal(t, a1.AlertID, a2.AlertID)
}
