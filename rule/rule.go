// Package rule derives alerts from readings. Evaluation is pure: no I/O
// and no retries; that plumbing belongs to the consume loop that calls it.
package rule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/agrostream/telemetry"
)

// Threshold rule identity for low soil moisture.
const (
	SoilMoistureMetric    = "soil_moisture"
	SoilMoistureRule      = "soil_moisture_below_30"
	SoilMoistureThreshold = 30.0
)

// Evaluator maps a reading to at most one alert.
type Evaluator struct {
	// now is the evaluation clock; overridable in tests.
	now func() time.Time
}

// NewEvaluator returns an evaluator using the wall clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// NewEvaluatorAt returns an evaluator with a fixed clock for tests.
func NewEvaluatorAt(now func() time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// Evaluate returns the alert triggered by the reading, if any. The alert
// identifier is derived from the reading identifier and the rule name, so
// redelivered readings produce the identical alert.
func (e *Evaluator) Evaluate(r telemetry.Reading) (telemetry.Alert, bool) {
	if !strings.EqualFold(r.Metric, SoilMoistureMetric) {
		return telemetry.Alert{}, false
	}
	if r.Value >= SoilMoistureThreshold {
		return telemetry.Alert{}, false
	}

	value := strconv.FormatFloat(r.Value, 'f', -1, 64)
	return telemetry.Alert{
		AlertID:      telemetry.NewAlertID(r.ReadingID, SoilMoistureRule),
		PropertyID:   r.PropertyID,
		PlotID:       r.PlotID,
		Rule:         SoilMoistureRule,
		Severity:     telemetry.SeverityHigh,
		Message:      fmt.Sprintf("soil moisture low (%s%s)", value, r.Unit),
		CreatedAtUTC: e.now().UTC(),
	}, true
}
