package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/agrostream/errors"
)

// Severity grades how urgently an alert should surface on a dashboard.
type Severity string

// Severity levels carried on alerts.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// alertNamespace scopes deterministic alert identifiers. Changing it
// changes every derived identifier, so it is fixed for the lifetime of
// the alerts stream.
var alertNamespace = uuid.MustParse("7b7f0f2e-9c1d-4e9a-8a57-3f6e2d1c0b4a")

// Alert is an immutable fact derived from exactly one Reading.
type Alert struct {
	AlertID      string    `json:"alert_id"`
	PropertyID   string    `json:"property_id"`
	PlotID       string    `json:"plot_id"`
	Rule         string    `json:"rule"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	CreatedAtUTC time.Time `json:"created_at_utc"`
}

// NewAlertID derives the alert identifier from the triggering reading and
// the rule that fired. Re-evaluating a redelivered reading yields the same
// identifier, so the relational sink deduplicates naturally.
func NewAlertID(readingID, rule string) string {
	return uuid.NewSHA1(alertNamespace, []byte(readingID+":"+rule)).String()
}

// Validate checks the fields required before an alert may be persisted.
func (a Alert) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"alert_id", a.AlertID},
		{"plot_id", a.PlotID},
		{"rule", a.Rule},
		{"severity", string(a.Severity)},
	} {
		if f.value == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrMissingField, f.name),
				"Alert", "Validate", "check required fields")
		}
	}
	return nil
}

// Encode serializes the alert to its JSON wire form.
func (a Alert) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Alert", "Encode", "marshal")
	}
	return data, nil
}

// DecodeAlert parses a stream payload into an Alert.
func DecodeAlert(data []byte) (Alert, error) {
	var a Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return Alert{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrDecodeFailed, err),
			"Alert", "DecodeAlert", "unmarshal")
	}
	if err := a.Validate(); err != nil {
		return Alert{}, err
	}
	return a, nil
}
