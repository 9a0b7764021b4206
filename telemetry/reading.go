// Package telemetry defines the wire-level domain types carried by the
// pipeline: sensor readings published by producers and the alerts derived
// from them. Both are immutable facts; the JSON field names below are the
// stream contract and must round-trip exactly.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/agrostream/errors"
)

// Reading is a single sensor measurement. The identifier is assigned by
// the producer and expected to be globally unique; the pipeline treats
// metric, value and unit as opaque except where a rule inspects them.
type Reading struct {
	ReadingID    string    `json:"reading_id"`
	ProducerID   string    `json:"producer_id"`
	PropertyID   string    `json:"property_id"`
	PlotID       string    `json:"plot_id"`
	SensorID     string    `json:"sensor_id"`
	Metric       string    `json:"metric"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit"`
	TimestampUTC time.Time `json:"timestamp_utc"`
}

// Validate checks the fields required before a reading may enter the
// pipeline. The returned error names the first missing field.
func (r Reading) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"reading_id", r.ReadingID},
		{"property_id", r.PropertyID},
		{"plot_id", r.PlotID},
		{"metric", r.Metric},
	} {
		if f.value == "" {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s", errors.ErrMissingField, f.name),
				"Reading", "Validate", "check required fields")
		}
	}
	return nil
}

// Encode serializes the reading to its JSON wire form.
func (r Reading) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Reading", "Encode", "marshal")
	}
	return data, nil
}

// DecodeReading parses a stream payload into a Reading. Payloads that do
// not parse into the full structure are rejected so the consume loop can
// treat them as poison.
func DecodeReading(data []byte) (Reading, error) {
	var r Reading
	if err := json.Unmarshal(data, &r); err != nil {
		return Reading{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrDecodeFailed, err),
			"Reading", "DecodeReading", "unmarshal")
	}
	if err := r.Validate(); err != nil {
		return Reading{}, err
	}
	return r, nil
}
