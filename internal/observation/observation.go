// Package observation holds the climate measurement types consumed by every
// other component.
//
// An Observation is immutable once read from the data source. A Window is an
// ordered, immutable run of observations for one metric; it is validated once
// at construction (non-empty, finite values, strictly increasing timestamps)
// so downstream scorers never have to re-check it.
package observation

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Metric identifies the measured climate variable.
type Metric string

const (
	MetricTemperature   Metric = "temperature"
	MetricPrecipitation Metric = "precipitation"
)

// ParseMetric normalizes a metric name. Unknown names return an error.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricTemperature:
		return MetricTemperature, nil
	case MetricPrecipitation:
		return MetricPrecipitation, nil
	}
	return "", &ValidationError{Field: "metric", Index: -1, Message: fmt.Sprintf("unknown metric %q, must be one of: temperature, precipitation", s)}
}

// Unit returns the display unit for the metric.
func (m Metric) Unit() string {
	if m == MetricTemperature {
		return "°C"
	}
	return "mm"
}

// DateLayout is the wire format for observation dates.
const DateLayout = "2006-01-02"

// Observation is a single measurement.
type Observation struct {
	Timestamp time.Time `json:"date"`
	Metric    Metric    `json:"metric"`
	Value     float64   `json:"value"`
}

// Date returns the observation day formatted as YYYY-MM-DD.
func (o Observation) Date() string {
	return o.Timestamp.UTC().Format(DateLayout)
}

// ValidationError reports an empty or malformed observation window.
type ValidationError struct {
	Field   string
	Index   int // -1 when not tied to a single point
	Message string
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("invalid observation %d (%s): %s", e.Index, e.Field, e.Message)
	}
	return fmt.Sprintf("invalid observation window (%s): %s", e.Field, e.Message)
}

// ParseTimestamp accepts a plain date or an RFC3339 timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
