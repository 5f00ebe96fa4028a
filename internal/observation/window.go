package observation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Window is an ordered, immutable slice of observations for one metric.
type Window struct {
	metric Metric
	points []Observation
	values []float64
}

// NewWindow validates and copies points into a Window. Every point must carry
// the window's metric (an empty metric is filled in), a finite value and a
// timestamp strictly after its predecessor.
func NewWindow(metric Metric, points []Observation) (*Window, error) {
	if metric != MetricTemperature && metric != MetricPrecipitation {
		return nil, &ValidationError{Field: "metric", Index: -1, Message: fmt.Sprintf("unknown metric %q", metric)}
	}
	if len(points) == 0 {
		return nil, &ValidationError{Field: "data", Index: -1, Message: "window is empty"}
	}

	copied := make([]Observation, len(points))
	values := make([]float64, len(points))
	for i, p := range points {
		if p.Metric == "" {
			p.Metric = metric
		}
		if p.Metric != metric {
			return nil, &ValidationError{Field: "metric", Index: i, Message: fmt.Sprintf("metric %q does not match window metric %q", p.Metric, metric)}
		}
		if p.Timestamp.IsZero() {
			return nil, &ValidationError{Field: "date", Index: i, Message: "missing timestamp"}
		}
		if !isFinite(p.Value) {
			return nil, &ValidationError{Field: "value", Index: i, Message: "value is not a finite number"}
		}
		if i > 0 && !p.Timestamp.After(copied[i-1].Timestamp) {
			return nil, &ValidationError{Field: "date", Index: i, Message: "timestamps must be strictly increasing"}
		}
		copied[i] = p
		values[i] = p.Value
	}

	return &Window{metric: metric, points: copied, values: values}, nil
}

// RawPoint is an unvalidated input point as received over the wire.
type RawPoint struct {
	Date  string      `json:"date"`
	Value interface{} `json:"value"`
}

// FromRaw parses wire points into a validated Window.
func FromRaw(metric Metric, raw []RawPoint) (*Window, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Field: "data", Index: -1, Message: "no climate data provided"}
	}
	points := make([]Observation, 0, len(raw))
	for i, rp := range raw {
		ts, err := ParseTimestamp(rp.Date)
		if err != nil {
			return nil, &ValidationError{Field: "date", Index: i, Message: err.Error()}
		}
		v, err := numeric(rp.Value)
		if err != nil {
			return nil, &ValidationError{Field: "value", Index: i, Message: err.Error()}
		}
		points = append(points, Observation{Timestamp: ts, Metric: metric, Value: v})
	}
	return NewWindow(metric, points)
}

func numeric(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		if s, ok := v.(fmt.Stringer); ok {
			return numeric(s.String())
		}
		return 0, fmt.Errorf("non-numeric value of type %T", v)
	}
}

// Metric returns the window's metric.
func (w *Window) Metric() Metric { return w.metric }

// Len returns the number of observations.
func (w *Window) Len() int { return len(w.points) }

// At returns the i-th observation.
func (w *Window) At(i int) Observation { return w.points[i] }

// Values returns a copy of the observation values in order.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Observations returns a copy of the observations in order.
func (w *Window) Observations() []Observation {
	out := make([]Observation, len(w.points))
	copy(out, w.points)
	return out
}

// Stats returns the population mean and standard deviation of the window.
func (w *Window) Stats() (mean, std float64) {
	return MeanStd(w.values)
}

// MeanStd returns the population mean and standard deviation of values.
func MeanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(values)))
	return mean, std
}

// SampleMeanStd returns the mean and the n-1 standard deviation of values.
func SampleMeanStd(values []float64) (mean, std float64) {
	if len(values) < 2 {
		m, _ := MeanStd(values)
		return m, 0
	}
	mean, _ = MeanStd(values)
	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}
