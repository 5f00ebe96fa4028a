package classifier

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// Norm is a climatological baseline for one metric.
type Norm struct {
	Mean float64 `yaml:"mean" json:"mean"`
	Std  float64 `yaml:"std" json:"std"`
}

// metricNorms holds an annual baseline and optional per-month overrides.
type metricNorms struct {
	Norm    `yaml:",inline"`
	Monthly map[int]Norm `yaml:"monthly"`
}

// Climatology maps metrics to their long-term baselines. The zero value has
// no norms, so every lookup falls back to the observation window.
type Climatology struct {
	Source string                             `yaml:"source"`
	Norms  map[observation.Metric]metricNorms `yaml:"norms"`
}

// LoadClimatology reads a YAML norms file:
//
//	source: INUMET 1991-2020
//	norms:
//	  temperature:
//	    mean: 17.7
//	    std: 5.1
//	    monthly:
//	      1: {mean: 23.4, std: 3.0}
func LoadClimatology(path string) (*Climatology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read norms file: %w", err)
	}
	return ParseClimatology(data)
}

// ParseClimatology decodes YAML norms and validates every baseline.
func ParseClimatology(data []byte) (*Climatology, error) {
	var c Climatology
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse norms: %w", err)
	}
	for metric, mn := range c.Norms {
		if _, err := observation.ParseMetric(string(metric)); err != nil {
			return nil, err
		}
		if mn.Std < 0 {
			return nil, fmt.Errorf("norms for %s: negative std", metric)
		}
		for month, n := range mn.Monthly {
			if month < 1 || month > 12 {
				return nil, fmt.Errorf("norms for %s: invalid month %d", metric, month)
			}
			if n.Std <= 0 {
				return nil, fmt.Errorf("norms for %s month %d: std must be positive", metric, month)
			}
		}
	}
	return &c, nil
}

// Lookup returns the baseline for metric in the given month, preferring a
// monthly entry over the annual one. ok is false when neither is usable.
func (c *Climatology) Lookup(metric observation.Metric, month time.Month) (Norm, bool) {
	if c == nil {
		return Norm{}, false
	}
	mn, ok := c.Norms[metric]
	if !ok {
		return Norm{}, false
	}
	if n, ok := mn.Monthly[int(month)]; ok {
		return n, true
	}
	if mn.Std > 0 {
		return mn.Norm, true
	}
	return Norm{}, false
}

// WindowNorm derives a baseline from the window itself (population stats).
func WindowNorm(w *observation.Window) Norm {
	mean, std := w.Stats()
	return Norm{Mean: mean, Std: std}
}

// NormFor resolves the baseline for an observation: the configured
// climatology when it has one, the window statistics otherwise.
func (c *Climatology) NormFor(w *observation.Window, obs observation.Observation) Norm {
	if n, ok := c.Lookup(obs.Metric, obs.Timestamp.Month()); ok {
		return n
	}
	return WindowNorm(w)
}
