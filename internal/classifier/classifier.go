// Package classifier turns an anomalous observation into a typed alert.
//
// Type rules are evaluated in priority order against the climatological
// norm: heat wave, cold snap, extreme precipitation, drought indicator. An
// anomaly matching none of them is logged and discarded, never coerced into
// a default type. Severity is a total function of the ensemble score.
package classifier

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// Severity boundaries over the rescaled anomaly score.
const (
	CriticalScore = 0.85
	HighScore     = 0.6
	MediumScore   = 0.4
)

// Thresholds are the sigma multipliers for each type rule.
type Thresholds struct {
	HeatSigma          float64 `json:"heat_sigma"`
	ColdSigma          float64 `json:"cold_sigma"`
	PrecipitationSigma float64 `json:"precipitation_sigma"`
	DroughtSigma       float64 `json:"drought_sigma"`
}

// DefaultThresholds: 2σ for temperature extremes and heavy rain, 1.5σ for
// precipitation deficit.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeatSigma:          2.0,
		ColdSigma:          2.0,
		PrecipitationSigma: 2.0,
		DroughtSigma:       1.5,
	}
}

// Validate checks every multiplier is positive.
func (t Thresholds) Validate() error {
	if t.HeatSigma <= 0 || t.ColdSigma <= 0 || t.PrecipitationSigma <= 0 || t.DroughtSigma <= 0 {
		return fmt.Errorf("classification thresholds must be positive: %+v", t)
	}
	return nil
}

// Result is a successful classification.
type Result struct {
	Type     alert.Type     `json:"alert_type"`
	Severity alert.Severity `json:"severity"`
	Norm     Norm           `json:"norm"`
}

// Classifier assigns alert types and severities. Thresholds can be swapped
// at runtime with SetThresholds.
type Classifier struct {
	mu         sync.RWMutex
	thresholds Thresholds
	logger     *zap.Logger
}

// New creates a classifier. A nil logger disables discard logging.
func New(thresholds Thresholds, logger *zap.Logger) (*Classifier, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{thresholds: thresholds, logger: logger}, nil
}

// Thresholds returns the active thresholds.
func (c *Classifier) Thresholds() Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

// SetThresholds replaces the thresholds used by subsequent calls.
func (c *Classifier) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.thresholds = t
	c.mu.Unlock()
	return nil
}

// TypeFor applies the type rules in priority order. ok is false when no rule
// matches.
func (c *Classifier) TypeFor(metric observation.Metric, value float64, norm Norm) (alert.Type, bool) {
	t := c.Thresholds()
	switch metric {
	case observation.MetricTemperature:
		if value >= norm.Mean+t.HeatSigma*norm.Std {
			return alert.TypeHeatWave, true
		}
		if value <= norm.Mean-t.ColdSigma*norm.Std {
			return alert.TypeColdSnap, true
		}
	case observation.MetricPrecipitation:
		if value >= norm.Mean+t.PrecipitationSigma*norm.Std {
			return alert.TypeExtremePrecipitation, true
		}
		if value <= norm.Mean-t.DroughtSigma*norm.Std {
			return alert.TypeDroughtIndicator, true
		}
	}
	return "", false
}

// Classify types an anomalous observation against norm and grades it by
// score. An anomaly that matches no type rule is logged and ok is false.
func (c *Classifier) Classify(obs observation.Observation, score float64, norm Norm) (Result, bool) {
	typ, ok := c.TypeFor(obs.Metric, obs.Value, norm)
	if !ok {
		c.logger.Warn("anomaly matched no alert type, discarding",
			zap.String("date", obs.Date()),
			zap.String("metric", string(obs.Metric)),
			zap.Float64("value", obs.Value),
			zap.Float64("anomaly_score", score),
			zap.Float64("norm_mean", norm.Mean),
			zap.Float64("norm_std", norm.Std),
		)
		return Result{}, false
	}
	return Result{Type: typ, Severity: SeverityFor(score), Norm: norm}, true
}

// SeverityFor maps an anomaly score onto a severity. The mapping is total.
func SeverityFor(score float64) alert.Severity {
	switch {
	case score >= CriticalScore:
		return alert.SeverityCritical
	case score >= HighScore:
		return alert.SeverityHigh
	case score >= MediumScore:
		return alert.SeverityMedium
	default:
		return alert.SeverityLow
	}
}
