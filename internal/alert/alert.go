// Package alert defines the climate alert entity and its lifecycle.
//
// An alert's state is a tagged variant: Active, Acknowledged or Resolved.
// Fields that only make sense in a later state (acknowledgement time,
// resolution notes) exist only on that variant, so an active alert cannot
// carry resolution notes and a resolved alert always does.
package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// Type is the classified kind of climate alert.
type Type string

const (
	TypeHeatWave             Type = "heat_wave"
	TypeColdSnap             Type = "cold_snap"
	TypeExtremePrecipitation Type = "extreme_precipitation"
	TypeDroughtIndicator     Type = "drought_indicator"
)

// Types lists every alert type in classification priority order.
var Types = []Type{TypeHeatWave, TypeColdSnap, TypeExtremePrecipitation, TypeDroughtIndicator}

// DisplayName returns the human-readable alert name.
func (t Type) DisplayName() string {
	switch t {
	case TypeHeatWave:
		return "Heat Wave"
	case TypeColdSnap:
		return "Cold Snap"
	case TypeExtremePrecipitation:
		return "Extreme Precipitation"
	case TypeDroughtIndicator:
		return "Drought Indicator"
	}
	return "Climate Alert"
}

// Valid reports whether t is a known alert type.
func (t Type) Valid() bool {
	for _, k := range Types {
		if t == k {
			return true
		}
	}
	return false
}

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from 1 (low) to 4 (critical); unknown is 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// AIAnalysis is the optional narrative attached by the enrichment service.
type AIAnalysis struct {
	Confidence       float64 `json:"confidence"`
	Summary          string  `json:"summary"`
	DetailedAnalysis string  `json:"detailed_analysis"`
}

// Alert is a classified climate anomaly tracked through its lifecycle.
type Alert struct {
	ID              string
	Fingerprint     string
	Type            Type
	Severity        Severity
	State           State
	Metric          observation.Metric
	Value           float64
	Date            string
	Location        string
	AnomalyScore    float64
	Recommendations []string
	AIAnalysis      *AIAnalysis
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// New builds an active alert for an observation. The fingerprint is derived
// from the observation date, metric and alert type.
func New(id string, obs observation.Observation, t Type, sev Severity, score float64, location string, now time.Time) *Alert {
	return &Alert{
		ID:           id,
		Fingerprint:  Fingerprint(obs.Date(), obs.Metric, t),
		Type:         t,
		Severity:     sev,
		State:        Active{},
		Metric:       obs.Metric,
		Value:        obs.Value,
		Date:         obs.Date(),
		Location:     location,
		AnomalyScore: score,
		Description:  Describe(t, sev, obs.Value, obs.Metric),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
}

// Status returns the current lifecycle status.
func (a *Alert) Status() Status {
	if a.State == nil {
		return StatusActive
	}
	return a.State.Status()
}

// Acknowledged reports whether the alert has been acknowledged, including
// alerts that have since been resolved.
func (a *Alert) Acknowledged() bool {
	s := a.Status()
	return s == StatusAcknowledged || s == StatusResolved
}

// Resolved reports whether the alert is in its terminal state.
func (a *Alert) Resolved() bool { return a.Status() == StatusResolved }

// Live reports whether the alert still blocks creation of a new alert with
// the same fingerprint.
func (a *Alert) Live() bool { return !a.Resolved() }

// Clone returns a deep copy of the alert.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.Recommendations != nil {
		c.Recommendations = append([]string(nil), a.Recommendations...)
	}
	if a.AIAnalysis != nil {
		ai := *a.AIAnalysis
		c.AIAnalysis = &ai
	}
	return &c
}

// Fingerprint derives the deduplication key for an alert: the first 32 hex
// characters of SHA-256 over "date|metric|type".
func Fingerprint(date string, metric observation.Metric, t Type) string {
	sum := sha256.Sum256([]byte(date + "|" + string(metric) + "|" + string(t)))
	return hex.EncodeToString(sum[:])[:32]
}
