// Package spec builds the entity-platform specifications for alerts.
//
// Every builder is a pure function of its inputs: no I/O, no clock reads.
// Optional fields (location, recommendations, AI analysis, resolution notes,
// lifecycle timestamps) are omitted when absent rather than set to null, so a
// consumer can tell "not analyzed" from "analyzed but empty".
package spec

import (
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
)

// Entity model coordinates on the platform.
const (
	EntityModel   = "climate_alert"
	EntityVersion = "1"
)

// Spec is a flat field mapping for one alert.
type Spec map[string]interface{}

// Envelope wraps a spec for the entity platform.
type Envelope struct {
	EntityModel   string `json:"entity_model"`
	EntityVersion string `json:"entity_version"`
	EntityID      string `json:"entity_id,omitempty"`
	EntityData    Spec   `json:"entity_data"`
}

// Fingerprint returns the fingerprint carried by s, if any.
func (s Spec) Fingerprint() string {
	fp, _ := s["fingerprint"].(string)
	return fp
}

// Build produces the flat specification of a. A non-nil ai replaces the
// alert's own analysis.
func Build(a *alert.Alert, ai *alert.AIAnalysis) Spec {
	s := Spec{
		"fingerprint":   a.Fingerprint,
		"alert_type":    string(a.Type),
		"severity":      string(a.Severity),
		"status":        string(a.Status()),
		"acknowledged":  a.Acknowledged(),
		"resolved":      a.Resolved(),
		"value":         a.Value,
		"metric":        string(a.Metric),
		"date":          a.Date,
		"anomaly_score": a.AnomalyScore,
	}
	if a.ID != "" {
		s["id"] = a.ID
	}
	if a.Location != "" {
		s["location"] = a.Location
	}
	if a.Description != "" {
		s["description"] = a.Description
	}
	if len(a.Recommendations) > 0 {
		s["recommendations"] = append([]string(nil), a.Recommendations...)
	}
	if ai == nil {
		ai = a.AIAnalysis
	}
	if ai != nil {
		s["ai_analysis"] = map[string]interface{}{
			"confidence":        ai.Confidence,
			"summary":           ai.Summary,
			"detailed_analysis": ai.DetailedAnalysis,
		}
	}
	if notes, ok := a.ResolutionNotes(); ok {
		s["resolution_notes"] = notes
	}
	if !a.CreatedAt.IsZero() {
		s["created_at"] = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return s
}

// Create wraps the alert spec for entity creation.
func Create(a *alert.Alert, ai *alert.AIAnalysis) Envelope {
	return Envelope{
		EntityModel:   EntityModel,
		EntityVersion: EntityVersion,
		EntityData:    Build(a, ai),
	}
}

// Update builds the status-change specification for an existing entity.
// acknowledged_at is only sent while the alert is acknowledged and not yet
// resolved.
func Update(a *alert.Alert) Envelope {
	data := Spec{
		"status":       string(a.Status()),
		"acknowledged": a.Acknowledged(),
		"resolved":     a.Resolved(),
	}
	if !a.UpdatedAt.IsZero() {
		data["updated_at"] = a.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if at, ok := a.AcknowledgedAt(); ok && !a.Resolved() {
		data["acknowledged_at"] = at.UTC().Format(time.RFC3339)
	}
	if at, ok := a.ResolvedAt(); ok {
		data["resolved_at"] = at.UTC().Format(time.RFC3339)
	}
	if notes, ok := a.ResolutionNotes(); ok {
		data["resolution_notes"] = notes
	}
	return Envelope{
		EntityModel:   EntityModel,
		EntityVersion: EntityVersion,
		EntityID:      a.ID,
		EntityData:    data,
	}
}
