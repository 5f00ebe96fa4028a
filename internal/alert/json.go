package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// record is the flat wire form of an Alert.
type record struct {
	ID              string             `json:"id"`
	Fingerprint     string             `json:"fingerprint"`
	Type            Type               `json:"alert_type"`
	Severity        Severity           `json:"severity"`
	Status          Status             `json:"status"`
	Acknowledged    bool               `json:"acknowledged"`
	Resolved        bool               `json:"resolved"`
	AcknowledgedAt  *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	ResolutionNotes string             `json:"resolution_notes,omitempty"`
	Metric          observation.Metric `json:"metric"`
	Value           float64            `json:"value"`
	Date            string             `json:"date"`
	Location        string             `json:"location,omitempty"`
	AnomalyScore    float64            `json:"anomaly_score"`
	Recommendations []string           `json:"recommendations"`
	AIAnalysis      *AIAnalysis        `json:"ai_analysis,omitempty"`
	Description     string             `json:"description,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// MarshalJSON flattens the state variant into status fields.
func (a *Alert) MarshalJSON() ([]byte, error) {
	r := record{
		ID:              a.ID,
		Fingerprint:     a.Fingerprint,
		Type:            a.Type,
		Severity:        a.Severity,
		Status:          a.Status(),
		Acknowledged:    a.Acknowledged(),
		Resolved:        a.Resolved(),
		Metric:          a.Metric,
		Value:           a.Value,
		Date:            a.Date,
		Location:        a.Location,
		AnomalyScore:    a.AnomalyScore,
		Recommendations: a.Recommendations,
		AIAnalysis:      a.AIAnalysis,
		Description:     a.Description,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	if at, ok := a.AcknowledgedAt(); ok {
		r.AcknowledgedAt = &at
	}
	if at, ok := a.ResolvedAt(); ok {
		r.ResolvedAt = &at
	}
	if notes, ok := a.ResolutionNotes(); ok {
		r.ResolutionNotes = notes
	}
	return json.Marshal(r)
}

// UnmarshalJSON rebuilds the state variant, rejecting records whose status
// fields are inconsistent.
func (a *Alert) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	var state State
	switch r.Status {
	case StatusActive, "":
		state = Active{}
	case StatusAcknowledged:
		s := Acknowledged{}
		if r.AcknowledgedAt != nil {
			s.At = *r.AcknowledgedAt
		}
		state = s
	case StatusResolved:
		if r.ResolutionNotes == "" {
			return fmt.Errorf("alert %s: resolved without resolution notes", r.ID)
		}
		s := Resolved{Notes: r.ResolutionNotes}
		if r.AcknowledgedAt != nil {
			s.AcknowledgedAt = *r.AcknowledgedAt
		}
		if r.ResolvedAt != nil {
			s.ResolvedAt = *r.ResolvedAt
		}
		state = s
	default:
		return fmt.Errorf("alert %s: unknown status %q", r.ID, r.Status)
	}

	*a = Alert{
		ID:              r.ID,
		Fingerprint:     r.Fingerprint,
		Type:            r.Type,
		Severity:        r.Severity,
		State:           state,
		Metric:          r.Metric,
		Value:           r.Value,
		Date:            r.Date,
		Location:        r.Location,
		AnomalyScore:    r.AnomalyScore,
		Recommendations: r.Recommendations,
		AIAnalysis:      r.AIAnalysis,
		Description:     r.Description,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	return nil
}
