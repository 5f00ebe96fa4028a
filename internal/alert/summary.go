package alert

import (
	"sort"
	"time"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// Summary aggregates a set of alerts.
type Summary struct {
	Total             int            `json:"total"`
	BySeverity        map[string]int `json:"by_severity"`
	ByType            map[string]int `json:"by_type"`
	CriticalCount     int            `json:"critical_count"`
	ActiveCount       int            `json:"active_count"`
	AcknowledgedCount int            `json:"acknowledged_count"`
	ResolvedCount     int            `json:"resolved_count"`
}

// Summarize counts alerts by severity, type and status.
func Summarize(alerts []*Alert) Summary {
	s := Summary{
		BySeverity: map[string]int{},
		ByType:     map[string]int{},
	}
	for _, a := range alerts {
		s.Total++
		s.BySeverity[string(a.Severity)]++
		s.ByType[string(a.Type)]++
		if a.Severity == SeverityCritical {
			s.CriticalCount++
		}
		switch a.Status() {
		case StatusActive:
			s.ActiveCount++
		case StatusAcknowledged:
			s.AcknowledgedCount++
		case StatusResolved:
			s.ResolvedCount++
		}
	}
	return s
}

// PriorityScore ranks an alert for triage: severity rank, plus 2 while
// unacknowledged, plus a recency bonus that decays to zero over 30 days.
func PriorityScore(a *Alert, now time.Time) float64 {
	score := float64(a.Severity.Rank())
	if !a.Acknowledged() {
		score += 2
	}
	if d, err := time.Parse(observation.DateLayout, a.Date); err == nil {
		daysAgo := int(now.Sub(d).Hours() / 24)
		if daysAgo < 30 {
			if daysAgo < 0 {
				daysAgo = 0
			}
			score += float64(30-daysAgo) / 30
		}
	}
	return score
}

// Prioritize returns alerts ordered by descending PriorityScore. Ties keep
// their input order. The input slice is not modified.
func Prioritize(alerts []*Alert, now time.Time) []*Alert {
	out := make([]*Alert, len(alerts))
	copy(out, alerts)
	scores := make(map[*Alert]float64, len(out))
	for _, a := range out {
		scores[a] = PriorityScore(a, now)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i]] > scores[out[j]]
	})
	return out
}
