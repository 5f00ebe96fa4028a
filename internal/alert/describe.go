package alert

import (
	"fmt"
	"strings"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// MaxRecommendations caps the recommendation list carried by an alert.
const MaxRecommendations = 5

// Describe renders the default one-line alert description, e.g.
// "High Heat Wave detected: 41.2°C".
func Describe(t Type, sev Severity, value float64, metric observation.Metric) string {
	return fmt.Sprintf("%s %s detected: %.1f%s", title(string(sev)), t.DisplayName(), value, metric.Unit())
}

// DefaultRecommendations returns the stock response actions for an alert
// type and severity. Severe alerts lead with escalation steps.
func DefaultRecommendations(t Type, sev Severity) []string {
	recs := make([]string, 0, MaxRecommendations)
	if sev == SeverityCritical || sev == SeverityHigh {
		recs = append(recs,
			"Issue public advisory immediately",
			"Activate emergency response protocols",
		)
	}

	switch t {
	case TypeHeatWave:
		recs = append(recs,
			"Increase water reserves monitoring",
			"Advise vulnerable populations to stay indoors",
			"Monitor energy grid for increased cooling demand",
		)
	case TypeExtremePrecipitation:
		recs = append(recs,
			"Check drainage systems and flood defenses",
			"Issue flood warnings for low-lying areas",
			"Monitor river levels closely",
		)
	case TypeColdSnap:
		recs = append(recs,
			"Protect sensitive crops and livestock",
			"Monitor heating fuel supplies",
			"Check on vulnerable populations",
		)
	case TypeDroughtIndicator:
		recs = append(recs,
			"Implement water conservation measures",
			"Monitor agricultural impacts",
			"Review water allocation policies",
		)
	}
	return CapRecommendations(recs)
}

// CapRecommendations drops blank entries and truncates to MaxRecommendations.
func CapRecommendations(recs []string) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
		if len(out) == MaxRecommendations {
			break
		}
	}
	return out
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
