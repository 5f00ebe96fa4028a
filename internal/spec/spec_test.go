package spec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

var now = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func sample() *alert.Alert {
	obs := observation.Observation{
		Timestamp: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Metric:    observation.MetricTemperature,
		Value:     41.2,
	}
	return alert.New("", obs, alert.TypeHeatWave, alert.SeverityHigh, 0.7, "Uruguay", now)
}

func TestBuildOmitsOptionalFields(t *testing.T) {
	s := Build(sample(), nil)

	assert.Equal(t, "heat_wave", s["alert_type"])
	assert.Equal(t, "active", s["status"])
	assert.Equal(t, false, s["acknowledged"])
	assert.Equal(t, 41.2, s["value"])
	assert.Equal(t, "2024-01-15", s["date"])
	assert.NotEmpty(t, s.Fingerprint())

	for _, k := range []string{"id", "ai_analysis", "recommendations", "resolution_notes"} {
		_, present := s[k]
		assert.False(t, present, "%s should be omitted", k)
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "null")
}

func TestBuildWithEnrichment(t *testing.T) {
	a := sample()
	a.ID = "a-1"
	a.Recommendations = []string{"Issue public advisory immediately"}
	ai := &alert.AIAnalysis{Confidence: 0.8, Summary: "Record heat", DetailedAnalysis: "..."}

	s := Build(a, ai)
	assert.Equal(t, "a-1", s["id"])
	assert.Equal(t, []string{"Issue public advisory immediately"}, s["recommendations"])
	analysis, ok := s["ai_analysis"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0.8, analysis["confidence"])

	// the builder must not alias the alert's slice
	s["recommendations"].([]string)[0] = "changed"
	assert.Equal(t, "Issue public advisory immediately", a.Recommendations[0])
}

func TestBuildIsPure(t *testing.T) {
	a := sample()
	assert.Equal(t, Build(a, nil), Build(a, nil))
}

func TestBuildResolved(t *testing.T) {
	a := sample()
	require.NoError(t, a.Acknowledge(now))
	require.NoError(t, a.Resolve("heat subsided", now.Add(time.Hour)))

	s := Build(a, nil)
	assert.Equal(t, "resolved", s["status"])
	assert.Equal(t, "heat subsided", s["resolution_notes"])
}

func TestCreateEnvelope(t *testing.T) {
	env := Create(sample(), nil)
	assert.Equal(t, EntityModel, env.EntityModel)
	assert.Equal(t, EntityVersion, env.EntityVersion)
	assert.Empty(t, env.EntityID)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "entity_id")
}

func TestUpdateEnvelope(t *testing.T) {
	a := sample()
	a.ID = "a-1"
	require.NoError(t, a.Acknowledge(now))

	env := Update(a)
	assert.Equal(t, "a-1", env.EntityID)
	assert.Equal(t, "acknowledged", env.EntityData["status"])
	assert.Equal(t, true, env.EntityData["acknowledged"])
	assert.Contains(t, env.EntityData, "acknowledged_at")
	assert.NotContains(t, env.EntityData, "resolved_at")
	assert.NotContains(t, env.EntityData, "resolution_notes")

	require.NoError(t, a.Resolve("ok", now.Add(time.Hour)))
	env = Update(a)
	assert.NotContains(t, env.EntityData, "acknowledged_at")
	assert.Equal(t, "ok", env.EntityData["resolution_notes"])
	assert.Contains(t, env.EntityData, "resolved_at")
}

func TestSearch(t *testing.T) {
	assert.Nil(t, Search(Filter{}).SearchConditions)

	one := Search(Filter{Status: "active"})
	require.NotNil(t, one.SearchConditions)
	assert.Equal(t, "simple", one.SearchConditions.Type)
	assert.Equal(t, "$.status", one.SearchConditions.JSONPath)

	minScore := 0.6
	many := Search(Filter{Severity: "high", MinAnomalyScore: &minScore, DateFrom: "2024-01-01", DateTo: "2024-02-01"})
	require.NotNil(t, many.SearchConditions)
	assert.Equal(t, "group", many.SearchConditions.Type)
	assert.Equal(t, "AND", many.SearchConditions.Operator)
	require.Len(t, many.SearchConditions.Conditions, 4)
	assert.Equal(t, OpGreaterThan, many.SearchConditions.Conditions[1].OperatorType)
	assert.Equal(t, OpLessThan, many.SearchConditions.Conditions[3].OperatorType)
}
