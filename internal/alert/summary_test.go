package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	a := newHeatWave()
	b := newHeatWave()
	b.Type = TypeColdSnap
	b.Severity = SeverityCritical
	require.NoError(t, b.Acknowledge(t0))
	c := newHeatWave()
	require.NoError(t, c.Acknowledge(t0))
	require.NoError(t, c.Resolve("ok", t0))

	s := Summarize([]*Alert{a, b, c})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.CriticalCount)
	assert.Equal(t, 1, s.ActiveCount)
	assert.Equal(t, 1, s.AcknowledgedCount)
	assert.Equal(t, 1, s.ResolvedCount)
	assert.Equal(t, 2, s.ByType["heat_wave"])
	assert.Equal(t, 2, s.BySeverity["high"])

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Total)
	assert.NotNil(t, empty.BySeverity)
}

func TestPrioritize(t *testing.T) {
	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)

	ackCritical := newHeatWave()
	ackCritical.ID = "ack-critical"
	ackCritical.Severity = SeverityCritical
	require.NoError(t, ackCritical.Acknowledge(t0))

	activeHigh := newHeatWave()
	activeHigh.ID = "active-high"

	oldActiveHigh := newHeatWave()
	oldActiveHigh.ID = "old-active-high"
	oldActiveHigh.Date = "2023-06-01"

	low := newHeatWave()
	low.ID = "low"
	low.Severity = SeverityLow
	low.Date = "2023-06-01"

	in := []*Alert{low, oldActiveHigh, ackCritical, activeHigh}
	out := Prioritize(in, now)

	ids := make([]string, len(out))
	for i, a := range out {
		ids[i] = a.ID
	}
	// active-high: 3+2+25/30, old-active-high: 5, ack-critical: 4+25/30, low: 3
	assert.Equal(t, []string{"active-high", "old-active-high", "ack-critical", "low"}, ids)
	assert.Equal(t, "low", in[0].ID, "input must not be reordered")

	assert.InDelta(t, 3+2+25.0/30, PriorityScore(activeHigh, now), 1e-9)
}
