package classifier

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/alert"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

func obs(metric observation.Metric, v float64) observation.Observation {
	return observation.Observation{
		Timestamp: time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		Metric:    metric,
		Value:     v,
	}
}

func TestClassify(t *testing.T) {
	c, err := New(DefaultThresholds(), nil)
	require.NoError(t, err)

	temp := Norm{Mean: 18, Std: 3}
	rain := Norm{Mean: 10, Std: 4}

	tests := []struct {
		name   string
		metric observation.Metric
		value  float64
		norm   Norm
		want   alert.Type
		ok     bool
	}{
		{"heat wave at boundary", observation.MetricTemperature, 24, temp, alert.TypeHeatWave, true},
		{"heat wave", observation.MetricTemperature, 41.2, temp, alert.TypeHeatWave, true},
		{"cold snap at boundary", observation.MetricTemperature, 12, temp, alert.TypeColdSnap, true},
		{"cold snap", observation.MetricTemperature, -3.5, temp, alert.TypeColdSnap, true},
		{"warm but not extreme", observation.MetricTemperature, 23.9, temp, "", false},
		{"extreme precipitation", observation.MetricPrecipitation, 18, rain, alert.TypeExtremePrecipitation, true},
		{"drought at 1.5 sigma", observation.MetricPrecipitation, 4, rain, alert.TypeDroughtIndicator, true},
		{"dry but not drought", observation.MetricPrecipitation, 4.1, rain, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := c.Classify(obs(tt.metric, tt.value), 0.7, tt.norm)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, res.Type)
			if ok {
				assert.Equal(t, alert.SeverityHigh, res.Severity)
			}
		})
	}
}

func TestClassifyLogsDiscard(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c, err := New(DefaultThresholds(), zap.New(core))
	require.NoError(t, err)

	_, ok := c.Classify(obs(observation.MetricTemperature, 19), 0.95, Norm{Mean: 18, Std: 3})
	assert.False(t, ok)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "2024-02-10", entry.ContextMap()["date"])
	assert.Equal(t, "temperature", entry.ContextMap()["metric"])
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		score float64
		want  alert.Severity
	}{
		{1.0, alert.SeverityCritical},
		{0.95, alert.SeverityCritical},
		{0.85, alert.SeverityCritical},
		{0.849, alert.SeverityHigh},
		{0.70, alert.SeverityHigh},
		{0.6, alert.SeverityHigh},
		{0.59, alert.SeverityMedium},
		{0.4, alert.SeverityMedium},
		{0.39, alert.SeverityLow},
		{0, alert.SeverityLow},
		{-1, alert.SeverityLow},
		{math.NaN(), alert.SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.score), "score %v", tt.score)
	}
}

func TestSetThresholds(t *testing.T) {
	c, err := New(DefaultThresholds(), nil)
	require.NoError(t, err)

	rain := Norm{Mean: 10, Std: 4}
	_, ok := c.TypeFor(observation.MetricPrecipitation, 3, rain)
	assert.True(t, ok)

	th := DefaultThresholds()
	th.DroughtSigma = 2.0
	require.NoError(t, c.SetThresholds(th))
	_, ok = c.TypeFor(observation.MetricPrecipitation, 3, rain)
	assert.False(t, ok)

	th.HeatSigma = 0
	assert.Error(t, c.SetThresholds(th))
	assert.Equal(t, 2.0, c.Thresholds().DroughtSigma)
}

func TestNewRejectsBadThresholds(t *testing.T) {
	_, err := New(Thresholds{HeatSigma: 2}, nil)
	assert.Error(t, err)
}
