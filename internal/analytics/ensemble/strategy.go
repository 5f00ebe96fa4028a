package ensemble

import (
	"fmt"
	"math"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/analytics/ml"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// VoteFunc reports whether the i-th observation of a bound window is anomalous.
type VoteFunc func(i int) bool

// Strategy is one independent anomaly detection method. Bind prepares
// whatever per-window state the method needs (a fitted model, summary
// statistics) and returns a pure vote function over that window.
type Strategy interface {
	Name() string
	Bind(w *observation.Window) (VoteFunc, error)
}

// Strategy names, used as metric and log labels.
const (
	StrategyIsolation     = "isolation_forest"
	StrategyZScore        = "zscore"
	StrategyMovingAverage = "moving_average"
)

// IsolationStrategy flags points in the contamination tail of an isolation
// forest fitted once on the window's values.
type IsolationStrategy struct {
	Contamination float64
	Seed          int64
	NumTrees      int
	SubSampleSize int
}

func (s IsolationStrategy) Name() string { return StrategyIsolation }

func (s IsolationStrategy) Bind(w *observation.Window) (VoteFunc, error) {
	if s.Contamination <= 0 || s.Contamination >= 0.5 {
		return nil, fmt.Errorf("contamination must be in (0, 0.5), got %v", s.Contamination)
	}

	points := ml.FromValues(w.Values())
	forest := ml.NewIsolationForest(s.NumTrees, s.SubSampleSize, 0, s.Seed)
	if err := forest.Fit(points); err != nil {
		return nil, fmt.Errorf("fit isolation forest: %w", err)
	}
	scores, err := forest.Scores(points)
	if err != nil {
		return nil, fmt.Errorf("score isolation forest: %w", err)
	}
	flags := ml.Outliers(scores, s.Contamination)

	return func(i int) bool { return flags[i] }, nil
}

// ZScoreStrategy flags points whose distance from the window mean exceeds
// Threshold population standard deviations. A constant window never votes.
type ZScoreStrategy struct {
	Threshold float64
}

func (s ZScoreStrategy) Name() string { return StrategyZScore }

func (s ZScoreStrategy) Bind(w *observation.Window) (VoteFunc, error) {
	values := w.Values()
	mean, std := observation.MeanStd(values)

	return func(i int) bool {
		if std == 0 {
			return false
		}
		return math.Abs(values[i]-mean)/std > s.Threshold
	}, nil
}

// MovingAverageStrategy flags points that deviate from the mean of the
// preceding Window observations by more than Threshold sample standard
// deviations. Points with fewer than Window predecessors never vote.
type MovingAverageStrategy struct {
	Window    int
	Threshold float64
}

func (s MovingAverageStrategy) Name() string { return StrategyMovingAverage }

func (s MovingAverageStrategy) Bind(w *observation.Window) (VoteFunc, error) {
	if s.Window < 2 {
		return nil, fmt.Errorf("moving average window must be at least 2, got %d", s.Window)
	}
	values := w.Values()
	n := s.Window

	return func(i int) bool {
		if i < n {
			return false
		}
		mean, std := observation.SampleMeanStd(values[i-n : i])
		if std == 0 {
			return false
		}
		return math.Abs(values[i]-mean)/std > s.Threshold
	}, nil
}
