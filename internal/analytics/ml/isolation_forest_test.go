package ml

import (
	"math"
	"testing"
)

func TestIsolationForest_Basic(t *testing.T) {
	normalData := []DataPoint{
		{Features: []float64{1.0, 2.0}},
		{Features: []float64{1.1, 2.1}},
		{Features: []float64{0.9, 1.9}},
		{Features: []float64{1.2, 2.2}},
		{Features: []float64{0.8, 1.8}},
		{Features: []float64{1.0, 2.0}},
		{Features: []float64{1.1, 2.0}},
		{Features: []float64{0.9, 2.1}},
	}

	forest := NewIsolationForest(50, 8, 0, DefaultSeed)
	if err := forest.Fit(normalData); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	normalResult, err := forest.Predict(DataPoint{Features: []float64{1.0, 2.0}})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	anomalousResult, err := forest.Predict(DataPoint{Features: []float64{10.0, 20.0}})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if anomalousResult.Score <= normalResult.Score {
		t.Errorf("Anomaly score (%f) should be higher than normal score (%f)",
			anomalousResult.Score, normalResult.Score)
	}
}

func TestIsolationForest_SingleDimension(t *testing.T) {
	values := []float64{1.0, 2.0, 1.5, 2.5, 1.8, 2.2, 1.9, 100.0}

	forest := NewIsolationForest(100, 256, 0, DefaultSeed)
	if err := forest.Fit(FromValues(values)); err != nil {
		t.Fatalf("Failed to fit model: %v", err)
	}

	scores, err := forest.Scores(FromValues(values))
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}

	for i := 0; i < len(values)-1; i++ {
		if scores[7] <= scores[i] {
			t.Errorf("Outlier score (%f) should exceed score of point %d (%f)", scores[7], i, scores[i])
		}
	}
}

func TestIsolationForest_Deterministic(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 10 + 3*math.Sin(float64(i)/5)
	}
	values[20] = 40

	run := func() []float64 {
		f := NewIsolationForest(100, 256, 0, DefaultSeed)
		if err := f.Fit(FromValues(values)); err != nil {
			t.Fatalf("Fit: %v", err)
		}
		s, err := f.Scores(FromValues(values))
		if err != nil {
			t.Fatalf("Scores: %v", err)
		}
		return s
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("score %d differs between runs with the same seed: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestIsolationForest_NotFitted(t *testing.T) {
	forest := NewIsolationForest(10, 16, 0, DefaultSeed)
	if _, err := forest.Predict(DataPoint{Value: 1}); err != ErrNotFitted {
		t.Errorf("expected ErrNotFitted, got %v", err)
	}
	if err := forest.Fit(nil); err == nil {
		t.Error("expected error fitting empty data")
	}
}

func TestContaminationThreshold(t *testing.T) {
	scores := []float64{0.40, 0.42, 0.90, 0.41, 0.75, 0.43, 0.44, 0.45, 0.39, 0.38,
		0.40, 0.41, 0.42, 0.43, 0.44, 0.45, 0.46, 0.47, 0.48, 0.49}

	// 5% of 20 points = 1 outlier
	if got := ContaminationThreshold(scores, 0.05); got != 0.90 {
		t.Errorf("expected threshold 0.90, got %f", got)
	}

	flags := Outliers(scores, 0.05)
	count := 0
	for i, f := range flags {
		if f {
			count++
			if i != 2 {
				t.Errorf("unexpected outlier at %d", i)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected 1 outlier, got %d", count)
	}

	// 10% of 20 = 2 outliers
	flags = Outliers(scores, 0.10)
	if !flags[2] || !flags[4] {
		t.Errorf("expected points 2 and 4 flagged at 10%% contamination")
	}
}

func TestOutliers_UniformScores(t *testing.T) {
	flags := Outliers([]float64{0.5, 0.5, 0.5, 0.5}, 0.05)
	for i, f := range flags {
		if f {
			t.Errorf("uniform scores should not flag point %d", i)
		}
	}
}

func TestAveragePathLength(t *testing.T) {
	if averagePathLength(1) != 0 {
		t.Error("c(1) should be 0")
	}
	if averagePathLength(2) != 1 {
		t.Error("c(2) should be 1")
	}
	if c := averagePathLength(256); c < 9 || c > 11 {
		t.Errorf("c(256) should be about 10.2, got %f", c)
	}
}
