package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

// Defaults for the density-partitioning outlier model.
const (
	DefaultNumTrees      = 100
	DefaultSubSampleSize = 256
	DefaultSeed          = 42
)

// ErrNotFitted is returned when scoring with a forest that has no trees.
var ErrNotFitted = errors.New("isolation forest not fitted")

// IsolationTree represents a single tree in the Isolation Forest
type IsolationTree struct {
	splitFeature int
	splitValue   float64
	left         *IsolationTree
	right        *IsolationTree
	size         int
	isLeaf       bool
}

// IsolationForest implements the Isolation Forest algorithm for anomaly detection.
// A forest is fitted once and then reused to score every point of the same data
// set. With a fixed seed, Fit followed by Scores is reproducible.
type IsolationForest struct {
	trees         []*IsolationTree
	numTrees      int
	subSampleSize int
	maxDepth      int
	sampleSize    int
	rng           *rand.Rand
}

// DataPoint represents a multi-dimensional data point
type DataPoint struct {
	Features []float64
	Value    float64 // scalar fallback when Features is empty
}

// AnomalyResult contains the anomaly score and details
type AnomalyResult struct {
	Score      float64 // 0.0 to 1.0, higher = more anomalous
	PathLength float64
}

// NewIsolationForest creates a new Isolation Forest with specified parameters.
// maxDepth <= 0 selects ceil(log2(subSampleSize)) at fit time.
func NewIsolationForest(numTrees, subSampleSize, maxDepth int, seed int64) *IsolationForest {
	if numTrees <= 0 {
		numTrees = DefaultNumTrees
	}
	if subSampleSize <= 0 {
		subSampleSize = DefaultSubSampleSize
	}
	return &IsolationForest{
		trees:         make([]*IsolationTree, 0, numTrees),
		numTrees:      numTrees,
		subSampleSize: subSampleSize,
		maxDepth:      maxDepth,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// FromValues wraps scalar values as 1-D data points.
func FromValues(values []float64) []DataPoint {
	out := make([]DataPoint, len(values))
	for i, v := range values {
		out[i] = DataPoint{Features: []float64{v}, Value: v}
	}
	return out
}

// normalizeDataPoints ensures every DataPoint has a populated Features slice.
func normalizeDataPoints(data []DataPoint) []DataPoint {
	normalized := make([]DataPoint, len(data))
	for i, dp := range data {
		if len(dp.Features) == 0 {
			dp.Features = []float64{dp.Value}
		}
		normalized[i] = dp
	}
	return normalized
}

// Fit trains the Isolation Forest on the given data. Refitting discards the
// previous trees.
func (f *IsolationForest) Fit(data []DataPoint) error {
	if len(data) == 0 {
		return errors.New("cannot fit isolation forest on empty data")
	}

	data = normalizeDataPoints(data)

	f.sampleSize = f.subSampleSize
	if f.sampleSize > len(data) {
		f.sampleSize = len(data)
	}
	depth := f.maxDepth
	if depth <= 0 {
		depth = int(math.Ceil(math.Log2(math.Max(float64(f.sampleSize), 2))))
	}

	f.trees = f.trees[:0]
	for i := 0; i < f.numTrees; i++ {
		sample := f.sampleData(data)
		f.trees = append(f.trees, f.buildTree(sample, 0, depth))
	}

	return nil
}

// Predict calculates the anomaly score for a single data point
func (f *IsolationForest) Predict(point DataPoint) (AnomalyResult, error) {
	if len(point.Features) == 0 {
		point.Features = []float64{point.Value}
	}
	if len(f.trees) == 0 {
		return AnomalyResult{}, ErrNotFitted
	}

	totalPathLength := 0.0
	for _, tree := range f.trees {
		totalPathLength += f.pathLength(tree, point, 0)
	}
	avgPathLength := totalPathLength / float64(len(f.trees))

	// score = 2^(-E[h(x)] / c(n)), c(n) being the average unsuccessful BST search length
	c := averagePathLength(f.sampleSize)
	score := 1.0
	if c > 0 {
		score = math.Pow(2, -avgPathLength/c)
	}

	return AnomalyResult{Score: score, PathLength: avgPathLength}, nil
}

// Scores returns the anomaly score of every point, in input order.
func (f *IsolationForest) Scores(points []DataPoint) ([]float64, error) {
	scores := make([]float64, len(points))
	for i, p := range points {
		r, err := f.Predict(p)
		if err != nil {
			return nil, err
		}
		scores[i] = r.Score
	}
	return scores, nil
}

// ContaminationThreshold returns the score at or above which a point falls
// in the expected-outlier tail: the ceil(rate*n)-th highest score.
func ContaminationThreshold(scores []float64, rate float64) float64 {
	if len(scores) == 0 {
		return math.Inf(1)
	}
	k := int(math.Ceil(rate * float64(len(scores))))
	if k < 1 {
		k = 1
	}
	if k > len(scores) {
		k = len(scores)
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[k-1]
}

// Outliers flags every score in the contamination tail. Ties at the
// threshold are all flagged; a point scoring no higher than the minimum is
// never flagged, so a uniform data set has no outliers.
func Outliers(scores []float64, rate float64) []bool {
	flags := make([]bool, len(scores))
	if len(scores) == 0 {
		return flags
	}
	threshold := ContaminationThreshold(scores, rate)
	minScore := scores[0]
	for _, s := range scores {
		if s < minScore {
			minScore = s
		}
	}
	for i, s := range scores {
		flags[i] = s >= threshold && s > minScore
	}
	return flags
}

// sampleData randomly samples a subset of data
func (f *IsolationForest) sampleData(data []DataPoint) []DataPoint {
	shuffled := make([]DataPoint, len(data))
	copy(shuffled, data)

	// Fisher-Yates shuffle and take first sampleSize elements
	for i := len(shuffled) - 1; i > 0; i-- {
		j := f.rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	return shuffled[:f.sampleSize]
}

// buildTree recursively builds an isolation tree
func (f *IsolationForest) buildTree(data []DataPoint, depth, maxDepth int) *IsolationTree {
	if len(data) <= 1 || depth >= maxDepth || allIdentical(data) {
		return &IsolationTree{size: len(data), isLeaf: true}
	}

	numFeatures := len(data[0].Features)
	splitFeature := f.rng.Intn(numFeatures)

	minVal, maxVal := featureRange(data, splitFeature)
	if maxVal-minVal < 1e-12 {
		return &IsolationTree{size: len(data), isLeaf: true}
	}
	splitValue := minVal + f.rng.Float64()*(maxVal-minVal)

	left, right := splitData(data, splitFeature, splitValue)
	if len(left) == 0 || len(right) == 0 {
		return &IsolationTree{size: len(data), isLeaf: true}
	}

	return &IsolationTree{
		splitFeature: splitFeature,
		splitValue:   splitValue,
		left:         f.buildTree(left, depth+1, maxDepth),
		right:        f.buildTree(right, depth+1, maxDepth),
		size:         len(data),
	}
}

// pathLength calculates the path length for a data point in a tree
func (f *IsolationForest) pathLength(tree *IsolationTree, point DataPoint, currentDepth int) float64 {
	if tree.isLeaf {
		return float64(currentDepth) + averagePathLength(tree.size)
	}
	if point.Features[tree.splitFeature] < tree.splitValue {
		return f.pathLength(tree.left, point, currentDepth+1)
	}
	return f.pathLength(tree.right, point, currentDepth+1)
}

// averagePathLength is c(n) = 2H(n-1) - 2(n-1)/n.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonicNumber(n-1) - (2 * float64(n-1) / float64(n))
}

// harmonicNumber approximates H(n) as ln(n) + Euler-Mascheroni.
func harmonicNumber(n int) float64 {
	return math.Log(float64(n)) + 0.5772156649
}

func allIdentical(data []DataPoint) bool {
	first := data[0].Features
	for i := 1; i < len(data); i++ {
		for j := range first {
			if math.Abs(data[i].Features[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data []DataPoint, feature int) (float64, float64) {
	minVal := data[0].Features[feature]
	maxVal := data[0].Features[feature]
	for _, point := range data {
		val := point.Features[feature]
		if val < minVal {
			minVal = val
		}
		if val > maxVal {
			maxVal = val
		}
	}
	return minVal, maxVal
}

func splitData(data []DataPoint, feature int, splitValue float64) ([]DataPoint, []DataPoint) {
	left := make([]DataPoint, 0, len(data))
	right := make([]DataPoint, 0, len(data))
	for _, point := range data {
		if point.Features[feature] < splitValue {
			left = append(left, point)
		} else {
			right = append(right, point)
		}
	}
	return left, right
}
