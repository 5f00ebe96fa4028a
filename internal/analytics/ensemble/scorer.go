// Package ensemble combines independent anomaly signals by majority vote.
//
// The strategy set is fixed: isolation forest density, global z-score and
// trailing moving-average deviation. Each strategy is bound to a window once,
// then every point is scored against the bound functions. The combination
// rule is MajorityVote with quorum MajorityQuorum; a single method never
// raises an anomaly on its own.
package ensemble

import (
	"fmt"

	"github.com/Cyoda-platform/uruguay-climate-change/internal/analytics/ml"
	"github.com/Cyoda-platform/uruguay-climate-change/internal/observation"
)

// MajorityQuorum is the number of agreeing strategies required to call a
// point anomalous (2 of 3).
const MajorityQuorum = 2

// Default tuning for the three strategies.
const (
	DefaultContamination          = 0.05
	DefaultZScoreThreshold        = 3.0
	DefaultMovingAverageWindow    = 30
	DefaultMovingAverageThreshold = 2.0
)

// Config tunes the strategy set.
type Config struct {
	Contamination          float64
	Seed                   int64
	NumTrees               int
	SubSampleSize          int
	ZScoreThreshold        float64
	MovingAverageWindow    int
	MovingAverageThreshold float64
	Quorum                 int
}

// DefaultConfig returns the standard ensemble settings.
func DefaultConfig() Config {
	return Config{
		Contamination:          DefaultContamination,
		Seed:                   ml.DefaultSeed,
		NumTrees:               ml.DefaultNumTrees,
		SubSampleSize:          ml.DefaultSubSampleSize,
		ZScoreThreshold:        DefaultZScoreThreshold,
		MovingAverageWindow:    DefaultMovingAverageWindow,
		MovingAverageThreshold: DefaultMovingAverageThreshold,
		Quorum:                 MajorityQuorum,
	}
}

// Vote is the per-observation outcome of the ensemble.
type Vote struct {
	Index         int     `json:"-"`
	IsolationVote bool    `json:"isolation_vote"`
	ZScoreVote    bool    `json:"zscore_vote"`
	MovingAvgVote bool    `json:"moving_avg_vote"`
	VotesTrue     int     `json:"votes_true"`
	IsAnomaly     bool    `json:"is_anomaly"`
	AnomalyScore  float64 `json:"anomaly_score"`
}

// MajorityVote reports whether at least quorum of the votes are true.
func MajorityVote(votes []bool, quorum int) bool {
	return countTrue(votes) >= quorum
}

// RescaleScore maps a vote count onto [0,1]: 0 votes is 0, otherwise
// 0.2 + 0.75*v/3, so one vote is 0.45, two 0.70 and three 0.95.
func RescaleScore(votes int) float64 {
	if votes <= 0 {
		return 0
	}
	if votes > 3 {
		votes = 3
	}
	return 0.2 + 0.75*float64(votes)/3.0
}

// Scorer runs the strategy set over observation windows. It holds no
// per-window state and is safe for concurrent use.
type Scorer struct {
	isolation     Strategy
	zscore        Strategy
	movingAverage Strategy
	quorum        int
}

// NewScorer builds a scorer from cfg. Zero fields take defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.Contamination == 0 {
		cfg.Contamination = def.Contamination
	}
	if cfg.NumTrees == 0 {
		cfg.NumTrees = def.NumTrees
	}
	if cfg.SubSampleSize == 0 {
		cfg.SubSampleSize = def.SubSampleSize
	}
	if cfg.ZScoreThreshold == 0 {
		cfg.ZScoreThreshold = def.ZScoreThreshold
	}
	if cfg.MovingAverageWindow == 0 {
		cfg.MovingAverageWindow = def.MovingAverageWindow
	}
	if cfg.MovingAverageThreshold == 0 {
		cfg.MovingAverageThreshold = def.MovingAverageThreshold
	}
	if cfg.Quorum == 0 {
		cfg.Quorum = def.Quorum
	}

	return &Scorer{
		isolation: IsolationStrategy{
			Contamination: cfg.Contamination,
			Seed:          cfg.Seed,
			NumTrees:      cfg.NumTrees,
			SubSampleSize: cfg.SubSampleSize,
		},
		zscore:        ZScoreStrategy{Threshold: cfg.ZScoreThreshold},
		movingAverage: MovingAverageStrategy{Window: cfg.MovingAverageWindow, Threshold: cfg.MovingAverageThreshold},
		quorum:        cfg.Quorum,
	}
}

// Strategies returns the strategy set in vote order.
func (s *Scorer) Strategies() []Strategy {
	return []Strategy{s.isolation, s.zscore, s.movingAverage}
}

// Bound is a scorer bound to one window.
type Bound struct {
	window    *observation.Window
	isolation VoteFunc
	zscore    VoteFunc
	movingAvg VoteFunc
	quorum    int
}

// Bind fits every strategy to w once.
func (s *Scorer) Bind(w *observation.Window) (*Bound, error) {
	if w == nil || w.Len() == 0 {
		return nil, &observation.ValidationError{Field: "data", Index: -1, Message: "window is empty"}
	}
	iso, err := s.isolation.Bind(w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.isolation.Name(), err)
	}
	z, err := s.zscore.Bind(w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.zscore.Name(), err)
	}
	ma, err := s.movingAverage.Bind(w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.movingAverage.Name(), err)
	}
	return &Bound{window: w, isolation: iso, zscore: z, movingAvg: ma, quorum: s.quorum}, nil
}

// Vote scores the i-th observation of the bound window.
func (b *Bound) Vote(i int) Vote {
	v := Vote{
		Index:         i,
		IsolationVote: b.isolation(i),
		ZScoreVote:    b.zscore(i),
		MovingAvgVote: b.movingAvg(i),
	}
	votes := []bool{v.IsolationVote, v.ZScoreVote, v.MovingAvgVote}
	v.VotesTrue = countTrue(votes)
	v.IsAnomaly = MajorityVote(votes, b.quorum)
	v.AnomalyScore = RescaleScore(v.VotesTrue)
	return v
}

// Score binds w and scores the observation at index i.
func (s *Scorer) Score(w *observation.Window, i int) (Vote, error) {
	b, err := s.Bind(w)
	if err != nil {
		return Vote{}, err
	}
	if i < 0 || i >= w.Len() {
		return Vote{}, fmt.Errorf("observation index %d out of range [0,%d)", i, w.Len())
	}
	return b.Vote(i), nil
}

// ScoreWindow scores every observation of w in order.
func (s *Scorer) ScoreWindow(w *observation.Window) ([]Vote, error) {
	b, err := s.Bind(w)
	if err != nil {
		return nil, err
	}
	votes := make([]Vote, w.Len())
	for i := range votes {
		votes[i] = b.Vote(i)
	}
	return votes, nil
}

func countTrue(votes []bool) int {
	n := 0
	for _, v := range votes {
		if v {
			n++
		}
	}
	return n
}
