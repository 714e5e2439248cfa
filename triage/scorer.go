package triage

import (
	"errors"
	"math"

	"soctriage/core"
	"soctriage/threat"
)

// ScoreMode records which inputs a score was computed from
type ScoreMode string

const (
	// ScoreModeEnriched means at least one indicator was enriched successfully
	ScoreModeEnriched ScoreMode = "enriched"
	// ScoreModeDegraded means indicators existed but every enrichment failed
	ScoreModeDegraded ScoreMode = "degraded"
	// ScoreModeNoIndicators means the finding carried no indicators
	ScoreModeNoIndicators ScoreMode = "no_indicators"
	// ScoreModeFailed means the finding could not be processed
	ScoreModeFailed ScoreMode = "failed"
)

// MaxScore is the upper bound of a risk score
const MaxScore = 100.0

// Weights blends native severity with threat reputation
type Weights struct {
	Severity   float64 `mapstructure:"severity_weight"`
	Reputation float64 `mapstructure:"reputation_weight"`
}

// DefaultWeights returns the 70/30 severity/reputation split
func DefaultWeights() Weights {
	return Weights{Severity: 0.7, Reputation: 0.3}
}

// Validate checks the weights are usable
func (w Weights) Validate() error {
	if w.Severity < 0 || w.Reputation < 0 {
		return errors.New("scoring weights must not be negative")
	}
	if w.Severity+w.Reputation == 0 {
		return errors.New("scoring weights must not both be zero")
	}
	return nil
}

// Score is a computed risk score and how it was derived
type Score struct {
	Value         float64
	Mode          ScoreMode
	MaxReputation int
	Enriched      int
}

// Scorer turns severity and enrichment results into a 0-100 risk score
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights
func NewScorer(weights Weights) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: weights}, nil
}

// Score computes the risk score. It never fails: without a successful
// enrichment the score is the scaled severity alone.
func (s *Scorer) Score(f *core.Finding, results []threat.Result) Score {
	severity := math.Min(math.Max(f.Severity, core.MinSeverity), core.MaxSeverity)
	base := severity * 10

	maxRep := 0
	enriched := 0
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		enriched++
		if r.Reputation > maxRep {
			maxRep = r.Reputation
		}
	}

	switch {
	case enriched > 0:
		value := base*s.weights.Severity + float64(maxRep)*s.weights.Reputation
		return Score{Value: clampScore(value), Mode: ScoreModeEnriched, MaxReputation: maxRep, Enriched: enriched}
	case len(results) > 0:
		return Score{Value: clampScore(base), Mode: ScoreModeDegraded}
	default:
		return Score{Value: clampScore(base), Mode: ScoreModeNoIndicators}
	}
}

// clampScore bounds a score to [0,100] and rounds to two decimals so
// threshold comparisons are not thrown off by float noise
func clampScore(v float64) float64 {
	v = math.Round(v*100) / 100
	return math.Min(math.Max(v, 0), MaxScore)
}
