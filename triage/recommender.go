package triage

import (
	"fmt"

	"soctriage/core"
)

// Thresholds are the inclusive lower bounds of the escalated verdicts
type Thresholds struct {
	Investigate     float64 `mapstructure:"investigate"`
	ImmediateAction float64 `mapstructure:"immediate_action"`
}

// DefaultThresholds returns the 50/70 bands
func DefaultThresholds() Thresholds {
	return Thresholds{Investigate: 50, ImmediateAction: 70}
}

// Validate requires 0 <= Investigate < ImmediateAction <= 100
func (t Thresholds) Validate() error {
	if t.Investigate < 0 || t.ImmediateAction > MaxScore {
		return fmt.Errorf("risk thresholds must lie within [0, %.0f]", MaxScore)
	}
	if t.Investigate >= t.ImmediateAction {
		return fmt.Errorf("investigate threshold (%.1f) must be below immediate action threshold (%.1f)",
			t.Investigate, t.ImmediateAction)
	}
	return nil
}

// Recommender maps a risk score to a verdict
type Recommender struct {
	thresholds Thresholds
}

// NewRecommender creates a recommender with validated thresholds
func NewRecommender(thresholds Thresholds) (*Recommender, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Recommender{thresholds: thresholds}, nil
}

// Recommend returns the verdict for a score; thresholds are inclusive at the lower bound
func (r *Recommender) Recommend(score float64) core.Verdict {
	switch {
	case score >= r.thresholds.ImmediateAction:
		return core.VerdictImmediateAction
	case score >= r.thresholds.Investigate:
		return core.VerdictInvestigate
	default:
		return core.VerdictMonitor
	}
}
