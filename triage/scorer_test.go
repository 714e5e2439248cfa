package triage

import (
	"testing"

	"soctriage/core"
	"soctriage/threat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func success(value string, rep int) threat.Result {
	return threat.NewSuccess(core.Indicator{Kind: core.IndicatorIP, Value: value}, threat.Reputation{Score: rep}, "test")
}

func failure(value string) threat.Result {
	return threat.NewFailure(core.Indicator{Kind: core.IndicatorIP, Value: value}, threat.ErrPermanent, "test")
}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultWeights())
	require.NoError(t, err)
	return s
}

func TestScorer_Enriched(t *testing.T) {
	s := newTestScorer(t)

	score := s.Score(&core.Finding{Severity: 7.2}, []threat.Result{success("185.220.101.32", 90)})
	assert.Equal(t, 77.4, score.Value)
	assert.Equal(t, ScoreModeEnriched, score.Mode)
	assert.Equal(t, 90, score.MaxReputation)
	assert.Equal(t, 1, score.Enriched)
}

func TestScorer_UsesMaxReputationAmongSuccesses(t *testing.T) {
	s := newTestScorer(t)

	score := s.Score(&core.Finding{Severity: 5}, []threat.Result{
		success("1.1.1.1", 20),
		failure("2.2.2.2"),
		success("3.3.3.3", 60),
	})
	// 50*0.7 + 60*0.3
	assert.Equal(t, 53.0, score.Value)
	assert.Equal(t, ScoreModeEnriched, score.Mode)
	assert.Equal(t, 2, score.Enriched)
}

func TestScorer_DegradedWhenAllFailed(t *testing.T) {
	s := newTestScorer(t)

	score := s.Score(&core.Finding{Severity: 10}, []threat.Result{failure("1.1.1.1"), failure("2.2.2.2")})
	assert.Equal(t, 100.0, score.Value)
	assert.Equal(t, ScoreModeDegraded, score.Mode)

	// the degraded score differs from an enriched score with reputation 0
	enriched := s.Score(&core.Finding{Severity: 10}, []threat.Result{success("1.1.1.1", 0)})
	assert.Equal(t, 70.0, enriched.Value)
	assert.NotEqual(t, score.Mode, enriched.Mode)
}

func TestScorer_DegradedHighSeverityStaysEscalated(t *testing.T) {
	s := newTestScorer(t)
	r := newTestRecommender(t)

	for _, sev := range []float64{8.34, 9, 9.99, 10} {
		score := s.Score(&core.Finding{Severity: sev}, []threat.Result{failure("1.1.1.1")})
		assert.GreaterOrEqual(t, score.Value, 70.0, "severity %v", sev)
		assert.Equal(t, core.VerdictImmediateAction, r.Recommend(score.Value))
	}
}

func TestScorer_NoIndicators(t *testing.T) {
	s := newTestScorer(t)

	score := s.Score(&core.Finding{Severity: 4.1}, nil)
	assert.Equal(t, 41.0, score.Value)
	assert.Equal(t, ScoreModeNoIndicators, score.Mode)
}

func TestScorer_ClampsOutOfRangeSeverity(t *testing.T) {
	s := newTestScorer(t)

	assert.Equal(t, 100.0, s.Score(&core.Finding{Severity: 14}, nil).Value)
	assert.Equal(t, 0.0, s.Score(&core.Finding{Severity: -3}, nil).Value)
}

func TestScorer_CustomWeights(t *testing.T) {
	s, err := NewScorer(Weights{Severity: 0.5, Reputation: 0.5})
	require.NoError(t, err)

	score := s.Score(&core.Finding{Severity: 6}, []threat.Result{success("1.1.1.1", 100)})
	assert.Equal(t, 80.0, score.Value)

	s, err = NewScorer(Weights{Severity: 1, Reputation: 1})
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.Score(&core.Finding{Severity: 9}, []threat.Result{success("1.1.1.1", 90)}).Value)
}

func TestNewScorer_InvalidWeights(t *testing.T) {
	_, err := NewScorer(Weights{Severity: -0.1, Reputation: 0.3})
	assert.Error(t, err)

	_, err = NewScorer(Weights{})
	assert.Error(t, err)
}
