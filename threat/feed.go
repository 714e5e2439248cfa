package threat

import (
	"context"

	"soctriage/core"

	"go.uber.org/zap"
)

// Enricher resolves indicators to reputation results.
// Implementations never fail a call; per-indicator failures are carried in the Result.
type Enricher interface {
	Enrich(ctx context.Context, ind core.Indicator) Result
	EnrichAll(ctx context.Context, indicators []core.Indicator) map[string]Result
	Close() error
}

var (
	_ Enricher = (*Client)(nil)
	_ Enricher = (*StubClient)(nil)
)

// DefaultStubReputation is returned by the stub for indicators not in its table
const DefaultStubReputation = 10

// DemoReputations are the fixed reputations served in demo mode, keyed by Indicator.Key
func DemoReputations() map[string]int {
	return map[string]int{
		"ip:185.220.101.32": 90,
		"ip:203.0.113.42":   55,
		"ip:198.51.100.100": 20,
	}
}

// StubClient is a deterministic enricher for demos and tests. It makes no
// network calls and never fails.
type StubClient struct {
	table      map[string]int
	defaultRep int
	logger     *zap.SugaredLogger
}

// NewStubClient creates a stub enricher. A nil table uses DemoReputations.
func NewStubClient(table map[string]int, defaultRep int, logger *zap.SugaredLogger) *StubClient {
	if table == nil {
		table = DemoReputations()
	}
	return &StubClient{
		table:      table,
		defaultRep: defaultRep,
		logger:     logger,
	}
}

// Name returns the source recorded on stub results
func (s *StubClient) Name() string {
	return "stub"
}

// Enrich returns the fixed reputation for the indicator
func (s *StubClient) Enrich(_ context.Context, ind core.Indicator) Result {
	score, ok := s.table[ind.Key()]
	if !ok {
		score = s.defaultRep
	}
	s.logger.Debugw("Stub enrichment", "indicator", ind.Key(), "reputation", score, "known", ok)

	r := NewSuccess(ind, Reputation{Score: score}, s.Name())
	r.Attempts = 1
	return r
}

// EnrichAll enriches each distinct indicator once
func (s *StubClient) EnrichAll(ctx context.Context, indicators []core.Indicator) map[string]Result {
	results := make(map[string]Result, len(indicators))
	for _, ind := range indicators {
		if _, done := results[ind.Key()]; done {
			continue
		}
		results[ind.Key()] = s.Enrich(ctx, ind)
	}
	return results
}

// Close is a no-op
func (s *StubClient) Close() error {
	return nil
}
