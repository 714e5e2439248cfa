package bootstrap

import (
	"context"
	"fmt"

	"soctriage/config"
	"soctriage/core"
	"soctriage/threat"
	"soctriage/triage"

	"go.uber.org/zap"
)

// ClientConfigFromConfig maps configuration onto the live enrichment client
func ClientConfigFromConfig(cfg *config.Config) threat.ClientConfig {
	breaker := core.DefaultBreakerConfig()
	breaker.MaxFailures = cfg.Enrichment.Breaker.MaxFailures
	breaker.OpenTimeout = cfg.Enrichment.Breaker.OpenTimeout

	return threat.ClientConfig{
		Workers:           cfg.EnrichmentConcurrency,
		RequestsPerMinute: cfg.Enrichment.RequestsPerMinute,
		RetryBackoff:      cfg.Enrichment.RetryBackoff,
		RateLimitPause:    cfg.Enrichment.RateLimitPause,
		MaxRateLimitWaits: cfg.Enrichment.MaxRateLimitWaits,
		LookupTimeout:     cfg.Enrichment.LookupTimeout,
		Breaker:           breaker,
	}
}

// PipelineOptionsFromConfig maps configuration onto the triage pipeline
func PipelineOptionsFromConfig(cfg *config.Config) triage.Options {
	return triage.Options{
		MaxFindings:  cfg.MaxFindingsPerRun,
		BatchTimeout: cfg.Enrichment.BatchTimeout,
		Weights: triage.Weights{
			Severity:   cfg.Scoring.SeverityWeight,
			Reputation: cfg.Scoring.ReputationWeight,
		},
		Thresholds: triage.Thresholds{
			Investigate:     cfg.RiskThresholds.Investigate,
			ImmediateAction: cfg.RiskThresholds.ImmediateAction,
		},
	}
}

// InitExtractor creates the indicator extractor, adding any schemas from the
// configured schema file to the built-in ones
func InitExtractor(cfg *config.Config, sugar *zap.SugaredLogger) (*threat.Extractor, error) {
	var extra map[string]threat.FieldSchema
	if path := cfg.Extraction.SchemaFile; path != "" {
		schemas, err := threat.LoadSchemas(path)
		if err != nil {
			return nil, err
		}
		extra = schemas
		sugar.Infow("Loaded extraction schemas", "file", path, "schemas", len(schemas))
	}
	return threat.NewExtractor(extra, sugar), nil
}

// NewBackend creates the live reputation backend named by configuration
func NewBackend(cfg *config.Config) (threat.Backend, error) {
	switch cfg.Enrichment.Provider {
	case config.ProviderVirusTotal:
		return threat.NewVirusTotalBackend(cfg.Enrichment.APIKey, cfg.Enrichment.BaseURL, cfg.Enrichment.LookupTimeout), nil
	case config.ProviderAbuseIPDB:
		return threat.NewAbuseIPDBBackend(cfg.Enrichment.APIKey, cfg.Enrichment.BaseURL, cfg.Enrichment.LookupTimeout), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q", cfg.Enrichment.Provider)
	}
}

// InitEnricher creates the enricher for a run: the fixed demo table in demo
// mode, otherwise a cached live client
func InitEnricher(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (threat.Enricher, error) {
	if cfg.DemoMode {
		sugar.Info("Demo mode enabled, using built-in reputation table")
		return threat.NewStubClient(threat.DemoReputations(), cfg.Enrichment.StubReputation, sugar), nil
	}

	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	cache, err := InitCache(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}

	client, err := threat.NewClient(backend, cache, ClientConfigFromConfig(cfg), sugar)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to create enrichment client: %w", err)
	}

	sugar.Infow("Enrichment client ready",
		"provider", backend.Name(),
		"workers", cfg.EnrichmentConcurrency,
		"requests_per_minute", cfg.Enrichment.RequestsPerMinute)
	return client, nil
}
