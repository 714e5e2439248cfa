package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"soctriage/config"
	"soctriage/core"
	"soctriage/metrics"
	"soctriage/threat"
	"soctriage/triage"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// App holds the components of one triage process
type App struct {
	Config *config.Config
	Sugar  *zap.SugaredLogger

	Extractor *threat.Extractor
	Enricher  threat.Enricher
	Pipeline  *triage.Pipeline

	// MetricsFile, when set, receives a Prometheus text snapshot on Shutdown
	MetricsFile string

	tracer       *sdktrace.TracerProvider
	shutdownOnce sync.Once
}

// NewApp wires the extractor, enricher and pipeline from configuration
func NewApp(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logConfig(cfg, sugar)
	tp := InitTracing(cfg, sugar)

	extractor, err := InitExtractor(cfg, sugar)
	if err != nil {
		return nil, err
	}

	enricher, err := InitEnricher(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}

	pipeline, err := triage.NewPipeline(PipelineOptionsFromConfig(cfg), extractor, enricher, sugar)
	if err != nil {
		_ = enricher.Close()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	return &App{
		Config:    cfg,
		Sugar:     sugar,
		Extractor: extractor,
		Enricher:  enricher,
		Pipeline:  pipeline,
		tracer:    tp,
	}, nil
}

// Run triages one batch of findings
func (a *App) Run(ctx context.Context, findings []core.Finding) (*triage.Report, error) {
	return a.Pipeline.Run(ctx, findings)
}

// Shutdown releases the enricher and writes the metrics snapshot. Safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.Enricher != nil {
			if err := a.Enricher.Close(); err != nil {
				a.Sugar.Warnw("Failed to close enricher", "error", err)
			}
		}
		if a.tracer != nil {
			if err := a.tracer.Shutdown(context.Background()); err != nil {
				a.Sugar.Warnw("Failed to flush spans", "error", err)
			}
		}
		if a.MetricsFile != "" {
			if err := metrics.WriteTextfile(a.MetricsFile); err != nil {
				a.Sugar.Warnw("Failed to write metrics file", "file", a.MetricsFile, "error", err)
			} else {
				a.Sugar.Debugw("Metrics written", "file", a.MetricsFile)
			}
		}
		_ = a.Sugar.Sync()
	})
}
