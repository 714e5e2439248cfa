package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soctriage/core"
	"soctriage/metrics"
	"soctriage/threat"
	"soctriage/util/goroutine"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("soctriage/triage")

// ErrNoInput is returned when the pipeline is given no finding sequence at all
var ErrNoInput = errors.New("no findings input")

// DefaultMaxFindings caps a run when nothing is configured
const DefaultMaxFindings = 10

// Extractor pulls indicators from a finding
type Extractor interface {
	Extract(f *core.Finding) (threat.Extraction, error)
}

// Options configures a pipeline
type Options struct {
	MaxFindings  int
	BatchTimeout time.Duration
	Weights      Weights
	Thresholds   Thresholds
}

// DefaultOptions returns the defaults used when nothing is configured
func DefaultOptions() Options {
	return Options{
		MaxFindings:  DefaultMaxFindings,
		BatchTimeout: 2 * time.Minute,
		Weights:      DefaultWeights(),
		Thresholds:   DefaultThresholds(),
	}
}

// Pipeline triages a batch of findings: extract, enrich, score, recommend.
// A failure while processing one finding never affects the others.
type Pipeline struct {
	opts        Options
	extractor   Extractor
	enricher    threat.Enricher
	scorer      *Scorer
	recommender *Recommender
	logger      *zap.SugaredLogger
}

// NewPipeline creates a pipeline. The enricher is owned by the caller.
func NewPipeline(opts Options, extractor Extractor, enricher threat.Enricher, logger *zap.SugaredLogger) (*Pipeline, error) {
	if extractor == nil || enricher == nil {
		return nil, errors.New("pipeline requires an extractor and an enricher")
	}
	if opts.MaxFindings < 1 {
		return nil, fmt.Errorf("max findings per run must be positive, got %d", opts.MaxFindings)
	}

	scorer, err := NewScorer(opts.Weights)
	if err != nil {
		return nil, err
	}
	recommender, err := NewRecommender(opts.Thresholds)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		opts:        opts,
		extractor:   extractor,
		enricher:    enricher,
		scorer:      scorer,
		recommender: recommender,
		logger:      logger,
	}, nil
}

// Run triages findings in input order and returns one result per retained
// finding. Only a nil input or duplicate finding IDs fail the run.
func (p *Pipeline) Run(ctx context.Context, findings []core.Finding) (*Report, error) {
	if findings == nil {
		return nil, ErrNoInput
	}

	started := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)

	ctx, span := tracer.Start(ctx, "triage.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("findings.input", len(findings))))
	defer span.End()

	retained := findings
	if len(retained) > p.opts.MaxFindings {
		retained = retained[:p.opts.MaxFindings]
		dropped := len(findings) - len(retained)
		metrics.FindingsTruncated.Add(float64(dropped))
		logger.Warnw("Truncating findings to per-run limit",
			"received", len(findings),
			"max_findings", p.opts.MaxFindings,
			"dropped", dropped)
	}

	if err := core.CheckUniqueIDs(retained); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "duplicate finding id")
		return nil, err
	}

	logger.Infow("Processing findings", "count", len(retained))

	results := make([]Result, len(retained))
	extractions := make([]threat.Extraction, len(retained))

	// extract
	var batch []core.Indicator
	seen := make(map[string]struct{})
	for i := range retained {
		f := &retained[i]
		results[i] = Result{
			FindingID: f.ID,
			Title:     f.Title,
			Type:      f.Type,
			Severity:  f.Severity,
		}

		x, err := p.extract(f)
		if err != nil {
			p.fail(logger, &results[i], err)
			continue
		}
		extractions[i] = x
		results[i].Warnings = x.Warnings

		for _, ind := range x.Indicators {
			if _, dup := seen[ind.Key()]; dup {
				continue
			}
			seen[ind.Key()] = struct{}{}
			batch = append(batch, ind)
		}
	}

	// enrich every distinct indicator of the run in one batch
	enriched, err := p.enrich(ctx, batch)
	if err != nil {
		logger.Errorw("Enrichment failed for the whole batch", "error", err)
	}

	// score and recommend
	for i := range retained {
		if results[i].Failed {
			continue
		}
		if err != nil && len(extractions[i].Indicators) > 0 {
			p.fail(logger, &results[i], fmt.Errorf("enrichment: %w", err))
			continue
		}
		if aerr := p.assemble(&retained[i], extractions[i], enriched, &results[i]); aerr != nil {
			p.fail(logger, &results[i], aerr)
		}
	}

	report := newReport(runID, started, len(findings), results)
	report.FinishedAt = time.Now()

	for _, r := range results {
		metrics.FindingsTriaged.WithLabelValues(r.Verdict.String()).Inc()
	}
	metrics.RunDuration.Observe(report.Duration().Seconds())

	span.SetAttributes(
		attribute.Int("findings.retained", report.Retained),
		attribute.Int("findings.failed", report.Failed),
		attribute.Int("indicators.distinct", len(batch)))

	logger.Infow("Triage run complete",
		"findings", report.Retained,
		"truncated", report.Truncated,
		"failed", report.Failed,
		"immediate_action", report.Count(core.VerdictImmediateAction),
		"investigate", report.Count(core.VerdictInvestigate),
		"monitor", report.Count(core.VerdictMonitor),
		"duration", report.Duration())

	return report, nil
}

// extract validates and scans one finding, converting panics into errors
func (p *Pipeline) extract(f *core.Finding) (x threat.Extraction, err error) {
	defer goroutine.RecoverError("extract "+f.ID, p.logger, &err)

	if err := f.Validate(); err != nil {
		return threat.Extraction{}, err
	}
	return p.extractor.Extract(f)
}

// enrich runs the batch under the configured deadline
func (p *Pipeline) enrich(ctx context.Context, batch []core.Indicator) (results map[string]threat.Result, err error) {
	if len(batch) == 0 {
		return map[string]threat.Result{}, nil
	}
	defer goroutine.RecoverError("enrich batch", p.logger, &err)

	if p.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.BatchTimeout)
		defer cancel()
	}

	results = p.enricher.EnrichAll(ctx, batch)
	if results == nil {
		results = map[string]threat.Result{}
	}
	return results, nil
}

// assemble scores one finding from its enrichment results
func (p *Pipeline) assemble(f *core.Finding, x threat.Extraction, enriched map[string]threat.Result, out *Result) (err error) {
	defer goroutine.RecoverError("assemble "+f.ID, p.logger, &err)

	out.Enrichments = make([]threat.Result, 0, len(x.Indicators))
	for _, ind := range x.Indicators {
		r, ok := enriched[ind.Key()]
		if !ok {
			r = threat.NewFailure(ind, fmt.Errorf("%w: no enrichment result", threat.ErrPermanent), "")
		}
		r.Indicator = ind
		out.Enrichments = append(out.Enrichments, r)
		if !r.Succeeded() {
			out.Errors = append(out.Errors, fmt.Sprintf("%s %s: %s", r.ErrorKind, ind.Key(), r.Error))
		}
	}

	score := p.scorer.Score(f, out.Enrichments)
	out.Score = score.Value
	out.ScoreMode = score.Mode
	out.MaxReputation = score.MaxReputation
	out.Verdict = p.recommender.Recommend(score.Value)

	if score.Mode == ScoreModeDegraded {
		p.logger.Warnw("Scoring without enrichment, every lookup failed",
			"finding_id", f.ID,
			"indicators", len(x.Indicators))
	}
	p.logger.Debugw("Finding triaged",
		"finding_id", f.ID,
		"score", out.Score,
		"mode", out.ScoreMode,
		"verdict", out.Verdict.String())
	return nil
}

// fail marks a finding as failed with the fail-safe verdict
func (p *Pipeline) fail(logger *zap.SugaredLogger, out *Result, err error) {
	metrics.FindingFailures.Inc()
	logger.Warnw("Finding processing failed", "finding_id", out.FindingID, "error", err)

	out.Failed = true
	out.Score = 0
	out.Verdict = core.VerdictMonitor
	out.ScoreMode = ScoreModeFailed
	out.Enrichments = nil
	out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", threat.ErrorKindFindingFailure, err))
}
