package bootstrap

import (
	"context"

	"soctriage/config"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// logSpanExporter writes finished spans to the application log
type logSpanExporter struct {
	sugar *zap.SugaredLogger
}

func (e *logSpanExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		fields := []interface{}{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"duration", s.EndTime().Sub(s.StartTime()),
		}
		if s.Status().Description != "" {
			fields = append(fields, "status", s.Status().Description)
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, string(kv.Key), kv.Value.AsInterface())
		}
		e.sugar.Debugw("Span finished", fields...)
	}
	return nil
}

func (e *logSpanExporter) Shutdown(context.Context) error {
	return nil
}

// InitTracing installs a tracer provider that logs spans when tracing is
// enabled. It returns nil when tracing is off.
func InitTracing(cfg *config.Config, sugar *zap.SugaredLogger) *sdktrace.TracerProvider {
	if !cfg.Tracing.Enabled {
		return nil
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(&logSpanExporter{sugar: sugar}),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	sugar.Debugw("Tracing enabled")
	return tp
}
