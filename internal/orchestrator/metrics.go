package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/genforge/internal/orchestrator"

// instruments holds the tracer and meters for a pipeline. A nil
// *instruments records nothing.
type instruments struct {
	tracer        trace.Tracer
	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
	fixes         metric.Int64Counter
	reviews       metric.Int64Counter
}

func newInstruments(tel *telemetry.Telemetry, logger *zap.Logger) *instruments {
	meter := tel.Meter(instrumentationName)
	m := &instruments{tracer: tel.Tracer(instrumentationName)}

	var err error
	m.runs, err = meter.Int64Counter(
		"genforge.pipeline.runs_total",
		metric.WithDescription("Pipeline runs labeled by final status (succeeded, degraded, failed)."),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.stageDuration, err = meter.Float64Histogram(
		"genforge.pipeline.stage_duration_seconds",
		metric.WithDescription("Duration of a single stage call in seconds, labeled by stage and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn("failed to create stage duration histogram", zap.Error(err))
	}

	m.fixes, err = meter.Int64Counter(
		"genforge.pipeline.fixes_total",
		metric.WithDescription("Fix calls labeled by trigger (review, execution)."),
		metric.WithUnit("{fix}"),
	)
	if err != nil {
		logger.Warn("failed to create fixes counter", zap.Error(err))
	}

	m.reviews, err = meter.Int64Counter(
		"genforge.pipeline.reviews_total",
		metric.WithDescription("Review calls labeled by verdict (approved, rejected)."),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		logger.Warn("failed to create reviews counter", zap.Error(err))
	}

	return m
}

func (m *instruments) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if m == nil || m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (m *instruments) recordRun(ctx context.Context, status Status) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *instruments) recordStage(ctx context.Context, stage Stage, d time.Duration, err error) {
	if m == nil || m.stageDuration == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("outcome", outcome),
	))
}

func (m *instruments) recordFix(ctx context.Context, trigger string) {
	if m == nil || m.fixes == nil {
		return
	}
	m.fixes.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func (m *instruments) recordReview(ctx context.Context, approved bool) {
	if m == nil || m.reviews == nil {
		return
	}
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	m.reviews.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
}
