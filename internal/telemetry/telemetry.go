package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Telemetry owns the tracer and meter providers of one genforge process.
// Spans and metrics from every run in the process share it.
//
// Exporter setup failures never fail a run. The instance degrades to the
// global no-op providers and logs a warning.
type Telemetry struct {
	config *Config
	logger *zap.Logger

	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	degraded atomic.Bool
}

// New creates a Telemetry instance and initializes providers.
// A disabled config yields an instance backed by the global no-op providers.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Telemetry{config: cfg, logger: logger}
	if !cfg.Enabled {
		return t, nil
	}

	res := newResource(cfg)

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded("tracer provider", err)
	} else {
		t.tracerProvider = tp
		otel.SetTracerProvider(tp)
	}

	mp, err := newMeterProvider(ctx, cfg, res)
	if err != nil {
		t.setDegraded("meter provider", err)
	} else if mp != nil {
		t.meterProvider = mp
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return t, nil
}

// Tracer returns a tracer for the given instrumentation scope.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// Config returns the configuration the instance was built with.
func (t *Telemetry) Config() *Config {
	if t == nil {
		return NewDefaultConfig()
	}
	return t.config
}

// Shutdown flushes and stops all providers, bounded by shutdown.timeout
// when ctx carries no deadline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}
	return t.each(ctx, "shutdown",
		func(ctx context.Context) error { return t.tracerProvider.Shutdown(ctx) },
		func(ctx context.Context) error { return t.meterProvider.Shutdown(ctx) })
}

// ForceFlush exports everything recorded so far. The CLI calls it after each
// run so a run's spans leave the process before the feature prompt blocks.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return t.each(ctx, "flush",
		func(ctx context.Context) error { return t.tracerProvider.ForceFlush(ctx) },
		func(ctx context.Context) error { return t.meterProvider.ForceFlush(ctx) })
}

// each applies the trace and meter operations to the providers that exist.
func (t *Telemetry) each(ctx context.Context, op string, traces, metrics func(context.Context) error) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := traces(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider %s: %w", op, err))
		}
	}
	if t.meterProvider != nil {
		if err := metrics(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider %s: %w", op, err))
		}
	}
	return errors.Join(errs...)
}

// IsEnabled reports whether telemetry is enabled and fully initialized.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && !t.degraded.Load()
}

// Degraded reports whether a provider failed to initialize.
func (t *Telemetry) Degraded() bool {
	return t != nil && t.degraded.Load()
}

func (t *Telemetry) setDegraded(component string, err error) {
	t.degraded.Store(true)
	t.logger.Warn("telemetry degraded", zap.String("component", component), zap.Error(err))
}
