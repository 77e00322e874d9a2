package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// RunSummary is the batch-job view of one finished pipeline run.
type RunSummary struct {
	RunID      string
	Status     string
	Iterations int
	Reviews    int
	Fixes      int
	Files      int
	Duration   time.Duration
	Finished   time.Time
}

// Pusher pushes run summaries to a Prometheus Pushgateway.
// A genforge run is a short-lived batch job, so its outcome cannot be scraped.
type Pusher struct {
	cfg    PushgatewayConfig
	logger *zap.Logger
}

// NewPusher creates a Pusher. A nil logger is replaced with a no-op.
func NewPusher(cfg PushgatewayConfig, logger *zap.Logger) *Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{cfg: cfg, logger: logger}
}

// Enabled reports whether a gateway URL is configured.
func (p *Pusher) Enabled() bool {
	return p != nil && p.cfg.URL != ""
}

// Push replaces the job's metric group with the given summary.
func (p *Pusher) Push(ctx context.Context, s RunSummary) error {
	if !p.Enabled() {
		return nil
	}

	reg := prometheus.NewRegistry()

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "genforge_run_info",
		Help: "Identity and final status of the last pipeline run.",
	}, []string{"run_id", "status"})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "genforge_run_duration_seconds",
		Help: "Wall-clock duration of the last pipeline run.",
	})
	completed := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "genforge_run_last_completion_timestamp_seconds",
		Help: "Unix time the last pipeline run finished.",
	})
	counts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "genforge_run_count",
		Help: "Per-run counters of the last pipeline run.",
	}, []string{"kind"})

	reg.MustRegister(info, duration, completed, counts)

	info.WithLabelValues(s.RunID, s.Status).Set(1)
	duration.Set(s.Duration.Seconds())
	completed.Set(float64(s.Finished.Unix()))
	counts.WithLabelValues("iterations").Set(float64(s.Iterations))
	counts.WithLabelValues("reviews").Set(float64(s.Reviews))
	counts.WithLabelValues("fixes").Set(float64(s.Fixes))
	counts.WithLabelValues("files").Set(float64(s.Files))

	if timeout := p.cfg.Timeout.Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := push.New(p.cfg.URL, p.cfg.Job).Gatherer(reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push run summary to %s: %w", p.cfg.URL, err)
	}

	p.logger.Debug("pushed run summary",
		zap.String("run_id", s.RunID),
		zap.String("status", s.Status),
		zap.String("gateway", p.cfg.URL))
	return nil
}
