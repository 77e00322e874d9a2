package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/genforge/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool              `koanf:"enabled"`
	Endpoint       string            `koanf:"endpoint"`
	Protocol       string            `koanf:"protocol"` // grpc or http/protobuf
	ServiceName    string            `koanf:"service_name"`
	ServiceVersion string            `koanf:"service_version"`
	Insecure       bool              `koanf:"insecure"`
	TLSSkipVerify  bool              `koanf:"tls_skip_verify"`
	Sampling       SamplingConfig    `koanf:"sampling"`
	Metrics        MetricsConfig     `koanf:"metrics"`
	Shutdown       ShutdownConfig    `koanf:"shutdown"`
	Pushgateway    PushgatewayConfig `koanf:"pushgateway"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0
}

// MetricsConfig controls OTLP metrics export.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls flush-on-exit behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// PushgatewayConfig enables pushing a per-run summary to a Prometheus Pushgateway.
// An empty URL disables pushing. It is independent of Enabled.
type PushgatewayConfig struct {
	URL     string          `koanf:"url"`
	Job     string          `koanf:"job"`
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns telemetry defaults.
// Telemetry is off unless explicitly enabled; a one-shot CLI run rarely has a collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "genforge",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
		Pushgateway: PushgatewayConfig{
			Job:     "genforge",
			Timeout: config.Duration(10 * time.Second),
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Pushgateway.URL != "" && c.Pushgateway.Job == "" {
		return fmt.Errorf("pushgateway.job is required when pushgateway.url is set")
	}

	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "" && c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false or use a local endpoint")
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	return nil
}

// isLocalEndpoint reports whether the endpoint host is a loopback address.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)

	if strings.HasPrefix(host, "[") {
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" || host == "::1" || strings.HasPrefix(host, "127.")
}
