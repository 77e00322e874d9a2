package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestStripScheme(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://collector:4318", "collector:4318"},
		{"http://localhost:4318", "localhost:4318"},
		{"localhost:4317", "localhost:4317"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripScheme(tt.in), tt.in)
	}
}

func TestTLSConfig(t *testing.T) {
	tests := []struct {
		name     string
		insecure bool
		skip     bool
		wantSkip bool
	}{
		{name: "plaintext", insecure: true, skip: true},
		{name: "verified tls"},
		{name: "skip verify", skip: true, wantSkip: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tlsConfig(&Config{Insecure: tt.insecure, TLSSkipVerify: tt.skip})
			if !tt.wantSkip {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, got.InsecureSkipVerify)
		})
	}
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ServiceVersion = "1.2.3"

	res := newResource(cfg)
	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "genforge", name.AsString())
	version, ok := res.Set().Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	assert.Equal(t, "1.2.3", version.AsString())
	_, ok = res.Set().Value(semconv.ProcessPIDKey)
	assert.True(t, ok)
}

func TestNewMeterProvider_Disabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Metrics.Enabled = false

	mp, err := newMeterProvider(context.Background(), cfg, newResource(cfg))
	require.NoError(t, err)
	assert.Nil(t, mp)
}
