package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPusher_Disabled(t *testing.T) {
	p := NewPusher(PushgatewayConfig{}, nil)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Push(context.Background(), RunSummary{RunID: "r"}))
}

func TestPusher_Push(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := NewDefaultConfig().Pushgateway
	cfg.URL = srv.URL
	p := NewPusher(cfg, nil)

	err := p.Push(context.Background(), RunSummary{
		RunID:      "run-42",
		Status:     "success",
		Iterations: 1,
		Reviews:    2,
		Fixes:      1,
		Files:      7,
		Duration:   3 * time.Second,
		Finished:   time.Unix(1700000000, 0),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/genforge", path)
	assert.Contains(t, string(body), "genforge_run_info")
	assert.Contains(t, string(body), "run-42")
}

func TestPusher_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPusher(PushgatewayConfig{URL: srv.URL, Job: "genforge"}, nil)
	err := p.Push(context.Background(), RunSummary{RunID: "r", Finished: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push run summary")
}
