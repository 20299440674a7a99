// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/modhost/internal/observability"
	"github.com/holomush/modhost/internal/plugin"
)

func newServer(ready observability.ReadinessChecker) *observability.Server {
	return observability.NewServer("127.0.0.1:0", ready, observability.WithLogger(slog.New(slog.DiscardHandler)))
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := newServer(nil)
	metrics := plugin.NewMetrics(server.Registerer())
	metrics.LoadsTotal.WithLabelValues("success").Inc()

	code, body := get(t, server.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
	assert.Contains(t, body, "go_")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, `modhost_plugin_loads_total{result="success"} 1`)
}

func TestServer_Registerer_RejectsDuplicates(t *testing.T) {
	server := newServer(nil)
	plugin.NewMetrics(server.Registerer())
	assert.Panics(t, func() { plugin.NewMetrics(server.Registerer()) })
}

func TestServer_Liveness(t *testing.T) {
	code, body := get(t, newServer(func() bool { return false }).Handler(), "/healthz/liveness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	var ready atomic.Bool
	handler := newServer(ready.Load).Handler()

	code, body := get(t, handler, "/healthz/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not ready", strings.TrimSpace(body))

	ready.Store(true)
	code, body = get(t, handler, "/healthz/readiness")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness_NilChecker(t *testing.T) {
	code, _ := get(t, newServer(nil).Handler(), "/healthz/readiness")
	assert.Equal(t, http.StatusOK, code)
}

func TestServer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	server := newServer(nil)
	assert.Empty(t, server.Addr())

	errCh, err := server.Start()
	require.NoError(t, err)
	require.NotEmpty(t, server.Addr())

	_, err = server.Start()
	assert.Error(t, err, "second start fails while running")

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + server.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx), "stop is idempotent")

	_, open := <-errCh
	assert.False(t, open, "error channel closes on graceful stop")
}

func TestServer_Start_ListenError(t *testing.T) {
	server := observability.NewServer("127.0.0.1:99999", nil, observability.WithLogger(slog.New(slog.DiscardHandler)))
	_, err := server.Start()
	assert.Error(t, err)

	_, err = server.Start()
	assert.Error(t, err, "failed start leaves the server stopped")
}

func TestServer_Gatherer(t *testing.T) {
	server := newServer(nil)
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "modhost_test_gauge", Help: "test"})
	server.Registerer().MustRegister(gauge)
	gauge.Set(3)

	families, err := server.Gatherer().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "modhost_test_gauge" {
			found = true
		}
	}
	assert.True(t, found)
}
