// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/lockbox/pkg/errutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func startServer(t *testing.T, ready ReadinessChecker) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0", ready, quietLogger())
	_, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func get(t *testing.T, srv *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + srv.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	srv := NewServer("127.0.0.1:0", nil, quietLogger())
	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_lockouts_total",
		Help: "lockouts seen by the test",
	})
	srv.Registry().MustRegister(lockouts)
	lockouts.Inc()

	_, err := srv.Start()
	require.NoError(t, err)
	defer func() { _ = srv.Stop(context.Background()) }()

	status, body := get(t, srv, MetricsPath)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "process_")
	assert.Contains(t, body, "test_lockouts_total 1")
}

func TestServer_Liveness(t *testing.T) {
	srv := startServer(t, func() bool { return false })

	status, body := get(t, srv, LivenessPath)
	assert.Equal(t, http.StatusOK, status, "liveness does not depend on readiness")
	assert.Equal(t, "ok\n", body)
}

func TestServer_Readiness(t *testing.T) {
	var ready atomic.Bool
	srv := startServer(t, ready.Load)

	status, body := get(t, srv, ReadinessPath)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "not ready\n", body)

	ready.Store(true)
	status, body = get(t, srv, ReadinessPath)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok\n", body)
}

func TestServer_ReadinessWithNilChecker(t *testing.T) {
	srv := startServer(t, nil)
	status, _ := get(t, srv, ReadinessPath)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_StartTwice(t *testing.T) {
	srv := startServer(t, nil)
	_, err := srv.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_ALREADY_RUNNING")
}

func TestServer_ListenFailure(t *testing.T) {
	srv := NewServer("127.0.0.1:-1", nil, quietLogger())
	_, err := srv.Start()
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
	errutil.AssertErrorContext(t, err, "addr", "127.0.0.1:-1")
	assert.Empty(t, srv.Addr())
}

func TestServer_StopClosesErrorChannel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := NewServer("127.0.0.1:0", nil, quietLogger())
	errCh, err := srv.Start()
	require.NoError(t, err)
	require.NotEmpty(t, srv.Addr())

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, srv.Stop(context.Background()), "second Stop is a no-op")

	select {
	case serveErr, ok := <-errCh:
		assert.False(t, ok, "unexpected serve error %v", serveErr)
	case <-time.After(5 * time.Second):
		t.Fatal("error channel was not closed")
	}
}
