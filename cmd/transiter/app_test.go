package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transiter.dev/transiter/internal/appconf"
)

func testConfig(t *testing.T) appconf.Config {
	return appconf.Config{
		Env:       appconf.Development,
		DBPath:    filepath.Join(t.TempDir(), "transiter.db"),
		LogLevel:  "error",
		ApiKeys:   []string{"test"},
		RateLimit: 100,
	}
}

func TestParseAPIKeys(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Single key", "test-key", []string{"test-key"}},
		{"Multiple keys", "key1,key2,key3", []string{"key1", "key2", "key3"}},
		{"Keys with spaces", " key1 , key2 , key3 ", []string{"key1", "key2", "key3"}},
		{"Empty string", "", []string{}},
		{"Only whitespace", "   ", []string{}},
		{"Trailing comma", "key1,", []string{"key1", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAPIKeys(tt.input))
		})
	}
}

func TestBuildApplication(t *testing.T) {
	cfg := testConfig(t)

	coreApp, err := BuildApplication(cfg)
	require.NoError(t, err)
	defer func() { _ = coreApp.Close() }()

	assert.Equal(t, cfg, coreApp.Config)
	assert.NotNil(t, coreApp.Logger)
	assert.NotNil(t, coreApp.DB)
	assert.NotNil(t, coreApp.Runner)
	assert.NotNil(t, coreApp.Scheduler)
	assert.NotNil(t, coreApp.Metrics)
}

func TestBuildApplicationBadDBPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "missing", "dir", "transiter.db")

	_, err := BuildApplication(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open database")
}

func TestCreateServer(t *testing.T) {
	coreApp, err := BuildApplication(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = coreApp.Close() }()

	srv, api := CreateServer(coreApp, ":8080")
	defer api.Shutdown()

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, time.Minute, srv.IdleTimeout)
	assert.Equal(t, 5*time.Second, srv.ReadTimeout)
	assert.Equal(t, 5*time.Minute, srv.WriteTimeout)

	for _, path := range []string{"/healthz", "/api/current-time", "/metrics", "/debug/"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestCreateServerSeparateMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "localhost:9090"
	coreApp, err := BuildApplication(cfg)
	require.NoError(t, err)
	defer func() { _ = coreApp.Close() }()

	srv, api := CreateServer(coreApp, ":8080")
	defer api.Shutdown()

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	metricsSrv := createMetricsServer(coreApp)
	assert.Equal(t, "localhost:9090", metricsSrv.Addr)
	w = httptest.NewRecorder()
	metricsSrv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunWithPortZeroAndImmediateShutdown(t *testing.T) {
	coreApp, err := BuildApplication(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = coreApp.Close() }()

	srv, api := CreateServer(coreApp, "127.0.0.1:0")
	defer api.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, coreApp, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "Server should shutdown cleanly")
	case <-time.After(10 * time.Second):
		t.Fatal("Test timeout - server did not shutdown")
	}
}

func TestRunReportsServerFailure(t *testing.T) {
	coreApp, err := BuildApplication(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = coreApp.Close() }()

	srv, api := CreateServer(coreApp, "not-an-address")
	defer api.Shutdown()

	err = Run(context.Background(), coreApp, srv)
	assert.Error(t, err)
}
