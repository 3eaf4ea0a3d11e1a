package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vault-streak/internal/logging"
	"github.com/vault-streak/internal/metrics"
	"github.com/vault-streak/internal/service"
	"github.com/vault-streak/internal/storage"
)

const (
	testWallet = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	testVault  = "vault-usdc"
)

type mockActivity struct {
	counts         map[string]uint64
	err            error
	gotFrom, gotTo string
}

func (m *mockActivity) DailyActiveWallets(ctx context.Context, vaultID string, from, to string) (map[string]uint64, error) {
	m.gotFrom, m.gotTo = from, to
	return m.counts, m.err
}

type mockChecker struct {
	err error
}

func (m mockChecker) Ping(ctx context.Context) error {
	return m.err
}

func quietLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	return logger
}

// createTestServer builds a server over an in-memory store with a fixed clock
func createTestServer(t *testing.T, now time.Time, deps ServerDeps) *Server {
	t.Helper()

	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	if deps.Metrics == nil {
		reg := prometheus.NewRegistry()
		deps.Metrics = metrics.New(reg)
		deps.Gatherer = reg
	}

	clock := func() time.Time { return now }
	streaks := service.NewStreakService(storage.NewMemoryStore(), nil, deps.Metrics, deps.Logger, service.WithClock(clock))
	config := &ServerConfig{Host: "127.0.0.1", Port: "0", RateLimitRPS: 1000, RateLimitBurst: 1000}

	server := NewServer(config, streaks, deps)
	server.now = clock
	return server
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	server := createTestServer(t, time.Now(), ServerDeps{
		Checks: map[string]HealthChecker{"redis": mockChecker{}},
	})

	w := doRequest(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": "ok"}, body["dependencies"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestHealth_DegradedDependency(t *testing.T) {
	server := createTestServer(t, time.Now(), ServerDeps{
		Checks: map[string]HealthChecker{"postgres": mockChecker{err: errors.New("connection refused")}},
	})

	w := doRequest(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	server := createTestServer(t, time.Now(), ServerDeps{})

	doRequest(t, server, http.MethodGet, "/api/milestones", nil)

	w := doRequest(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/api/milestones",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	server := createTestServer(t, time.Now(), ServerDeps{})

	w := doRequest(t, server, http.MethodOptions, "/api/streaks/events", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	server := createTestServer(t, time.Now(), ServerDeps{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	streaks := service.NewStreakService(storage.NewMemoryStore(), nil, nil, quietLogger())
	server := NewServer(&ServerConfig{RateLimitRPS: 1, RateLimitBurst: 2}, streaks, ServerDeps{
		Logger:   quietLogger(),
		Metrics:  metrics.NewUnregistered(),
		Gatherer: prometheus.NewRegistry(),
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := doRequest(t, server, http.MethodGet, "/api/milestones", nil)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health checks are not rate limited
	w := doRequest(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A different client has its own bucket
	req := httptest.NewRequest(http.MethodGet, "/api/milestones", nil)
	req.Header.Set(ClientIDHeader, "indexer")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), ErrCodeInternalError)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:53211"
	assert.Equal(t, "10.0.0.7", clientKey(req))

	req.Header.Set(ClientIDHeader, "worker-1")
	assert.Equal(t, "worker-1", clientKey(req))
}
