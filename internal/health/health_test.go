// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cratedig/cratedig/internal/metrics"
)

type mockChecker struct {
	name   string
	result CheckResult
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) CheckResult { return m.result }

func TestHealthWithoutCheckers(t *testing.T) {
	m := NewManager("1.2.3")
	resp := m.Health(context.Background(), false)

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Nil(t, resp.Checks)
}

func TestHealthVerboseAggregation(t *testing.T) {
	tests := []struct {
		name    string
		results []CheckResult
		want    Status
	}{
		{
			"all healthy",
			[]CheckResult{{Status: StatusHealthy}, {Status: StatusHealthy}},
			StatusHealthy,
		},
		{
			"one degraded",
			[]CheckResult{{Status: StatusHealthy}, {Status: StatusDegraded}},
			StatusDegraded,
		},
		{
			"unhealthy wins over degraded",
			[]CheckResult{{Status: StatusDegraded}, {Status: StatusUnhealthy}},
			StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test")
			for i, r := range tt.results {
				m.RegisterChecker(&mockChecker{name: string(rune('a' + i)), result: r})
			}

			resp := m.Health(context.Background(), true)
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.results))
		})
	}
}

func TestHealthNonVerboseSkipsCheckers(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(&mockChecker{name: "broken", result: CheckResult{Status: StatusUnhealthy}})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status, "liveness ignores checker state unless verbose")
	assert.Nil(t, resp.Checks)
}

func TestReadyAggregation(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(&mockChecker{name: "ok", result: CheckResult{Status: StatusHealthy}})
	m.RegisterChecker(&mockChecker{name: "bad", result: CheckResult{Status: StatusUnhealthy, Error: "down"}})

	resp := m.Ready(context.Background(), false)
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "down", resp.Checks["bad"].Error)
}

func TestReadyDegradedStillReady(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(&mockChecker{name: "slow", result: CheckResult{Status: StatusDegraded}})

	resp := m.Ready(context.Background(), false)
	assert.True(t, resp.Ready, "degraded dependencies do not fail readiness")
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestServeHealthAlways200(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(&mockChecker{name: "bad", result: CheckResult{Status: StatusUnhealthy}})

	req := httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil)
	rr := httptest.NewRecorder()
	m.ServeHealth(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestServeReady503WhenNotReady(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(&mockChecker{name: "bad", result: CheckResult{Status: StatusUnhealthy}})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	m.ServeReady(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
}

func TestServeReady200WhenReady(t *testing.T) {
	m := NewManager("test")

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	m.ServeReady(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestFileChecker(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		c := NewFileChecker("export", filepath.Join(dir, "missing.json"))
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "file not found", result.Error)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.json")
		require.NoError(t, os.WriteFile(path, nil, 0o644))

		c := NewFileChecker("export", path)
		result := c.Check(context.Background())
		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "ok.json")
		require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))

		c := NewFileChecker("export", path)
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})

	t.Run("directory instead of file", func(t *testing.T) {
		c := NewFileChecker("export", dir)
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
	})

	t.Run("unconfigured path is optional", func(t *testing.T) {
		c := NewFileChecker("export", "")
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})
}

func TestBackendChecker(t *testing.T) {
	monitor := NewMonitor(time.Minute, metrics.Nop())
	c := NewBackendChecker("ollama", monitor)
	assert.Equal(t, "backend:ollama", c.Name())

	t.Run("no traffic is healthy", func(t *testing.T) {
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "no requests yet", result.Message)
	})

	t.Run("unhealthy backend surfaces last error", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			monitor.RecordFailure("ollama", "connection refused")
		}
		result := c.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, result.Status)
		assert.Equal(t, "connection refused", result.Error)
	})

	t.Run("recovered backend is healthy", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			monitor.RecordSuccess("ollama", 50*time.Millisecond)
		}
		result := c.Check(context.Background())
		assert.Equal(t, StatusHealthy, result.Status)
	})
}

func TestLastFetchChecker(t *testing.T) {
	var (
		last    time.Time
		lastErr string
	)
	c := NewLastFetchChecker(func() (time.Time, string) { return last, lastErr })
	assert.Equal(t, "last_fetch", c.Name())

	result := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
	assert.Equal(t, "no fetch performed yet", result.Message)

	last = time.Now()
	lastErr = "deadline exceeded"
	result = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, result.Status)
	assert.Equal(t, "deadline exceeded", result.Error)

	lastErr = ""
	result = c.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}
