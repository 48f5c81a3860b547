package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jroyal/phasetrack/internal/config"
	"github.com/jroyal/phasetrack/internal/phase"
	"github.com/jroyal/phasetrack/internal/storage/memory"
	"github.com/jroyal/phasetrack/internal/store"
	"github.com/jroyal/phasetrack/internal/tracker"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Runner: config.RunnerConfig{TickMs: 50, Concurrency: 4},
		DB:     config.DBConfig{Provider: "memory"},
		Assets: config.AssetsConfig{Provider: "memory"},
	}
}

func newTestServer(t *testing.T) (*Server, *phase.Manager, *memory.RunStore) {
	t.Helper()
	manager, err := phase.NewManager(zap.NewNop(),
		phase.Config{Phase: "load", NextPhase: "game"},
		phase.Config{Phase: "game"},
	)
	require.NoError(t, err)
	repo := memory.NewRunStore()
	return NewServer(manager, repo, prometheus.NewRegistry(), testConfig(), zap.NewNop()), manager, repo
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// TestHealthEndpoints covers /healthz and /readyz.
func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/readyz").Code)
}

// TestGetProgressNoActivePhase returns 404 while nothing is tracked.
func TestGetProgressNoActivePhase(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/v1/progress")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// TestGetProgressActivePhase returns the visible aggregate only.
func TestGetProgressActivePhase(t *testing.T) {
	t.Parallel()

	s, manager, _ := newTestServer(t)
	require.NoError(t, manager.Enter("load"))
	require.NoError(t, manager.Record(tracker.Progress{Done: 1, Total: 4}))
	require.NoError(t, manager.RecordHidden(tracker.HiddenProgress{Progress: tracker.Progress{Done: 1, Total: 1}}))

	rec := doRequest(t, s, http.MethodGet, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto progressDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, "load", dto.Phase)
	require.Equal(t, uint32(1), dto.Done)
	require.Equal(t, uint32(4), dto.Total)
	require.NotNil(t, dto.Fraction)
	require.InDelta(t, 0.25, *dto.Fraction, 1e-9)
	require.False(t, dto.Ready)
}

// TestGetCompleteProgressIncludesHidden folds the hidden bucket in.
func TestGetCompleteProgressIncludesHidden(t *testing.T) {
	t.Parallel()

	s, manager, _ := newTestServer(t)
	require.NoError(t, manager.Enter("load"))
	require.NoError(t, manager.Record(tracker.Progress{Done: 2, Total: 2}))
	require.NoError(t, manager.RecordHidden(tracker.HiddenProgress{Progress: tracker.Progress{Done: 0, Total: 1}}))

	rec := doRequest(t, s, http.MethodGet, "/v1/progress/complete")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto progressDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, uint32(2), dto.Done)
	require.Equal(t, uint32(3), dto.Total)
	require.False(t, dto.Ready)
}

// TestRunEndpoints lists, fetches and pages run history.
func TestRunEndpoints(t *testing.T) {
	t.Parallel()

	s, _, repo := newTestServer(t)
	ctx := context.Background()
	id := uuid.New()
	started := time.Now().UTC()
	require.NoError(t, repo.StartRun(ctx, store.Run{
		ID:        id,
		Phase:     "load",
		StartedAt: started,
		Status:    store.RunRunning,
	}))
	require.NoError(t, repo.RecordCycle(ctx, store.CycleSnapshot{
		RunID: id, Cycle: 0, At: started, VisibleDone: 1, VisibleTotal: 2,
	}))

	rec := doRequest(t, s, http.MethodGet, "/v1/runs?status=running")
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Runs []runDTO `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Runs, 1)
	require.Equal(t, id.String(), listResp.Runs[0].ID)

	rec = doRequest(t, s, http.MethodGet, "/v1/runs/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/runs/"+id.String()+"/cycles")
	require.Equal(t, http.StatusOK, rec.Code)
	var cycleResp struct {
		Cycles []cycleDTO `json:"cycles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycleResp))
	require.Len(t, cycleResp.Cycles, 1)
	require.Equal(t, int64(2), cycleResp.Cycles[0].VisibleTotal)
}

// TestRunEndpointsValidation covers bad IDs, unknown runs and bad
// filters.
func TestRunEndpointsValidation(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	require.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodGet, "/v1/runs/not-a-uuid").Code)
	require.Equal(t, http.StatusNotFound, doRequest(t, s, http.MethodGet, "/v1/runs/"+uuid.NewString()).Code)
	require.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodGet, "/v1/runs?status=bogus").Code)
	require.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodGet, "/v1/runs?limit=-1").Code)
}

// TestAPIKeyMiddleware gates requests when auth is enabled.
func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	manager, err := phase.NewManager(zap.NewNop(), phase.Config{Phase: "load"})
	require.NoError(t, err)
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	s := NewServer(manager, memory.NewRunStore(), prometheus.NewRegistry(), cfg, zap.NewNop())

	require.Equal(t, http.StatusForbidden, doRequest(t, s, http.MethodGet, "/healthz").Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

// TestMetricsEndpoint serves the Prometheus registry.
func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}
