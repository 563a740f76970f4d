package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novaadapt/novaadapt-core/pkg/actionlog"
	"github.com/novaadapt/novaadapt-core/pkg/agent"
	"github.com/novaadapt/novaadapt-core/pkg/audit"
	"github.com/novaadapt/novaadapt-core/pkg/config"
	"github.com/novaadapt/novaadapt-core/pkg/idempotency"
	"github.com/novaadapt/novaadapt-core/pkg/jobmanager"
	"github.com/novaadapt/novaadapt-core/pkg/metrics"
	"github.com/novaadapt/novaadapt-core/pkg/models"
	"github.com/novaadapt/novaadapt-core/pkg/orchestrator"
	"github.com/novaadapt/novaadapt-core/pkg/planstore"
	"github.com/novaadapt/novaadapt-core/pkg/policy"
	"github.com/novaadapt/novaadapt-core/pkg/router"
	"github.com/novaadapt/novaadapt-core/pkg/transport"
)

type fakeCaller struct {
	reply string
}

func (f *fakeCaller) Call(_ context.Context, _ models.Endpoint, _ []models.ChatMessage, _ float64, _ int) (string, error) {
	return f.reply, nil
}

const onePlanJSON = `{"actions":[{"type":"click","target":"OK"}]}`

// newTestServer wires a full Server over real, temp-dir-backed SQLite
// stores, the same way orchestrator's own tests build an Orchestrator.
func newTestServer(t *testing.T, authToken string) (*Server, *jobmanager.Manager) {
	t.Helper()
	ctx := context.Background()

	rt, err := router.New(
		[]models.Endpoint{{Name: "primary", BaseURL: "http://localhost", Model: "m", APIKeyEnv: "X"}},
		router.Config{DefaultModel: "primary"},
		&fakeCaller{reply: onePlanJSON},
	)
	require.NoError(t, err)

	plans, err := planstore.Open(filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { plans.Close() })

	logs, err := actionlog.Open(filepath.Join(t.TempDir(), "actions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { logs.Close() })

	auditStore, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"), audit.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { auditStore.Close() })

	jobStore, err := jobmanager.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { jobStore.Close() })
	jobs, err := jobmanager.NewManager(ctx, jobStore, 2, 16)
	require.NoError(t, err)
	jobs.Start(ctx)
	t.Cleanup(jobs.Stop)

	idem, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idem.Close() })

	tr := transport.NullTransport{}
	ag := agent.New(rt, policy.NewGate(), tr, logs)
	orch := orchestrator.New(rt, ag, policy.NewGate(), tr, plans, logs, jobs, auditStore, orchestrator.DefaultConfig())

	cfg := &config.Config{}
	cfg.Auth.Token = authToken
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 1000
	cfg.Server.MaxBodyBytes = 1024 * 1024

	s := NewServer(cfg, orch, jobs, idem, metrics.New(), nil)
	return s, jobs
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Echo().ServeHTTP(w, r)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareRejectsMissingOrWrongToken(t *testing.T) {
	s, _ := newTestServer(t, "secret")

	w := doJSON(t, s, http.MethodGet, "/models", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.RequestID)
	require.NotEmpty(t, body.Error)

	w = doJSON(t, s, http.MethodGet, "/models", "wrong", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareAcceptsCorrectToken(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	w := doJSON(t, s, http.MethodGet, "/models", "secret", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsEverythingWhenNoTokenConfigured(t *testing.T) {
	s, _ := newTestServer(t, "")
	w := doJSON(t, s, http.MethodGet, "/models", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

const testToken = "secret"

func TestErrorResponseShape(t *testing.T) {
	s, _ := newTestServer(t, testToken)
	w := doJSON(t, s, http.MethodGet, "/plans/does-not-exist", testToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "plan not found", body.Error)
	require.NotEmpty(t, body.RequestID)
}

func TestCreateAndGetPlan(t *testing.T) {
	s, _ := newTestServer(t, testToken)
	w := doJSON(t, s, http.MethodPost, "/plans", testToken, createPlanRequest{Objective: "clean desktop"})
	require.Equal(t, http.StatusCreated, w.Code)

	var plan models.Plan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	require.Equal(t, models.PlanPending, plan.Status)

	w = doJSON(t, s, http.MethodGet, "/plans/"+plan.ID, testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestIdempotencyKeyReplaysSameResponse(t *testing.T) {
	s, _ := newTestServer(t, testToken)
	req := createPlanRequest{Objective: "clean desktop"}

	mkReq := func() *http.Request {
		b, _ := json.Marshal(req)
		r := httptest.NewRequest(http.MethodPost, "/plans", bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+testToken)
		r.Header.Set("Idempotency-Key", "fixed-key-1")
		return r
	}

	w1 := httptest.NewRecorder()
	s.Echo().ServeHTTP(w1, mkReq())
	require.Equal(t, http.StatusCreated, w1.Code)

	w2 := httptest.NewRecorder()
	s.Echo().ServeHTTP(w2, mkReq())
	require.Equal(t, http.StatusCreated, w2.Code)
	require.Equal(t, "true", w2.Header().Get("X-Idempotency-Replayed"))
	require.JSONEq(t, w1.Body.String(), w2.Body.String())
}

func TestIdempotencyKeyConflictsOnDifferentBody(t *testing.T) {
	s, _ := newTestServer(t, testToken)

	mkReq := func(objective string) *http.Request {
		b, _ := json.Marshal(createPlanRequest{Objective: objective})
		r := httptest.NewRequest(http.MethodPost, "/plans", bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+testToken)
		r.Header.Set("Idempotency-Key", "fixed-key-2")
		return r
	}

	w1 := httptest.NewRecorder()
	s.Echo().ServeHTTP(w1, mkReq("clean desktop"))
	require.Equal(t, http.StatusCreated, w1.Code)

	w2 := httptest.NewRecorder()
	s.Echo().ServeHTTP(w2, mkReq("a different objective"))
	require.Equal(t, http.StatusConflict, w2.Code)
}

func TestRateLimitReturns429AfterBurstExhausted(t *testing.T) {
	s, _ := newTestServer(t, testToken)
	s.limiter = newClientLimiter(0.0001, 1)

	w1 := doJSON(t, s, http.MethodGet, "/models", testToken, nil)
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := doJSON(t, s, http.MethodGet, "/models", testToken, nil)
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestRunAsyncQueuesJob(t *testing.T) {
	s, _ := newTestServer(t, testToken)
	w := doJSON(t, s, http.MethodPost, "/run_async", testToken, runRequest{Objective: "clean desktop", DryRun: true})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp queuedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.Equal(t, "queued", resp.Status)
}

func TestCancelUnknownJobReturns404(t *testing.T) {
	s, _ := newTestServer(t, testToken)
	w := doJSON(t, s, http.MethodPost, "/jobs/does-not-exist/cancel", testToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEventsEmptyInitially(t *testing.T) {
	s, _ := newTestServer(t, testToken)
	w := doJSON(t, s, http.MethodGet, "/events", testToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Count)
}
