package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ops-gateway/internal/alerts"
	"ops-gateway/internal/auth"
	"ops-gateway/internal/broadcast"
	"ops-gateway/internal/config"
	"ops-gateway/internal/dispatch"
	"ops-gateway/internal/executors"
	"ops-gateway/internal/health"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/models"
	"ops-gateway/internal/proxy"
	"ops-gateway/internal/ratelimit"
	"ops-gateway/internal/store"
)

type okHandler struct{}

func (okHandler) Validate(map[string]any) error { return nil }

func (okHandler) Execute(context.Context, map[string]any) (*models.TaskResult, error) {
	return &models.TaskResult{Data: map[string]any{"ok": true}}, nil
}

type harness struct {
	router   *gin.Engine
	store    *store.Store
	alertLog *alerts.Log
	verifier *auth.Verifier
}

func newHarness(t *testing.T, authRequired bool) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.NewNop()

	registry := executors.NewRegistry()
	registry.Register(models.TaskHealthCheck, okHandler{})
	registry.Register(models.TaskDeploy, okHandler{})

	st := store.New(registry, logger, store.WithDefaults(time.Minute, 3))
	d := dispatch.New(st, registry, logger, 10, 1)
	var wg sync.WaitGroup
	d.Start(&wg)
	t.Cleanup(func() {
		d.Stop()
		wg.Wait()
	})

	hub := broadcast.NewHub(logger)
	poller := health.New(nil, "/health", time.Minute, time.Second, hub, logger)
	proxyRouter, err := proxy.New(nil, logger)
	require.NoError(t, err)
	alertLog := alerts.NewLog(10)

	handler := NewHandler(st, registry, d, poller, proxyRouter, hub, alertLog, logger)

	var cfg config.Config
	cfg.API.BasePath = "/api/v1"
	cfg.Auth.Required = authRequired

	verifier := auth.NewVerifier("test-secret")
	limiter := ratelimit.New(nil, 100, time.Minute, logger)

	return &harness{
		router:   NewRouter(handler, verifier, limiter, logger, cfg),
		store:    st,
		alertLog: alertLog,
		verifier: verifier,
	}
}

func (h *harness) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateTask(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodPost, "/api/v1/tasks",
		`{"type": "health_check", "priority": "high", "data": {"service": "users"}}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["task_id"])
	assert.Equal(t, "pending", body["status"])
	assert.NotEmpty(t, body["created_at"])
	assert.NotEmpty(t, body["estimated_completion"])
}

func TestCreateTaskUnknownType(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodPost, "/api/v1/tasks", `{"type": "reboot_universe"}`, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Invalid task", body["error"])
	assert.Equal(t, float64(http.StatusBadRequest), body["status_code"])
	assert.Contains(t, body["detail"], "reboot_universe")
}

func TestCreateTaskDefaultsPriority(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodPost, "/api/v1/tasks", `{"type": "health_check"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)

	task, err := h.store.Get(body["task_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, task.Priority)
}

func TestGetTaskNotFound(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/api/v1/tasks/does-not-exist", "", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Task not found", body["error"])
	assert.Equal(t, float64(http.StatusNotFound), body["status_code"])
}

func TestGetTaskRoundTrip(t *testing.T) {
	h := newHarness(t, false)
	task, err := h.store.Enqueue(store.EnqueueRequest{Type: models.TaskDeploy, Priority: models.PriorityLow})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, task.ID, body["id"])
	assert.Equal(t, "deploy", body["type"])
}

func TestListTasksFiltersByStatus(t *testing.T) {
	h := newHarness(t, false)
	a, err := h.store.Enqueue(store.EnqueueRequest{Type: models.TaskDeploy, Priority: models.PriorityLow})
	require.NoError(t, err)
	_, err = h.store.Enqueue(store.EnqueueRequest{Type: models.TaskDeploy, Priority: models.PriorityLow})
	require.NoError(t, err)
	require.NoError(t, h.store.Cancel(a.ID))

	rec := h.do(t, http.MethodGet, "/api/v1/tasks?status=pending", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestCancelTask(t *testing.T) {
	h := newHarness(t, false)
	task, err := h.store.Enqueue(store.EnqueueRequest{Type: models.TaskDeploy, Priority: models.PriorityLow})
	require.NoError(t, err)

	rec := h.do(t, http.MethodDelete, "/api/v1/tasks/"+task.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/tasks/"+task.ID, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/tasks/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayStatus(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/api/v1/status", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "online", body["gateway"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestMetrics(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.store.Enqueue(store.EnqueueRequest{Type: models.TaskDeploy, Priority: models.PriorityLow})
	require.NoError(t, err)

	rec := h.do(t, http.MethodGet, "/api/v1/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	tasks := body["tasks"].(map[string]any)
	assert.Equal(t, float64(1), tasks["total"])
}

func TestCapabilities(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/api/v1/capabilities", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	types := body["task_types"].([]any)
	require.Len(t, types, 2)
	names := make([]string, 0, len(types))
	for _, raw := range types {
		entry := raw.(map[string]any)
		names = append(names, entry["type"].(string))
		assert.NotEmpty(t, entry["service"])
	}
	// Sorted by type name, only what the registry actually has.
	assert.Equal(t, []string{"deploy", "health_check"}, names)

	priorities := body["priorities"].([]any)
	assert.Equal(t, []any{"critical", "high", "medium", "low"}, priorities)
}

func TestAlertsEndpoint(t *testing.T) {
	h := newHarness(t, false)
	h.alertLog.Add(models.Alert{ID: "a1", Type: "high_cpu", Severity: models.SeverityWarning})

	rec := h.do(t, http.MethodGet, "/api/v1/alerts", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestHealthEndpointIsOpen(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(t, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotNil(t, body["uptime"])
}

func TestAuthRequired(t *testing.T) {
	h := newHarness(t, true)

	rec := h.do(t, http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/status", "", map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	token, err := h.verifier.Generate("user-1", time.Hour)
	require.NoError(t, err)
	rec = h.do(t, http.MethodGet, "/api/v1/status", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthOptionalAllowsAnonymous(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// An invalid token is still rejected even when auth is optional.
	rec = h.do(t, http.MethodGet, "/api/v1/status", "", map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProxyUnknownService(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/services/ghost/anything", "", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Service not found", body["error"])
}
