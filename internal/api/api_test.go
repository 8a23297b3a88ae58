package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/handler"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/repository"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/scenario"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- fakes ---

type fakeScenarioRepo struct {
	scenarios map[string]*repository.Scenario
}

func (f *fakeScenarioRepo) GetByID(_ context.Context, id string) (*repository.Scenario, error) {
	s, ok := f.scenarios[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

type fakeAgentRepo struct {
	agents map[string]*repository.Agent
}

func (f *fakeAgentRepo) GetByID(_ context.Context, id string) (*repository.Agent, error) {
	a, ok := f.agents[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func straightLineScenario(id string) *repository.Scenario {
	return &repository.Scenario{
		ScenarioID: id,
		Name:       id,
		Steps: []repository.Step{
			{ID: "start", Type: "start", NextStep: "end"},
			{ID: "end", Type: "end"},
		},
	}
}

func newTestExecutor(scenarios map[string]*repository.Scenario, agents map[string]*repository.Agent) *scenario.Executor {
	return scenario.New(scenario.Dependencies{
		Registry:     handler.NewRegistry(nil),
		ScenarioRepo: &fakeScenarioRepo{scenarios: scenarios},
		AgentRepo:    &fakeAgentRepo{agents: agents},
	})
}

type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]scheduler.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]scheduler.Task{}}
}

func (f *fakeTaskStore) LoadAll(context.Context) ([]scheduler.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduler.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTaskStore) Insert(_ context.Context, t scheduler.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTaskStore) Update(_ context.Context, t scheduler.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[t.ID]; !ok {
		return scheduler.ErrTaskNotFound
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeTaskStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeTaskStore) RecordError(context.Context, string, string) {}

type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(context.Context, scheduler.Task) error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeTaskStore) {
	t.Helper()
	scenarios := map[string]*repository.Scenario{"greet": straightLineScenario("greet")}
	agents := map[string]*repository.Agent{"agent-1": {ID: "agent-1", ScenarioID: "greet"}}
	store := newFakeTaskStore()
	sched := scheduler.New(scheduler.Options{Store: store, Dispatcher: fakeDispatcher{}})
	srv := New(Options{
		Executor:  newTestExecutor(scenarios, agents),
		Scheduler: sched,
		Agents:    &fakeAgentRepo{agents: agents},
	})
	return srv, store
}

func doJSON(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// --- execute/resume ---

func TestHandleExecuteResolvesScenarioFromAgent(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/agent-actions/agent-1/execute", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var env resultEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, "success", env.Status)
}

func TestHandleExecuteUnknownAgentReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/agent-actions/missing/execute", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleExecuteHonorsExplicitScenarioID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/agent-actions/missing/execute", executeRequest{ScenarioID: "greet"})

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleResumeUnknownInstanceReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/scenarios/greet/resume", resumeRequest{InstanceID: "nope"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResumeRequiresInstanceID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/scenarios/greet/resume", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- scheduler CRUD ---

func TestSchedulerTaskLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	create := doJSON(srv, http.MethodPost, "/scheduler/tasks", taskEnvelope{
		UserID:      "user-1",
		TriggerType: "interval",
		TriggerConfig: map[string]any{
			"interval_minutes": float64(5),
		},
		ActionType:   "api_call",
		ActionConfig: map[string]any{"url": "https://example.test"},
	})
	require.Equal(t, http.StatusCreated, create.Code)
	var created taskEnvelope
	require.NoError(t, json.Unmarshal(create.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.NotNil(t, created.Enabled)
	assert.True(t, *created.Enabled)

	get := doJSON(srv, http.MethodGet, "/scheduler/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, get.Code)

	list := doJSON(srv, http.MethodGet, "/scheduler/tasks?user_id=user-1", nil)
	require.Equal(t, http.StatusOK, list.Code)
	var listBody struct {
		Tasks []taskEnvelope `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listBody))
	assert.Len(t, listBody.Tasks, 1)

	update := doJSON(srv, http.MethodPatch, "/scheduler/tasks/"+created.ID, taskEnvelope{
		ActionConfig: map[string]any{"url": "https://example.test/v2"},
	})
	require.Equal(t, http.StatusOK, update.Code)
	var updated taskEnvelope
	require.NoError(t, json.Unmarshal(update.Body.Bytes(), &updated))
	require.NotNil(t, updated.Enabled)
	assert.True(t, *updated.Enabled, "a PATCH omitting enabled must preserve the existing value")
	assert.Equal(t, "https://example.test/v2", updated.ActionConfig["url"])

	del := doJSON(srv, http.MethodDelete, "/scheduler/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, del.Code)

	getAfterDelete := doJSON(srv, http.MethodGet, "/scheduler/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, getAfterDelete.Code)
}

func TestSchedulerCreateTaskRejectsInvalidTask(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(srv, http.MethodPost, "/scheduler/tasks", taskEnvelope{UserID: "user-1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- scheduler lifecycle ---

func TestSchedulerStartStopStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	status := doJSON(srv, http.MethodGet, "/scheduler/status", nil)
	require.Equal(t, http.StatusOK, status.Code)
	assertStatus(t, status, "stopped")

	start := doJSON(srv, http.MethodPost, "/scheduler/start", nil)
	require.Equal(t, http.StatusOK, start.Code)
	assertStatus(t, start, "running")

	stop := doJSON(srv, http.MethodPost, "/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, stop.Code)
	assertStatus(t, stop, "stopped")
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, want, body.Status)
}

// --- health ---

type alwaysHealthy struct{ name string }

func (a alwaysHealthy) Name() string               { return a.name }
func (a alwaysHealthy) Ping(context.Context) error { return nil }

type alwaysUnhealthy struct{ name string }

func (a alwaysUnhealthy) Name() string               { return a.name }
func (a alwaysUnhealthy) Ping(context.Context) error { return assert.AnError }

func TestHandleHealthzAllUp(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.pingers = []Pinger{alwaysHealthy{name: "mongo"}}

	rec := doJSON(srv, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealthzDegraded(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.pingers = []Pinger{alwaysUnhealthy{name: "mongo"}}

	rec := doJSON(srv, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
