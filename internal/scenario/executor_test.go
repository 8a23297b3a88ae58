package scenario

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/handler"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/repository"
)

type fakeScenarioRepo struct {
	docs map[string]*repository.Scenario
}

func (f *fakeScenarioRepo) GetByID(_ context.Context, id string) (*repository.Scenario, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func newExecutor(t *testing.T, repo *fakeScenarioRepo) *Executor {
	t.Helper()
	reg := handler.NewRegistry(nil)
	return New(Dependencies{Registry: reg, ScenarioRepo: repo})
}

// A linear start -> log_message -> end scenario completes successfully.
func TestExecute_Linear(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "linear",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{ID: "l", Type: "log_message", Params: ctxval.Map{"message": "hello {user}"}},
			{ID: "e", Type: "end"},
		},
	}
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"linear": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{"user": "kitty"}, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "success", res.Status)
}

func branchScenario(condition string) *repository.Scenario {
	return &repository.Scenario{
		ScenarioID: "branchy",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{
				ID:   "b",
				Type: "branch",
				Branches: []repository.Branch{
					{Condition: condition, NextStep: "pos"},
					{Condition: "default", NextStep: "neg"},
				},
			},
			{ID: "pos", Type: "log_message", Params: ctxval.Map{"message": "positive"}, NextStep: "e"},
			{ID: "neg", Type: "log_message", Params: ctxval.Map{"message": "negative"}, NextStep: "e"},
			{ID: "e", Type: "end"},
		},
	}
}

// A truthy branch condition selects its target step over the default.
func TestExecute_BranchTrue(t *testing.T) {
	doc := branchScenario("x > 0")
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"branchy": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{"x": float64(5)}, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

// A falsy branch condition falls through to the default ("neg") branch.
func TestExecute_BranchFalse(t *testing.T) {
	doc := branchScenario("x > 0")
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"branchy": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{"x": float64(-1)}, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

// An input step pauses execution and resumes with the received callback.
func TestExecute_PauseResume(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "pauses",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{
				ID:   "wait",
				Type: "input",
				Params: ctxval.Map{
					"sub_tag":    "callback_query",
					"output_var": "choice",
				},
			},
			{ID: "e", Type: "end"},
		},
	}
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"pauses": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{
		"chat_id": "c1",
		"user_id": "u1",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "paused", res.Status)
	require.NotEmpty(t, res.InstanceID)

	resumed, err := e.Resume(context.Background(), res.InstanceID, "button_a")
	require.NoError(t, err)
	assert.True(t, resumed.Success)
	assert.Equal(t, "button_a", resumed.Context["choice"])
}

// A second resume on the same instance id is idempotently ignored: it
// logs a warning and returns a duplicate-resume error rather than
// re-running any steps.
func TestExecute_DuplicateResumeIgnored(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "pauses2",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{ID: "wait", Type: "input", Params: ctxval.Map{"output_var": "choice"}},
			{ID: "e", Type: "end"},
		},
	}
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"pauses2": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{"chat_id": "c1", "user_id": "u1"}, "")
	require.NoError(t, err)
	require.Equal(t, "paused", res.Status)

	_, err = e.Resume(context.Background(), res.InstanceID, "a")
	require.NoError(t, err)

	_, err = e.Resume(context.Background(), res.InstanceID, "b")
	assert.ErrorIs(t, err, ErrDuplicateResume)
}

func TestExecute_ResumeUnknownInstance(t *testing.T) {
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{}})
	_, err := e.Resume(context.Background(), "does-not-exist", "x")
	assert.ErrorIs(t, err, ErrNotPaused)
}

// A sub-scenario invocation applies its input and output mappings.
func TestExecute_SubScenarioMapping(t *testing.T) {
	sub := &repository.Scenario{
		ScenarioID: "sub",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{
				ID:   "set",
				Type: "action",
				Params: ctxval.Map{
					"action_type": "update_context",
					"updates":     map[string]any{"sub_answer": "42"},
				},
			},
			{ID: "e", Type: "end"},
		},
	}
	parent := &repository.Scenario{
		ScenarioID: "parent",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{
				ID:   "call",
				Type: "execute_sub_scenario",
				Params: ctxval.Map{
					"sub_scenario_id": "sub",
					"input_mapping":   map[string]any{"q": "{parent_query}"},
					"output_mapping":  map[string]any{"answer": "{sub_answer}"},
				},
			},
			{ID: "e", Type: "end"},
		},
	}
	repo := &fakeScenarioRepo{docs: map[string]*repository.Scenario{"sub": sub, "parent": parent}}
	e := newExecutor(t, repo)

	res, err := e.Execute(context.Background(), parent, ctxval.Map{"parent_query": "life"}, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "42", res.Context["answer"])
}

type fakeScheduling struct {
	added []plugin.TaskConfig
}

func (f *fakeScheduling) AddTask(_ context.Context, cfg plugin.TaskConfig) (string, error) {
	f.added = append(f.added, cfg)
	return "task-1", nil
}

// schedule_scenario_run records the dispatch target in
// action_config.agent_id so the scheduler's run_agent action can POST
// back into the executor, and binds the created task id into context.
func TestExecute_ScheduleScenarioRunSetsAgentID(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "self-scheduling",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{
				ID:   "later",
				Type: "schedule_scenario_run",
				Params: ctxval.Map{
					"scenario_id_to_run": "followup",
					"run_in_seconds":     float64(30),
					"context_to_pass":    map[string]any{"reason": "reminder"},
				},
			},
			{ID: "e", Type: "end"},
		},
	}
	repo := &fakeScenarioRepo{docs: map[string]*repository.Scenario{"self-scheduling": doc}}
	sched := &fakeScheduling{}
	reg := handler.NewRegistry(nil)
	e := New(Dependencies{Registry: reg, ScenarioRepo: repo, Scheduling: sched})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{
		"initiator_user_id": "u1",
		"chat_id":           "c1",
	}, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "task-1", res.Context["task_id"])

	require.Len(t, sched.added, 1)
	cfg := sched.added[0]
	assert.Equal(t, "u1", cfg.UserID)
	assert.Equal(t, "once", cfg.TriggerType)
	assert.Equal(t, "run_agent", cfg.ActionType)
	assert.Equal(t, "followup", cfg.ActionConfig["agent_id"])
	assert.Equal(t, "c1", cfg.ActionConfig["chat_id"])
	payload := cfg.ActionConfig["initial_payload"].(map[string]any)
	assert.Equal(t, "reminder", payload["context"].(map[string]any)["reason"])
}

// With no explicit scenario_id_to_run, the task re-invokes the agent that
// scheduled it.
func TestExecute_ScheduleScenarioRunDefaultsToCurrentAgent(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "self-scheduling-2",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{
				ID:     "later",
				Type:   "schedule_scenario_run",
				Params: ctxval.Map{"run_in_seconds": float64(10)},
			},
			{ID: "e", Type: "end"},
		},
	}
	repo := &fakeScenarioRepo{docs: map[string]*repository.Scenario{"self-scheduling-2": doc}}
	sched := &fakeScheduling{}
	e := New(Dependencies{Registry: handler.NewRegistry(nil), ScenarioRepo: repo, Scheduling: sched})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{"initiator_user_id": "u1"}, "agent-7")
	require.NoError(t, err)
	require.True(t, res.Success)

	require.Len(t, sched.added, 1)
	assert.Equal(t, "agent-7", sched.added[0].ActionConfig["agent_id"])
}

// update_context with an empty updates mapping leaves the context
// bit-identical.
func TestExecute_UpdateContextEmptyIsNoop(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "noop-update",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{ID: "u", Type: "action", Params: ctxval.Map{"action_type": "update_context", "updates": map[string]any{}}},
			{ID: "e", Type: "end"},
		},
	}
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"noop-update": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{"user": "kitty"}, "")
	require.NoError(t, err)
	assert.Equal(t, "kitty", res.Context["user"])
}

// A step type with no registered handler fails the scenario with a
// descriptive error instead of panicking or hanging.
func TestExecute_MissingHandlerFails(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "missing",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{ID: "m", Type: "telegram_send_message", Params: ctxval.Map{}},
			{ID: "e", Type: "end"},
		},
	}
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"missing": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{}, "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "failed", res.Status)
	assert.Contains(t, res.Error, "no handler registered")
}

// execute_code binds its result under output_var.
func TestExecute_ExecuteCodeBindsOutputVar(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "code",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{ID: "c", Type: "execute_code", Params: ctxval.Map{"code": "a + b", "output_var": "sum"}},
			{ID: "e", Type: "end"},
		},
	}
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"code": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{"a": float64(2), "b": float64(3)}, "")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, float64(5), res.Context["sum"])
}

// Reserved __-prefixed keys never leak into the result envelope's context.
func TestExecute_ReservedKeysStripped(t *testing.T) {
	doc := &repository.Scenario{
		ScenarioID: "stripme",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{ID: "e", Type: "end"},
		},
	}
	e := newExecutor(t, &fakeScenarioRepo{docs: map[string]*repository.Scenario{"stripme": doc}})

	res, err := e.Execute(context.Background(), doc, ctxval.Map{}, "")
	require.NoError(t, err)
	_, hasScenarioID := res.Context["__current_scenario_id__"]
	assert.False(t, hasScenarioID)
	_, hasInstanceID := res.Context["__scenario_instance_id__"]
	assert.False(t, hasInstanceID, "every __-prefixed key is stripped from the result envelope's context")
}

// A handler panic never crosses the execution loop.
func TestExecute_HandlerPanicIsContained(t *testing.T) {
	reg := handler.NewRegistry(nil)
	repo := &fakeScenarioRepo{docs: map[string]*repository.Scenario{}}
	e := New(Dependencies{Registry: reg, ScenarioRepo: repo})
	reg.RegisterFunc("boom", func(handler.ResolvedStep, handler.Target) handler.Outcome {
		panic("kaboom")
	})

	doc := &repository.Scenario{
		ScenarioID: "panics",
		Steps: []repository.Step{
			{ID: "s", Type: "start"},
			{ID: "b", Type: "boom"},
			{ID: "e", Type: "end"},
		},
	}
	res, err := e.Execute(context.Background(), doc, ctxval.Map{}, "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kaboom")
}
