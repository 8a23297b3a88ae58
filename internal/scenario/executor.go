package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/eventstream"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/exprlang"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/handler"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/repository"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/statemachine"
	"github.com/goa-ai-labs/scenario-orchestrator/runtime/agent/telemetry"
)

// EventPublisher is the subset of eventstream.Publisher the Executor needs
// to emit scenario lifecycle notifications. A nil EventPublisher disables
// publishing entirely; nothing in the execution loop depends on it
// succeeding, since lifecycle events are observability, not control flow.
type EventPublisher interface {
	Publish(ctx context.Context, ev eventstream.Event) (string, error)
}

// Dependencies configures an Executor. Plugin singletons are threaded in
// explicitly here rather than resolved through package-level globals.
type Dependencies struct {
	Registry     *handler.Registry
	ScenarioRepo repository.ScenarioRepository
	AgentRepo    repository.AgentRepository
	Scheduling   plugin.Scheduling // used only by the built-in schedule_scenario_run handler
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Events       EventPublisher

	// PauseTTL/SweepInterval control the optional sweep of expired paused
	// scenarios. Both zero (the default) disables sweeping: paused
	// scenarios live forever.
	PauseTTL      time.Duration
	SweepInterval time.Duration
}

// Executor drives scenario execution. It owns the process-wide
// Waiting/Paused tables and drives statemachine.Machine instances against
// the Step-Handler Registry.
type Executor struct {
	deps  Dependencies
	table *pauseTable
	stop  chan struct{}
}

// New constructs an Executor and registers the engine's built-in handlers
// (start, end, action, branch, input, log_message, execute_code,
// execute_sub_scenario, schedule_scenario_run) on deps.Registry. Plugin
// capability handlers (telegram_*, llm_query, rag_search, mongo_*) are
// registered separately by the composition root against the same
// Registry at startup, the same way the engine registers its own.
func New(deps Dependencies) *Executor {
	if deps.Logger == nil {
		deps.Logger = telemetry.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewNoopMetrics()
	}
	e := &Executor{deps: deps, table: newPauseTable()}
	e.registerBuiltins()
	if deps.SweepInterval > 0 && deps.PauseTTL > 0 {
		e.stop = make(chan struct{})
		go e.sweepLoop()
	}
	return e
}

// Close stops the background sweep goroutine, if one was started.
func (e *Executor) Close() {
	if e.stop != nil {
		close(e.stop)
	}
}

func (e *Executor) sweepLoop() {
	ticker := time.NewTicker(e.deps.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if n := e.table.sweepExpired(e.deps.PauseTTL); n > 0 {
				e.deps.Logger.Info(context.Background(), "swept expired paused scenarios", "count", n)
			}
		}
	}
}

func (e *Executor) registerBuiltins() {
	r := e.deps.Registry
	r.RegisterFunc("start", handleNoop)
	r.RegisterFunc("end", handleNoop)
	r.RegisterFunc("branch", handleNoop)
	r.RegisterFunc("log_message", e.handleLogMessage)
	r.RegisterFunc("action", e.handleAction)
	r.RegisterFunc("execute_code", e.handleExecuteCode)
	r.RegisterFunc("input", e.handleInput)
	r.RegisterFunc("execute_sub_scenario", e.handleExecuteSubScenario)
	r.RegisterFunc("schedule_scenario_run", e.handleScheduleScenarioRun)
}

func handleNoop(handler.ResolvedStep, handler.Target) handler.Outcome {
	return handler.OK()
}

func toStatemachineSteps(steps []repository.Step) []statemachine.Step {
	out := make([]statemachine.Step, len(steps))
	for i, s := range steps {
		branches := make([]statemachine.Branch, len(s.Branches))
		for j, b := range s.Branches {
			branches[j] = statemachine.Branch{Condition: b.Condition, NextStep: b.NextStep}
		}
		out[i] = statemachine.Step{
			ID:       s.ID,
			Type:     s.Type,
			Params:   s.Params,
			NextStep: s.NextStep,
			Branches: branches,
		}
	}
	return out
}

// composeInitialContext layers context precedence lowest-to-highest:
// scenario initial_context, then agent initial_context, then caller
// context, then system keys, then a generated instance id if absent.
func composeInitialContext(scenarioDoc *repository.Scenario, agent *repository.Agent, callerContext ctxval.Map, agentID string) ctxval.Map {
	ctx := ctxval.Map{}
	for k, v := range scenarioDoc.InitialContext {
		ctx[k] = v
	}
	if agent != nil {
		for k, v := range agent.InitialContext {
			ctx[k] = v
		}
	}
	for k, v := range callerContext {
		ctx[k] = v
	}

	ctx["__current_scenario_id__"] = scenarioDoc.ScenarioID
	if agentID != "" {
		ctx["agent_id"] = agentID
		ctx["__current_agent_id__"] = agentID
	}

	if agent != nil {
		if defaultChatID, ok := agent.Settings["default_telegram_chat_id"]; ok {
			if _, has := ctx["telegram_chat_id"]; !has {
				ctx["telegram_chat_id"] = defaultChatID
				if _, hasUser := ctx["user_id"]; !hasUser {
					ctx["user_id"] = ctxval.AsString(defaultChatID)
				}
			}
		}
	}

	if _, has := ctx["__scenario_instance_id__"]; !has {
		userID := ctxval.AsString(ctx["user_id"])
		if userID == "" {
			userID = "system"
		}
		chatID := ctxval.AsString(ctx["chat_id"])
		if chatID == "" {
			chatID = ctxval.AsString(ctx["telegram_chat_id"])
		}
		if chatID == "" {
			chatID = "no_chat"
		}
		ctx["__scenario_instance_id__"] = fmt.Sprintf("%s_%s_%s_%d", scenarioDoc.ScenarioID, userID, chatID, time.Now().UnixNano())
	}

	return ctx
}

// Execute is the top-level entry point for running a scenario.
func (e *Executor) Execute(ctx context.Context, scenarioDoc *repository.Scenario, callerContext ctxval.Map, agentID string) (Result, error) {
	var agent *repository.Agent
	if agentID != "" && e.deps.AgentRepo != nil {
		a, err := e.deps.AgentRepo.GetByID(ctx, agentID)
		if err != nil && err != repository.ErrNotFound {
			return Result{}, err
		}
		agent = a
	}

	initial := composeInitialContext(scenarioDoc, agent, callerContext, agentID)
	steps := toStatemachineSteps(scenarioDoc.Steps)
	m := statemachine.New(scenarioDoc.ScenarioID, steps, initial)

	instanceID := ctxval.AsString(initial["__scenario_instance_id__"])
	e.publish(ctx, eventstream.EventScenarioStarted, instanceID, ctxval.AsString(initial["user_id"]), nil)

	return e.runLoop(ctx, scenarioDoc.ScenarioID, agentID, m)
}

// publish emits a lifecycle notification on the Events dependency, if one
// was configured. Best-effort: a publish error never affects execution,
// only gets logged, since the event stream is an observability
// side-channel and not part of the state machine's control flow.
func (e *Executor) publish(ctx context.Context, typ eventstream.EventType, instanceID, userID string, payload any) {
	e.deps.Metrics.IncCounter("executor.events", 1, "type", string(typ))
	if e.deps.Events == nil {
		return
	}
	_, err := e.deps.Events.Publish(ctx, eventstream.Event{
		Type:       typ,
		InstanceID: instanceID,
		UserID:     userID,
		Payload:    payload,
	})
	if err != nil && e.deps.Logger != nil {
		fields := telemetry.Fields{InstanceID: instanceID}
		e.deps.Logger.Warn(ctx, "event publish failed", fields.KeyVals("type", string(typ), "error", err.Error())...)
	}
}

// RunByID loads the scenario by id and then delegates to Execute.
func (e *Executor) RunByID(ctx context.Context, scenarioID string, callerContext ctxval.Map, agentID string) (Result, error) {
	doc, err := e.deps.ScenarioRepo.GetByID(ctx, scenarioID)
	if err != nil {
		return Result{}, err
	}
	return e.Execute(ctx, doc, callerContext, agentID)
}

func (e *Executor) runLoop(ctx context.Context, scenarioID, agentID string, m *statemachine.Machine) (Result, error) {
	current := m.CurrentStep()
	for current != nil {
		stepID := current.ID

		resolvedValue := ctxval.Resolve(stepParamsAsValue(*current), m.Context)
		resolvedParams, _ := resolvedValue.(map[string]any)

		resolved := handler.ResolvedStep{ID: current.ID, Type: current.Type, Params: ctxval.Map(resolvedParams)}
		target := handler.Target{Context: m.Context, StateMachine: m}

		h, ok := e.deps.Registry.Lookup(current.Type)
		if !ok {
			m.Context["__step_error__"] = fmt.Sprintf("no handler registered for step type %q (step %q)", current.Type, stepID)
		} else {
			outcome := e.invokeSafely(h, resolved, target)
			switch outcome.Kind {
			case handler.OutcomeError:
				m.Context["__step_error__"] = outcome.Message
			case handler.OutcomePause:
				instanceID := ctxval.AsString(m.Context["__scenario_instance_id__"])
				e.table.put(instanceID, WaitingRecord{
					InstanceID:      instanceID,
					MessageID:       ctxval.AsString(m.Context["message_id_with_buttons"]),
					OutputVar:       ctxval.AsString(resolved.Params["output_var"]),
					ExpectedPattern: ctxval.AsString(resolved.Params["expected_callback_data_pattern"]),
					ScenarioID:      scenarioID,
					StepID:          stepID,
					ChatID:          ctxval.AsString(m.Context["chat_id"]),
					UserID:          ctxval.AsString(m.Context["user_id"]),
					Status:          "waiting",
					Timestamp:       time.Now(),
				}, PausedRecord{
					ScenarioID: scenarioID,
					Steps:      m.Steps,
					Snapshot:   m.Serialize(),
					LastStepID: stepID,
					Timestamp:  time.Now(),
				})
				e.publish(ctx, eventstream.EventScenarioPaused, instanceID, ctxval.AsString(m.Context["user_id"]),
					map[string]string{"step_id": stepID})
				return Result{
					ScenarioID: scenarioID,
					AgentID:    agentID,
					Status:     "paused",
					Success:    false,
					Message:    fmt.Sprintf("scenario paused at step %q, waiting for callback", stepID),
					InstanceID: instanceID,
					Context:    pruneContext(m.Context),
				}, nil
			case handler.OutcomeBind:
				if outputVar := ctxval.AsString(resolved.Params["output_var"]); outputVar != "" {
					m.Context[outputVar] = outcome.Value
				} else {
					e.deps.Logger.Warn(ctx, "handler result discarded: no output_var set", "step", stepID, "type", current.Type)
				}
			}
		}

		if errMsg, failed := m.Context["__step_error__"]; failed {
			return e.buildResult(ctx, scenarioID, agentID, m, false, fmt.Sprintf("%v", errMsg)), nil
		}

		next, err := m.NextStep(nil)
		if err != nil {
			m.Context["__step_error__"] = err.Error()
			return e.buildResult(ctx, scenarioID, agentID, m, false, err.Error()), nil
		}
		current = next
	}

	return e.buildResult(ctx, scenarioID, agentID, m, true, ""), nil
}

// invokeSafely ensures no handler panic crosses the executor loop; it is
// converted to a normal step error instead.
func (e *Executor) invokeSafely(h handler.Handler, step handler.ResolvedStep, target handler.Target) (out handler.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = handler.Errorf("critical error at step %q: %v", step.ID, r)
		}
	}()
	return h.Invoke(step, target)
}

func stepParamsAsValue(step statemachine.Step) any {
	return map[string]any(step.Params)
}

// pruneContext strips every reserved, underscore-prefixed key from the
// result envelope's returned context. Result.InstanceID carries
// __scenario_instance_id__'s value separately, so correlating a pause does
// not depend on it surviving here.
func pruneContext(ctx ctxval.Map) ctxval.Map {
	out := make(ctxval.Map, len(ctx))
	for k, v := range ctx {
		if strings.HasPrefix(k, "__") {
			continue
		}
		out[k] = v
	}
	return out
}

func (e *Executor) buildResult(ctx context.Context, scenarioID, agentID string, m *statemachine.Machine, success bool, errMsg string) Result {
	res := Result{
		ScenarioID: scenarioID,
		AgentID:    agentID,
		Success:    success,
		Context:    pruneContext(m.Context),
	}
	if success {
		res.Status = "success"
		res.Message = fmt.Sprintf("scenario %q executed successfully", m.ScenarioName)
		e.publish(ctx, eventstream.EventScenarioCompleted, ctxval.AsString(m.Context["__scenario_instance_id__"]), ctxval.AsString(m.Context["user_id"]), nil)
	} else {
		res.Status = "failed"
		res.Error = errMsg
		res.Message = fmt.Sprintf("scenario %q execution failed: %s", m.ScenarioName, errMsg)
		e.publish(ctx, eventstream.EventScenarioFailed, ctxval.AsString(m.Context["__scenario_instance_id__"]), ctxval.AsString(m.Context["user_id"]), map[string]string{"error": errMsg})
	}
	return res
}

// Resume looks up the paused and waiting records for instanceID, binds the
// received input into the saved context, and re-enters the execution loop.
func (e *Executor) Resume(ctx context.Context, instanceID string, receivedInput any) (Result, error) {
	waiting, paused, ok := e.table.get(instanceID)
	if !ok {
		if e.table.wasResolved(instanceID) {
			fields := telemetry.Fields{InstanceID: instanceID}
			e.deps.Logger.Warn(ctx, "ignoring duplicate resume", fields.KeyVals()...)
			return Result{Success: false, Error: "scenario already resumed", Status: "failed", InstanceID: instanceID}, ErrDuplicateResume
		}
		return Result{Success: false, Error: "paused scenario not found", Status: "failed"}, ErrNotPaused
	}
	e.table.resolve(instanceID)

	m := statemachine.Restore(paused.Steps, paused.Snapshot)
	if waiting.OutputVar != "" {
		m.Context[waiting.OutputVar] = receivedInput
	}

	current := m.CurrentStep()
	if current == nil {
		return Result{}, fmt.Errorf("scenario: resume: no current step after restore")
	}

	e.publish(ctx, eventstream.EventScenarioResumed, instanceID, waiting.UserID, nil)

	res, err := e.resumeLoop(ctx, paused.ScenarioID, ctxval.AsString(m.Context["agent_id"]), m)
	return res, err
}

// resumeLoop re-enters the execution loop without re-running the paused
// step's handler: it advances past the current (already-satisfied) step
// first, then continues exactly like runLoop. A handler that immediately
// re-pauses is a fatal logic error.
func (e *Executor) resumeLoop(ctx context.Context, scenarioID, agentID string, m *statemachine.Machine) (Result, error) {
	next, err := m.NextStep(nil)
	if err != nil {
		m.Context["__step_error__"] = err.Error()
		return e.buildResult(ctx, scenarioID, agentID, m, false, err.Error()), nil
	}
	if next == nil {
		return e.buildResult(ctx, scenarioID, agentID, m, true, ""), nil
	}

	firstStepID := next.ID
	res, err := e.runLoop(ctx, scenarioID, agentID, m)
	if err == nil && res.Status == "paused" {
		if w, _, ok := e.table.get(res.InstanceID); ok && w.StepID == firstStepID {
			res.Success = false
			res.Status = "failed"
			res.Error = "Logic error: pause immediately after resume"
			res.Message = res.Error
		}
	}
	return res, err
}

// --- built-in handlers ---

func (e *Executor) handleLogMessage(step handler.ResolvedStep, target handler.Target) handler.Outcome {
	level := ctxval.AsString(step.Params["level"])
	if level == "" {
		level = "info"
	}
	msg := ctxval.AsString(step.Params["message"])
	switch level {
	case "debug":
		e.deps.Logger.Debug(context.Background(), msg)
	case "warn", "warning":
		e.deps.Logger.Warn(context.Background(), msg)
	case "error":
		e.deps.Logger.Error(context.Background(), msg)
	default:
		e.deps.Logger.Info(context.Background(), msg)
	}
	return handler.OK()
}

func (e *Executor) handleAction(step handler.ResolvedStep, target handler.Target) handler.Outcome {
	actionType := ctxval.AsString(step.Params["action_type"])
	switch actionType {
	case "update_context":
		updates, _ := step.Params["updates"].(map[string]any)
		for key, value := range updates {
			if err := ctxval.SetPath(target.Context, key, value); err != nil {
				return handler.Errorf("update_context: %v", err)
			}
		}
		return handler.OK()
	case "execute_code":
		return e.evalExecuteCode(step, target)
	default:
		return handler.Errorf("unknown action_type %q", actionType)
	}
}

func (e *Executor) handleExecuteCode(step handler.ResolvedStep, target handler.Target) handler.Outcome {
	return e.evalExecuteCode(step, target)
}

func (e *Executor) evalExecuteCode(step handler.ResolvedStep, target handler.Target) handler.Outcome {
	code := ctxval.AsString(step.Params["code"])
	if code == "" {
		return handler.Errorf("execute_code: missing %q param", "code")
	}
	result, err := exprlang.Eval(code, target.Context)
	if err != nil {
		return handler.Errorf("execute_code: %v", err)
	}
	return handler.Bind(result)
}

const pauseMarker = "PAUSED_WAITING_FOR_CALLBACK"

func (e *Executor) handleInput(step handler.ResolvedStep, target handler.Target) handler.Outcome {
	subTag := ctxval.AsString(step.Params["sub_tag"])
	if subTag == "" {
		subTag = "callback_query"
	}
	if subTag != "callback_query" {
		return handler.Errorf("input: unsupported sub_tag %q", subTag)
	}

	outputVar := ctxval.AsString(step.Params["output_var"])
	if outputVar == "" {
		return handler.Error("input: missing output_var")
	}
	if _, already := target.Context[outputVar]; already {
		// Resume path: the value is already bound.
		return handler.OK()
	}

	chatID := ctxval.AsString(target.Context["chat_id"])
	if chatID == "" {
		chatID = ctxval.AsString(target.Context["telegram_chat_id"])
	}
	userID := ctxval.AsString(target.Context["user_id"])
	scenarioID := ctxval.AsString(target.Context["__current_scenario_id__"])
	if chatID == "" || userID == "" || scenarioID == "" {
		return handler.Error("input: missing required context (chat_id, user_id, or scenario_id) to register wait")
	}
	return handler.Pause(pauseMarker)
}

func (e *Executor) handleExecuteSubScenario(step handler.ResolvedStep, target handler.Target) handler.Outcome {
	subScenarioID := ctxval.AsString(step.Params["sub_scenario_id"])
	if subScenarioID == "" {
		return handler.Error("execute_sub_scenario: missing sub_scenario_id")
	}
	inputMapping, _ := step.Params["input_mapping"].(map[string]any)
	outputMapping, _ := step.Params["output_mapping"].(map[string]any)

	subDoc, err := e.deps.ScenarioRepo.GetByID(context.Background(), subScenarioID)
	if err != nil {
		return handler.Errorf("execute_sub_scenario: load %q: %v", subScenarioID, err)
	}

	// input_mapping values arrived already resolved against the parent
	// context (the executor resolves the whole step document before
	// dispatch), so they are copied through as-is.
	subInitial := ctxval.Map{}
	for subKey, value := range inputMapping {
		subInitial[subKey] = value
	}

	agentID := ctxval.AsString(target.Context["agent_id"])
	subResult, err := e.Execute(context.Background(), subDoc, subInitial, agentID)
	if err != nil {
		return handler.Errorf("execute_sub_scenario: %v", err)
	}
	if !subResult.Success {
		return handler.Errorf("sub-scenario %q failed: %s", subScenarioID, subResult.Error)
	}

	// output_mapping templates reference the sub-scenario's context, so
	// this resolve runs against subResult.Context, not the parent's.
	for parentKey, template := range outputMapping {
		target.Context[parentKey] = ctxval.Resolve(template, subResult.Context)
	}
	return handler.OK()
}

func (e *Executor) handleScheduleScenarioRun(step handler.ResolvedStep, target handler.Target) handler.Outcome {
	if e.deps.Scheduling == nil {
		return handler.Error("schedule_scenario_run: no scheduling plugin configured")
	}
	initiatorUserID := ctxval.AsString(target.Context["initiator_user_id"])
	if initiatorUserID == "" {
		return handler.Error("schedule_scenario_run: missing initiator_user_id in context")
	}

	// The run_agent dispatch POSTs to /agent-actions/{agent_id}/execute, so
	// the target must be recorded in action_config.agent_id. An explicit
	// scenario_id_to_run param wins; otherwise the task re-invokes the
	// scheduling agent itself.
	agentIDToRun := ctxval.AsString(step.Params["scenario_id_to_run"])
	if agentIDToRun == "" {
		agentIDToRun = ctxval.AsString(target.Context["__current_agent_id__"])
	}
	if agentIDToRun == "" {
		agentIDToRun = ctxval.AsString(target.Context["__current_scenario_id__"])
	}
	if agentIDToRun == "" {
		return handler.Error("schedule_scenario_run: missing scenario_id_to_run and no current agent in context")
	}

	runInSeconds, _ := toFloat(step.Params["run_in_seconds"])
	targetDatetime := time.Now().UTC().Add(time.Duration(runInSeconds) * time.Second)

	contextToPass, _ := step.Params["context_to_pass"].(map[string]any)

	actionConfig := map[string]any{
		"agent_id":        agentIDToRun,
		"initial_payload": map[string]any{"context": contextToPass},
	}
	if chatID := ctxval.AsString(target.Context["chat_id"]); chatID != "" {
		actionConfig["chat_id"] = chatID
	}

	taskID, err := e.deps.Scheduling.AddTask(context.Background(), plugin.TaskConfig{
		UserID:      initiatorUserID,
		TriggerType: "once",
		TriggerConfig: map[string]any{
			"datetime":       targetDatetime.Format(time.RFC3339),
			"margin_seconds": 60,
		},
		ActionType:   "run_agent",
		ActionConfig: actionConfig,
	})
	if err != nil {
		return handler.Errorf("schedule_scenario_run: %v", err)
	}

	outputVar := ctxval.AsString(step.Params["task_id_output_var"])
	if outputVar == "" {
		outputVar = "task_id"
	}
	target.Context[outputVar] = taskID
	return handler.OK()
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
