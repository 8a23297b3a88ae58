package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/eventstream"
	"github.com/goa-ai-labs/scenario-orchestrator/runtime/agent/telemetry"
)

const defaultTickInterval = 60 * time.Second

// EventPublisher is the subset of eventstream.Publisher the Scheduler needs
// to emit dispatch lifecycle notifications.
type EventPublisher interface {
	Publish(ctx context.Context, ev eventstream.Event) (string, error)
}

// Options configures a Scheduler.
type Options struct {
	Store      TaskStore
	Dispatcher Dispatcher
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Events     EventPublisher
	// TickInterval overrides the default 60s tick period; zero or negative
	// keeps the default.
	TickInterval time.Duration
}

// Scheduler runs the durable task scheduler: a single-threaded cooperative
// loop over an in-memory task table, backed by TaskStore for durability
// across restarts.
type Scheduler struct {
	store      TaskStore
	dispatcher Dispatcher
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	events     EventPublisher
	tick       time.Duration

	mu      sync.Mutex
	tasks   map[string]Task
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Scheduler. Call Start to load tasks and begin ticking.
func New(opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tick := opts.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	return &Scheduler{
		store:      opts.Store,
		dispatcher: opts.Dispatcher,
		logger:     logger,
		metrics:    metrics,
		events:     opts.Events,
		tick:       tick,
		tasks:      make(map[string]Task),
	}
}

// publish emits a dispatch lifecycle notification, if Events was
// configured. Best-effort, matching scenario.Executor.publish: a publish
// failure is logged, never surfaced to the caller.
func (s *Scheduler) publish(ctx context.Context, typ eventstream.EventType, t Task, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Publish(ctx, eventstream.Event{
		Type:    typ,
		TaskID:  t.ID,
		UserID:  t.UserID,
		Payload: payload,
	}); err != nil {
		fields := telemetry.Fields{TaskID: t.ID}
		s.logger.Warn(ctx, "event publish failed", fields.KeyVals("type", string(typ), "error", err.Error())...)
	}
}

// Start loads all enabled tasks from storage, runs the once-only
// now-datetime fix-up, and begins the periodic tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	s.mu.Unlock()

	all, err := s.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: loading tasks: %w", err)
	}

	s.mu.Lock()
	s.tasks = make(map[string]Task, len(all))
	for _, t := range all {
		if t.Enabled {
			s.tasks[t.ID] = t
		}
	}
	s.mu.Unlock()

	s.fixNowDatetimes(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop(runCtx)

	s.logger.Info(ctx, "scheduler started", "task_count", len(s.tasks))
	return nil
}

// Stop halts the tick loop and waits for any in-flight tick to finish,
// together with the dispatch goroutines ticks have spawned; cancelling the
// run context cuts short their HTTP calls and retry backoff.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	running := s.running
	s.running = false
	s.mu.Unlock()

	if !running || cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info(context.Background(), "scheduler stopped")
}

// Status reports whether the tick loop is currently running.
func (s *Scheduler) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return "running"
	}
	return "stopped"
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick evaluates every in-memory task's trigger predicate, applies the
// re-execution guard, and dispatches due actions as fire-and-forget
// goroutines so a slow dispatch never delays the next tick.
func (s *Scheduler) runTick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]Task, 0, len(s.tasks))
	for id, t := range s.tasks {
		if shouldTrigger(t, now) && !wasRecentlyExecuted(t, now) {
			due = append(due, t)
			t.LastExecution = now
			if t.TriggerType == TriggerOnce {
				t.Enabled = false
			}
			s.tasks[id] = t
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatchAndPersist(ctx, t)
		}()
	}
}

func (s *Scheduler) dispatchAndPersist(ctx context.Context, t Task) {
	if err := s.dispatcher.Dispatch(ctx, t); err != nil {
		// Dispatch errors are logged; the task remains enabled (except
		// once) and will be retried on the next matching tick window.
		fields := telemetry.Fields{TaskID: t.ID}
		s.logger.Error(ctx, "scheduler: dispatch failed", fields.KeyVals("action_type", t.ActionType, "error", err)...)
		s.metrics.IncCounter("scheduler.dispatch_errors", 1, "action_type", t.ActionType)
		s.publish(ctx, eventstream.EventTaskFailed, t, map[string]string{"error": err.Error()})
	} else {
		s.metrics.IncCounter("scheduler.dispatches", 1, "action_type", t.ActionType)
		s.publish(ctx, eventstream.EventTaskDispatched, t, map[string]string{"action_type": t.ActionType})
	}

	if err := s.persistWithRetry(ctx, t); err != nil {
		fields := telemetry.Fields{TaskID: t.ID}
		s.logger.Error(ctx, "scheduler: giving up persisting task after retries", fields.KeyVals("error", err)...)
		s.store.RecordError(ctx, t.ID, err.Error())
	}
}

// persistWithRetry writes t's post-dispatch state (LastExecution tracked
// only in memory; Enabled is the field that must reach storage for
// `once` tasks) with bounded exponential backoff: 3 attempts, 2**n second
// delay between retries.
func (s *Scheduler) persistWithRetry(ctx context.Context, t Task) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * time.Second):
			}
		}
		if err := s.store.Update(ctx, t); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("scheduler: persist task %q: %w", t.ID, lastErr)
}

// fixNowDatetimes rewrites any once-trigger task with
// trigger_config.datetime == "now" to the current UTC timestamp, both in
// memory and in storage.
func (s *Scheduler) fixNowDatetimes(ctx context.Context) {
	now := time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	var toPersist []Task
	for id, t := range s.tasks {
		if t.TriggerType != TriggerOnce {
			continue
		}
		if dt, _ := t.TriggerConfig["datetime"].(string); dt == "now" {
			t.TriggerConfig = cloneMap(t.TriggerConfig)
			t.TriggerConfig["datetime"] = now
			s.tasks[id] = t
			toPersist = append(toPersist, t)
		}
	}
	s.mu.Unlock()

	for _, t := range toPersist {
		if err := s.persistWithRetry(ctx, t); err != nil {
			fields := telemetry.Fields{TaskID: t.ID}
			s.logger.Error(ctx, "scheduler: fixNowDatetimes: failed to persist rewritten datetime", fields.KeyVals("error", err)...)
			s.store.RecordError(ctx, t.ID, err.Error())
		}
	}
	if len(toPersist) > 0 {
		s.logger.Info(ctx, "scheduler: rewrote now-datetime tasks", "count", len(toPersist))
	}
}

// --- CRUD ---

// AddTask validates t, assigns an id if absent, persists it, and adds it
// to the in-memory table. "Enabled defaults to true when absent" is
// applied by the caller (the HTTP layer decodes an *bool so it can
// distinguish "absent" from "false"), since Task.Enabled has no unset
// sentinel of its own.
func (s *Scheduler) AddTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if err := Validate(t); err != nil {
		return Task{}, err
	}

	if err := s.store.Insert(ctx, t); err != nil {
		return Task{}, fmt.Errorf("scheduler: inserting task: %w", err)
	}

	s.mu.Lock()
	if t.Enabled {
		s.tasks[t.ID] = t
	}
	s.mu.Unlock()

	return t.Clone(), nil
}

// UpdateTask merges updates into the existing task (a partial merge of
// TriggerConfig/ActionConfig rather than a wholesale replacement) and
// persists the result.
func (s *Scheduler) UpdateTask(ctx context.Context, id string, updates Task) (Task, error) {
	s.mu.Lock()
	existing, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		loaded, err := s.loadSingle(ctx, id)
		if err != nil {
			return Task{}, err
		}
		existing = loaded
	}

	merged := existing
	if updates.UserID != "" {
		merged.UserID = updates.UserID
	}
	if updates.TriggerType != "" {
		merged.TriggerType = updates.TriggerType
	}
	if updates.TriggerConfig != nil {
		merged.TriggerConfig = mergeMaps(existing.TriggerConfig, updates.TriggerConfig)
	}
	if updates.ActionType != "" {
		merged.ActionType = updates.ActionType
	}
	if updates.ActionConfig != nil {
		merged.ActionConfig = mergeMaps(existing.ActionConfig, updates.ActionConfig)
	}
	merged.Enabled = updates.Enabled

	if err := Validate(merged); err != nil {
		return Task{}, err
	}
	if err := s.store.Update(ctx, merged); err != nil {
		return Task{}, fmt.Errorf("scheduler: updating task: %w", err)
	}

	s.mu.Lock()
	if merged.Enabled {
		s.tasks[id] = merged
	} else {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	return merged.Clone(), nil
}

func mergeMaps(base, overlay map[string]any) map[string]any {
	out := cloneMap(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// RemoveTask deletes a task from storage and the in-memory table.
func (s *Scheduler) RemoveTask(ctx context.Context, id string) error {
	s.mu.Lock()
	_, inMemory := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("scheduler: deleting task: %w", err)
	}
	if !inMemory {
		// Not an error: the task may have been disabled (and thus absent
		// from the in-memory table) before deletion.
		return nil
	}
	return nil
}

// GetTask returns a single task by id, preferring the in-memory copy.
func (s *Scheduler) GetTask(ctx context.Context, id string) (Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if ok {
		return t.Clone(), nil
	}
	return s.loadSingle(ctx, id)
}

func (s *Scheduler) loadSingle(ctx context.Context, id string) (Task, error) {
	all, err := s.store.LoadAll(ctx)
	if err != nil {
		return Task{}, err
	}
	for _, t := range all {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, ErrTaskNotFound
}

// GetTasksByUser returns every task (enabled or not) belonging to userID.
func (s *Scheduler) GetTasksByUser(ctx context.Context, userID string) ([]Task, error) {
	all, err := s.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Task, 0)
	for _, t := range all {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetAllTasks returns every persisted task, enabled or not.
func (s *Scheduler) GetAllTasks(ctx context.Context) ([]Task, error) {
	return s.store.LoadAll(ctx)
}
