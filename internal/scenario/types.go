// Package scenario implements the Scenario Executor, the core of the
// system: it drives a statemachine.Machine, dispatches to
// handler.Registry entries, and manages pause/resume and sub-scenario
// composition.
package scenario

import (
	"errors"
	"sync"
	"time"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/statemachine"
)

// ErrNotPaused is returned by Resume when instanceID has no paused record
// and was never seen before.
var ErrNotPaused = errors.New("scenario: no paused execution for instance id")

// ErrDuplicateResume is returned by Resume when instanceID was already
// resumed once before: a second event matching the same waiting record is
// logged and ignored rather than re-run.
var ErrDuplicateResume = errors.New("scenario: instance already resumed")

// resolvedTTL bounds how long a resumed instance id is remembered for
// duplicate detection before it is forgotten, to keep the table's memory
// bounded.
const resolvedTTL = 24 * time.Hour

// Result is the envelope returned by Execute/Resume.
type Result struct {
	ScenarioID string
	AgentID    string
	Success    bool
	Status     string // "success" | "failed" | "paused"
	Message    string
	Error      string
	InstanceID string
	Context    ctxval.Map
}

// WaitingRecord correlates a paused scenario instance with the external
// event it is waiting for.
type WaitingRecord struct {
	InstanceID      string
	MessageID       string
	OutputVar       string
	ExpectedPattern string
	ScenarioID      string
	StepID          string
	ChatID          string
	UserID          string
	Status          string
	Timestamp       time.Time
}

// PausedRecord snapshots a suspended execution.
type PausedRecord struct {
	ScenarioID string
	Steps      []statemachine.Step
	Snapshot   statemachine.Snapshot
	LastStepID string
	Timestamp  time.Time
}

// pauseTable is the process-wide, mutex-protected store of waiting and
// paused records, shared across all concurrently running scenario
// instances.
type pauseTable struct {
	mu       sync.Mutex
	waiting  map[string]WaitingRecord
	paused   map[string]PausedRecord
	resolved map[string]time.Time
}

func newPauseTable() *pauseTable {
	return &pauseTable{
		waiting:  make(map[string]WaitingRecord),
		paused:   make(map[string]PausedRecord),
		resolved: make(map[string]time.Time),
	}
}

func (t *pauseTable) put(instanceID string, w WaitingRecord, p PausedRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiting[instanceID] = w
	t.paused[instanceID] = p
}

func (t *pauseTable) get(instanceID string) (WaitingRecord, PausedRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, wok := t.waiting[instanceID]
	p, pok := t.paused[instanceID]
	return w, p, wok && pok
}

// resolve removes instanceID's waiting/paused records and remembers it as
// resolved for resolvedTTL, so a subsequent duplicate resume attempt can be
// distinguished from one that never existed.
func (t *pauseTable) resolve(instanceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.waiting, instanceID)
	delete(t.paused, instanceID)
	t.resolved[instanceID] = time.Now()
	for id, at := range t.resolved {
		if time.Since(at) > resolvedTTL {
			delete(t.resolved, id)
		}
	}
}

// wasResolved reports whether instanceID was previously resolved (and not
// yet forgotten past resolvedTTL).
func (t *pauseTable) wasResolved(instanceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.resolved[instanceID]
	return ok
}

// sweepExpired removes paused/waiting records older than ttl. Called by an
// optional sweep goroutine; ttl <= 0 disables sweeping entirely, so paused
// scenarios live forever by default.
func (t *pauseTable) sweepExpired(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, p := range t.paused {
		if p.Timestamp.Before(cutoff) {
			delete(t.paused, id)
			delete(t.waiting, id)
			removed++
		}
	}
	return removed
}
