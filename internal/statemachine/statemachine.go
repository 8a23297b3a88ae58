// Package statemachine implements the scenario state machine:
// linear/branching traversal of an ordered step sequence against a
// mutable execution context.
package statemachine

import (
	"fmt"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
	"github.com/goa-ai-labs/scenario-orchestrator/internal/exprlang"
)

// Branch is one (condition, next_step) pair within a branch step's
// Branches list (the step-level "branches" field of a scenario document). Condition == "default" matches unconditionally.
// NextStep is a step id (string) or step index (any numeric type), like
// Step.NextStep.
type Branch struct {
	Condition string
	NextStep  any
}

// Step is one node in a scenario's step graph. Params carries the
// step-type-specific configuration (already a ctxval.Map, i.e. unresolved
// template values); Branches is populated only for type == "branch".
type Step struct {
	ID       string
	Type     string
	Params   ctxval.Map
	NextStep any // string (step id) or numeric (index); nil if unset
	Branches []Branch
}

// Machine drives traversal over a fixed step sequence. It is constructed
// once per scenario instance and holds the live, mutable execution
// context; handlers receive it through handler.Target and may mutate
// Context directly.
type Machine struct {
	ScenarioName string
	Steps        []Step
	Context      ctxval.Map
	CurrentIndex int
	Finished     bool

	indexByID map[string]int
}

// New constructs a Machine over steps with a fresh copy of initialContext.
// The caller-owned map is never retained; New clones it via ctxval.Clone.
func New(scenarioName string, steps []Step, initialContext ctxval.Map) *Machine {
	idx := make(map[string]int, len(steps))
	for i, s := range steps {
		idx[s.ID] = i
	}
	ctxCopy, _ := ctxval.Clone(initialContext).(ctxval.Map)
	if ctxCopy == nil {
		ctxCopy = ctxval.Map{}
	}
	return &Machine{
		ScenarioName: scenarioName,
		Steps:        steps,
		Context:      ctxCopy,
		CurrentIndex: 0,
		indexByID:    idx,
	}
}

// CurrentStep returns the step at CurrentIndex, or nil if execution has
// advanced past the end of the step sequence.
func (m *Machine) CurrentStep() *Step {
	if m.CurrentIndex < 0 || m.CurrentIndex >= len(m.Steps) {
		m.Finished = true
		return nil
	}
	return &m.Steps[m.CurrentIndex]
}

// NextStep advances CurrentIndex according to the current step's
// control-flow rules and returns the newly-current step (nil if execution
// has reached the end). If inputData is non-nil, it is merged into Context
// (top-level keys only) before the transition is computed, matching the
// resume path's "bind received_input under output_var" contract, which
// callers perform before invoking NextStep.
func (m *Machine) NextStep(inputData ctxval.Map) (*Step, error) {
	if inputData != nil {
		for k, v := range inputData {
			m.Context[k] = v
		}
	}
	cur := m.CurrentStep()
	if cur == nil {
		return nil, nil
	}

	if cur.Type == "branch" {
		target, matched, err := m.resolveBranch(cur)
		if err != nil {
			return nil, err
		}
		if matched {
			return m.gotoTarget(cur.ID, target)
		}
		// No branch matched (no "default" present): fall through to linear
		// advance.
	} else if cur.NextStep != nil {
		return m.gotoTarget(cur.ID, cur.NextStep)
	}

	return m.gotoIndex(m.CurrentIndex + 1)
}

func (m *Machine) resolveBranch(step *Step) (any, bool, error) {
	for _, b := range step.Branches {
		if b.Condition == "default" {
			return b.NextStep, true, nil
		}
		result, err := exprlang.Eval(b.Condition, m.Context)
		if err != nil {
			return nil, false, fmt.Errorf("statemachine: branch condition %q on step %q: %w", b.Condition, step.ID, err)
		}
		if exprlang.Truthy(result) {
			return b.NextStep, true, nil
		}
	}
	return nil, false, nil
}

// gotoTarget jumps to a next_step target: a string is a step-id lookup,
// any numeric type is a step index. Scenario documents arrive through
// JSON (indices decode as float64) or BSON (int32/int64), so every
// numeric shape is accepted.
func (m *Machine) gotoTarget(stepID string, target any) (*Step, error) {
	switch t := target.(type) {
	case string:
		return m.gotoStepID(t)
	case int:
		return m.gotoIndex(t)
	case int32:
		return m.gotoIndex(int(t))
	case int64:
		return m.gotoIndex(int(t))
	case float64:
		return m.gotoIndex(int(t))
	default:
		return nil, fmt.Errorf("statemachine: step %q has invalid next_step type %T", stepID, target)
	}
}

func (m *Machine) gotoStepID(id string) (*Step, error) {
	idx, ok := m.indexByID[id]
	if !ok {
		return nil, fmt.Errorf("statemachine: unknown step id %q", id)
	}
	return m.gotoIndex(idx)
}

func (m *Machine) gotoIndex(idx int) (*Step, error) {
	m.CurrentIndex = idx
	if idx < 0 || idx >= len(m.Steps) {
		m.Finished = true
		return nil, nil
	}
	return &m.Steps[idx], nil
}

// Snapshot is the serializable form of a Machine, used when persisting a
// Paused Scenario Record.
type Snapshot struct {
	ScenarioName string
	CurrentIndex int
	Context      ctxval.Map
}

// Serialize captures the machine's resumable state.
func (m *Machine) Serialize() Snapshot {
	ctxCopy, _ := ctxval.Clone(m.Context).(ctxval.Map)
	return Snapshot{ScenarioName: m.ScenarioName, CurrentIndex: m.CurrentIndex, Context: ctxCopy}
}

// Restore rebuilds a Machine from a Snapshot and the original step
// sequence (steps are not part of the snapshot; the executor keeps them
// beside it in the PausedRecord and passes them back here).
func Restore(steps []Step, snap Snapshot) *Machine {
	m := New(snap.ScenarioName, steps, snap.Context)
	m.CurrentIndex = snap.CurrentIndex
	return m
}
