package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
)

func linearSteps() []Step {
	return []Step{
		{ID: "s", Type: "start"},
		{ID: "l", Type: "log_message"},
		{ID: "e", Type: "end"},
	}
}

func TestLinearTraversal(t *testing.T) {
	m := New("linear", linearSteps(), ctxval.Map{"user": "kitty"})
	assert.Equal(t, "s", m.CurrentStep().ID)

	next, err := m.NextStep(nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "l", next.ID)

	next, err = m.NextStep(nil)
	require.NoError(t, err)
	assert.Equal(t, "e", next.ID)

	next, err = m.NextStep(nil)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.True(t, m.Finished)
}

func branchSteps() []Step {
	return []Step{
		{
			ID:   "b",
			Type: "branch",
			Branches: []Branch{
				{Condition: "x > 0", NextStep: "pos"},
				{Condition: "default", NextStep: "neg"},
			},
		},
		{ID: "pos", Type: "log_message"},
		{ID: "neg", Type: "log_message"},
	}
}

func TestBranchTrue(t *testing.T) {
	m := New("branch", branchSteps(), ctxval.Map{"x": float64(5)})
	next, err := m.NextStep(nil)
	require.NoError(t, err)
	assert.Equal(t, "pos", next.ID)
}

func TestBranchFalse(t *testing.T) {
	m := New("branch", branchSteps(), ctxval.Map{"x": float64(-1)})
	next, err := m.NextStep(nil)
	require.NoError(t, err)
	assert.Equal(t, "neg", next.ID)
}

func TestNextStepMergesInputData(t *testing.T) {
	m := New("linear", linearSteps(), ctxval.Map{})
	_, err := m.NextStep(ctxval.Map{"choice": "button_a"})
	require.NoError(t, err)
	assert.Equal(t, "button_a", m.Context["choice"])
}

func TestExplicitNextStepByID(t *testing.T) {
	steps := []Step{
		{ID: "a", Type: "action", NextStep: "c"},
		{ID: "b", Type: "log_message"},
		{ID: "c", Type: "end"},
	}
	m := New("jump", steps, ctxval.Map{})
	next, err := m.NextStep(nil)
	require.NoError(t, err)
	assert.Equal(t, "c", next.ID)
}

// Integer next_step targets arrive as int64 from BSON or float64 from
// JSON; every numeric shape resolves to a step index.
func TestExplicitNextStepByNumericIndex(t *testing.T) {
	for name, target := range map[string]any{
		"int":     2,
		"int32":   int32(2),
		"int64":   int64(2),
		"float64": float64(2),
	} {
		t.Run(name, func(t *testing.T) {
			steps := []Step{
				{ID: "a", Type: "action", NextStep: target},
				{ID: "b", Type: "log_message"},
				{ID: "c", Type: "end"},
			}
			m := New("jump", steps, ctxval.Map{})
			next, err := m.NextStep(nil)
			require.NoError(t, err)
			assert.Equal(t, "c", next.ID)
		})
	}
}

func TestBranchNumericTarget(t *testing.T) {
	steps := []Step{
		{
			ID:   "b",
			Type: "branch",
			Branches: []Branch{
				{Condition: "default", NextStep: int64(2)},
			},
		},
		{ID: "skipped", Type: "log_message"},
		{ID: "end", Type: "end"},
	}
	m := New("branch-index", steps, ctxval.Map{})
	next, err := m.NextStep(nil)
	require.NoError(t, err)
	assert.Equal(t, "end", next.ID)
}

func TestSerializeRoundTrip(t *testing.T) {
	m := New("linear", linearSteps(), ctxval.Map{"user": "kitty"})
	_, _ = m.NextStep(nil)
	snap := m.Serialize()
	restored := Restore(linearSteps(), snap)
	assert.Equal(t, m.CurrentIndex, restored.CurrentIndex)
	assert.Equal(t, "kitty", restored.Context["user"])
}
