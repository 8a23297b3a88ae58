package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterFunc("log_message", func(step ResolvedStep, target Target) Outcome {
		return OK()
	})
	h, ok := r.Lookup("log_message")
	require.True(t, ok)
	out := h.Invoke(ResolvedStep{Type: "log_message"}, Target{})
	assert.Equal(t, OutcomeOK, out.Kind)
}

func TestLookupMissingTag(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestDuplicateRegistrationReplacesAndWarns(t *testing.T) {
	var warned []string
	r := NewRegistry(func(tag string) { warned = append(warned, tag) })
	r.RegisterFunc("x", func(ResolvedStep, Target) Outcome { return OK() })
	r.RegisterFunc("x", func(ResolvedStep, Target) Outcome { return Error("replaced") })

	h, ok := r.Lookup("x")
	require.True(t, ok)
	out := h.Invoke(ResolvedStep{}, Target{})
	assert.Equal(t, OutcomeError, out.Kind)
	assert.Equal(t, "replaced", out.Message)
	assert.Equal(t, []string{"x"}, warned)
}
