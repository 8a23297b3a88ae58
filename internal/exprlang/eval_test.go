package exprlang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/ctxval"
)

func TestEvalArithmeticAndComparison(t *testing.T) {
	ctx := ctxval.Map{"x": float64(5)}
	v, err := Eval("x > 0", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Eval("x > 0", ctxval.Map{"x": float64(-1)})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestEvalBooleanOperators(t *testing.T) {
	ctx := ctxval.Map{"x": float64(5), "y": float64(1)}
	v, err := Eval("x > 0 && y > 0", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Eval("x < 0 || y > 0", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvalStringLiteralDefault(t *testing.T) {
	v, err := Eval(`"default"`, ctxval.Map{})
	require.NoError(t, err)
	assert.Equal(t, "default", v)
}

func TestEvalNumericStringCoercion(t *testing.T) {
	ctx := ctxval.Map{"x": "5"}
	v, err := Eval("x == 5", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvalRejectsFunctionCallSyntax(t *testing.T) {
	_, err := Eval("len(x)", ctxval.Map{"x": "hi"})
	assert.Error(t, err)
}

func TestEvalRejectsUnparseableInput(t *testing.T) {
	_, err := Eval("import os", ctxval.Map{})
	assert.Error(t, err)
}

func TestEvalNestedPathAccess(t *testing.T) {
	ctx := ctxval.Map{"a": ctxval.Map{"b": []any{float64(1), float64(2)}}}
	v, err := Eval("a.b.1 == 2", ctx)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestEvalMissingPathIsNilNotError(t *testing.T) {
	v, err := Eval("missing == 0", ctxval.Map{})
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(float64(0)))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(float64(1)))
}
