package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute_VariableAndContextField(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "/proj", map[string]any{"name": "ada"})
	got := Substitute("hello {{name}}, instance {{instanceId}}", ec, nil)
	assert.Equal(t, "hello ada, instance inst-1", got)
}

func TestSubstitute_UnresolvedPlaceholderLeftUntouched(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "", nil)
	got := Substitute("value: {{missing}}", ec, nil)
	assert.Equal(t, "value: {{missing}}", got)
}

func TestEvaluateJSONPath_Basic(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "", map[string]any{
		"user": map[string]any{"name": "ada", "scores": []any{70.0, 80.0}},
	})
	assert.Equal(t, "ada", EvaluateJSONPath("$.user.name", ec))
	assert.Equal(t, 80.0, EvaluateJSONPath("$.user.scores[1]", ec))
	assert.Nil(t, EvaluateJSONPath("$.user.missing", ec))
}

func TestEvaluateJSONPath_NonDollarReturnsNil(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "", nil)
	assert.Nil(t, EvaluateJSONPath("not-a-path", ec))
}

func TestEvaluateMapping_Modes(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "", map[string]any{"x": 42, "user": map[string]any{"name": "ada"}})
	assert.Equal(t, 42, EvaluateMapping("{{x}}", ec))
	assert.Equal(t, "ada", EvaluateMapping("$.user.name", ec))
	assert.Equal(t, "literal-value", EvaluateMapping("literal-value", ec))
}

func TestEvaluateCondition_JSONPathComparison(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "", map[string]any{"score": 85.0})
	ok, err := EvaluateCondition("$.score >= 70", ec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateCondition("$.score >= 90", ec)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateCondition_NonBooleanErrors(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "", map[string]any{"score": 85.0})
	_, err := EvaluateCondition("$.score", ec)
	require.Error(t, err)
	we, ok := err.(*WorkflowError)
	require.True(t, ok)
	assert.Equal(t, ErrEval, we.Code)
}
