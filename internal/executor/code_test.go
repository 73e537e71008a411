package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/workflow"
)

func TestCodeExecutor_JavaScriptReturnValue(t *testing.T) {
	exec := NewCodeExecutor(newTestLogger())
	node := newNode("calc", workflow.KindCode, map[string]any{
		"language": "javascript",
		"code":     "context.a + context.b",
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", map[string]any{"a": 2.0, "b": 3.0})

	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, float64(5), out.Variables["returnValue"])
}

func TestCodeExecutor_SandboxEnabledBlocksDenylistedCode(t *testing.T) {
	exec := NewCodeExecutor(newTestLogger())
	node := newNode("bad", workflow.KindCode, map[string]any{
		"language": "javascript",
		"code":     "eval('1+1')",
		"sandbox":  map[string]any{"enabled": true},
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrUnsafeCode, out.ErrorCode)
}

func TestCodeExecutor_UnsupportedLanguageFails(t *testing.T) {
	exec := NewCodeExecutor(newTestLogger())
	node := newNode("n", workflow.KindCode, map[string]any{
		"language": "ruby",
		"code":     "1+1",
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrDefinition, out.ErrorCode)
}

func TestCodeExecutor_RuntimeErrorWrapsAsErrEval(t *testing.T) {
	exec := NewCodeExecutor(newTestLogger())
	node := newNode("n", workflow.KindCode, map[string]any{
		"language": "javascript",
		"code":     "context.missing.field",
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrEval, out.ErrorCode)
}
