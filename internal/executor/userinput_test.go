package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/workflow"
)

type scriptedBridge struct {
	values []any
	errs   []error
	calls  int
}

func (s *scriptedBridge) Request(ctx context.Context, req workflow.UserInputRequest) (any, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.values) {
		return s.values[i], nil
	}
	return s.values[len(s.values)-1], nil
}

func TestUserInputExecutor_ValidFirstTry(t *testing.T) {
	exec := NewUserInputExecutor(newTestLogger(), 5)
	node := newNode("ask", workflow.KindUserInput, map[string]any{
		"prompt":   "what is your name",
		"required": true,
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Bridge = &scriptedBridge{values: []any{"Ada"}}

	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, "Ada", out.Variables["userInput"])
}

func TestUserInputExecutor_RequiredRejectsEmptyThenAccepts(t *testing.T) {
	exec := NewUserInputExecutor(newTestLogger(), 5)
	node := newNode("ask", workflow.KindUserInput, map[string]any{
		"prompt":   "name?",
		"required": true,
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Bridge = &scriptedBridge{values: []any{"", "Grace"}}

	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, "Grace", out.Variables["userInput"])
}

func TestUserInputExecutor_NumberValidationRange(t *testing.T) {
	exec := NewUserInputExecutor(newTestLogger(), 5)
	min := 1.0
	max := 10.0
	node := newNode("ask", workflow.KindUserInput, map[string]any{
		"prompt":     "age?",
		"inputType":  "number",
		"validation": map[string]any{"min": min, "max": max},
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Bridge = &scriptedBridge{values: []any{100.0, 5.0}}

	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, 5.0, out.Variables["userInput"])
}

func TestUserInputExecutor_ExhaustsRetries(t *testing.T) {
	exec := NewUserInputExecutor(newTestLogger(), 3)
	node := newNode("ask", workflow.KindUserInput, map[string]any{
		"prompt":   "name?",
		"required": true,
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Bridge = &scriptedBridge{values: []any{"", "", ""}}

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrInputExhausted, out.ErrorCode)
}

func TestUserInputExecutor_BridgeCancelledMapsToCancelled(t *testing.T) {
	exec := NewUserInputExecutor(newTestLogger(), 5)
	node := newNode("ask", workflow.KindUserInput, map[string]any{"prompt": "name?"})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Bridge = &scriptedBridge{errs: []error{context.Canceled}}

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrCancelled, out.ErrorCode)
}
