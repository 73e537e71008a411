package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

type stubProvider struct {
	result workflow.PromptResult
	err    error
}

func (s *stubProvider) ExecutePrompt(ctx context.Context, providerCfg map[string]any, prompt, systemPrompt string) (workflow.PromptResult, error) {
	return s.result, s.err
}

func newTestLogger() *logger.Logger {
	return logger.New("error", "text")
}

func newNode(id string, kind workflow.NodeKind, cfg map[string]any) *workflow.Node {
	return &workflow.Node{ID: id, Name: id, Kind: kind, Config: cfg}
}

func TestAgentExecutor_MissingPromptFails(t *testing.T) {
	exec := NewAgentExecutor(newTestLogger())
	node := newNode("n1", workflow.KindAgent, map[string]any{})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Provider = &stubProvider{}

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrMissingPrompt, out.ErrorCode)
}

func TestAgentExecutor_SuccessSetsVariables(t *testing.T) {
	exec := NewAgentExecutor(newTestLogger())
	node := newNode("summarize", workflow.KindAgent, map[string]any{"agent": "bot", "prompt": "summarize {{input}}"})
	ec := workflow.NewExecutionContext("inst", "wf", "", map[string]any{"input": "the text"})
	ec.Provider = &stubProvider{result: workflow.PromptResult{Success: true, Output: "a summary"}}

	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, "a summary", out.Variables["output"])
	assert.Equal(t, "a summary", out.Variables["summarize_output"])
}

func TestAgentExecutor_GateBlocksOnFalseCondition(t *testing.T) {
	exec := NewAgentExecutor(newTestLogger())
	node := newNode("n1", workflow.KindAgent, map[string]any{
		"prompt":        "go",
		"gate":          true,
		"gateCondition": `$.output == "ok"`,
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Provider = &stubProvider{result: workflow.PromptResult{Success: true, Output: "not-ok"}}

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrGate, out.ErrorCode)
}

func TestAgentExecutor_ProviderFailureWrapsAsErrProvider(t *testing.T) {
	exec := NewAgentExecutor(newTestLogger())
	node := newNode("n1", workflow.KindAgent, map[string]any{"prompt": "go"})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	ec.Provider = &stubProvider{result: workflow.PromptResult{Success: false, Error: "backend unavailable"}}

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrProvider, out.ErrorCode)
}
