package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/workflow"
)

type fakeSubRunner struct {
	runFn func(ctx context.Context, def *workflow.WorkflowDefinition, ec *workflow.ExecutionContext) error
}

func (f *fakeSubRunner) RunSubgraph(ctx context.Context, def *workflow.WorkflowDefinition, nodeIDs []string, ec *workflow.ExecutionContext) error {
	return nil
}
func (f *fakeSubRunner) RunChildWorkflow(ctx context.Context, def *workflow.WorkflowDefinition, ec *workflow.ExecutionContext) error {
	if f.runFn != nil {
		return f.runFn(ctx, def, ec)
	}
	ec.SetVariable("childDone", true)
	return nil
}

type fakeSubLoader struct {
	def *workflow.WorkflowDefinition
	err error
}

func (f *fakeSubLoader) LoadWorkflow(ctx context.Context, workflowID, version string) (*workflow.WorkflowDefinition, error) {
	return f.def, f.err
}

func TestSubWorkflowExecutor_SimpleModeCopiesVariables(t *testing.T) {
	loader := &fakeSubLoader{def: &workflow.WorkflowDefinition{ID: "child-wf"}}
	runner := &fakeSubRunner{}
	exec := NewSubWorkflowExecutor(runner, loader, newTestLogger())

	node := newNode("sub", workflow.KindSubWorkflow, map[string]any{"subWorkflowId": "child-wf"})
	ec := workflow.NewExecutionContext("inst", "wf", "", map[string]any{"x": 1})

	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	output, ok := out.Variables["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["childDone"])
}

func TestSubWorkflowExecutor_MissingIDFails(t *testing.T) {
	exec := NewSubWorkflowExecutor(&fakeSubRunner{}, &fakeSubLoader{}, newTestLogger())
	node := newNode("sub", workflow.KindSubWorkflow, map[string]any{})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrDefinition, out.ErrorCode)
}

func TestSubWorkflowExecutor_ChildFailurePropagates(t *testing.T) {
	loader := &fakeSubLoader{def: &workflow.WorkflowDefinition{ID: "child-wf"}}
	runner := &fakeSubRunner{runFn: func(ctx context.Context, def *workflow.WorkflowDefinition, ec *workflow.ExecutionContext) error {
		return workflow.NewError(workflow.ErrHTTP, "child node failed")
	}}
	exec := NewSubWorkflowExecutor(runner, loader, newTestLogger())
	node := newNode("sub", workflow.KindSubWorkflow, map[string]any{"subWorkflowId": "child-wf"})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrHTTP, out.ErrorCode)
}

func TestSubWorkflowExecutor_AdvancedModeMapping(t *testing.T) {
	loader := &fakeSubLoader{def: &workflow.WorkflowDefinition{ID: "child-wf"}}
	runner := &fakeSubRunner{runFn: func(ctx context.Context, def *workflow.WorkflowDefinition, ec *workflow.ExecutionContext) error {
		ec.SetVariable("result", 42.0)
		return nil
	}}
	exec := NewSubWorkflowExecutor(runner, loader, newTestLogger())
	node := newNode("sub", workflow.KindSubWorkflow, map[string]any{"subWorkflowId": "child-wf"})
	node.ContextConfig = &workflow.ContextConfig{
		Mode:    "advanced",
		Outputs: []workflow.FieldMapping{{Source: "$.result", Target: "finalAnswer"}},
	}
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, 42.0, out.Variables["finalAnswer"])
}
