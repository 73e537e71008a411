package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/logger"
)

// fakeExecutor lets engine tests drive traversal without the real node
// executors (package executor depends on this package, so it cannot be
// imported here).
type fakeExecutor struct {
	fn func(ctx context.Context, node *Node, ec *ExecutionContext) NodeOutput
}

func (f *fakeExecutor) Execute(ctx context.Context, node *Node, ec *ExecutionContext) NodeOutput {
	return f.fn(ctx, node, ec)
}

func succeed(vars map[string]any) func(context.Context, *Node, *ExecutionContext) NodeOutput {
	return func(ctx context.Context, node *Node, ec *ExecutionContext) NodeOutput {
		return NodeOutput{NodeID: node.ID, NodeName: node.Name, Status: StatusSuccess, Variables: vars}
	}
}

func testLogger() *logger.Logger { return logger.New("error", "text") }

func TestRunGraph_LinearSuccess(t *testing.T) {
	def := &WorkflowDefinition{
		ID: "wf",
		Nodes: []Node{
			{ID: "a", Kind: KindHTTP},
			{ID: "b", Kind: KindHTTP},
		},
		Edges: []Edge{{FromNodeID: "a", ToNodeID: "b"}},
	}
	eng := NewEngine(nil, nil, nil, testLogger())
	eng.RegisterExecutor(KindHTTP, &fakeExecutor{fn: succeed(map[string]any{"touched": true})})

	ec := NewExecutionContext("inst", "wf", "", nil)
	err := eng.RunWorkflow(context.Background(), def, ec)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ec.CompletedNodes())
	v, _ := ec.Variable("touched")
	assert.Equal(t, true, v)
}

func TestRunGraph_ConditionalBranching(t *testing.T) {
	def := &WorkflowDefinition{
		ID: "wf",
		Nodes: []Node{
			{ID: "cond", Kind: KindConditional},
			{ID: "onTrue", Kind: KindHTTP},
			{ID: "onFalse", Kind: KindHTTP},
		},
		Edges: []Edge{
			{FromNodeID: "cond", ToNodeID: "onTrue", Label: "true"},
			{FromNodeID: "cond", ToNodeID: "onFalse", Label: "false"},
		},
	}
	eng := NewEngine(nil, nil, nil, testLogger())
	eng.RegisterExecutor(KindConditional, &fakeExecutor{fn: succeed(map[string]any{"conditionResult": true})})
	eng.RegisterExecutor(KindHTTP, &fakeExecutor{fn: succeed(nil)})

	ec := NewExecutionContext("inst", "wf", "", nil)
	err := eng.RunWorkflow(context.Background(), def, ec)
	require.NoError(t, err)
	assert.Equal(t, []string{"cond", "onTrue"}, ec.CompletedNodes())
}

func TestExecuteWithRetry_RetriesUntilSuccess(t *testing.T) {
	def := &WorkflowDefinition{
		ID:    "wf",
		Nodes: []Node{{ID: "a", Kind: KindHTTP, RetryConfig: &RetryConfig{MaxRetries: 2, RetryDelayMs: 0, BackoffMultiplier: 1}}},
	}
	attempts := 0
	eng := NewEngine(nil, RealClock{}, nil, testLogger())
	eng.RegisterExecutor(KindHTTP, &fakeExecutor{fn: func(ctx context.Context, node *Node, ec *ExecutionContext) NodeOutput {
		attempts++
		if attempts < 3 {
			werr := NewError(ErrHTTP, "temporary failure")
			werr.Retryable = true
			return FailedOutput(node, werr)
		}
		return NodeOutput{NodeID: node.ID, Status: StatusSuccess}
	}})

	ec := NewExecutionContext("inst", "wf", "", nil)
	err := eng.RunWorkflow(context.Background(), def, ec)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	def := &WorkflowDefinition{
		ID:    "wf",
		Nodes: []Node{{ID: "a", Kind: KindHTTP, RetryConfig: &RetryConfig{MaxRetries: 5, RetryDelayMs: 0, BackoffMultiplier: 1}}},
	}
	attempts := 0
	eng := NewEngine(nil, RealClock{}, nil, testLogger())
	eng.RegisterExecutor(KindHTTP, &fakeExecutor{fn: func(ctx context.Context, node *Node, ec *ExecutionContext) NodeOutput {
		attempts++
		return FailedOutput(node, NewError(ErrDefinition, "bad config"))
	}})

	ec := NewExecutionContext("inst", "wf", "", nil)
	err := eng.RunWorkflow(context.Background(), def, ec)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestStartInstance_CancelPropagates(t *testing.T) {
	def := &WorkflowDefinition{ID: "wf", Nodes: []Node{{ID: "a", Kind: KindHTTP}}}
	blockUntilCancel := make(chan struct{})
	eng := NewEngine(&fakeLoader{def: def}, nil, nil, testLogger())
	eng.RegisterExecutor(KindHTTP, &fakeExecutor{fn: func(ctx context.Context, node *Node, ec *ExecutionContext) NodeOutput {
		<-ctx.Done()
		close(blockUntilCancel)
		return cancelledOutput(node)
	}})

	instanceID, err := eng.StartInstance(context.Background(), "wf", "latest", nil, "", nil, nil)
	require.NoError(t, err)

	ok := eng.CancelInstance(instanceID)
	assert.True(t, ok)

	<-blockUntilCancel
	result, err := eng.AwaitInstance(context.Background(), instanceID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
}

type fakeLoader struct{ def *WorkflowDefinition }

func (f *fakeLoader) LoadWorkflow(ctx context.Context, workflowID, version string) (*WorkflowDefinition, error) {
	return f.def, nil
}
