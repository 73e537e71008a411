package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowDefinition_EntryNodeID(t *testing.T) {
	def := &WorkflowDefinition{
		ID: "wf-1",
		Nodes: []Node{
			{ID: "a", Kind: KindAgent},
			{ID: "b", Kind: KindAgent},
		},
		Edges: []Edge{{FromNodeID: "a", ToNodeID: "b"}},
	}
	entry, err := def.EntryNodeID()
	require.NoError(t, err)
	assert.Equal(t, "a", entry)
}

func TestWorkflowDefinition_EntryNodeID_Ambiguous(t *testing.T) {
	def := &WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []Node{{ID: "a", Kind: KindAgent}, {ID: "b", Kind: KindAgent}},
	}
	_, err := def.EntryNodeID()
	require.Error(t, err)
	we, ok := err.(*WorkflowError)
	require.True(t, ok)
	assert.Equal(t, ErrDefinition, we.Code)
}

func TestWorkflowDefinition_Validate_UnknownKind(t *testing.T) {
	def := &WorkflowDefinition{
		ID:    "wf-1",
		Nodes: []Node{{ID: "a", Kind: "bogus"}},
	}
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node kind")
}

func TestWorkflowDefinition_Validate_AmbiguousBranch(t *testing.T) {
	def := &WorkflowDefinition{
		ID: "wf-1",
		Nodes: []Node{
			{ID: "a", Kind: KindHTTP},
			{ID: "b", Kind: KindHTTP},
			{ID: "c", Kind: KindHTTP},
		},
		Edges: []Edge{
			{FromNodeID: "a", ToNodeID: "b"},
			{FromNodeID: "a", ToNodeID: "c"},
		},
	}
	err := def.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no distinguishing label")
}

func TestWorkflowDefinition_Validate_ConditionalSkipsAmbiguityCheck(t *testing.T) {
	def := &WorkflowDefinition{
		ID: "wf-1",
		Nodes: []Node{
			{ID: "a", Kind: KindConditional},
			{ID: "b", Kind: KindHTTP},
			{ID: "c", Kind: KindHTTP},
		},
		Edges: []Edge{
			{FromNodeID: "a", ToNodeID: "b", Label: "true"},
			{FromNodeID: "a", ToNodeID: "c", Label: "false"},
		},
	}
	assert.NoError(t, def.Validate())
}

func TestExecutionContext_VariablesAndOutputs(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "/tmp/proj", nil)
	ec.SetVariable("x", 1)
	v, ok := ec.Variable("x")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	ec.MergeVariables(map[string]any{"y": "hello", "x": 2})
	assert.Equal(t, 2, mustVar(t, ec, "x"))
	assert.Equal(t, "hello", mustVar(t, ec, "y"))

	ec.recordCompletion("node-a", NodeOutput{NodeID: "node-a", Status: StatusSuccess})
	out, ok := ec.PreviousOutput("node-a")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []string{"node-a"}, ec.CompletedNodes())

	// recording the same node again does not duplicate completedNodes (§3 invariant)
	ec.recordCompletion("node-a", NodeOutput{NodeID: "node-a", Status: StatusFailed})
	assert.Equal(t, []string{"node-a"}, ec.CompletedNodes())
	out, _ = ec.PreviousOutput("node-a")
	assert.Equal(t, StatusFailed, out.Status)
}

func TestExecutionContext_LoopFrameNestingLimit(t *testing.T) {
	ec := NewExecutionContext("inst-1", "wf-1", "", nil)
	require.NoError(t, ec.PushLoopFrame(LoopFrame{LoopNodeID: "l1"}, 2))
	require.NoError(t, ec.PushLoopFrame(LoopFrame{LoopNodeID: "l2"}, 2))
	err := ec.PushLoopFrame(LoopFrame{LoopNodeID: "l3"}, 2)
	require.Error(t, err)
	assert.Len(t, ec.LoopStack(), 2)

	ec.PopLoopFrame()
	assert.Len(t, ec.LoopStack(), 1)
	assert.Equal(t, "l1", ec.LoopStack()[0].LoopNodeID)
}

func mustVar(t *testing.T, ec *ExecutionContext, name string) any {
	t.Helper()
	v, ok := ec.Variable(name)
	require.True(t, ok)
	return v
}
