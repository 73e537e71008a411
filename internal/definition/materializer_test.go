package definition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/logger"
)

func testLogger() *logger.Logger { return logger.New("error", "text") }

const baseWorkflowJSON = `{
	"id": "wf-1",
	"version": "1",
	"nodes": [{"id": "a", "kind": "http", "name": "a"}],
	"edges": []
}`

func TestMaterialize_DAGVersionPassthrough(t *testing.T) {
	m := NewMaterializer(testLogger())
	components := &WorkflowComponents{
		WorkflowID:  "wf-1",
		Version:     "1",
		Kind:        KindDAGVersion,
		BaseContent: []byte(baseWorkflowJSON),
	}
	def, err := m.Materialize(context.Background(), components)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", def.ID)
	_, ok := def.NodeByID("a")
	assert.True(t, ok)
}

func TestMaterialize_PatchSetAddsNode(t *testing.T) {
	m := NewMaterializer(testLogger())
	patch := `[
		{"op": "add", "path": "/nodes/-", "value": {"id": "b", "kind": "http", "name": "b"}},
		{"op": "add", "path": "/edges/-", "value": {"fromNodeId": "a", "toNodeId": "b"}}
	]`
	components := &WorkflowComponents{
		WorkflowID:  "wf-1",
		Version:     "2",
		Kind:        KindPatchSet,
		BaseContent: []byte(baseWorkflowJSON),
		PatchChain: []PatchInfo{
			{Seq: 1, ArtifactID: "patch-1", Content: []byte(patch)},
		},
	}
	def, err := m.Materialize(context.Background(), components)
	require.NoError(t, err)
	_, ok := def.NodeByID("b")
	assert.True(t, ok)
	assert.Len(t, def.OutgoingEdges("a"), 1)
}

func TestMaterialize_NoPatchesReturnsBase(t *testing.T) {
	m := NewMaterializer(testLogger())
	components := &WorkflowComponents{
		WorkflowID:  "wf-1",
		Version:     "1",
		Kind:        KindPatchSet,
		BaseContent: []byte(baseWorkflowJSON),
	}
	def, err := m.Materialize(context.Background(), components)
	require.NoError(t, err)
	assert.Len(t, def.Nodes, 1)
}

func TestMaterialize_InvalidResultFailsValidation(t *testing.T) {
	m := NewMaterializer(testLogger())
	patch := `[{"op": "add", "path": "/nodes/-", "value": {"id": "bad", "kind": "not-a-kind", "name": "bad"}}]`
	components := &WorkflowComponents{
		WorkflowID:  "wf-1",
		Version:     "2",
		Kind:        KindPatchSet,
		BaseContent: []byte(baseWorkflowJSON),
		PatchChain:  []PatchInfo{{Seq: 1, ArtifactID: "p1", Content: []byte(patch)}},
	}
	_, err := m.Materialize(context.Background(), components)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node kind")
}

func TestValidatePatch(t *testing.T) {
	m := NewMaterializer(testLogger())
	good := `[{"op": "replace", "path": "/version", "value": "2"}]`
	assert.NoError(t, m.ValidatePatch([]byte(baseWorkflowJSON), []byte(good)))

	bad := `[{"op": "remove", "path": "/nonexistent"}]`
	assert.Error(t, m.ValidatePatch([]byte(baseWorkflowJSON), []byte(bad)))
}
