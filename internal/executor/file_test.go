package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/workflow"
)

func TestFileExecutor_WriteThenRead(t *testing.T) {
	dir := t.TempDir()
	exec := NewFileExecutor(newTestLogger())
	ec := workflow.NewExecutionContext("inst", "wf", dir, nil)

	writeNode := newNode("w", workflow.KindFile, map[string]any{
		"operation":  "write",
		"targetPath": "out.txt",
		"content":    "hello world",
	})
	out := exec.Execute(context.Background(), writeNode, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)

	readNode := newNode("r", workflow.KindFile, map[string]any{
		"operation":  "read",
		"sourcePath": "out.txt",
	})
	out = exec.Execute(context.Background(), readNode, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, "hello world", out.Variables["fileContent"])
}

func TestFileExecutor_WriteCollisionAutoIncrements(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out.txt"), []byte("old"), 0o644))

	exec := NewFileExecutor(newTestLogger())
	ec := workflow.NewExecutionContext("inst", "wf", dir, nil)
	node := newNode("w", workflow.KindFile, map[string]any{
		"operation":  "write",
		"targetPath": "out.txt",
		"content":    "new",
		"overwrite":  false,
	})
	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, filepath.Join(dir, "out-1.txt"), out.Variables["targetPath"])

	original, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(original))
}

func TestFileExecutor_RequireProjectFolderRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	exec := NewFileExecutor(newTestLogger())
	ec := workflow.NewExecutionContext("inst", "wf", dir, nil)
	node := newNode("w", workflow.KindFile, map[string]any{
		"operation":            "write",
		"targetPath":           "../escape.txt",
		"content":              "nope",
		"requireProjectFolder": true,
	})
	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrAccessDenied, out.ErrorCode)
}

func TestFileExecutor_DeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	exec := NewFileExecutor(newTestLogger())
	ec := workflow.NewExecutionContext("inst", "wf", dir, nil)
	node := newNode("d", workflow.KindFile, map[string]any{
		"operation":  "delete",
		"sourcePath": "never-existed.txt",
	})
	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, false, out.Output.(map[string]any)["existed"])
}

func TestFileExecutor_Exists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "present.txt"), []byte("x"), 0o644))
	exec := NewFileExecutor(newTestLogger())
	ec := workflow.NewExecutionContext("inst", "wf", dir, nil)
	node := newNode("e", workflow.KindFile, map[string]any{
		"operation":  "exists",
		"sourcePath": "present.txt",
	})
	out := exec.Execute(context.Background(), node, ec)
	require.Equal(t, workflow.StatusSuccess, out.Status)
	assert.Equal(t, true, out.Output.(map[string]any)["exists"])
}
