package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// FileConfig is the file node's kind-specific config (§3).
type FileConfig struct {
	Operation            string `json:"operation"` // read|write|copy|move|delete|exists
	SourcePath            string `json:"sourcePath,omitempty"`
	TargetPath            string `json:"targetPath,omitempty"`
	Content               string `json:"content,omitempty"`
	Encoding              string `json:"encoding,omitempty"`
	Overwrite             bool   `json:"overwrite,omitempty"`
	RequireProjectFolder  bool   `json:"requireProjectFolder,omitempty"`
}

// FileExecutor implements the file node (§4.8).
type FileExecutor struct {
	log *logger.Logger
}

// NewFileExecutor constructs a FileExecutor.
func NewFileExecutor(log *logger.Logger) *FileExecutor {
	return &FileExecutor{log: log}
}

var _ workflow.Executor = (*FileExecutor)(nil)

func (e *FileExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg FileConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}

	source := resolvePath(cfg.SourcePath, ec, e.log)
	target := resolvePath(cfg.TargetPath, ec, e.log)
	content := workflow.Substitute(cfg.Content, ec, e.log)

	if cfg.RequireProjectFolder {
		for _, p := range []string{source, target} {
			if p == "" {
				continue
			}
			if err := checkContained(p, ec.ProjectFolder); err != nil {
				return workflow.FailedOutput(node, workflow.NewError(workflow.ErrAccessDenied, err.Error()).WithNode(node.ID, node.Kind))
			}
		}
	}

	switch cfg.Operation {
	case "read":
		return e.read(node, source)
	case "write":
		return e.write(node, target, content, cfg.Overwrite)
	case "copy":
		return e.copy(node, source, target)
	case "move":
		return e.move(node, source, target)
	case "delete":
		return e.delete(node, source)
	case "exists":
		return e.exists(node, source)
	default:
		return workflow.FailedOutput(node, workflow.NewDefinitionError(fmt.Sprintf("unknown file operation %q", cfg.Operation)).WithNode(node.ID, node.Kind))
	}
}

func resolvePath(p string, ec *workflow.ExecutionContext, log *logger.Logger) string {
	if p == "" {
		return ""
	}
	p = workflow.Substitute(p, ec, log)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(ec.ProjectFolder, p))
}

// checkContained rejects any resolved path escaping root via a leading ".."
// after computing its path-relative form (§3, §8 invariant 4).
func checkContained(resolved, root string) error {
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return fmt.Errorf("path %q is outside project folder: %v", resolved, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q is outside project folder %q", resolved, root)
	}
	return nil
}

func (e *FileExecutor) read(node *workflow.Node, source string) workflow.NodeOutput {
	data, err := os.ReadFile(source)
	if err != nil {
		code := workflow.ErrIO
		if os.IsNotExist(err) {
			code = workflow.ErrNotFound
		} else if os.IsPermission(err) {
			code = workflow.ErrAccessDenied
		}
		return workflow.FailedOutput(node, workflow.NewError(code, err.Error()).WithNode(node.ID, node.Kind))
	}
	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"success":     true,
			"operation":   "read",
			"fileContent": string(data),
			"sourcePath":  source,
		},
		Variables: map[string]any{"fileContent": string(data)},
	}
}

func (e *FileExecutor) write(node *workflow.Node, target, content string, overwrite bool) workflow.NodeOutput {
	finalPath := target
	if !overwrite {
		finalPath = uniquePath(target)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
	}
	if err := os.WriteFile(finalPath, []byte(content), 0o644); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
	}
	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"success":      true,
			"operation":    "write",
			"targetPath":   finalPath,
			"bytesWritten": len(content),
		},
		Variables: map[string]any{"targetPath": finalPath},
	}
}

// uniquePath implements §4.8's write collision policy: name.ext -> name-1.ext,
// name-2.ext, ... until a non-existing path is found.
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func (e *FileExecutor) copy(node *workflow.Node, source, target string) workflow.NodeOutput {
	data, err := os.ReadFile(source)
	if err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
	}
	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"success":    true,
			"operation":  "copy",
			"sourcePath": source,
			"targetPath": target,
		},
	}
}

func (e *FileExecutor) move(node *workflow.Node, source, target string) workflow.NodeOutput {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
	}
	if err := os.Rename(source, target); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
	}
	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"success":    true,
			"operation":  "move",
			"sourcePath": source,
			"targetPath": target,
		},
	}
}

func (e *FileExecutor) delete(node *workflow.Node, source string) workflow.NodeOutput {
	_, statErr := os.Stat(source)
	existed := statErr == nil
	if existed {
		if err := os.Remove(source); err != nil {
			return workflow.FailedOutput(node, workflow.NewError(workflow.ErrIO, err.Error()).WithNode(node.ID, node.Kind))
		}
	}
	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"success":   true,
			"operation": "delete",
			"existed":   existed,
		},
	}
}

func (e *FileExecutor) exists(node *workflow.Node, source string) workflow.NodeOutput {
	info, err := os.Stat(source)
	if err != nil {
		return workflow.NodeOutput{
			NodeID:   node.ID,
			NodeName: node.Name,
			Status:   workflow.StatusSuccess,
			Output: map[string]any{
				"exists":      false,
				"isFile":      false,
				"isDirectory": false,
				"size":        int64(0),
			},
		}
	}
	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"exists":      true,
			"isFile":      !info.IsDir(),
			"isDirectory": info.IsDir(),
			"size":        info.Size(),
		},
	}
}
