package executor

import (
	"context"
	"errors"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// CodeConfig is the code node's kind-specific config (§3).
type CodeConfig struct {
	Language string                `json:"language"` // javascript | python
	Code     string                `json:"code"`
	Sandbox  workflow.SandboxConfig `json:"sandbox,omitempty"`
}

// CodeExecutor implements the code node (§4.10), delegating to the
// Expression Sandbox.
type CodeExecutor struct {
	log *logger.Logger
}

// NewCodeExecutor constructs a CodeExecutor.
func NewCodeExecutor(log *logger.Logger) *CodeExecutor {
	return &CodeExecutor{log: log}
}

var _ workflow.Executor = (*CodeExecutor)(nil)

func (e *CodeExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg CodeConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}
	if !cfg.Sandbox.Enabled {
		e.log.Warn("code node running with sandbox disabled, denylist and capability gates skipped", "node_id", node.ID)
	}

	result, err := workflow.RunCode(ctx, cfg.Language, cfg.Code, ec, cfg.Sandbox)
	if err != nil {
		var we *workflow.WorkflowError
		if !errors.As(err, &we) {
			we = workflow.NewError(workflow.ErrEval, err.Error())
		}
		out := workflow.FailedOutput(node, we.WithNode(node.ID, node.Kind))
		out.Output = map[string]any{"stdout": result.Stdout, "stderr": result.Stderr}
		return out
	}

	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"stdout":      result.Stdout,
			"stderr":      result.Stderr,
			"returnValue": result.ReturnValue,
		},
		Variables: map[string]any{"returnValue": result.ReturnValue},
	}
}
