package executor

import (
	"context"
	"errors"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// ConditionalConfig is the conditional node's kind-specific config (§3).
type ConditionalConfig struct {
	Condition     string `json:"condition"`
	ConditionType string `json:"conditionType"` // "jsonpath" | "javascript"
}

// ConditionalExecutor implements the conditional node (§4.5). The engine's
// selectNextNode reads the "conditionResult" variable this executor writes
// to pick the "true"/"false"-labelled outgoing edge.
type ConditionalExecutor struct {
	log *logger.Logger
}

// NewConditionalExecutor constructs a ConditionalExecutor.
func NewConditionalExecutor(log *logger.Logger) *ConditionalExecutor {
	return &ConditionalExecutor{log: log}
}

var _ workflow.Executor = (*ConditionalExecutor)(nil)

func (e *ConditionalExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg ConditionalConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}

	var result bool
	var err error
	switch cfg.ConditionType {
	case "javascript":
		result, err = workflow.EvaluateJavaScriptCondition(ctx, cfg.Condition, ec, workflow.SandboxConfig{Enabled: true})
	case "jsonpath", "":
		result, err = workflow.EvaluateCondition(cfg.Condition, ec)
	default:
		err = workflow.NewDefinitionError("unknown conditionType " + cfg.ConditionType)
	}

	if err != nil {
		// §4.5, §9 open question 1: a raising condition fails once, it is not
		// silently defaulted to false and the engine's ordinary retry policy
		// (if any retryConfig is set on the node) still applies.
		var we *workflow.WorkflowError
		if !errors.As(err, &we) {
			we = workflow.NewError(workflow.ErrEval, err.Error())
		}
		return workflow.FailedOutput(node, we.WithNode(node.ID, node.Kind))
	}

	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"conditionResult": result,
			"condition":       cfg.Condition,
			"conditionType":   cfg.ConditionType,
		},
		Variables: map[string]any{"conditionResult": result},
	}
}
