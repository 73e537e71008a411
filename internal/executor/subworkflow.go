package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// SubWorkflowConfig is the subworkflow node's kind-specific config (§3).
type SubWorkflowConfig struct {
	SubWorkflowID      string `json:"subWorkflowId"`
	SubWorkflowVersion string `json:"subWorkflowVersion,omitempty"`
}

const defaultSubWorkflowTimeout = 5 * time.Minute

// SubWorkflowRunner is the facade the SubWorkflow executor depends on: child
// traversal on the same engine instance, no second engine (§4.11, §9).
type SubWorkflowRunner interface {
	workflow.SubgraphRunner
}

// SubWorkflowExecutor implements the subworkflow node (§4.11).
type SubWorkflowExecutor struct {
	runner SubWorkflowRunner
	loader workflow.DefinitionLoader
	log    *logger.Logger
}

// NewSubWorkflowExecutor constructs a SubWorkflowExecutor.
func NewSubWorkflowExecutor(runner SubWorkflowRunner, loader workflow.DefinitionLoader, log *logger.Logger) *SubWorkflowExecutor {
	return &SubWorkflowExecutor{runner: runner, loader: loader, log: log}
}

var _ workflow.Executor = (*SubWorkflowExecutor)(nil)

func (e *SubWorkflowExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg SubWorkflowConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}
	if cfg.SubWorkflowID == "" {
		return workflow.FailedOutput(node, workflow.NewDefinitionError("subworkflow node missing subWorkflowId").WithNode(node.ID, node.Kind))
	}
	version := cfg.SubWorkflowVersion
	if version == "" {
		version = "latest"
	}

	def, err := e.loader.LoadWorkflow(ctx, cfg.SubWorkflowID, version)
	if err != nil {
		return workflowFailedLoad(node, err)
	}

	childInstanceID := fmt.Sprintf("%s-sub-%s", ec.InstanceID, node.ID)
	childVars := e.buildChildVariables(node, ec)

	child := workflow.NewExecutionContext(childInstanceID, cfg.SubWorkflowID, ec.ProjectFolder, childVars)
	child.Provider = ec.Provider
	child.Loader = ec.Loader
	child.Bridge = ec.Bridge
	child.Clock = ec.Clock
	child.UserID = ec.UserID
	child.SeriesID = ec.SeriesID

	runCtx := ctx
	if node.TimeoutMs == nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, defaultSubWorkflowTimeout)
		defer cancel()
	}

	runErr := e.runner.RunChildWorkflow(runCtx, def, child)

	vars := e.extractOutputs(node, child)

	if runErr != nil {
		var we *workflow.WorkflowError
		if errors.As(runErr, &we) {
			out := workflow.FailedOutput(node, we.WithNode(node.ID, node.Kind))
			out.Variables = vars
			return out
		}
		code := workflow.ErrEval
		if runCtx.Err() == context.DeadlineExceeded {
			code = workflow.ErrTimeout
		} else if runCtx.Err() == context.Canceled {
			code = workflow.ErrCancelled
		}
		out := workflow.FailedOutput(node, workflow.NewError(code, runErr.Error()).WithNode(node.ID, node.Kind))
		out.Variables = vars
		return out
	}

	return workflow.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    workflow.StatusSuccess,
		Output:    vars["output"],
		Variables: vars,
	}
}

// buildChildVariables implements the input side of §4.11's variable
// passing: simple mode copies every parent variable plus a _parentOutputs
// mirror; advanced mode evaluates each input mapping's source against the
// parent context and binds it to the mapping's target in the child.
func (e *SubWorkflowExecutor) buildChildVariables(node *workflow.Node, parent *workflow.ExecutionContext) map[string]any {
	if node.ContextConfig != nil && node.ContextConfig.Mode == "advanced" {
		vars := make(map[string]any, len(node.ContextConfig.Inputs))
		for _, m := range node.ContextConfig.Inputs {
			vars[m.Target] = workflow.EvaluateMapping(m.Source, parent)
		}
		return vars
	}

	vars := parent.Variables()
	vars["_parentOutputs"] = parent.PreviousOutputs()
	return vars
}

// extractOutputs implements the output side of §4.11: simple mode exposes
// the whole child result (final variables) as "output"; advanced mode
// evaluates each output mapping's source against the child context (§9 open
// question 2: sees only the child's variables, not its full context).
func (e *SubWorkflowExecutor) extractOutputs(node *workflow.Node, child *workflow.ExecutionContext) map[string]any {
	if node.ContextConfig != nil && node.ContextConfig.Mode == "advanced" {
		vars := make(map[string]any, len(node.ContextConfig.Outputs))
		for _, m := range node.ContextConfig.Outputs {
			raw := workflow.EvaluateMapping(m.Source, child)
			if m.Transform != "" {
				if transformed, err := workflow.EvaluateTransform(m.Transform, raw, child); err == nil {
					raw = transformed
				}
			}
			vars[m.Target] = raw
		}
		return vars
	}

	return map[string]any{"output": child.Variables()}
}

func workflowFailedLoad(node *workflow.Node, err error) workflow.NodeOutput {
	var we *workflow.WorkflowError
	if errors.As(err, &we) {
		return workflow.FailedOutput(node, we.WithNode(node.ID, node.Kind))
	}
	return workflow.FailedOutput(node, workflow.NewError(workflow.ErrNotFound, err.Error()).WithNode(node.ID, node.Kind))
}
