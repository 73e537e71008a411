package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// LoopConfig is the loop node's kind-specific config (§3).
type LoopConfig struct {
	LoopType         string   `json:"loopType"` // forEach | while | count
	IteratorVariable string   `json:"iteratorVariable"`
	IndexVariable    string   `json:"indexVariable,omitempty"`
	Collection       string   `json:"collection,omitempty"` // JSONPath, forEach
	WhileCondition   string   `json:"whileCondition,omitempty"`
	Count            int      `json:"count,omitempty"`
	MaxIterations    int      `json:"maxIterations,omitempty"`
	LoopNodes        []string `json:"loopNodes"` // body subgraph, entry first
}

// LoopRunner is the subset of *workflow.Engine the Loop executor depends on:
// nested subgraph traversal plus the engine's configured nesting/iteration
// caps (§9: narrow facade instead of the concrete engine).
type LoopRunner interface {
	workflow.SubgraphRunner
	MaxLoopNesting() int
	DefaultMaxIterations() int
}

// LoopExecutor implements the loop node (§4.4).
type LoopExecutor struct {
	runner LoopRunner
	log    *logger.Logger
}

// NewLoopExecutor constructs a LoopExecutor.
func NewLoopExecutor(runner LoopRunner, log *logger.Logger) *LoopExecutor {
	return &LoopExecutor{runner: runner, log: log}
}

var _ workflow.Executor = (*LoopExecutor)(nil)

func (e *LoopExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg LoopConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}
	if len(cfg.LoopNodes) == 0 {
		return workflow.FailedOutput(node, workflow.NewDefinitionError("loop node has an empty body (loopNodes)").WithNode(node.ID, node.Kind))
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 || maxIter > e.runner.DefaultMaxIterations() {
		maxIter = e.runner.DefaultMaxIterations()
	}

	var collection []any
	if cfg.LoopType == "forEach" {
		raw := workflow.EvaluateJSONPath(cfg.Collection, ec)
		if arr, ok := raw.([]any); ok {
			collection = arr
		}
	}

	var iterations []any
	index := 0
	completed := true

	for {
		terminate, err := e.shouldTerminate(ctx, cfg, ec, index, len(collection), maxIter)
		if err != nil {
			return workflowFailedWithVars(node, err, map[string]any{
				"iterations":     iterations,
				"iterationCount": len(iterations),
				"completed":      false,
			})
		}
		if terminate {
			break
		}

		frame := workflow.LoopFrame{
			LoopNodeID:       node.ID,
			IteratorVariable: cfg.IteratorVariable,
			IndexVariable:    cfg.IndexVariable,
			CurrentIndex:     index,
			TotalItems:       totalItems(cfg.LoopType, collection),
			CollectionData:   collection,
		}
		if err := ec.PushLoopFrame(frame, e.runner.MaxLoopNesting()); err != nil {
			return workflow.FailedOutput(node, err.(*workflow.WorkflowError).WithNode(node.ID, node.Kind))
		}

		if cfg.IteratorVariable != "" {
			switch cfg.LoopType {
			case "forEach":
				if index < len(collection) {
					ec.SetVariable(cfg.IteratorVariable, collection[index])
				}
			default:
				ec.SetVariable(cfg.IteratorVariable, index)
			}
		}
		if cfg.IndexVariable != "" {
			ec.SetVariable(cfg.IndexVariable, index)
		}

		bodyErr := e.runner.RunSubgraph(ctx, ec.Definition, cfg.LoopNodes, ec)
		iterVars := ec.Variables()
		iterations = append(iterations, map[string]any{
			"index":     index,
			"variables": iterVars,
		})
		ec.PopLoopFrame()

		if bodyErr != nil {
			completed = false
			var we *workflow.WorkflowError
			if errors.As(bodyErr, &we) {
				out := workflow.FailedOutput(node, we.WithNode(node.ID, node.Kind))
				out.Variables = map[string]any{
					"iterations":     iterations,
					"iterationCount": len(iterations),
					"completed":      completed,
				}
				return out
			}
			return workflowFailedWithVars(node, bodyErr, map[string]any{
				"iterations":     iterations,
				"iterationCount": len(iterations),
				"completed":      completed,
			})
		}

		index++
	}

	return workflow.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   workflow.StatusSuccess,
		Output: map[string]any{
			"iterations":     iterations,
			"iterationCount": len(iterations),
			"completed":      completed,
		},
		Variables: map[string]any{
			"iterations":     iterations,
			"iterationCount": len(iterations),
			"completed":      completed,
		},
	}
}

func (e *LoopExecutor) shouldTerminate(ctx context.Context, cfg LoopConfig, ec *workflow.ExecutionContext, index, collectionLen, maxIter int) (bool, error) {
	if index >= maxIter {
		return true, nil
	}
	switch cfg.LoopType {
	case "forEach":
		return index >= collectionLen, nil
	case "count":
		return index >= cfg.Count, nil
	case "while":
		if cfg.WhileCondition == "" {
			return true, nil
		}
		ok, err := workflow.EvaluateCondition(cfg.WhileCondition, ec)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, workflow.NewDefinitionError(fmt.Sprintf("unknown loopType %q", cfg.LoopType))
	}
}

func totalItems(loopType string, collection []any) int {
	if loopType == "forEach" {
		return len(collection)
	}
	return -1
}
