// Package executor implements the eight node executors (§4.4-4.11) and
// wires them into a *workflow.Engine's kind registry. Each executor
// satisfies workflow.Executor: it never panics or returns a Go error across
// the engine boundary, only a NodeOutput with Status == StatusFailed.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// AgentConfig is the agent node's kind-specific config (§3).
type AgentConfig struct {
	Agent         string         `json:"agent"`
	Prompt        string         `json:"prompt"`
	SystemPrompt  string         `json:"systemPrompt,omitempty"`
	Provider      map[string]any `json:"provider,omitempty"`
	Gate          bool           `json:"gate,omitempty"`
	GateCondition string         `json:"gateCondition,omitempty"`
}

// AgentExecutor implements the agent node (§4.7).
type AgentExecutor struct {
	log *logger.Logger
}

// NewAgentExecutor constructs an AgentExecutor.
func NewAgentExecutor(log *logger.Logger) *AgentExecutor {
	return &AgentExecutor{log: log}
}

var _ workflow.Executor = (*AgentExecutor)(nil)

func (e *AgentExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg AgentConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}

	// Prompt is mandatory (§4.7, §9: "hidden/implicit prompts are forbidden").
	if cfg.Prompt == "" {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrMissingPrompt, "agent node has no prompt").WithNode(node.ID, node.Kind))
	}

	prompt := workflow.Substitute(cfg.Prompt, ec, e.log)
	systemPrompt := cfg.SystemPrompt
	if systemPrompt != "" {
		systemPrompt = workflow.Substitute(systemPrompt, ec, e.log)
	} else {
		agent := cfg.Agent
		if agent == "" {
			agent = node.Name
		}
		systemPrompt = fmt.Sprintf("You are %s, an AI assistant.", agent)
	}

	result, err := ec.Provider.ExecutePrompt(ctx, cfg.Provider, prompt, systemPrompt)
	if err != nil {
		var we *workflow.WorkflowError
		if errors.As(err, &we) {
			return workflow.FailedOutput(node, we.WithNode(node.ID, node.Kind))
		}
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrProvider, err.Error()).WithNode(node.ID, node.Kind))
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "prompt provider reported failure"
		}
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrProvider, msg).WithNode(node.ID, node.Kind))
	}

	vars := map[string]any{"output": result.Output}
	vars[node.Name+"_output"] = result.Output
	if parsed, ok := tryParseObject(result.Output); ok {
		vars["parsed"] = parsed
	}

	// Gate and advanced-mode output mappings both need to see this node's own
	// output through the Context Manager's JSONPath/condition evaluators,
	// which read live ec state — stash it before evaluating either.
	for k, v := range vars {
		ec.SetVariable(k, v)
	}

	if node.ContextConfig != nil && node.ContextConfig.Mode == "advanced" {
		for _, m := range node.ContextConfig.Outputs {
			raw := workflow.EvaluateMapping(m.Source, ec)
			if m.Transform != "" {
				transformed, err := workflow.EvaluateTransform(m.Transform, raw, ec)
				if err != nil {
					return workflow.FailedOutput(node, err.(*workflow.WorkflowError).WithNode(node.ID, node.Kind))
				}
				raw = transformed
			}
			vars[m.Target] = raw
			ec.SetVariable(m.Target, raw)
		}
	}

	if cfg.Gate {
		ok, err := workflow.EvaluateCondition(cfg.GateCondition, ec)
		if err != nil {
			return workflowFailedWithVars(node, err, vars)
		}
		if !ok {
			out := workflow.FailedOutput(node, workflow.NewError(workflow.ErrGate, "Gate condition not met").WithNode(node.ID, node.Kind))
			out.Variables = vars
			out.Output = result.Output
			return out
		}
	}

	return workflow.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    workflow.StatusSuccess,
		Output:    result.Output,
		Variables: vars,
		Metadata:  usageMetadata(result.Usage),
	}
}

func workflowFailedWithVars(node *workflow.Node, err error, vars map[string]any) workflow.NodeOutput {
	var we *workflow.WorkflowError
	if !errors.As(err, &we) {
		we = workflow.NewError(workflow.ErrEval, err.Error())
	}
	out := workflow.FailedOutput(node, we.WithNode(node.ID, node.Kind))
	out.Variables = vars
	return out
}

func usageMetadata(u *workflow.Usage) map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		"promptTokens":     u.PromptTokens,
		"completionTokens": u.CompletionTokens,
		"totalTokens":      u.TotalTokens,
	}
}

// tryParseObject attempts to parse a string output as a JSON object, for the
// agent node's "parsed" exposure (§4.7 simple mode).
func tryParseObject(output string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(output), &m); err != nil {
		return nil, false
	}
	return m, true
}
