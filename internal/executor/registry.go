package executor

import (
	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// RegisterAll wires all eight node executors into engine's kind registry
// (§2: "dynamic dispatch via a registry"). loader resolves subworkflow
// references; maxUserInputRejects is the UserInput executor's consecutive-
// rejection ceiling (§4.6, config.Engine.UserInputMaxRejects).
func RegisterAll(engine *workflow.Engine, loader workflow.DefinitionLoader, maxUserInputRejects int, log *logger.Logger) {
	engine.RegisterExecutor(workflow.KindAgent, NewAgentExecutor(log))
	engine.RegisterExecutor(workflow.KindUserInput, NewUserInputExecutor(log, maxUserInputRejects))
	engine.RegisterExecutor(workflow.KindConditional, NewConditionalExecutor(log))
	engine.RegisterExecutor(workflow.KindLoop, NewLoopExecutor(engine, log))
	engine.RegisterExecutor(workflow.KindFile, NewFileExecutor(log))
	engine.RegisterExecutor(workflow.KindHTTP, NewHTTPExecutor(log))
	engine.RegisterExecutor(workflow.KindCode, NewCodeExecutor(log))
	engine.RegisterExecutor(workflow.KindSubWorkflow, NewSubWorkflowExecutor(engine, loader, log))
}
