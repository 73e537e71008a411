package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/telemetry"
)

// Executor is the uniform per-node-kind contract (§2, §9: "dynamic dispatch
// via a registry"). Implementations live in package executor; they never
// throw across this boundary — failure is NodeOutput.Status == StatusFailed.
type Executor interface {
	Execute(ctx context.Context, node *Node, ec *ExecutionContext) NodeOutput
}

// SubgraphRunner is the narrow facade the Loop and SubWorkflow executors
// depend on instead of the concrete *Engine (§9: "invert cyclic
// references"). *Engine satisfies it.
type SubgraphRunner interface {
	RunSubgraph(ctx context.Context, def *WorkflowDefinition, nodeIDs []string, ec *ExecutionContext) error
	RunChildWorkflow(ctx context.Context, def *WorkflowDefinition, ec *ExecutionContext) error
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithMaxLoopNesting overrides the default max loop-stack depth (16, §3).
func WithMaxLoopNesting(n int) EngineOption {
	return func(e *Engine) { e.maxLoopNesting = n }
}

// WithDefaultMaxIterations overrides the default hard iteration cap (1000, §4.4).
func WithDefaultMaxIterations(n int) EngineOption {
	return func(e *Engine) { e.defaultMaxIterations = n }
}

// WithTelemetry attaches per-instance duration/event recording. Optional;
// nil (the default) disables it.
func WithTelemetry(t *telemetry.Telemetry) EngineOption {
	return func(e *Engine) { e.telemetry = t }
}

// Engine drives workflow instances to completion. One Engine serves many
// concurrently running instances; each instance owns its ExecutionContext
// exclusively (§5).
type Engine struct {
	loader    DefinitionLoader
	clock     Clock
	emitter   EventEmitter
	log       *logger.Logger
	telemetry *telemetry.Telemetry

	registry map[NodeKind]Executor

	maxLoopNesting       int
	defaultMaxIterations int

	instances sync.Map // instanceID -> *instanceHandle
}

type instanceHandle struct {
	ec     *ExecutionContext
	def    *WorkflowDefinition
	status InstanceStatus
	mu     sync.Mutex
	done   chan struct{}
	result InstanceResult
	cancel context.CancelFunc
}

// InstanceResult is the awaitInstance() return shape (§6).
type InstanceResult struct {
	Status         InstanceStatus
	FinalVariables map[string]any
	Outputs        map[string]NodeOutput
}

// NewEngine constructs an Engine. clock and emitter default to RealClock{}
// and NoopEmitter{} if nil.
func NewEngine(loader DefinitionLoader, clock Clock, emitter EventEmitter, log *logger.Logger, opts ...EngineOption) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	e := &Engine{
		loader:                loader,
		clock:                 clock,
		emitter:               emitter,
		log:                   log,
		registry:              make(map[NodeKind]Executor),
		maxLoopNesting:        16,
		defaultMaxIterations:  1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterExecutor wires one node kind to its implementation.
func (e *Engine) RegisterExecutor(kind NodeKind, ex Executor) {
	e.registry[kind] = ex
}

// MaxLoopNesting exposes the configured nesting cap for executors (Loop).
func (e *Engine) MaxLoopNesting() int { return e.maxLoopNesting }

// DefaultMaxIterations exposes the configured hard iteration cap.
func (e *Engine) DefaultMaxIterations() int { return e.defaultMaxIterations }

// Clock exposes the engine's clock so executors can take cancellable sleeps.
func (e *Engine) Clock() Clock { return e.clock }

// StartInstance loads workflowId@version, constructs a fresh
// ExecutionContext, and begins traversal in its own goroutine. Returns the
// new instanceId immediately; the caller observes progress via
// awaitInstance, cancelInstance, or the event stream.
func (e *Engine) StartInstance(ctx context.Context, workflowID, version string, initialVariables map[string]any, projectFolder string, provider PromptProvider, bridge UserInputBridge) (string, error) {
	def, err := e.loader.LoadWorkflow(ctx, workflowID, version)
	if err != nil {
		return "", err
	}
	if err := def.Validate(); err != nil {
		return "", err
	}

	instanceID := uuid.NewString()
	ec := NewExecutionContext(instanceID, workflowID, projectFolder, initialVariables)
	ec.Provider = provider
	ec.Loader = e.loader
	ec.Bridge = bridge
	ec.Clock = e.clock

	runCtx, cancel := context.WithCancel(context.Background())
	h := &instanceHandle{
		ec:     ec,
		def:    def,
		status: StatusCreated,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	e.instances.Store(instanceID, h)

	go e.run(runCtx, h)

	return instanceID, nil
}

func (e *Engine) run(ctx context.Context, h *instanceHandle) {
	instLog := e.log.WithInstanceID(h.ec.InstanceID)
	instLog.Info("instance running", "workflow_id", h.ec.WorkflowID)
	startedAt := time.Now()

	h.setStatus(StatusRunning)

	err := e.RunWorkflow(ctx, h.def, h.ec)

	var final InstanceStatus
	switch {
	case ctx.Err() != nil:
		final = StatusCancelled
		instLog.Info("instance cancelled")
		e.emitter.Emit(Event{Type: EventInstanceCancelled, InstanceID: h.ec.InstanceID, Timestamp: e.clock.Now()})
	case err != nil:
		final = StatusFailedInst
		instLog.Error("instance failed", "error", err)
		e.emitter.Emit(Event{Type: EventInstanceFailed, InstanceID: h.ec.InstanceID, Timestamp: e.clock.Now(), Payload: err.Error()})
	default:
		final = StatusSucceeded
		instLog.Info("instance succeeded")
		e.emitter.Emit(Event{Type: EventInstanceSucceeded, InstanceID: h.ec.InstanceID, Timestamp: e.clock.Now()})
	}

	if e.telemetry != nil {
		e.telemetry.RecordEvent("instance_"+strings.ToLower(string(final)), map[string]any{"instance_id": h.ec.InstanceID, "workflow_id": h.ec.WorkflowID})
		e.telemetry.RecordDuration("instance_run", startedAt)
	}

	h.result = InstanceResult{
		Status:         final,
		FinalVariables: h.ec.Variables(),
		Outputs:        h.ec.PreviousOutputs(),
	}
	h.setStatus(final)
	close(h.done)
}

func (h *instanceHandle) setStatus(s InstanceStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

func (h *instanceHandle) getStatus() InstanceStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// CancelInstance signals cancellation for a running instance. Returns false
// if the instance is unknown.
func (e *Engine) CancelInstance(instanceID string) bool {
	v, ok := e.instances.Load(instanceID)
	if !ok {
		return false
	}
	h := v.(*instanceHandle)
	h.cancel()
	return true
}

// AwaitInstance blocks until the instance reaches a terminal state or ctx
// is cancelled.
func (e *Engine) AwaitInstance(ctx context.Context, instanceID string) (InstanceResult, error) {
	v, ok := e.instances.Load(instanceID)
	if !ok {
		return InstanceResult{}, NewError(ErrNotFound, fmt.Sprintf("instance %q not found", instanceID))
	}
	h := v.(*instanceHandle)
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return InstanceResult{}, ctx.Err()
	}
}

// InstanceSnapshot returns the current (possibly in-flight) state of an
// instance without waiting for completion.
func (e *Engine) InstanceSnapshot(instanceID string) (InstanceStatus, Snapshot, error) {
	v, ok := e.instances.Load(instanceID)
	if !ok {
		return "", Snapshot{}, NewError(ErrNotFound, fmt.Sprintf("instance %q not found", instanceID))
	}
	h := v.(*instanceHandle)
	return h.getStatus(), h.ec.Snapshot(), nil
}

// RunWorkflow runs def from its entry node to a terminal node on ec. Used
// both for the top-level instance and recursively for sub-workflow children
// (§4.11), which construct their own child ExecutionContext over the same
// Engine.
func (e *Engine) RunWorkflow(ctx context.Context, def *WorkflowDefinition, ec *ExecutionContext) error {
	entry, err := def.EntryNodeID()
	if err != nil {
		return err
	}
	ec.Definition = def
	return e.runGraph(ctx, def, nil, entry, ec)
}

// RunChildWorkflow satisfies SubgraphRunner for the SubWorkflow executor.
func (e *Engine) RunChildWorkflow(ctx context.Context, def *WorkflowDefinition, ec *ExecutionContext) error {
	return e.RunWorkflow(ctx, def, ec)
}

// RunSubgraph runs only nodeIDs (and the edges among them) starting at
// nodeIDs[0], for the Loop executor's body traversal (§4.4). Variables
// written by the body are visible in ec immediately — the body shares the
// parent's ExecutionContext, it does not get its own.
func (e *Engine) RunSubgraph(ctx context.Context, def *WorkflowDefinition, nodeIDs []string, ec *ExecutionContext) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		allowed[id] = true
	}
	return e.runGraph(ctx, def, allowed, nodeIDs[0], ec)
}

// runGraph is the traversal algorithm of §4.3, restricted to `allowed` node
// ids when non-nil (loop body subgraphs).
func (e *Engine) runGraph(ctx context.Context, def *WorkflowDefinition, allowed map[string]bool, startNodeID string, ec *ExecutionContext) error {
	currentID := startNodeID

	for currentID != "" {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		node, ok := def.NodeByID(currentID)
		if !ok {
			return NewDefinitionError(fmt.Sprintf("unknown node %q", currentID))
		}

		ex, ok := e.registry[node.Kind]
		if !ok {
			return NewDefinitionError(fmt.Sprintf("no executor registered for kind %q", node.Kind))
		}

		e.emitter.Emit(Event{Type: EventNodeStarted, InstanceID: ec.InstanceID, NodeID: node.ID, Timestamp: e.clock.Now()})

		out := e.executeWithRetry(ctx, node, ec, ex)
		out.Timestamp = e.clock.Now()
		if out.NodeName == "" {
			out.NodeName = node.Name
		}

		ec.MergeVariables(out.Variables)
		ec.recordCompletion(node.ID, out)

		if out.Status == StatusFailed {
			e.emitter.Emit(Event{Type: EventNodeFailed, InstanceID: ec.InstanceID, NodeID: node.ID, Timestamp: e.clock.Now(), Payload: out.Error})
			return &WorkflowError{Code: out.ErrorCode, Message: out.Error, NodeID: node.ID, NodeKind: string(node.Kind), Retryable: out.Retryable}
		}
		e.emitter.Emit(Event{Type: EventNodeCompleted, InstanceID: ec.InstanceID, NodeID: node.ID, Timestamp: e.clock.Now()})

		next, err := e.selectNextNode(def, node, out, allowed)
		if err != nil {
			return err
		}
		currentID = next
	}

	return nil
}

// selectNextNode implements §4.3.2: conditional nodes branch on
// conditionResult, everything else follows its single outgoing edge.
func (e *Engine) selectNextNode(def *WorkflowDefinition, node *Node, out NodeOutput, allowed map[string]bool) (string, error) {
	edges := def.OutgoingEdges(node.ID)
	if allowed != nil {
		filtered := edges[:0]
		for _, edge := range edges {
			if allowed[edge.ToNodeID] {
				filtered = append(filtered, edge)
			}
		}
		edges = filtered
	}
	if len(edges) == 0 {
		return "", nil
	}

	if node.Kind == KindConditional {
		b, _ := out.Variables["conditionResult"].(bool)
		label := "false"
		if b {
			label = "true"
		}
		for _, edge := range edges {
			if edge.Label == label {
				return edge.ToNodeID, nil
			}
		}
		return "", NewDefinitionError(fmt.Sprintf("conditional node %q has no %q-labelled outgoing edge", node.ID, label))
	}

	if len(edges) == 1 {
		return edges[0].ToNodeID, nil
	}

	for _, edge := range edges {
		if edge.Label != "" {
			return edge.ToNodeID, nil
		}
	}
	return "", NewDefinitionError(fmt.Sprintf("node %q has multiple outgoing edges with no distinguishing label", node.ID))
}

// executeWithRetry wraps one node execution in the retry/timeout/
// cancellation policy of §4.3.1.
func (e *Engine) executeWithRetry(ctx context.Context, node *Node, ec *ExecutionContext, ex Executor) NodeOutput {
	maxAttempts := 1
	var rc *RetryConfig
	if node.RetryConfig != nil {
		rc = node.RetryConfig
		maxAttempts = 1 + rc.MaxRetries
	}

	var last NodeOutput
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delayMs := float64(rc.RetryDelayMs) * math.Pow(rc.BackoffMultiplier, float64(attempt-2))
			if err := e.clock.Sleep(ctx, time.Duration(delayMs)*time.Millisecond); err != nil {
				return cancelledOutput(node)
			}
		}

		if ctx.Err() != nil {
			return cancelledOutput(node)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if node.TimeoutMs != nil {
			attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(*node.TimeoutMs)*time.Millisecond)
		}

		out := ex.Execute(attemptCtx, node, ec)
		if cancel != nil {
			cancel()
		}

		if out.Status != StatusFailed {
			return out
		}
		if out.ErrorCode == "" {
			out.ErrorCode = ErrEval
		}
		last = out
		if !out.Retryable {
			return out
		}
	}
	return last
}

func cancelledOutput(node *Node) NodeOutput {
	return NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    StatusFailed,
		Error:     "instance cancelled",
		ErrorCode: ErrCancelled,
		Retryable: false,
	}
}
