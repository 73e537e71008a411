// Package workflow implements the execution engine: the data model, the
// Context Manager, the Expression Sandbox, and graph traversal. Node
// executors live in package executor and are registered into an Engine at
// wiring time; this package only defines the contracts they satisfy.
package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// NodeKind identifies the executor a Node dispatches to.
type NodeKind string

const (
	KindAgent       NodeKind = "agent"
	KindUserInput   NodeKind = "user-input"
	KindConditional NodeKind = "conditional"
	KindLoop        NodeKind = "loop"
	KindFile        NodeKind = "file"
	KindHTTP        NodeKind = "http"
	KindCode        NodeKind = "code"
	KindSubWorkflow NodeKind = "subworkflow"
)

// RetryConfig governs the engine's per-node retry/backoff wrapper (§4.3.1).
type RetryConfig struct {
	MaxRetries        int     `json:"maxRetries"`
	RetryDelayMs      int     `json:"retryDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// FieldMapping binds one output or input field in advanced contextConfig mode.
type FieldMapping struct {
	Source    string `json:"source"`    // "$.path" or "{{name}}" or a literal
	Target    string `json:"target"`    // variable name written/read
	Transform string `json:"transform,omitempty"` // optional CEL expression over `output`/`ctx`
}

// ContextConfig controls how a node's inputs/outputs map onto ctx.variables.
type ContextConfig struct {
	Mode    string         `json:"mode"` // "simple" | "advanced"
	Inputs  []FieldMapping `json:"inputs,omitempty"`
	Outputs []FieldMapping `json:"outputs,omitempty"`
}

func (c *ContextConfig) advanced() bool {
	return c != nil && c.Mode == "advanced"
}

// Node is one vertex in a WorkflowDefinition. Kind-specific configuration is
// kept as a raw map and decoded on demand via DecodeConfig — the same
// roundtrip-through-JSON approach the rest of the pack uses for IR nodes.
type Node struct {
	ID            string         `json:"id"`
	Kind          NodeKind       `json:"kind"`
	Name          string         `json:"name"`
	Position      int            `json:"position"`
	Config        map[string]any `json:"config"`
	TimeoutMs     *int           `json:"timeoutMs,omitempty"`
	RetryConfig   *RetryConfig   `json:"retryConfig,omitempty"`
	ContextConfig *ContextConfig `json:"contextConfig,omitempty"`
}

// DecodeConfig decodes Node.Config into a kind-specific struct.
func (n *Node) DecodeConfig(target any) error {
	raw, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("re-marshal node config: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode node config for kind %s: %w", n.Kind, err)
	}
	return nil
}

// Edge is a directed connection between two nodes, optionally labelled for
// branch selection ("true"/"false" for conditionals, custom tags otherwise).
type Edge struct {
	FromNodeID string `json:"fromNodeId"`
	ToNodeID   string `json:"toNodeId"`
	Label      string `json:"label,omitempty"`
}

// WorkflowDefinition is immutable once loaded.
type WorkflowDefinition struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`

	nodeIndex sync.Map // not read or filled; NodeByID scans Nodes
}

// NodeByID looks up a node by id.
func (w *WorkflowDefinition) NodeByID(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// OutgoingEdges returns every edge leaving nodeID, in definition order.
func (w *WorkflowDefinition) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.FromNodeID == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// EntryNodeID returns the id of the unique node with no incoming edges.
func (w *WorkflowDefinition) EntryNodeID() (string, error) {
	hasIncoming := make(map[string]bool, len(w.Nodes))
	for _, e := range w.Edges {
		hasIncoming[e.ToNodeID] = true
	}
	var entry string
	found := 0
	for _, n := range w.Nodes {
		if !hasIncoming[n.ID] {
			entry = n.ID
			found++
		}
	}
	if found != 1 {
		return "", NewDefinitionError(fmt.Sprintf("workflow %s must have exactly one entry node, found %d", w.ID, found))
	}
	return entry, nil
}

// Validate checks the structural invariants the engine assumes at load time:
// every edge references a real node, every node kind is known, and a node
// with more than one undistinguished outgoing edge is rejected (§4.3.2).
func (w *WorkflowDefinition) Validate() error {
	ids := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return NewDefinitionError("node with empty id")
		}
		if ids[n.ID] {
			return NewDefinitionError(fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true
		switch n.Kind {
		case KindAgent, KindUserInput, KindConditional, KindLoop, KindFile, KindHTTP, KindCode, KindSubWorkflow:
		default:
			return NewDefinitionError(fmt.Sprintf("unknown node kind %q on node %q", n.Kind, n.ID))
		}
	}
	for _, e := range w.Edges {
		if !ids[e.FromNodeID] {
			return NewDefinitionError(fmt.Sprintf("edge references unknown fromNodeId %q", e.FromNodeID))
		}
		if !ids[e.ToNodeID] {
			return NewDefinitionError(fmt.Sprintf("edge references unknown toNodeId %q", e.ToNodeID))
		}
	}
	for _, n := range w.Nodes {
		out := w.OutgoingEdges(n.ID)
		if n.Kind == KindConditional {
			continue // labelled true/false edges, checked at traversal time
		}
		if len(out) > 1 {
			labelled := 0
			for _, e := range out {
				if e.Label != "" {
					labelled++
				}
			}
			if labelled != len(out) {
				return NewDefinitionError(fmt.Sprintf("node %q has multiple outgoing edges with no distinguishing label", n.ID))
			}
		}
	}
	if _, err := w.EntryNodeID(); err != nil {
		return err
	}
	return nil
}

// NodeStatus is the terminal disposition of one node execution.
type NodeStatus string

const (
	StatusSuccess NodeStatus = "success"
	StatusFailed  NodeStatus = "failed"
	StatusSkipped NodeStatus = "skipped"
)

// NodeOutput is the uniform result contract every executor produces.
// Executors never panic or return a Go error across the engine boundary;
// failure is expressed as Status == StatusFailed with ErrorCode set.
type NodeOutput struct {
	NodeID     string         `json:"nodeId"`
	NodeName   string         `json:"nodeName"`
	Timestamp  time.Time      `json:"timestamp"`
	Status     NodeStatus     `json:"status"`
	Output     any            `json:"output,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"errorCode,omitempty"`
	ErrorStack string         `json:"errorStack,omitempty"`
	Retryable  bool           `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

// LoopFrame is the per-iteration bookkeeping pushed onto ExecutionContext.LoopStack.
type LoopFrame struct {
	LoopNodeID       string
	IteratorVariable string
	IndexVariable    string
	CurrentIndex     int
	TotalItems       int // -1 for while loops
	CollectionData   []any
}

// InstanceStatus is the workflow instance's state-machine position (§4.3).
type InstanceStatus string

const (
	StatusCreated      InstanceStatus = "CREATED"
	StatusRunning      InstanceStatus = "RUNNING"
	StatusAwaitingInput InstanceStatus = "AWAITING_INPUT"
	StatusSucceeded    InstanceStatus = "SUCCEEDED"
	StatusFailedInst   InstanceStatus = "FAILED"
	StatusCancelled    InstanceStatus = "CANCELLED"
)

// ExecutionContext is the mutable, per-instance state owned exclusively by
// the instance's own goroutine for writes; reads from outside (status
// polling, the HTTP surface) go through the mutex.
type ExecutionContext struct {
	InstanceID    string
	WorkflowID    string
	ProjectFolder string

	// Definition is the WorkflowDefinition currently being traversed. The
	// engine sets it before traversal; the Loop executor uses it to run a
	// loop body's subgraph via SubgraphRunner without needing a second
	// parameter threaded through the Executor interface.
	Definition *WorkflowDefinition

	UserID   string
	SeriesID string

	StartedAt time.Time
	Deadline  *time.Time

	Provider PromptProvider
	Loader   DefinitionLoader
	Bridge   UserInputBridge
	Clock    Clock

	mu              sync.RWMutex
	variables       map[string]any
	previousOutputs map[string]NodeOutput
	currentNodeID   string
	completedNodes  []string
	loopStack       []LoopFrame
}

// NewExecutionContext constructs an empty context ready for traversal.
func NewExecutionContext(instanceID, workflowID, projectFolder string, vars map[string]any) *ExecutionContext {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &ExecutionContext{
		InstanceID:      instanceID,
		WorkflowID:      workflowID,
		ProjectFolder:   projectFolder,
		StartedAt:       time.Now(),
		variables:       vars,
		previousOutputs: make(map[string]NodeOutput),
	}
}

// Variable reads one variable by name.
func (ec *ExecutionContext) Variable(name string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.variables[name]
	return v, ok
}

// Variables returns a shallow copy of the variable bag, safe to range over.
func (ec *ExecutionContext) Variables() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.variables))
	for k, v := range ec.variables {
		out[k] = v
	}
	return out
}

// SetVariable writes one variable, visible to every node executed afterward.
func (ec *ExecutionContext) SetVariable(name string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[name] = value
}

// MergeVariables writes every entry of vars into the context.
func (ec *ExecutionContext) MergeVariables(vars map[string]any) {
	if len(vars) == 0 {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for k, v := range vars {
		ec.variables[k] = v
	}
}

// PreviousOutput returns the recorded NodeOutput for a completed node.
func (ec *ExecutionContext) PreviousOutput(nodeID string) (NodeOutput, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out, ok := ec.previousOutputs[nodeID]
	return out, ok
}

// PreviousOutputs returns a shallow copy of every recorded node output.
func (ec *ExecutionContext) PreviousOutputs() map[string]NodeOutput {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]NodeOutput, len(ec.previousOutputs))
	for k, v := range ec.previousOutputs {
		out[k] = v
	}
	return out
}

// recordCompletion appends a node's output to context bookkeeping. Invariant
// (§3): every completed node appears exactly once in previousOutputs.
func (ec *ExecutionContext) recordCompletion(nodeID string, out NodeOutput) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if _, exists := ec.previousOutputs[nodeID]; !exists {
		ec.completedNodes = append(ec.completedNodes, nodeID)
	}
	ec.previousOutputs[nodeID] = out
	ec.currentNodeID = nodeID
}

// CompletedNodes returns the ordered list of completed node ids.
func (ec *ExecutionContext) CompletedNodes() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]string, len(ec.completedNodes))
	copy(out, ec.completedNodes)
	return out
}

// CurrentNodeID returns the most recently completed (or in-flight) node id.
func (ec *ExecutionContext) CurrentNodeID() string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.currentNodeID
}

// PushLoopFrame pushes a LoopFrame, enforcing the max-nesting invariant (§3).
func (ec *ExecutionContext) PushLoopFrame(f LoopFrame, maxNesting int) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.loopStack) >= maxNesting {
		return NewDefinitionError(fmt.Sprintf("loop nesting exceeds max of %d", maxNesting))
	}
	ec.loopStack = append(ec.loopStack, f)
	return nil
}

// PopLoopFrame removes the innermost LoopFrame.
func (ec *ExecutionContext) PopLoopFrame() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if len(ec.loopStack) > 0 {
		ec.loopStack = ec.loopStack[:len(ec.loopStack)-1]
	}
}

// LoopStack returns a shallow copy of the current loop nesting stack.
func (ec *ExecutionContext) LoopStack() []LoopFrame {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]LoopFrame, len(ec.loopStack))
	copy(out, ec.loopStack)
	return out
}

// Snapshot is a serializable view of ExecutionContext, returned by
// Engine.InstanceSnapshot for in-flight status; its fields follow the
// optional persisted-state layout (§6), which nothing here writes to disk.
type Snapshot struct {
	InstanceID     string                `json:"instanceId"`
	WorkflowID     string                `json:"workflowId"`
	CompletedNodes []string              `json:"completedNodes"`
	Variables      map[string]any        `json:"variables"`
	LoopStack      []LoopFrame           `json:"loopStack"`
	CurrentNodeID  string                `json:"currentNodeId"`
	CreatedAt      time.Time             `json:"createdAt"`
	SchemaVersion  int                   `json:"schemaVersion"`
}

// Snapshot captures the current state for persistence or status reporting.
func (ec *ExecutionContext) Snapshot() Snapshot {
	return Snapshot{
		InstanceID:     ec.InstanceID,
		WorkflowID:     ec.WorkflowID,
		CompletedNodes: ec.CompletedNodes(),
		Variables:      ec.Variables(),
		LoopStack:      ec.LoopStack(),
		CurrentNodeID:  ec.CurrentNodeID(),
		CreatedAt:      ec.StartedAt,
		SchemaVersion:  1,
	}
}
