package workflow

import "fmt"

// Canonical error codes (§7). These are taxonomy tags, not Go error types —
// callers branch on Code, not on a type switch.
const (
	ErrDefinition      = "ERR_DEFINITION"
	ErrValidation      = "ERR_VALIDATION"
	ErrTimeout         = "ERR_TIMEOUT"
	ErrCancelled       = "ERR_CANCELLED"
	ErrUnsafeCode      = "ERR_UNSAFE_CODE"
	ErrEval            = "ERR_EVAL"
	ErrIO              = "ERR_IO"
	ErrHTTP            = "ERR_HTTP"
	ErrProvider        = "ERR_PROVIDER"
	ErrGate            = "ERR_GATE"
	ErrInputExhausted  = "ERR_INPUT_EXHAUSTED"
	ErrNotFound        = "ERR_NOT_FOUND"
	ErrMissingPrompt   = "ERR_MISSING_PROMPT"
	ErrAccessDenied    = "ERR_ACCESS_DENIED"
)

// retryableByDefault classifies a code's default retry disposition absent
// node-level overrides; executors may still set NodeOutput.Retryable
// explicitly (e.g. HTTP 4xx vs 5xx within ERR_HTTP).
var retryableByDefault = map[string]bool{
	ErrDefinition:     false,
	ErrValidation:     false,
	ErrTimeout:        true,
	ErrCancelled:      false,
	ErrUnsafeCode:     false,
	ErrEval:           false,
	ErrIO:             true,
	ErrHTTP:           true,
	ErrProvider:       true,
	ErrGate:           false,
	ErrInputExhausted: false,
	ErrNotFound:       false,
	ErrMissingPrompt:  false,
	ErrAccessDenied:   false,
}

// RetryableByDefault reports whether code retries absent an explicit override.
func RetryableByDefault(code string) bool {
	return retryableByDefault[code]
}

// WorkflowError is the canonical error shape returned (wrapped) by
// executors and engine-internal failures. It always carries one of the
// codes above.
type WorkflowError struct {
	Code      string
	Message   string
	NodeID    string
	NodeKind  string
	Retryable bool
	Cause     error
}

func (e *WorkflowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %q (%s): %s", e.Code, e.NodeID, e.NodeKind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *WorkflowError) Unwrap() error { return e.Cause }

// NewError builds a WorkflowError with the code's default retry disposition.
func NewError(code, message string) *WorkflowError {
	return &WorkflowError{Code: code, Message: message, Retryable: RetryableByDefault(code)}
}

// NewDefinitionError is a convenience for the common ERR_DEFINITION case.
func NewDefinitionError(message string) *WorkflowError {
	return NewError(ErrDefinition, message)
}

// WithNode annotates a WorkflowError with the node that raised it.
func (e *WorkflowError) WithNode(nodeID string, kind NodeKind) *WorkflowError {
	e.NodeID = nodeID
	e.NodeKind = string(kind)
	return e
}

// FailedOutput builds a NodeOutput of status=failed from a WorkflowError,
// the shape every executor returns on failure.
func FailedOutput(node *Node, err *WorkflowError) NodeOutput {
	return NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    StatusFailed,
		Error:     err.Message,
		ErrorCode: err.Code,
		Retryable: err.Retryable,
	}
}
