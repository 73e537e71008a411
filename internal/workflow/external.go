package workflow

import (
	"context"
	"time"
)

// PromptProvider executes a text prompt against whatever model/backend a
// node's provider config names. Implementations live outside this package
// (§6); the engine only assumes idempotent failures are retryable.
type PromptProvider interface {
	ExecutePrompt(ctx context.Context, providerCfg map[string]any, prompt, systemPrompt string) (PromptResult, error)
}

// PromptResult is the Prompt Provider's response contract.
type PromptResult struct {
	Success bool
	Output  string
	Error   string
	Usage   *Usage
}

// Usage reports token accounting when the provider exposes it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// DefinitionLoader fetches and validates workflow definitions from the
// external persistence store. Version "latest" resolves to the highest
// semantic version.
type DefinitionLoader interface {
	LoadWorkflow(ctx context.Context, workflowID, version string) (*WorkflowDefinition, error)
}

// SelectOption is one choice in a user-input node's inputType=select config.
type SelectOption struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// ValidationRules constrains a user-input node's accepted values (§4.6).
type ValidationRules struct {
	Pattern   string   `json:"pattern,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
}

// UserInputRequest is the bit-exact request event shape of §4.6.
type UserInputRequest struct {
	InstanceID      string           `json:"instanceId"`
	RequestID       string           `json:"requestId"`
	NodeID          string           `json:"nodeId"`
	Prompt          string           `json:"prompt"`
	InputType       string           `json:"inputType"`
	Required        bool             `json:"required"`
	Validation      *ValidationRules `json:"validation,omitempty"`
	Options         []SelectOption   `json:"options,omitempty"`
	DefaultValue    any              `json:"defaultValue,omitempty"`
	ValidationError string           `json:"validationError,omitempty"`
}

// UserInputBridge is the async request/response channel to an external UI
// (§9: "model as a request/response table keyed by requestId"). One call to
// Request publishes one request event and blocks until a matching response
// arrives or ctx is cancelled; re-prompting on validation failure is the
// caller's (UserInput executor's) responsibility, issuing a fresh Request
// with ValidationError populated.
type UserInputBridge interface {
	Request(ctx context.Context, req UserInputRequest) (any, error)
}

// Clock abstracts time so tests can control scheduling deterministically.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is cancelled, whichever comes first.
	// Returns ctx.Err() on cancellation.
	Sleep(ctx context.Context, d time.Duration) error
}
