package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// UserInputConfig is the user-input node's kind-specific config (§3).
type UserInputConfig struct {
	Prompt       string                    `json:"prompt"`
	InputType    string                    `json:"inputType"` // text | textarea | number | select
	Required     bool                      `json:"required"`
	Validation   *workflow.ValidationRules `json:"validation,omitempty"`
	Options      []workflow.SelectOption   `json:"options,omitempty"`
	DefaultValue any                       `json:"defaultValue,omitempty"`
}

// UserInputExecutor implements the user-input node (§4.6): it publishes a
// request to the UserInput Bridge and blocks (suspending the instance) until
// a valid response arrives, re-prompting on validation failure.
type UserInputExecutor struct {
	log        *logger.Logger
	maxRejects int
}

// NewUserInputExecutor constructs a UserInputExecutor. maxRejects is the
// number of consecutive validation failures before the node gives up with
// ERR_INPUT_EXHAUSTED (§4.6 default 10).
func NewUserInputExecutor(log *logger.Logger, maxRejects int) *UserInputExecutor {
	if maxRejects <= 0 {
		maxRejects = 10
	}
	return &UserInputExecutor{log: log, maxRejects: maxRejects}
}

var _ workflow.Executor = (*UserInputExecutor)(nil)

func (e *UserInputExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg UserInputConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}

	prompt := workflow.Substitute(cfg.Prompt, ec, e.log)
	requestID := uuid.NewString()
	validationError := ""

	for attempt := 0; attempt < e.maxRejects; attempt++ {
		req := workflow.UserInputRequest{
			InstanceID:      ec.InstanceID,
			RequestID:       requestID,
			NodeID:          node.ID,
			Prompt:          prompt,
			InputType:       cfg.InputType,
			Required:        cfg.Required,
			Validation:      cfg.Validation,
			Options:         cfg.Options,
			DefaultValue:    cfg.DefaultValue,
			ValidationError: validationError,
		}

		value, err := ec.Bridge.Request(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return workflow.FailedOutput(node, workflow.NewError(workflow.ErrCancelled, "instance cancelled awaiting user input").WithNode(node.ID, node.Kind))
			}
			return workflow.FailedOutput(node, workflow.NewError(workflow.ErrEval, err.Error()).WithNode(node.ID, node.Kind))
		}

		msg, valid := validateUserInput(value, cfg)
		if valid {
			return workflow.NodeOutput{
				NodeID:    node.ID,
				NodeName:  node.Name,
				Status:    workflow.StatusSuccess,
				Output:    value,
				Variables: map[string]any{"userInput": value, node.Name + "_userInput": value},
			}
		}

		validationError = msg
		e.log.Debug("user input rejected", "node_id", node.ID, "instance_id", ec.InstanceID, "reason", msg)
		// fresh requestId per re-prompt: the prior one was already consumed.
		requestID = uuid.NewString()
	}

	return workflow.FailedOutput(node, workflow.NewError(workflow.ErrInputExhausted, fmt.Sprintf("exhausted %d consecutive rejections", e.maxRejects)).WithNode(node.ID, node.Kind))
}

// validateUserInput applies §4.6's validation rules and returns a rejection
// message (empty if valid).
func validateUserInput(value any, cfg UserInputConfig) (string, bool) {
	str, isString := value.(string)

	if cfg.Required && (value == nil || (isString && str == "")) {
		return "This field is required", false
	}
	if !cfg.Required && isString && str == "" {
		return "", true
	}

	switch cfg.InputType {
	case "number":
		num, ok := asFloat(value)
		if !ok {
			return "Value must be a number", false
		}
		if cfg.Validation != nil {
			if cfg.Validation.Min != nil && num < *cfg.Validation.Min {
				return fmt.Sprintf("Value must be at least %v", *cfg.Validation.Min), false
			}
			if cfg.Validation.Max != nil && num > *cfg.Validation.Max {
				return fmt.Sprintf("Value must be at most %v", *cfg.Validation.Max), false
			}
		}
	case "text", "textarea", "":
		if cfg.Validation != nil {
			if cfg.Validation.MinLength != nil && len(str) < *cfg.Validation.MinLength {
				return fmt.Sprintf("Value must be at least %d characters", *cfg.Validation.MinLength), false
			}
			if cfg.Validation.MaxLength != nil && len(str) > *cfg.Validation.MaxLength {
				return fmt.Sprintf("Value must be at most %d characters", *cfg.Validation.MaxLength), false
			}
			if cfg.Validation.Pattern != "" {
				re, err := regexp.Compile(cfg.Validation.Pattern)
				if err != nil || !re.MatchString(str) {
					return "Value does not match required pattern", false
				}
			}
		}
	case "select":
		matched := false
		for _, opt := range cfg.Options {
			if fmt.Sprintf("%v", opt.Value) == fmt.Sprintf("%v", value) {
				matched = true
				break
			}
		}
		if !matched {
			return "Value is not one of the allowed options", false
		}
	}

	return "", true
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
