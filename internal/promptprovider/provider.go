// Package promptprovider implements workflow.PromptProvider: the agent
// node's "send compiled prompt to a provider, get output back" contract
// (§4.7). This is deliberately thin — the provider/model backend is out of
// scope (§1 Non-goals) — but it's wired the way the teacher's HTTPClient
// wraps outbound calls with context-derived headers and structured logging.
package promptprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// HTTPProvider calls a single configurable HTTP endpoint that fronts
// whatever model backend the deployment wires up. providerCfg's "endpoint"
// key overrides the default per call, so a workflow can fan out to
// different providers per agent node.
type HTTPProvider struct {
	client         *http.Client
	defaultURL     string
	log            *logger.Logger
}

// NewHTTPProvider constructs an HTTPProvider. defaultURL is used when a
// node's providerCfg omits "endpoint".
func NewHTTPProvider(defaultURL string, log *logger.Logger) *HTTPProvider {
	return &HTTPProvider{
		client:     &http.Client{Timeout: 60 * time.Second},
		defaultURL: defaultURL,
		log:        log,
	}
}

var _ workflow.PromptProvider = (*HTTPProvider)(nil)

type providerRequest struct {
	Prompt       string         `json:"prompt"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

type providerResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
	Usage   *struct {
		PromptTokens     int `json:"promptTokens"`
		CompletionTokens int `json:"completionTokens"`
		TotalTokens      int `json:"totalTokens"`
	} `json:"usage,omitempty"`
}

// ExecutePrompt posts prompt+systemPrompt+providerCfg to the resolved
// endpoint and translates the response into a workflow.PromptResult.
// Network and non-2xx failures are reported as ERR_PROVIDER. Network errors
// and 5xx responses keep the default retryable flag (§7); 4xx responses are
// marked non-retryable. The engine's retry wrapper decides whether to retry.
func (p *HTTPProvider) ExecutePrompt(ctx context.Context, providerCfg map[string]any, prompt, systemPrompt string) (workflow.PromptResult, error) {
	endpoint := p.defaultURL
	if v, ok := providerCfg["endpoint"].(string); ok && v != "" {
		endpoint = v
	}
	if endpoint == "" {
		return workflow.PromptResult{}, workflow.NewError(workflow.ErrMissingPrompt, "no prompt provider endpoint configured")
	}

	body, err := json.Marshal(providerRequest{Prompt: prompt, SystemPrompt: systemPrompt, Config: providerCfg})
	if err != nil {
		return workflow.PromptResult{}, workflow.NewError(workflow.ErrProvider, fmt.Sprintf("encode provider request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return workflow.PromptResult{}, workflow.NewError(workflow.ErrProvider, fmt.Sprintf("build provider request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return workflow.PromptResult{}, workflow.NewError(workflow.ErrProvider, fmt.Sprintf("call prompt provider: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return workflow.PromptResult{}, workflow.NewError(workflow.ErrProvider, fmt.Sprintf("read provider response: %v", err))
	}

	if resp.StatusCode >= 500 {
		return workflow.PromptResult{}, workflow.NewError(workflow.ErrProvider, fmt.Sprintf("provider returned %d: %s", resp.StatusCode, raw))
	}
	if resp.StatusCode >= 400 {
		err := workflow.NewError(workflow.ErrProvider, fmt.Sprintf("provider returned %d: %s", resp.StatusCode, raw))
		err.Retryable = false
		return workflow.PromptResult{}, err
	}

	var pr providerResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return workflow.PromptResult{}, workflow.NewError(workflow.ErrProvider, fmt.Sprintf("decode provider response: %v", err))
	}

	result := workflow.PromptResult{Success: pr.Success, Output: pr.Output, Error: pr.Error}
	if pr.Usage != nil {
		result.Usage = &workflow.Usage{
			PromptTokens:     pr.Usage.PromptTokens,
			CompletionTokens: pr.Usage.CompletionTokens,
			TotalTokens:      pr.Usage.TotalTokens,
		}
	}
	return result, nil
}
