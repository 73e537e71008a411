package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/security"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// HTTPAuthConfig is the http node's auth sub-config (§3).
type HTTPAuthConfig struct {
	Type     string `json:"type"` // none | basic | bearer | api-key
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	HeaderName string `json:"headerName,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
}

// HTTPRetryConfig overrides the engine's generic retry for this node only,
// independent of node.RetryConfig (§4.9).
type HTTPRetryConfig struct {
	MaxRetries        int     `json:"maxRetries"`
	RetryDelayMs      int     `json:"retryDelayMs"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
}

// HTTPConfig is the http node's kind-specific config (§3).
type HTTPConfig struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Auth    *HTTPAuthConfig   `json:"auth,omitempty"`
	Retry   *HTTPRetryConfig  `json:"retry,omitempty"`
}

// HTTPExecutor implements the http node (§4.9). Every outbound URL is
// validated against the same SSRF/protocol/path rules the pack's HTTP worker
// enforces before issuing requests.
type HTTPExecutor struct {
	client    *http.Client
	validator *security.URLValidator
	log       *logger.Logger
}

// NewHTTPExecutor constructs an HTTPExecutor.
func NewHTTPExecutor(log *logger.Logger) *HTTPExecutor {
	return &HTTPExecutor{
		client:    &http.Client{Timeout: 30 * time.Second},
		validator: security.NewURLValidator(),
		log:       log,
	}
}

var _ workflow.Executor = (*HTTPExecutor)(nil)

func (e *HTTPExecutor) Execute(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) workflow.NodeOutput {
	var cfg HTTPConfig
	if err := node.DecodeConfig(&cfg); err != nil {
		return workflow.FailedOutput(node, workflow.NewDefinitionError(err.Error()))
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	url := workflow.Substitute(cfg.URL, ec, e.log)
	body := workflow.Substitute(cfg.Body, ec, e.log)

	if err := e.validator.Validate(url); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrHTTP, fmt.Sprintf("url rejected: %v", err)).WithNode(node.ID, node.Kind))
	}

	headers := map[string]string{}
	for k, v := range cfg.Headers {
		headers[k] = workflow.Substitute(v, ec, e.log)
	}
	if err := applyAuth(cfg.Auth, headers, ec, e.log); err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrDefinition, err.Error()).WithNode(node.ID, node.Kind))
	}

	maxAttempts := 1
	var rc *HTTPRetryConfig
	if cfg.Retry != nil {
		rc = cfg.Retry
		maxAttempts = 1 + rc.MaxRetries
	}

	var last workflow.NodeOutput
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delayMs := float64(rc.RetryDelayMs) * math.Pow(rc.BackoffMultiplier, float64(attempt-2))
			select {
			case <-time.After(time.Duration(delayMs) * time.Millisecond):
			case <-ctx.Done():
				return workflow.FailedOutput(node, workflow.NewError(workflow.ErrCancelled, "cancelled during http retry backoff").WithNode(node.ID, node.Kind))
			}
		}

		out := e.doRequest(ctx, node, method, url, headers, body)
		if out.Status != workflow.StatusFailed {
			return out
		}
		last = out
		if !out.Retryable {
			return out
		}
	}
	return last
}

func (e *HTTPExecutor) doRequest(ctx context.Context, node *workflow.Node, method, url string, headers map[string]string, body string) workflow.NodeOutput {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return workflow.FailedOutput(node, workflow.NewError(workflow.ErrDefinition, err.Error()).WithNode(node.ID, node.Kind))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		werr := workflow.NewError(workflow.ErrHTTP, err.Error())
		werr.Retryable = true // connection/timeout errors are retryable (§4.9)
		return workflow.FailedOutput(node, werr.WithNode(node.ID, node.Kind))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		werr := workflow.NewError(workflow.ErrHTTP, err.Error())
		werr.Retryable = true
		return workflow.FailedOutput(node, werr.WithNode(node.ID, node.Kind))
	}

	var parsedBody any = string(raw)
	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "application/json") {
		var decoded any
		if json.Unmarshal(raw, &decoded) == nil {
			parsedBody = decoded
		}
	}

	respHeaders := map[string]string{}
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	if resp.StatusCode >= 500 {
		werr := workflow.NewError(workflow.ErrHTTP, fmt.Sprintf("server returned %d", resp.StatusCode))
		werr.Retryable = true
		out := workflow.FailedOutput(node, werr.WithNode(node.ID, node.Kind))
		out.Output = map[string]any{"response": parsedBody, "statusCode": resp.StatusCode, "headers": respHeaders}
		return out
	}
	if resp.StatusCode >= 400 {
		werr := workflow.NewError(workflow.ErrHTTP, fmt.Sprintf("client returned %d", resp.StatusCode))
		werr.Retryable = false
		out := workflow.FailedOutput(node, werr.WithNode(node.ID, node.Kind))
		out.Output = map[string]any{"response": parsedBody, "statusCode": resp.StatusCode, "headers": respHeaders}
		return out
	}

	output := map[string]any{"response": parsedBody, "statusCode": resp.StatusCode, "headers": respHeaders}
	return workflow.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    workflow.StatusSuccess,
		Output:    output,
		Variables: map[string]any{"response": parsedBody, "statusCode": resp.StatusCode},
	}
}

func applyAuth(auth *HTTPAuthConfig, headers map[string]string, ec *workflow.ExecutionContext, log *logger.Logger) error {
	if auth == nil {
		return nil
	}
	switch auth.Type {
	case "", "none":
	case "basic":
		user := workflow.Substitute(auth.Username, ec, log)
		pass := workflow.Substitute(auth.Password, ec, log)
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	case "bearer":
		headers["Authorization"] = "Bearer " + workflow.Substitute(auth.Token, ec, log)
	case "api-key":
		name := auth.HeaderName
		if name == "" {
			name = "X-API-Key"
		}
		headers[name] = workflow.Substitute(auth.APIKey, ec, log)
	default:
		return fmt.Errorf("unknown auth type %q", auth.Type)
	}
	return nil
}
