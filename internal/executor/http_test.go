package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/workflow"
)

func TestHTTPExecutor_RejectsLoopbackURL(t *testing.T) {
	exec := NewHTTPExecutor(newTestLogger())
	node := newNode("call", workflow.KindHTTP, map[string]any{
		"method": "GET",
		"url":    "http://127.0.0.1:9999/anything",
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
	assert.Equal(t, workflow.ErrHTTP, out.ErrorCode)
}

func TestHTTPExecutor_MalformedURLFails(t *testing.T) {
	exec := NewHTTPExecutor(newTestLogger())
	node := newNode("call", workflow.KindHTTP, map[string]any{
		"method": "GET",
		"url":    "not-a-url",
	})
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)

	out := exec.Execute(context.Background(), node, ec)
	assert.Equal(t, workflow.StatusFailed, out.Status)
}

func TestApplyAuth_Bearer(t *testing.T) {
	headers := map[string]string{}
	ec := workflow.NewExecutionContext("inst", "wf", "", map[string]any{"tok": "secret"})
	err := applyAuth(&HTTPAuthConfig{Type: "bearer", Token: "{{tok}}"}, headers, ec, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", headers["Authorization"])
}

func TestApplyAuth_Basic(t *testing.T) {
	headers := map[string]string{}
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	err := applyAuth(&HTTPAuthConfig{Type: "basic", Username: "u", Password: "p"}, headers, ec, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "Basic dTpw", headers["Authorization"])
}

func TestApplyAuth_APIKeyDefaultHeader(t *testing.T) {
	headers := map[string]string{}
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	err := applyAuth(&HTTPAuthConfig{Type: "api-key", APIKey: "abc123"}, headers, ec, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "abc123", headers["X-API-Key"])
}

func TestApplyAuth_UnknownTypeErrors(t *testing.T) {
	headers := map[string]string{}
	ec := workflow.NewExecutionContext("inst", "wf", "", nil)
	err := applyAuth(&HTTPAuthConfig{Type: "digest"}, headers, ec, newTestLogger())
	assert.Error(t, err)
}
