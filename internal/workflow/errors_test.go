package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError_DefaultRetryability(t *testing.T) {
	timeoutErr := NewError(ErrTimeout, "deadline exceeded")
	assert.True(t, timeoutErr.Retryable)

	defErr := NewError(ErrDefinition, "bad config")
	assert.False(t, defErr.Retryable)
}

func TestWorkflowError_WithNodeAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	werr := NewError(ErrHTTP, "request failed")
	werr.Cause = cause
	werr.WithNode("node-1", KindHTTP)

	assert.Equal(t, "node-1", werr.NodeID)
	assert.Equal(t, string(KindHTTP), werr.NodeKind)
	assert.Contains(t, werr.Error(), "node-1")
	assert.Same(t, cause, errors.Unwrap(werr))
}

func TestFailedOutput(t *testing.T) {
	node := &Node{ID: "n1", Name: "step one", Kind: KindHTTP}
	werr := NewError(ErrHTTP, "server returned 500").WithNode(node.ID, node.Kind)
	out := FailedOutput(node, werr)

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "n1", out.NodeID)
	assert.Equal(t, ErrHTTP, out.ErrorCode)
	assert.True(t, out.Retryable)
}
