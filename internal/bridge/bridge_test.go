package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

func testLogger() *logger.Logger { return logger.New("error", "text") }

type captureEmitter struct {
	events []workflow.Event
}

func (c *captureEmitter) Emit(e workflow.Event) { c.events = append(c.events, e) }

func TestBridge_RequestResolve(t *testing.T) {
	emitter := &captureEmitter{}
	b := NewBridge(nil, emitter, testLogger())

	req := workflow.UserInputRequest{RequestID: "r1", InstanceID: "inst-1", NodeID: "n1"}

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := b.Request(context.Background(), req)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- v
	}()

	require.Eventually(t, func() bool {
		return len(b.Pending("inst-1")) == 1
	}, time.Second, time.Millisecond)

	assert.True(t, b.Resolve("r1", "the answer"))

	select {
	case v := <-resultCh:
		assert.Equal(t, "the answer", v)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolution")
	}

	assert.Empty(t, b.Pending("inst-1"))
	require.Len(t, emitter.events, 1)
	assert.Equal(t, workflow.EventUserInputRequired, emitter.events[0].Type)
}

func TestBridge_RequestFail(t *testing.T) {
	b := NewBridge(nil, nil, testLogger())
	req := workflow.UserInputRequest{RequestID: "r2", InstanceID: "inst-2", NodeID: "n1"}

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Request(context.Background(), req)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(b.Pending("inst-2")) == 1
	}, time.Second, time.Millisecond)

	wantErr := workflow.NewError(workflow.ErrInputExhausted, "no more retries")
	assert.True(t, b.Fail("r2", wantErr))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, wantErr)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure")
	}
}

func TestBridge_ResolveUnknownRequestReturnsFalse(t *testing.T) {
	b := NewBridge(nil, nil, testLogger())
	assert.False(t, b.Resolve("nonexistent", "value"))
	assert.False(t, b.Fail("nonexistent", errors.New("boom")))
}

func TestBridge_RequestContextCancelled(t *testing.T) {
	b := NewBridge(nil, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	req := workflow.UserInputRequest{RequestID: "r3", InstanceID: "inst-3", NodeID: "n1"}

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Request(ctx, req)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		return len(b.Pending("inst-3")) == 1
	}, time.Second, time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestBridge_PendingFiltersByInstance(t *testing.T) {
	b := NewBridge(nil, nil, testLogger())
	go b.Request(context.Background(), workflow.UserInputRequest{RequestID: "a", InstanceID: "inst-x", NodeID: "n1"})
	go b.Request(context.Background(), workflow.UserInputRequest{RequestID: "b", InstanceID: "inst-y", NodeID: "n1"})

	require.Eventually(t, func() bool {
		return len(b.Pending("inst-x")) == 1 && len(b.Pending("inst-y")) == 1
	}, time.Second, time.Millisecond)

	assert.Empty(t, b.Pending("inst-z"))
}
