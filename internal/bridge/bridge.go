// Package bridge implements the UserInput Bridge (§4.6, §9): the async
// request/response channel between a running instance (blocked inside the
// engine goroutine on a user-input node) and whatever external UI answers
// it. Modeled as a request/response table keyed by requestId, mirroring the
// two-stream request/decision split the HITL worker uses, collapsed here
// into one in-process map since the engine goroutine itself is the
// consumer — there is no separate worker process to hand the request to.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/redisclient"
	"github.com/lyzr/flowrunner/internal/workflow"
)

type pendingRequest struct {
	req      workflow.UserInputRequest
	respCh   chan any
	errCh    chan error
	resolved bool
}

// Bridge implements workflow.UserInputBridge. Pending requests are mirrored
// into Redis (if configured) so a process restart can at least report what
// is outstanding; resolution always happens through the in-process channel
// since only the owning replica holds the blocked goroutine.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	redis    *redisclient.Client // optional, nil disables persistence mirroring
	emitter  workflow.EventEmitter
	log      *logger.Logger
}

// NewBridge constructs a Bridge. redis and emitter may be nil.
func NewBridge(redis *redisclient.Client, emitter workflow.EventEmitter, log *logger.Logger) *Bridge {
	if emitter == nil {
		emitter = workflow.NoopEmitter{}
	}
	return &Bridge{
		pending: make(map[string]*pendingRequest),
		redis:   redis,
		emitter: emitter,
		log:     log,
	}
}

var _ workflow.UserInputBridge = (*Bridge)(nil)

// Request publishes a user-input-required event and blocks until Resolve
// is called with a matching requestId, or ctx is cancelled.
func (b *Bridge) Request(ctx context.Context, req workflow.UserInputRequest) (any, error) {
	pr := &pendingRequest{
		req:    req,
		respCh: make(chan any, 1),
		errCh:  make(chan error, 1),
	}

	b.mu.Lock()
	b.pending[req.RequestID] = pr
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.RequestID)
		b.mu.Unlock()
	}()

	if b.redis != nil {
		if raw, err := json.Marshal(req); err == nil {
			key := fmt.Sprintf("userinput:pending:%s", req.RequestID)
			if err := b.redis.Set(ctx, key, string(raw), 24*time.Hour); err != nil {
				b.log.Warn("failed to mirror pending user-input request", "requestId", req.RequestID, "error", err)
			}
		}
	}

	b.emitter.Emit(workflow.Event{
		Type:       workflow.EventUserInputRequired,
		InstanceID: req.InstanceID,
		NodeID:     req.NodeID,
		Timestamp:  time.Now(),
		Payload:    req,
	})

	select {
	case v := <-pr.respCh:
		b.clearPersisted(context.Background(), req.RequestID)
		return v, nil
	case err := <-pr.errCh:
		b.clearPersisted(context.Background(), req.RequestID)
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bridge) clearPersisted(ctx context.Context, requestID string) {
	if b.redis == nil {
		return
	}
	key := fmt.Sprintf("userinput:pending:%s", requestID)
	if err := b.redis.Delete(ctx, key); err != nil {
		b.log.Warn("failed to clear persisted user-input request", "requestId", requestID, "error", err)
	}
}

// Resolve is called by the HTTP API's POST /instances/{id}/input handler to
// deliver a value for an outstanding request. Returns false if requestId is
// unknown (already resolved, expired, or never issued).
func (b *Bridge) Resolve(requestID string, value any) bool {
	b.mu.Lock()
	pr, ok := b.pending[requestID]
	if ok {
		pr.resolved = true
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	pr.respCh <- value
	return true
}

// Fail aborts an outstanding request with an error (e.g. ERR_INPUT_EXHAUSTED).
func (b *Bridge) Fail(requestID string, err error) bool {
	b.mu.Lock()
	pr, ok := b.pending[requestID]
	if ok {
		pr.resolved = true
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	pr.errCh <- err
	return true
}

// Pending returns a snapshot of currently outstanding requests for one
// instance, for the GET /instances/{id} status endpoint.
func (b *Bridge) Pending(instanceID string) []workflow.UserInputRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []workflow.UserInputRequest
	for _, pr := range b.pending {
		if pr.req.InstanceID == instanceID && !pr.resolved {
			out = append(out, pr.req)
		}
	}
	return out
}
