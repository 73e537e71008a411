package wsfanout

import (
	"encoding/json"

	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
)

// Emitter adapts a Hub to workflow.EventEmitter: every engine event is
// JSON-encoded and published to that instance's websocket subscribers.
type Emitter struct {
	hub *Hub
	log *logger.Logger
}

// NewEmitter constructs an Emitter over hub.
func NewEmitter(hub *Hub, log *logger.Logger) *Emitter {
	return &Emitter{hub: hub, log: log}
}

var _ workflow.EventEmitter = (*Emitter)(nil)

// Emit encodes and fans out one event. Non-blocking per Hub.Publish.
func (e *Emitter) Emit(ev workflow.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("failed to encode event for fanout", "error", err, "type", ev.Type)
		return
	}
	e.hub.Publish(ev.InstanceID, data)
}
