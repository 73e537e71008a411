// Package wsfanout streams workflow engine events to websocket subscribers,
// one Hub per process, connections scoped by instance ID rather than by user.
package wsfanout

import (
	"sync"

	"github.com/lyzr/flowrunner/internal/logger"
)

// Hub maintains active WebSocket connections and fans out instance events.
type Hub struct {
	connections map[string][]*Client // instanceID -> subscribers
	mutex       sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	log *logger.Logger
}

// Message is one event frame destined for every subscriber of InstanceID.
type Message struct {
	InstanceID string
	Data       []byte
}

// NewHub creates a new Hub instance.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

// Run starts the hub's main loop. Intended to run in its own goroutine for
// the lifetime of the process.
func (h *Hub) Run() {
	h.log.Info("event fanout hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToInstance(message)
		}
	}
}

// Register attaches a client to the hub; safe to call concurrently.
func (h *Hub) Register(c *Client) { h.register <- c }

// Unregister detaches a client from the hub; safe to call concurrently.
func (h *Hub) Unregister(c *Client) { h.unregister <- c }

// Publish broadcasts an event frame to every subscriber of instanceID.
// Non-blocking: callers (the engine's event emitter) never wait on slow
// websocket clients.
func (h *Hub) Publish(instanceID string, data []byte) {
	select {
	case h.broadcast <- &Message{InstanceID: instanceID, Data: data}:
	default:
		h.log.Warn("event fanout broadcast channel full, dropping event", "instance_id", instanceID)
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.instanceID] = append(h.connections[client.instanceID], client)
	h.log.Debug("client registered", "instance_id", client.instanceID,
		"total_for_instance", len(h.connections[client.instanceID]))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.instanceID]
	for i, c := range clients {
		if c == client {
			h.connections[client.instanceID] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.instanceID]) == 0 {
				delete(h.connections, client.instanceID)
			}
			h.log.Debug("client unregistered", "instance_id", client.instanceID)
			break
		}
	}
}

func (h *Hub) broadcastToInstance(message *Message) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := h.connections[message.InstanceID]
	if len(clients) == 0 {
		return
	}

	for _, client := range clients {
		select {
		case client.send <- message.Data:
		default:
			h.log.Warn("client send buffer full, closing connection", "instance_id", client.instanceID)
			close(client.send)
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}
