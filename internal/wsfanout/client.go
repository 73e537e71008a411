package wsfanout

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/lyzr/flowrunner/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512
)

// Client represents one subscriber's WebSocket connection, scoped to a
// single instance's event stream.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	instanceID string
	send       chan []byte
	log        *logger.Logger
}

// NewClient creates a new Client and starts its read/write pumps.
func NewClient(hub *Hub, conn *websocket.Conn, instanceID string, log *logger.Logger) *Client {
	c := &Client{
		hub:        hub,
		conn:       conn,
		instanceID: instanceID,
		send:       make(chan []byte, 512),
		log:        log,
	}
	hub.Register(c)

	go c.writePump()
	go c.readPump()

	return c
}

// readPump drains the connection for ping/pong and disconnect detection.
// Clients never send event data upstream (server-push only).
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket read error", "error", err, "instance_id", c.instanceID)
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// drain any queued frames individually, never batched, so each
			// remains independently parseable JSON on the wire.
			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
