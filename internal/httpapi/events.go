package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowrunner/internal/wsfanout"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Event stream is read-only telemetry, not a cross-origin credentialed
	// API; any origin may subscribe to a known instance ID.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamEvents handles GET /instances/:id/events, upgrading to a websocket
// and subscribing the connection to that instance's event fanout (§6).
func (h *Handler) StreamEvents(c echo.Context) error {
	id := c.Param("id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "instance_id", id, "error", err)
		return err
	}

	wsfanout.NewClient(h.hub, conn, id, h.log)
	return nil
}
