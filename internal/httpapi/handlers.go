// Package httpapi exposes the engine's CLI/Programmatic surface (§6) over
// HTTP: instance lifecycle, status polling, a websocket event stream, and
// the user-input response channel.
package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lyzr/flowrunner/internal/bridge"
	"github.com/lyzr/flowrunner/internal/logger"
	"github.com/lyzr/flowrunner/internal/workflow"
	"github.com/lyzr/flowrunner/internal/wsfanout"
)

// Handler wires the engine and its collaborators to echo routes.
type Handler struct {
	engine   *workflow.Engine
	bridge   *bridge.Bridge
	hub      *wsfanout.Hub
	provider workflow.PromptProvider
	log      *logger.Logger
}

// NewHandler constructs a Handler.
func NewHandler(engine *workflow.Engine, b *bridge.Bridge, hub *wsfanout.Hub, provider workflow.PromptProvider, log *logger.Logger) *Handler {
	return &Handler{engine: engine, bridge: b, hub: hub, provider: provider, log: log}
}

// Register mounts every route onto e.
func (h *Handler) Register(e *echo.Echo) {
	e.POST("/instances", h.StartInstance)
	e.POST("/instances/:id/cancel", h.CancelInstance)
	e.GET("/instances/:id", h.GetInstance)
	e.GET("/instances/:id/events", h.StreamEvents)
	e.POST("/instances/:id/input", h.SubmitInput)
}

type startInstanceRequest struct {
	WorkflowID       string         `json:"workflowId"`
	Version          string         `json:"version"`
	InitialVariables map[string]any `json:"initialVariables"`
	ProjectFolder    string         `json:"projectFolder"`
}

// StartInstance handles POST /instances (§6 startInstance).
func (h *Handler) StartInstance(c echo.Context) error {
	var req startInstanceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WorkflowID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflowId is required")
	}
	version := req.Version
	if version == "" {
		version = "latest"
	}

	instanceID, err := h.engine.StartInstance(c.Request().Context(), req.WorkflowID, version, req.InitialVariables, req.ProjectFolder, h.provider, h.bridge)
	if err != nil {
		h.log.Error("failed to start instance", "workflow_id", req.WorkflowID, "error", err)
		return mapEngineError(c, err)
	}

	h.log.Info("instance started", "instance_id", instanceID, "workflow_id", req.WorkflowID)
	return c.JSON(http.StatusCreated, map[string]any{"instanceId": instanceID})
}

// CancelInstance handles POST /instances/:id/cancel (§6 cancelInstance).
func (h *Handler) CancelInstance(c echo.Context) error {
	id := c.Param("id")
	ok := h.engine.CancelInstance(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "instance not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"cancelled": true})
}

// GetInstance handles GET /instances/:id (§6): blocks until the instance
// reaches a terminal state and returns `{status, finalVariables, outputs}`,
// unless `?wait=false` asks for the current in-flight state instead.
func (h *Handler) GetInstance(c echo.Context) error {
	id := c.Param("id")

	if c.QueryParam("wait") == "false" {
		status, snapshot, err := h.engine.InstanceSnapshot(id)
		if err != nil {
			return mapEngineError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":         status,
			"finalVariables": snapshot.Variables,
			"outputs":        nil,
			"pendingInput":   h.bridge.Pending(id),
		})
	}

	result, err := h.engine.AwaitInstance(c.Request().Context(), id)
	if err != nil {
		return mapEngineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":         result.Status,
		"finalVariables": result.FinalVariables,
		"outputs":        result.Outputs,
	})
}

type submitInputRequest struct {
	RequestID string `json:"requestId"`
	Value     any    `json:"value"`
	Rejected  bool   `json:"rejected,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// SubmitInput handles POST /instances/:id/input, resolving an outstanding
// user-input request (§4.6, §6).
func (h *Handler) SubmitInput(c echo.Context) error {
	var req submitInputRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RequestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "requestId is required")
	}

	if req.Rejected {
		if !h.bridge.Fail(req.RequestID, workflow.NewError(workflow.ErrCancelled, req.Reason)) {
			return echo.NewHTTPError(http.StatusNotFound, "request not found")
		}
		return c.JSON(http.StatusOK, map[string]any{"accepted": true})
	}

	if !h.bridge.Resolve(req.RequestID, req.Value) {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"accepted": true})
}

func mapEngineError(c echo.Context, err error) error {
	if we, ok := err.(*workflow.WorkflowError); ok {
		switch we.Code {
		case workflow.ErrNotFound:
			return echo.NewHTTPError(http.StatusNotFound, we.Message)
		case workflow.ErrDefinition:
			return echo.NewHTTPError(http.StatusUnprocessableEntity, we.Message)
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, we.Message)
		}
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
