package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/httprunner/devicehub"
)

// Response is the envelope for every JSON endpoint.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func respondMessage(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// respondError maps the core error taxonomy onto HTTP status codes.
// Contention and state conflicts are user-actionable, not system errors.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, devicehub.ErrDeviceNotFound),
		errors.Is(err, devicehub.ErrExecutionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, devicehub.ErrAlreadyLocked),
		errors.Is(err, devicehub.ErrNotOwner),
		errors.Is(err, devicehub.ErrDeviceLocked),
		errors.Is(err, devicehub.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, devicehub.ErrDeviceOffline),
		errors.Is(err, devicehub.ErrUnsupportedConnectionKind):
		status = http.StatusBadRequest
	case errors.Is(err, devicehub.ErrBridgeNotFound),
		errors.Is(err, devicehub.ErrBridgeProbeTimeout):
		status = http.StatusServiceUnavailable
	case devicehub.IsCommandTimeout(err):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices, err := s.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, devices)
}

func (s *Server) handleDiscoverDevices(c *gin.Context) {
	ctx := c.Request.Context()
	discovered, err := s.bridge.ListDevices(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	devices, err := s.registry.Reconcile(ctx, discovered)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "discovery complete", devices)
}

type connectRequest struct {
	Address string `json:"address" binding:"required"`
	Port    int    `json:"port"`
}

func (s *Server) handleConnectDevice(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	ctx := c.Request.Context()
	info, err := s.bridge.Connect(ctx, req.Address, req.Port)
	if err != nil {
		respondError(c, err)
		return
	}
	dev, err := s.registry.RegisterConnected(ctx, info, req.Address, req.Port)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "device connected", dev)
}

type ownerRequest struct {
	Owner string `json:"owner" binding:"required"`
}

func (s *Server) handleLockDevice(c *gin.Context) {
	var req ownerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	dev, err := s.locks.Lock(c.Request.Context(), c.Param("id"), req.Owner)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "device locked", dev)
}

func (s *Server) handleUnlockDevice(c *gin.Context) {
	var req ownerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	dev, err := s.locks.Unlock(c.Request.Context(), c.Param("id"), req.Owner)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "device unlocked", dev)
}

func (s *Server) handleForceRelease(c *gin.Context) {
	dev, err := s.locks.ForceRelease(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "device lock released", dev)
}

func (s *Server) handleDisconnectDevice(c *gin.Context) {
	dev, err := s.locks.DisconnectRemote(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "device disconnected", dev)
}

func (s *Server) handleScreenshot(c *gin.Context) {
	png, err := s.bridge.Screenshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleSubmitExecution(c *gin.Context) {
	var req devicehub.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	execution, err := s.orchestrator.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "execution submitted", execution)
}

func (s *Server) handleListExecutions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	executions, err := s.orchestrator.List(c.Request.Context(), c.Query("device_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, executions)
}

func (s *Server) handleGetExecution(c *gin.Context) {
	id, err := executionID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	execution, err := s.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, execution)
}

func (s *Server) handleStopExecution(c *gin.Context) {
	id, err := executionID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	execution, err := s.orchestrator.Stop(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondMessage(c, "execution stopped", execution)
}

func executionID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid execution id %q", c.Param("id"))
	}
	return id, nil
}
