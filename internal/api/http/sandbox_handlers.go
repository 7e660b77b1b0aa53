package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pwa-marketplace/backend/internal/bridge"
	"github.com/pwa-marketplace/backend/internal/sandbox"
)

// SpawnSandbox creates and starts a sandbox for an app.
func (h *Handlers) SpawnSandbox(c *gin.Context) {
	var req struct {
		AppID    string           `json:"app_id"`
		Manifest sandbox.Manifest `json:"manifest"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	sb, err := h.sandboxes.Spawn(sandbox.Config{AppID: req.AppID, Manifest: req.Manifest})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "sandbox": sb.Info()})
}

// ListSandboxes returns snapshots of every live sandbox.
func (h *Handlers) ListSandboxes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sandboxes": h.sandboxes.List(),
	})
}

// GetSandbox returns one sandbox snapshot.
func (h *Handlers) GetSandbox(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "sandbox not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sandbox": sb.Info()})
}

// CloseSandbox shuts a sandbox down and removes it.
func (h *Handlers) CloseSandbox(c *gin.Context) {
	if err := h.sandboxes.Close(c.Param("app_id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// LoadURL points a sandbox at a new location.
func (h *Handlers) LoadURL(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "sandbox not found"})
		return
	}

	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := sb.LoadURL(req.URL); err != nil {
		c.JSON(sandboxErrorStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": req.URL})
}

// RequestPermission runs a sandbox permission check.
func (h *Handlers) RequestPermission(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "sandbox not found"})
		return
	}

	var req struct {
		Permission string `json:"permission" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	allowed, err := sb.RequestPermission(req.Permission)
	if err != nil {
		c.JSON(sandboxErrorStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "allowed": allowed})
}

// StoreData writes into a sandbox's local store.
func (h *Handlers) StoreData(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "sandbox not found"})
		return
	}

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := sb.StoreData(req.Key, req.Value); err != nil {
		c.JSON(sandboxErrorStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetData reads from a sandbox's local store.
func (h *Handlers) GetData(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "sandbox not found"})
		return
	}

	key := c.Param("key")
	value, found, err := sb.GetData(key)
	if err != nil {
		c.JSON(sandboxErrorStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "key not found: " + key})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "key": key, "value": value})
}

// SendNotification records a notification for an app.
func (h *Handlers) SendNotification(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "sandbox not found"})
		return
	}

	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := sb.SendNotification(req.Message); err != nil {
		c.JSON(sandboxErrorStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListNotifications returns everything an app has emitted.
func (h *Handlers) ListNotifications(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "sandbox not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"notifications": sb.Notifications(),
	})
}

// MCPRequest serializes a request through the bridge on behalf of an app.
func (h *Handlers) MCPRequest(c *gin.Context) {
	sb, ok := h.sandboxes.Get(c.Param("app_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "sandbox not found"})
		return
	}

	var req struct {
		Protocol string                 `json:"protocol" binding:"required"`
		Action   string                 `json:"action" binding:"required"`
		Data     map[string]interface{} `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	resp, err := sb.MCPRequest(c.Request.Context(), req.Protocol, req.Action, req.Data)
	if err != nil {
		status := sandboxErrorStatus(err)
		if errors.Is(err, bridge.ErrTimeout) {
			status = http.StatusGatewayTimeout
		} else if errors.Is(err, bridge.ErrConnectionLost) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "response": resp})
}

// sandboxErrorStatus maps sandbox failures to HTTP statuses.
func sandboxErrorStatus(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, sandbox.ErrStoragePermissionDenied),
		errors.Is(err, sandbox.ErrNotificationPermissionDenied),
		errors.Is(err, sandbox.ErrMCPPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, sandbox.ErrSandboxClosed), errors.Is(err, sandbox.ErrNotStarted):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
