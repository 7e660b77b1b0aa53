package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

var startTime = time.Now()

// Health reports runtime liveness and subsystem counts.
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":         "healthy",
		"uptime_seconds": time.Since(startTime).Seconds(),
		"sandboxes":      h.sandboxes.Count(),
	}
	if h.bridge != nil {
		body["bridge"] = h.bridge.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// BridgeStats exposes connection and protocol counts.
func (h *Handlers) BridgeStats(c *gin.Context) {
	if h.bridge == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "bridge not running",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": h.bridge.Stats()})
}

// ValidateToken checks the configured GitHub credential.
func (h *Handlers) ValidateToken(c *gin.Context) {
	if h.validator == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "token validation not configured",
		})
		return
	}

	info, err := h.validator.Validate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"login":   info.Login,
		"scopes":  info.Scopes,
	})
}
