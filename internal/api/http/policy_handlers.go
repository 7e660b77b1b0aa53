package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pwa-marketplace/backend/internal/policy"
	"github.com/pwa-marketplace/backend/internal/shared/types"
)

type policyRequest struct {
	Name         string   `json:"name" binding:"required"`
	Description  string   `json:"description"`
	Permissions  []string `json:"permissions"`
	Restrictions []string `json:"restrictions"`
	Timeout      string   `json:"timeout"`
}

// RegisterPolicy registers or overwrites a named policy.
func (h *Handlers) RegisterPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	var timeout time.Duration
	if req.Timeout != "" {
		parsed, err := time.ParseDuration(req.Timeout)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid timeout: " + req.Timeout,
			})
			return
		}
		timeout = parsed
	}

	h.registry.RegisterPolicy(types.ResourcePolicy{
		Name:         req.Name,
		Description:  req.Description,
		Permissions:  req.Permissions,
		Restrictions: req.Restrictions,
		Timeout:      timeout,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "name": req.Name})
}

// ListPolicies returns every registered policy.
func (h *Handlers) ListPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"policies": h.registry.Policies(),
	})
}

// GetPolicy returns one policy by name.
func (h *Handlers) GetPolicy(c *gin.Context) {
	name := c.Param("name")
	p, ok := h.registry.Policy(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "policy not found: " + name,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "policy": p})
}

// ApplyPolicy grants a policy's permission set to an app.
func (h *Handlers) ApplyPolicy(c *gin.Context) {
	var req struct {
		AppID  string `json:"app_id" binding:"required"`
		Policy string `json:"policy" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := h.registry.ApplyPolicy(req.AppID, req.Policy); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, policy.ErrPolicyNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GrantPermissions replaces an app's ad-hoc permission set.
func (h *Handlers) GrantPermissions(c *gin.Context) {
	var req struct {
		AppID       string   `json:"app_id" binding:"required"`
		Permissions []string `json:"permissions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	h.registry.GrantPermissions(req.AppID, req.Permissions)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RevokePermissions removes every permission an app holds.
func (h *Handlers) RevokePermissions(c *gin.Context) {
	appID := c.Param("app_id")
	h.registry.RevokePermissions(appID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CheckPermission answers a single permission query.
func (h *Handlers) CheckPermission(c *gin.Context) {
	appID := c.Param("app_id")
	permission := c.Query("permission")
	if permission == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "permission query parameter required",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"allowed": h.registry.CheckPermission(appID, permission),
	})
}

// AppPermissions lists an app's current grants.
func (h *Handlers) AppPermissions(c *gin.Context) {
	appID := c.Param("app_id")
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"app_id":      appID,
		"permissions": h.registry.AppPermissions(appID),
	})
}
