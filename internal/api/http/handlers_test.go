package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pwa-marketplace/backend/internal/infrastructure/logging"
	"github.com/pwa-marketplace/backend/internal/policy"
	"github.com/pwa-marketplace/backend/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*gin.Engine, *policy.Registry, *sandbox.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewNop()
	registry := policy.NewRegistry(logger)
	manager := sandbox.NewManager(registry, logger)
	handlers := NewHandlers(registry, manager, logger)

	router := gin.New()
	router.GET("/health", handlers.Health)

	router.POST("/policies", handlers.RegisterPolicy)
	router.GET("/policies", handlers.ListPolicies)
	router.GET("/policies/:name", handlers.GetPolicy)
	router.POST("/policies/apply", handlers.ApplyPolicy)
	router.POST("/permissions/grant", handlers.GrantPermissions)
	router.DELETE("/permissions/:app_id", handlers.RevokePermissions)
	router.GET("/permissions/:app_id", handlers.AppPermissions)
	router.GET("/permissions/:app_id/check", handlers.CheckPermission)

	router.POST("/sandboxes", handlers.SpawnSandbox)
	router.GET("/sandboxes", handlers.ListSandboxes)
	router.GET("/sandboxes/:app_id", handlers.GetSandbox)
	router.DELETE("/sandboxes/:app_id", handlers.CloseSandbox)
	router.POST("/sandboxes/:app_id/url", handlers.LoadURL)
	router.POST("/sandboxes/:app_id/permissions", handlers.RequestPermission)
	router.POST("/sandboxes/:app_id/storage", handlers.StoreData)
	router.GET("/sandboxes/:app_id/storage/:key", handlers.GetData)
	router.POST("/sandboxes/:app_id/notifications", handlers.SendNotification)
	router.GET("/sandboxes/:app_id/notifications", handlers.ListNotifications)

	router.GET("/bridge/stats", handlers.BridgeStats)

	return router, registry, manager
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestAPI(t)
	w, body := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestPolicyLifecycle(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w, _ := doJSON(t, router, http.MethodPost, "/policies", gin.H{
		"name":        "network-basic",
		"description": "Basic network access",
		"permissions": []string{"network.http", "network.https"},
		"timeout":     "30s",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, router, http.MethodGet, "/policies/network-basic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	policyBody := body["policy"].(map[string]interface{})
	assert.Equal(t, "network-basic", policyBody["name"])

	w, _ = doJSON(t, router, http.MethodGet, "/policies/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = doJSON(t, router, http.MethodGet, "/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["policies"], 1)
}

func TestPolicyRejectsBadTimeout(t *testing.T) {
	router, _, _ := newTestAPI(t)
	w, _ := doJSON(t, router, http.MethodPost, "/policies", gin.H{
		"name":    "bad",
		"timeout": "soon",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyAndCheck(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w, _ := doJSON(t, router, http.MethodPost, "/policies", gin.H{
		"name":        "net",
		"permissions": []string{"network.basic"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/policies/apply", gin.H{
		"app_id": "app_1",
		"policy": "net",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, router, http.MethodGet, "/permissions/app_1/check?permission=network.basic", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["allowed"])

	w, _ = doJSON(t, router, http.MethodPost, "/policies/apply", gin.H{
		"app_id": "app_1",
		"policy": "missing",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGrantAndRevoke(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w, _ := doJSON(t, router, http.MethodPost, "/permissions/grant", gin.H{
		"app_id":      "app_1",
		"permissions": []string{"storage.read"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, router, http.MethodGet, "/permissions/app_1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["permissions"], 1)

	w, _ = doJSON(t, router, http.MethodDelete, "/permissions/app_1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doJSON(t, router, http.MethodGet, "/permissions/app_1/check?permission=storage.read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["allowed"])
}

func TestSandboxLifecycleOverHTTP(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w, body := doJSON(t, router, http.MethodPost, "/sandboxes", gin.H{
		"app_id": "app_1",
		"manifest": gin.H{
			"name":         "notes",
			"capabilities": gin.H{"storage": true, "notifications": true},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	sb := body["sandbox"].(map[string]interface{})
	assert.Equal(t, "ready", sb["state"])

	// Duplicate spawn conflicts.
	w, _ = doJSON(t, router, http.MethodPost, "/sandboxes", gin.H{"app_id": "app_1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/sandboxes/app_1/storage", gin.H{
		"key":   "theme",
		"value": "dark",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doJSON(t, router, http.MethodGet, "/sandboxes/app_1/storage/theme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dark", body["value"])

	w, _ = doJSON(t, router, http.MethodGet, "/sandboxes/app_1/storage/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/sandboxes/app_1/notifications", gin.H{
		"message": "saved",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doJSON(t, router, http.MethodGet, "/sandboxes/app_1/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["notifications"], 1)

	w, _ = doJSON(t, router, http.MethodDelete, "/sandboxes/app_1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Operations on a closed sandbox are gone with it.
	w, _ = doJSON(t, router, http.MethodGet, "/sandboxes/app_1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSandboxCapabilityDenials(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w, _ := doJSON(t, router, http.MethodPost, "/sandboxes", gin.H{"app_id": "app_1"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/sandboxes/app_1/storage", gin.H{
		"key":   "k",
		"value": "v",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/sandboxes/app_1/notifications", gin.H{
		"message": "m",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLoadURLValidation(t *testing.T) {
	router, _, _ := newTestAPI(t)

	w, _ := doJSON(t, router, http.MethodPost, "/sandboxes", gin.H{"app_id": "app_1"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/sandboxes/app_1/url", gin.H{
		"url": "https://example.com/app",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/sandboxes/app_1/url", gin.H{
		"url": "not a url",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPermissionRequestOverHTTP(t *testing.T) {
	router, registry, _ := newTestAPI(t)
	registry.GrantPermissions("app_1", []string{"network.basic"})

	w, _ := doJSON(t, router, http.MethodPost, "/sandboxes", gin.H{
		"app_id": "app_1",
		"manifest": gin.H{
			"permissions": []string{"network.basic"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, router, http.MethodPost, "/sandboxes/app_1/permissions", gin.H{
		"permission": "network.basic",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["allowed"])

	w, body = doJSON(t, router, http.MethodPost, "/sandboxes/app_1/permissions", gin.H{
		"permission": "undeclared.perm",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["allowed"])
}

func TestBridgeStatsUnavailable(t *testing.T) {
	router, _, _ := newTestAPI(t)
	w, _ := doJSON(t, router, http.MethodGet, "/bridge/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
