package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/adapter/zodforge"
	"github.com/MerlijnW70/zodforge-dashboard/internal/config"
	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/http/middleware"
	"github.com/MerlijnW70/zodforge-dashboard/internal/service"
)

// DashboardHandler serves the key, usage, billing, and health endpoints
// backing the dashboard pages.
type DashboardHandler struct {
	Bridge service.Bridge
	API    zodforge.API
	Config config.Config
	Logger *zap.Logger
}

// NewDashboardHandler creates the dashboard handler set.
func NewDashboardHandler(bridge service.Bridge, api zodforge.API, cfg config.Config, logger *zap.Logger) *DashboardHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &DashboardHandler{Bridge: bridge, API: api, Config: cfg, Logger: logger}
}

// Keys returns metadata for the session's canonical key.
func (h *DashboardHandler) Keys(c *gin.Context) {
	overview, ok := h.describe(c)
	if !ok {
		return
	}

	view := gin.H{
		"kid":               overview.KID,
		"name":              overview.Name,
		"tier":              overview.Tier,
		"raw_key_available": overview.RawKeyAvailable,
	}
	if overview.Key != nil {
		view["permissions"] = overview.Key.Permissions
		view["rate_limit"] = overview.Key.RateLimit
		view["quota"] = overview.Key.Quota
		view["created_at"] = overview.Key.CreatedAt
		view["expires_at"] = overview.Key.ExpiresAt
	}
	if overview.Link != nil {
		view["created_at"] = overview.Link.CreatedAt
		view["expires_at"] = overview.Link.ExpiresAt
		view["last_used_at"] = overview.Link.LastUsedAt
	}
	c.JSON(http.StatusOK, view)
}

// Usage returns usage statistics for the session's key. Sessions without
// raw key material cannot query the backend, so usage degrades to null.
func (h *DashboardHandler) Usage(c *gin.Context) {
	overview, ok := h.describe(c)
	if !ok {
		return
	}

	resp := gin.H{
		"kid":   overview.KID,
		"tier":  overview.Tier,
		"usage": nil,
	}
	if overview.Usage != nil {
		resp["usage"] = overview.Usage
	} else {
		resp["usage_unavailable_reason"] = "session has no key material; sign in with the API key to see usage"
	}
	c.JSON(http.StatusOK, resp)
}

// RotateKey exchanges the session's API key for fresh material. The new
// raw key appears in this response exactly once.
func (h *DashboardHandler) RotateKey(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}

	rotation, err := h.Bridge.Rotate(c.Request.Context(), sess)
	if err != nil {
		if errors.Is(err, domain.ErrRawKeyUnavailable) {
			c.JSON(http.StatusConflict, gin.H{
				"error":             "rotation_unavailable",
				"error_description": "This session has no key material to authorize a rotation.",
			})
			return
		}
		h.Logger.Error("key rotation failed", zap.String("kid", sess.KID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "rotation_failed", "error_description": "Key rotation failed."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kid":        rotation.KID,
		"api_key":    rotation.RawKey,
		"token":      rotation.Token,
		"expires_in": rotation.ExpiresIn,
	})
}

// BillingPortal returns the billing portal location for the current user.
func (h *DashboardHandler) BillingPortal(c *gin.Context) {
	if _, ok := middleware.GetSession(c); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": h.Config.BillingPortalURL})
}

// Health reports dashboard liveness plus the upstream API's own health.
func (h *DashboardHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	upstream, err := h.API.Health(c.Request.Context())
	if err != nil {
		resp["status"] = "degraded"
		resp["upstream"] = gin.H{"status": "unreachable"}
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["upstream"] = upstream
	if upstream.Status != "healthy" {
		resp["status"] = "degraded"
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DashboardHandler) describe(c *gin.Context) (*service.KeyOverview, bool) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return nil, false
	}

	overview, err := h.Bridge.Describe(c.Request.Context(), sess)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredential):
			// The embedded key no longer verifies; the session is stale.
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session key is no longer valid."})
		case errors.Is(err, domain.ErrRawKeyUnavailable):
			c.JSON(http.StatusConflict, gin.H{"error": "key_unavailable"})
		default:
			h.Logger.Error("key lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return nil, false
	}
	return overview, true
}
