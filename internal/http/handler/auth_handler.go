package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/http/middleware"
	"github.com/MerlijnW70/zodforge-dashboard/internal/service"
)

// AuthHandler exposes the login entry points and session introspection.
type AuthHandler struct {
	Bridge service.Bridge
	Logger *zap.Logger
}

// NewAuthHandler creates the auth handler set.
func NewAuthHandler(bridge service.Bridge, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &AuthHandler{Bridge: bridge, Logger: logger}
}

// Login authenticates a raw API key and returns a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		APIKey string `json:"apiKey" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		rejectSignIn(c)
		return
	}

	login, err := h.Bridge.LoginWithKey(c.Request.Context(), strings.TrimSpace(req.APIKey))
	if err != nil {
		// All failure modes collapse to one response so callers cannot
		// probe for key or account existence.
		rejectSignIn(c)
		return
	}

	c.JSON(http.StatusOK, loginResponse(login))
}

// OAuthStart prepares the GitHub authorization URL.
func (h *AuthHandler) OAuthStart(c *gin.Context) {
	out, err := h.Bridge.StartOAuth(c.Request.Context())
	if err != nil {
		h.Logger.Error("oauth start failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Could not start sign-in."})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authorization_url": out.AuthorizationURL,
		"state":             out.State,
	})
}

// OAuthCallback consumes the provider redirect and issues a session.
func (h *AuthHandler) OAuthCallback(c *gin.Context) {
	login, err := h.Bridge.CompleteOAuth(c.Request.Context(), service.OAuthCallback{
		Code:  c.Query("code"),
		State: c.Query("state"),
	})
	if err != nil {
		h.Logger.Warn("oauth sign-in failed", zap.Error(err))
		rejectSignIn(c)
		return
	}

	c.JSON(http.StatusOK, loginResponse(login))
}

// Me returns the current session's view of the user.
func (h *AuthHandler) Me(c *gin.Context) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

func rejectSignIn(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":             "invalid_credentials",
		"error_description": "Sign-in failed.",
	})
}

func loginResponse(login *service.Login) gin.H {
	return gin.H{
		"token":      login.Token,
		"token_type": login.TokenType,
		"expires_in": login.ExpiresIn,
		"session":    sessionView(login.Session),
	}
}

func sessionView(sess domain.Session) gin.H {
	view := gin.H{
		"kid":          sess.KID,
		"tier":         sess.Tier,
		"login_method": sess.Method,
		"name":         sess.Name,
		"email":        sess.Email,
		// Raw key material is deliberately absent: it lives only inside
		// the signed token and in one-time rotation responses.
		"raw_key_available": sess.RawKey != "",
	}
	if sess.IdentityID != 0 {
		view["user_id"] = sess.IdentityID
	}
	return view
}
