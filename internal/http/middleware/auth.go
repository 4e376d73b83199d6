package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MerlijnW70/zodforge-dashboard/internal/domain"
	"github.com/MerlijnW70/zodforge-dashboard/internal/session"
)

const sessionContextKey = "dashboardSession"

// Auth validates the Authorization header and attaches the decoded session.
type Auth struct {
	Codec *session.Codec
}

// RequireSession ensures the request carries a valid bearer session token.
func (m *Auth) RequireSession(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	sess, err := m.Codec.Decode(c.Request.Context(), parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid session token."})
		return
	}

	c.Set(sessionContextKey, sess)
	c.Next()
}

// GetSession exposes the decoded session to handlers.
func GetSession(c *gin.Context) (domain.Session, bool) {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return domain.Session{}, false
	}
	sess, ok := value.(domain.Session)
	return sess, ok
}
