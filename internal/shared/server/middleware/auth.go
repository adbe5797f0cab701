package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docextract-backend/internal/shared/auth"
	"docextract-backend/internal/shared/server/respond"
)

const (
	ownerIDKey    = "ownerId"
	ownerEmailKey = "ownerEmail"

	ownerHeader = "X-Owner-Id"
)

// TokenVerifier checks a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Auth resolves the owner identity from a bearer token. When allowHeader is
// set (dev and local), a bare X-Owner-Id header is accepted instead.
func Auth(verifier TokenVerifier, allowHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") || verifier == nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			c.Set(ownerIDKey, claims.Subject)
			if claims.Email != "" {
				c.Set(ownerEmailKey, claims.Email)
			}
			c.Next()
			return
		}

		if allowHeader {
			if owner := strings.TrimSpace(c.GetHeader(ownerHeader)); owner != "" {
				c.Set(ownerIDKey, owner)
				c.Next()
				return
			}
		}

		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing identity", nil)
	}
}

// OwnerIDFromContext fetches the owner ID set by the auth middleware.
func OwnerIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(ownerIDKey)
}

// OwnerEmailFromContext fetches the email claim, when the token carried one.
func OwnerEmailFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(ownerEmailKey)
}
