package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"docextract-backend/internal/shared/metrics"
	"docextract-backend/internal/shared/server/respond"
	"docextract-backend/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 with the standard error body.
// The stack goes to the log only.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			metrics.IncHTTPPanics()
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"panic":      rec,
				"stack":      string(debug.Stack()),
				"method":     c.Request.Method,
				"route":      c.FullPath(),
			}
			if ownerID := OwnerIDFromContext(c); ownerID != "" {
				fields["owner_id"] = ownerID
			}
			telemetry.Error("http.panic", fields)
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
