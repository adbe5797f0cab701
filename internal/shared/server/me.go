package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docextract-backend/internal/shared/server/middleware"
	"docextract-backend/internal/shared/server/respond"
)

// registerMeRoutes attaches the /me endpoint.
func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", meHandler)
}

func meHandler(c *gin.Context) {
	ownerID := middleware.OwnerIDFromContext(c)
	if ownerID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	response := gin.H{"ownerId": ownerID}
	if email := middleware.OwnerEmailFromContext(c); email != "" {
		response["email"] = email
	}
	respond.JSON(c, http.StatusOK, response)
}
