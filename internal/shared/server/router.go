package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"docextract-backend/internal/documents"
	"docextract-backend/internal/services/health"
	"docextract-backend/internal/shared/config"
	"docextract-backend/internal/shared/metrics"
	"docextract-backend/internal/shared/server/middleware"
	"docextract-backend/internal/shared/server/respond"
)

const (
	rateGroupDefault = "DEFAULT"
	rateGroupPolling = "POLLING"
	rateGroupUpload  = "UPLOAD"
)

// Deps are the handlers and services the router exposes.
type Deps struct {
	Config    config.Config
	Documents *documents.Handler
	Health    *health.Service
	Verifier  middleware.TokenVerifier
	Limiter   *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Health == nil {
		deps.Health = health.NewService(time.Now())
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if report.Status != health.StatusOK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})

	secured := api.Group("")
	secured.Use(
		middleware.Auth(deps.Verifier, deps.Config.IsDevLike()),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: rateGroupDefault,
			GroupFor:     rateGroupFor,
			Limiter:      deps.Limiter,
			Rules: map[string]middleware.RateLimitRule{
				rateGroupDefault: {Rate: 5, Burst: 20},
				rateGroupPolling: {Rate: 10, Burst: 40},
				rateGroupUpload:  {Rate: 1, Burst: 5},
			},
		}),
	)
	registerMeRoutes(secured)
	if deps.Documents != nil {
		deps.Documents.RegisterRoutes(secured)
	}

	return r
}

// rateGroupFor gives status polling more headroom than uploads.
func rateGroupFor(c *gin.Context) string {
	switch {
	case c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/documents/:id":
		return rateGroupPolling
	case c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/documents":
		return rateGroupUpload
	default:
		return rateGroupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
