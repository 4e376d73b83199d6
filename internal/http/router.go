package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/MerlijnW70/zodforge-dashboard/internal/config"
	"github.com/MerlijnW70/zodforge-dashboard/internal/http/handler"
	httpmiddleware "github.com/MerlijnW70/zodforge-dashboard/internal/http/middleware"
	"github.com/MerlijnW70/zodforge-dashboard/internal/metrics"
	"github.com/MerlijnW70/zodforge-dashboard/internal/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(
	cfg config.Config,
	authHandler *handler.AuthHandler,
	dashboardHandler *handler.DashboardHandler,
	authMiddleware *httpmiddleware.Auth,
	rateLimiter *middleware.RateLimiter,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	auth := r.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.GET("/oauth/start", authHandler.OAuthStart)
		auth.GET("/oauth/callback", authHandler.OAuthCallback)
		auth.GET("/me", authMiddleware.RequireSession, authHandler.Me)
	}

	dashboard := r.Group("/dashboard", authMiddleware.RequireSession)
	{
		dashboard.GET("/keys", dashboardHandler.Keys)
		dashboard.GET("/usage", dashboardHandler.Usage)
		dashboard.POST("/keys/rotate", dashboardHandler.RotateKey)
		dashboard.POST("/billing/portal", dashboardHandler.BillingPortal)
	}

	r.GET("/healthz", dashboardHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
