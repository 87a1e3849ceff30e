package api

import (
	"github.com/gin-gonic/gin"

	"ops-gateway/internal/auth"
	"ops-gateway/internal/config"
	"ops-gateway/internal/logging"
	"ops-gateway/internal/ratelimit"
)

func NewRouter(h *Handler, verifier *auth.Verifier, limiter *ratelimit.Limiter, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))
	r.Use(RateLimitMiddleware(limiter))

	// Liveness probe stays open; everything else goes through auth.
	r.GET("/health", h.Health)

	authed := r.Group("/", AuthMiddleware(verifier, cfg.Auth.Required, logger))

	api := authed.Group(cfg.API.BasePath)
	{
		api.POST("/tasks", h.CreateTask)
		api.GET("/tasks", h.ListTasks)
		api.GET("/tasks/:id", h.GetTask)
		api.DELETE("/tasks/:id", h.CancelTask)
		api.GET("/capabilities", h.Capabilities)
		api.GET("/status", h.GatewayStatus)
		api.GET("/metrics", h.Metrics)
		api.GET("/alerts", h.Alerts)
	}

	authed.Any("/services/:service/*path", h.Proxy)
	authed.GET("/ws", h.WebSocket)

	return r
}
