package router

import (
	"strings"

	"ollama-chat-relay/backend/internal/api"
	"ollama-chat-relay/backend/internal/auth"
	"ollama-chat-relay/backend/internal/ollama"
	"ollama-chat-relay/backend/internal/store"
	"ollama-chat-relay/backend/internal/ws"
	"ollama-chat-relay/backend/pkg/config"
	"ollama-chat-relay/backend/pkg/errors"
	"ollama-chat-relay/backend/pkg/health"
	"ollama-chat-relay/backend/pkg/logger"
	"ollama-chat-relay/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine *gin.Engine
	Hub    *ws.Hub
	Config *config.Config
	Logger *logger.Logger

	authHandler   *api.AuthHandler
	systemHandler *api.SystemHandler
}

// New creates the gin engine, wires the middleware stack and the websocket hub
func New(
	cfg *config.Config,
	log *logger.Logger,
	hub *ws.Hub,
	authSvc *auth.Service,
	inferer *ollama.Client,
	sessions *store.SessionRegistry,
	checker *health.Checker,
) *Router {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(logger.Middleware(log))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())

	rateLimiter := middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Limit:          rate.Limit(cfg.Security.RateLimit),
		Burst:          cfg.Security.RateLimitBurst,
		ExpiryDuration: middleware.DefaultRateLimiterOptions().ExpiryDuration,
		KeyFunc:        middleware.DefaultRateLimiterOptions().KeyFunc,
	})
	engine.Use(rateLimiter.Middleware())

	wsURL := "ws://" + strings.TrimPrefix(strings.TrimPrefix(cfg.Server.BaseURL, "http://"), "https://")

	return &Router{
		Engine:        engine,
		Hub:           hub,
		Config:        cfg,
		Logger:        log,
		authHandler:   api.NewAuthHandler(authSvc, wsURL, log),
		systemHandler: api.NewSystemHandler(cfg, authSvc, inferer, hub, sessions, checker, log),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	r.Engine.Use(corsMiddleware())

	apiRoutes := r.Engine.Group("/api")
	{
		apiRoutes.POST("/login", r.authHandler.Login)
		apiRoutes.POST("/register", r.authHandler.Register)
		apiRoutes.GET("/models", r.systemHandler.Models)
		apiRoutes.GET("/health", r.systemHandler.Health)
		apiRoutes.GET("/test", r.systemHandler.Test)
		apiRoutes.GET("/check-ollama", r.systemHandler.CheckBackend)
	}

	// WebSocket route
	r.Engine.GET("/ws", func(c *gin.Context) {
		ws.ServeWs(r.Hub, c)
	})
}

// corsMiddleware allows browser clients to reach the API and upgrade to
// websockets from other origins.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, Upgrade, Connection, Cache-Control")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Upgrade, Connection")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
