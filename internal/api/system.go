package api

import (
	"net/http"
	"time"

	"ollama-chat-relay/backend/internal/auth"
	"ollama-chat-relay/backend/internal/ollama"
	"ollama-chat-relay/backend/internal/store"
	"ollama-chat-relay/backend/internal/ws"
	"ollama-chat-relay/backend/pkg/config"
	"ollama-chat-relay/backend/pkg/health"
	"ollama-chat-relay/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Version of the relay's HTTP surface
const Version = "2.1.0"

// SystemHandler serves the service banner, model list, health and backend
// probe endpoints.
type SystemHandler struct {
	cfg      *config.Config
	authSvc  *auth.Service
	inferer  *ollama.Client
	hub      *ws.Hub
	sessions *store.SessionRegistry
	checker  *health.Checker
	logger   *logger.Logger
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(
	cfg *config.Config,
	authSvc *auth.Service,
	inferer *ollama.Client,
	hub *ws.Hub,
	sessions *store.SessionRegistry,
	checker *health.Checker,
	log *logger.Logger,
) *SystemHandler {
	return &SystemHandler{
		cfg:      cfg,
		authSvc:  authSvc,
		inferer:  inferer,
		hub:      hub,
		sessions: sessions,
		checker:  checker,
		logger:   log,
	}
}

// Test returns the service banner
func (h *SystemHandler) Test(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"message":   "Ollama chat relay",
		"version":   Version,
		"users":     h.authSvc.Users(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Models returns the configured model list
func (h *SystemHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"models":  h.cfg.Ollama.Models,
	})
}

// CheckBackend probes the inference backend and reports its installed models
func (h *SystemHandler) CheckBackend(c *gin.Context) {
	models, err := h.inferer.ListModels(c.Request.Context())
	if err != nil {
		h.logger.Warn("backend probe failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "The inference backend is not responding. Make sure it is installed and running.",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "Backend is up",
		"models":  models,
	})
}

// Health reports liveness counters and component statuses
func (h *SystemHandler) Health(c *gin.Context) {
	overall, components := h.checker.Overall()

	status := http.StatusOK
	if overall == health.StatusDown {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"success":              overall != health.StatusDown,
		"status":               string(overall),
		"timestamp":            time.Now().Format(time.RFC3339),
		"websocketConnections": h.hub.ConnectionCount(),
		"activeSessions":       h.sessions.Count(),
		"registeredUsers":      h.authSvc.UserCount(),
		"components":           components,
	})
}
