package api

import (
	"net/http"

	"ollama-chat-relay/backend/internal/auth"
	"ollama-chat-relay/backend/internal/models"
	"ollama-chat-relay/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles login and registration against the credential store
type AuthHandler struct {
	service *auth.Service
	wsURL   string
	logger  *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *auth.Service, wsURL string, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		wsURL:   wsURL,
		logger:  log,
	}
}

// Login handles user authentication and hands out the websocket URL the
// client should connect to with its token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("error binding JSON for login", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Username and password are required"})
		return
	}

	user, token, err := h.service.Login(&req)
	if err != nil {
		switch err {
		case auth.ErrInvalidCredentials:
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid username or password"})
		default:
			h.logger.Error("error during login", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "An error occurred during login"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"token":         token,
		"user":          user.ToResponse(),
		"message":       "Login successful",
		"websocket_url": h.wsURL,
	})
}

// Register handles account creation with insert-if-absent semantics
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("error binding JSON for register", "error", err.Error())
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Username and password are required"})
		return
	}

	user, token, err := h.service.Register(&req)
	if err != nil {
		switch err {
		case auth.ErrUsernameTooShort, auth.ErrPasswordTooShort, auth.ErrInvalidUsername:
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		case auth.ErrUserAlreadyExists:
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Username already taken"})
		default:
			h.logger.Error("error creating user", "error", err.Error())
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to create account"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"user":    user.ToResponse(),
		"message": "Registration successful",
	})
}
