package ws

import (
	"time"

	"ollama-chat-relay/backend/internal/models"
)

// Frame tags accepted from clients
const (
	frameAuth            = "auth"
	frameChat            = "chat"
	frameGetHistory      = "get_history"
	frameClearHistory    = "clear_history"
	frameNewConversation = "new_conversation"
	framePing            = "ping"
)

// Frame is one inbound protocol message. Unknown tags produce an error event,
// not a crash.
type Frame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Outbound frames. Each carries its tag in the "type" field.

type welcomeFrame struct {
	Type         string    `json:"type"`
	Message      string    `json:"message"`
	ClientID     string    `json:"clientId"`
	RequiresAuth bool      `json:"requiresAuth"`
	Timestamp    time.Time `json:"timestamp"`
}

type authenticatedFrame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId"`
	UserID    uint     `json:"userId"`
	Username  string   `json:"username"`
	Models    []string `json:"models"`
	Message   string   `json:"message"`
}

type authErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type authRequiredFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type processingFrame struct {
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

type chunkFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

type completeFrame struct {
	Type         string    `json:"type"`
	FullResponse string    `json:"fullResponse"`
	MessageID    string    `json:"messageId"`
	Timestamp    time.Time `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type historyFrame struct {
	Type      string           `json:"type"`
	Messages  []models.Message `json:"messages"`
	Count     int              `json:"count"`
	SessionID string           `json:"sessionId"`
}

type historyClearedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type newConversationFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type pongFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}
