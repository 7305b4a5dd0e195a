package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"ollama-chat-relay/backend/internal/models"
	"ollama-chat-relay/backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
)

// Client is one websocket connection and its protocol state machine. The
// machine moves Connected -> Authenticated&Idle <-> Streaming; auth failures
// leave it in Connected, and closing the connection terminates everything.
type Client struct {
	ID         string
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	log        *logger.Logger
	remoteAddr string

	// cancelled when the connection goes away; no turn outlives it
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	identity  *models.Identity
	sessionID string
	streaming bool
}

func newClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Client{
		ID:         id,
		conn:       conn,
		send:       make(chan []byte, 256),
		hub:        hub,
		log:        hub.log.WithClientID(id),
		remoteAddr: remoteAddr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// currentSessionID returns the live session id, or "" before authentication
func (c *Client) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ReadPump reads frames off the connection and drives the state machine.
// Each connection runs a single read loop, so no two operations interleave;
// the one long-lived suspension per chat turn runs in its own goroutine tied
// to the connection context.
func (c *Client) ReadPump() {
	defer func() {
		c.cancel()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("read error", "error", err.Error())
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			// malformed frames produce a local error and no state change
			c.sendError("Invalid JSON frame")
			continue
		}

		c.handleFrame(frame)
	}
}

// WritePump serializes outbound frames and keeps the liveness probe running
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleFrame is the dispatch point of the state machine
func (c *Client) handleFrame(frame Frame) {
	if frame.Type == frameAuth {
		c.handleAuth(frame.Token)
		return
	}

	identity, sessionID, ok := c.requireAuth()
	if !ok {
		return
	}

	c.hub.sessions.Touch(sessionID)

	switch frame.Type {
	case frameChat:
		c.handleChat(frame, identity, sessionID)
	case frameGetHistory:
		c.handleGetHistory(identity, sessionID)
	case frameClearHistory:
		c.handleClearHistory(identity, sessionID)
	case frameNewConversation:
		c.handleNewConversation(identity)
	case framePing:
		c.sendFrame(pongFrame{Type: "pong", Timestamp: time.Now()})
	default:
		c.sendError("Unknown frame type: " + frame.Type)
	}
}

// requireAuth gates every operation except auth. Expiry is re-checked on each
// call, so a token outliving its validity window drops the connection back to
// the unauthenticated state without closing it.
func (c *Client) requireAuth() (models.Identity, string, bool) {
	c.mu.Lock()
	identity := c.identity
	sessionID := c.sessionID
	c.mu.Unlock()

	if identity == nil {
		c.sendFrame(authRequiredFrame{
			Type:    "auth_required",
			Message: "Authentication required. Send an \"auth\" frame with your token.",
		})
		return models.Identity{}, "", false
	}

	if identity.Expired(c.hub.tokenValidity) {
		c.mu.Lock()
		c.identity = nil
		c.sessionID = ""
		c.mu.Unlock()
		c.hub.sessions.Remove(sessionID)
		c.sendFrame(authErrorFrame{
			Type:    "auth_error",
			Message: "Token expired. Please authenticate again.",
		})
		return models.Identity{}, "", false
	}

	return *identity, sessionID, true
}

func (c *Client) handleAuth(token string) {
	if token == "" {
		c.hub.metrics.AuthFailures.Add(c.ctx, 1)
		c.sendFrame(authErrorFrame{Type: "auth_error", Message: "Missing token"})
		return
	}

	identity, err := c.hub.creds.VerifyToken(token)
	if err != nil {
		// remain in Connected so the client may retry
		c.hub.metrics.AuthFailures.Add(c.ctx, 1)
		c.log.Warn("authentication failed", "error", err.Error())
		c.sendFrame(authErrorFrame{
			Type:    "auth_error",
			Message: "Invalid or expired token. Please log in again.",
		})
		return
	}

	sessionID := models.NewSessionID(identity.UserID, c.ID)

	c.mu.Lock()
	previous := c.sessionID
	c.identity = identity
	c.sessionID = sessionID
	c.mu.Unlock()

	if previous != "" {
		c.hub.sessions.Remove(previous)
	}

	now := time.Now()
	c.hub.sessions.Insert(models.Session{
		ID:           sessionID,
		UserID:       identity.UserID,
		Username:     identity.Username,
		ClientID:     c.ID,
		RemoteAddr:   c.remoteAddr,
		CreatedAt:    now,
		LastActivity: now,
	})

	c.log.Info("client authenticated", "user_id", identity.UserID, "username", identity.Username, "session_id", sessionID)

	c.sendFrame(authenticatedFrame{
		Type:      "authenticated",
		SessionID: sessionID,
		UserID:    identity.UserID,
		Username:  identity.Username,
		Models:    c.hub.models,
		Message:   "Authentication successful",
	})
}

func (c *Client) handleChat(frame Frame, identity models.Identity, sessionID string) {
	content := strings.TrimSpace(frame.Content)
	if content == "" {
		c.sendError("Empty message")
		return
	}
	if c.hub.maxContentLength > 0 && len(content) > c.hub.maxContentLength {
		c.sendError("Message too long")
		return
	}

	model := frame.Model
	if model == "" {
		model = c.hub.defaultModel
	}

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		c.sendError("A response is already streaming for this connection")
		return
	}
	c.streaming = true
	c.mu.Unlock()

	// the stored user message and the forwarded prompt are the same string
	c.hub.conversations.Append(identity.UserID, models.Message{
		Role:      models.RoleUser,
		Content:   content,
		Model:     model,
		Timestamp: time.Now(),
		SessionID: sessionID,
	})

	c.sendFrame(processingFrame{
		Type:      "processing",
		MessageID: uuid.NewString(),
		Timestamp: time.Now(),
	})

	go c.streamTurn(content, model, identity, sessionID)
}

// streamTurn runs one chat turn against the inference backend. It is the only
// long-lived suspension point per connection; its lifetime is bounded by the
// connection context plus a wall-clock ceiling.
func (c *Client) streamTurn(prompt, model string, identity models.Identity, sessionID string) {
	defer func() {
		c.mu.Lock()
		c.streaming = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(c.ctx, c.hub.streamTimeout)
	defer cancel()

	c.hub.metrics.ChatTurns.Add(ctx, 1)

	deltas, err := c.hub.streamer.Generate(ctx, model, prompt)
	if err != nil {
		c.hub.metrics.StreamErrors.Add(context.Background(), 1)
		c.log.Warn("backend request failed", "model", model, "error", err.Error())
		c.sendError("Backend error: " + err.Error())
		return
	}

	var full strings.Builder
	for delta := range deltas {
		if delta.Err != nil {
			c.failTurn(delta.Err.Error(), full.String(), model, identity, sessionID)
			return
		}
		if delta.Content != "" {
			full.WriteString(delta.Content)
			c.sendFrame(chunkFrame{Type: "chunk", Content: delta.Content, Done: delta.Done})
			c.hub.metrics.DeltasRelayed.Add(ctx, 1)
		}
		if delta.Done {
			break
		}
	}

	if c.ctx.Err() != nil {
		// connection closed mid-stream: nothing beyond what was already
		// flushed gets persisted, and no event is emitted
		return
	}
	if ctx.Err() == context.DeadlineExceeded {
		c.failTurn("response timed out", full.String(), model, identity, sessionID)
		return
	}

	// finalize: the assistant message is frozen and becomes part of history
	response := full.String()
	if response != "" {
		c.hub.conversations.Append(identity.UserID, models.Message{
			Role:      models.RoleAssistant,
			Content:   response,
			Model:     model,
			Timestamp: time.Now(),
			SessionID: sessionID,
		})
		c.sendFrame(completeFrame{
			Type:         "complete",
			FullResponse: response,
			MessageID:    uuid.NewString(),
			Timestamp:    time.Now(),
		})
	}

	c.log.Info("chat turn completed", "model", model, "response_chars", len(response))
}

// failTurn handles a mid-stream failure. Policy: the partial assistant text
// received before the failure is persisted, so history keeps continuity.
func (c *Client) failTurn(reason, partial, model string, identity models.Identity, sessionID string) {
	c.hub.metrics.StreamErrors.Add(context.Background(), 1)

	if partial != "" {
		c.hub.conversations.Append(identity.UserID, models.Message{
			Role:      models.RoleAssistant,
			Content:   partial,
			Model:     model,
			Timestamp: time.Now(),
			SessionID: sessionID,
		})
	}

	c.log.Warn("chat turn failed", "model", model, "partial_chars", len(partial), "reason", reason)
	c.sendError("Backend error: " + reason)
}

func (c *Client) handleGetHistory(identity models.Identity, sessionID string) {
	history := c.hub.conversations.History(identity.UserID, sessionID)
	c.sendFrame(historyFrame{
		Type:      "history",
		Messages:  history,
		Count:     len(history),
		SessionID: sessionID,
	})
}

func (c *Client) handleClearHistory(identity models.Identity, sessionID string) {
	removed := c.hub.conversations.Clear(identity.UserID, sessionID)
	c.log.Info("history cleared", "session_id", sessionID, "removed", removed)
	c.sendFrame(historyClearedFrame{
		Type:      "history_cleared",
		SessionID: sessionID,
		Message:   "History cleared",
	})
}

// handleNewConversation starts a fresh log partition for the same identity
// without closing the connection. The previous session's messages stay stored
// under the old session id.
func (c *Client) handleNewConversation(identity models.Identity) {
	sessionID := models.NewSessionID(identity.UserID, c.ID)

	c.mu.Lock()
	previous := c.sessionID
	c.sessionID = sessionID
	c.mu.Unlock()

	c.hub.sessions.Remove(previous)

	now := time.Now()
	c.hub.sessions.Insert(models.Session{
		ID:           sessionID,
		UserID:       identity.UserID,
		Username:     identity.Username,
		ClientID:     c.ID,
		RemoteAddr:   c.remoteAddr,
		CreatedAt:    now,
		LastActivity: now,
	})

	c.log.Info("new conversation", "session_id", sessionID)
	c.sendFrame(newConversationFrame{
		Type:      "new_conversation",
		SessionID: sessionID,
		Message:   "New conversation started",
	})
}

// sendFrame marshals an outbound event and queues it for the write pump.
// Emission order equals call order; the turn goroutine emits chunks
// sequentially so chunk order equals arrival order.
func (c *Client) sendFrame(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.LogError(err, "failed to marshal frame")
		return
	}

	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

func (c *Client) sendError(message string) {
	c.sendFrame(errorFrame{Type: "error", Message: message})
}
