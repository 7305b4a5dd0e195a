package models

import (
	"fmt"
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Identity is an authenticated principal as decoded from a bearer token.
// Immutable once issued; expiry is enforced by the credential store on every
// authenticated operation.
type Identity struct {
	UserID   uint      `json:"userId"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Expired reports whether the identity's token has outlived the validity window
func (i Identity) Expired(validity time.Duration) bool {
	return time.Since(i.IssuedAt) > validity
}

// Message is one entry in a conversation log. Content is append-only while an
// assistant response streams; once finalized the message is immutable.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId"`
}

// Session is the logical conversation partition tied to one connection's
// authenticated lifetime.
type Session struct {
	ID           string    `json:"sessionId"`
	UserID       uint      `json:"userId"`
	Username     string    `json:"username"`
	ClientID     string    `json:"clientId"`
	RemoteAddr   string    `json:"remoteAddr,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// NewSessionID derives a session id unique per connection lifetime, even for
// the same user reconnecting.
func NewSessionID(userID uint, clientID string) string {
	return fmt.Sprintf("session_%d_%d_%s", userID, time.Now().UnixMilli(), clientID)
}
