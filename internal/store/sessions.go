package store

import (
	"sync"
	"time"

	"ollama-chat-relay/backend/internal/models"
)

// SessionRegistry maps live session ids to their owning identity. Entries are
// inserted on successful authentication and deleted on disconnect or when a
// new conversation supersedes the session.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*models.Session),
	}
}

// Insert registers a session
func (r *SessionRegistry) Insert(session models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = &session
}

// Remove deletes a session; removing an unknown id is a no-op
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Get returns a copy of the session
func (r *SessionRegistry) Get(sessionID string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	if !exists {
		return models.Session{}, false
	}
	return *session, true
}

// Touch updates the session's last-activity timestamp
func (r *SessionRegistry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[sessionID]; exists {
		session.LastActivity = time.Now()
	}
}

// Count returns the number of live sessions
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
