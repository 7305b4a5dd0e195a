package store

import (
	"sync"

	"ollama-chat-relay/backend/internal/models"
)

// ConversationStore holds every user's ordered message log in process memory.
// Messages are appended fully formed; readers always get copies, so a
// finalized entry is never observed mid-mutation. Session filtering is a
// linear scan, which is fine at the session counts this relay targets.
type ConversationStore struct {
	mu     sync.RWMutex
	byUser map[uint][]models.Message
}

// NewConversationStore creates an empty conversation store
func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		byUser: make(map[uint][]models.Message),
	}
}

// Append adds a message to the user's log
func (s *ConversationStore) Append(userID uint, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[userID] = append(s.byUser[userID], msg)
}

// History returns the user's messages for one session, in insertion order
func (s *ConversationStore) History(userID uint, sessionID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]models.Message, 0)
	for _, msg := range s.byUser[userID] {
		if msg.SessionID == sessionID {
			history = append(history, msg)
		}
	}
	return history
}

// Clear removes the user's messages for one session and reports how many were
// dropped. Clearing an already empty session is a no-op.
func (s *ConversationStore) Clear(userID uint, sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.byUser[userID]
	kept := log[:0]
	removed := 0
	for _, msg := range log {
		if msg.SessionID == sessionID {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	s.byUser[userID] = kept
	return removed
}

// MessageCount returns the total number of stored messages across all users
func (s *ConversationStore) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, log := range s.byUser {
		total += len(log)
	}
	return total
}
