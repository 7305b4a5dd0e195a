package auth

import (
	"errors"
	"sync"
	"time"

	"ollama-chat-relay/backend/internal/models"
)

var ErrUserAlreadyExists = errors.New("user with this username already exists")

// UserTable is the in-memory identity table owned by the credential store.
// Insert semantics are insert-if-absent by username.
type UserTable struct {
	mu     sync.RWMutex
	byName map[string]*models.User
	nextID uint
}

// NewUserTable creates an empty user table
func NewUserTable() *UserTable {
	return &UserTable{
		byName: make(map[string]*models.User),
		nextID: 1,
	}
}

// Insert adds a new user with a hashed password. Returns ErrUserAlreadyExists
// if the username is taken.
func (t *UserTable) Insert(username, password, role string) (*models.User, error) {
	hash, err := models.HashPassword(password)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[username]; exists {
		return nil, ErrUserAlreadyExists
	}

	user := &models.User{
		ID:        t.nextID,
		Username:  username,
		Password:  hash,
		Role:      role,
		CreatedAt: time.Now(),
	}
	t.nextID++
	t.byName[username] = user

	copied := *user
	return &copied, nil
}

// FindByUsername looks up a user by username
func (t *UserTable) FindByUsername(username string) (*models.User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	user, exists := t.byName[username]
	if !exists {
		return nil, false
	}
	copied := *user
	return &copied, true
}

// Count returns the number of registered users
func (t *UserTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byName)
}

// List returns all users without sensitive fields
func (t *UserTable) List() []models.UserResponse {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := make([]models.UserResponse, 0, len(t.byName))
	for _, user := range t.byName {
		users = append(users, user.ToResponse())
	}
	return users
}
