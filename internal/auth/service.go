package auth

import (
	"errors"
	"strings"
	"time"

	"ollama-chat-relay/backend/internal/models"
	"ollama-chat-relay/backend/pkg/config"
	"ollama-chat-relay/backend/pkg/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTooShort   = errors.New("username is too short")
	ErrPasswordTooShort   = errors.New("password is too short")
	ErrInvalidUsername    = errors.New("username contains invalid characters")
)

// demo accounts mirroring the deployment this relay was built for
var demoUsers = []struct {
	username string
	password string
	role     string
}{
	{"etudiant", "tp2024", models.RoleStudent},
	{"professeur", "admin2024", models.RoleTeacher},
	{"test", "test123", models.RoleStudent},
}

// Service is the credential store: it validates username/password pairs,
// issues bearer tokens and verifies them with expiry enforcement.
type Service struct {
	users             *UserTable
	codec             *TokenCodec
	log               *logger.Logger
	minUsernameLength int
	minPasswordLength int
}

// NewService creates the credential store from configuration, optionally
// seeding the demo accounts.
func NewService(cfg *config.Config, log *logger.Logger) *Service {
	s := &Service{
		users:             NewUserTable(),
		codec:             NewTokenCodec(cfg.Auth.TokenSecret, cfg.Auth.TokenExpiry),
		log:               log,
		minUsernameLength: cfg.Features.MinUsernameLength,
		minPasswordLength: cfg.Features.MinPasswordLength,
	}

	if cfg.Features.SeedDemoUsers {
		for _, seed := range demoUsers {
			if _, err := s.users.Insert(seed.username, seed.password, seed.role); err != nil {
				log.LogError(err, "failed to seed user", "username", seed.username)
			}
		}
		log.Info("seeded demo users", "count", len(demoUsers))
	}

	return s
}

// VerifyCredentials validates a username/password pair and returns a fresh identity
func (s *Service) VerifyCredentials(username, password string) (*models.Identity, error) {
	user, exists := s.users.FindByUsername(username)
	if !exists {
		return nil, ErrInvalidCredentials
	}
	if !models.CheckPasswordHash(password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	return &models.Identity{
		UserID:   user.ID,
		Username: user.Username,
		IssuedAt: time.Now(),
	}, nil
}

// IssueToken encodes an identity into an opaque bearer token
func (s *Service) IssueToken(identity models.Identity) string {
	return s.codec.Issue(identity)
}

// VerifyToken decodes and validates a bearer token. Returns ErrInvalidToken
// or ErrExpiredToken on failure.
func (s *Service) VerifyToken(token string) (*models.Identity, error) {
	return s.codec.Verify(token)
}

// Login authenticates a user and returns the account plus a bearer token
func (s *Service) Login(req *models.LoginRequest) (*models.User, string, error) {
	identity, err := s.VerifyCredentials(req.Username, req.Password)
	if err != nil {
		return nil, "", err
	}

	user, _ := s.users.FindByUsername(req.Username)
	token := s.IssueToken(*identity)

	s.log.Info("user logged in", "user_id", user.ID, "username", user.Username)
	return user, token, nil
}

// Register creates a new account with insert-if-absent semantics and returns
// it with a bearer token.
func (s *Service) Register(req *models.CreateUserRequest) (*models.User, string, error) {
	if len(req.Username) < s.minUsernameLength {
		return nil, "", ErrUsernameTooShort
	}
	if len(req.Password) < s.minPasswordLength {
		return nil, "", ErrPasswordTooShort
	}
	// colons would break the token encoding
	if strings.Contains(req.Username, ":") {
		return nil, "", ErrInvalidUsername
	}

	user, err := s.users.Insert(req.Username, req.Password, models.RoleStudent)
	if err != nil {
		return nil, "", err
	}

	token := s.IssueToken(models.Identity{
		UserID:   user.ID,
		Username: user.Username,
		IssuedAt: time.Now(),
	})

	s.log.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, token, nil
}

// Users returns all registered accounts without sensitive fields
func (s *Service) Users() []models.UserResponse {
	return s.users.List()
}

// UserCount returns the number of registered accounts
func (s *Service) UserCount() int {
	return s.users.Count()
}
