package ws

import (
	"context"
	"sync"
	"time"

	"ollama-chat-relay/backend/internal/models"
	"ollama-chat-relay/backend/internal/ollama"
	"ollama-chat-relay/backend/internal/store"
	"ollama-chat-relay/backend/pkg/config"
	"ollama-chat-relay/backend/pkg/logger"
	"ollama-chat-relay/backend/pkg/observability"
)

// CredentialStore is the contract the state machine depends on for
// authentication. Verification is stateless: decode, check the marker, check
// expiry.
type CredentialStore interface {
	VerifyToken(token string) (*models.Identity, error)
}

// Streamer produces inference deltas for one chat turn. The returned sequence
// is finite and not restartable.
type Streamer interface {
	Generate(ctx context.Context, model, prompt string) (<-chan ollama.Delta, error)
}

// Hub tracks live connections and owns the shared collaborators every
// connection's state machine works against.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	creds         CredentialStore
	streamer      Streamer
	sessions      *store.SessionRegistry
	conversations *store.ConversationStore
	metrics       *observability.RelayMetrics
	log           *logger.Logger

	models           []string
	defaultModel     string
	tokenValidity    time.Duration
	streamTimeout    time.Duration
	maxContentLength int
	maxFrameSize     int64

	mu sync.Mutex
}

// NewHub wires the hub with its collaborators
func NewHub(
	creds CredentialStore,
	streamer Streamer,
	sessions *store.SessionRegistry,
	conversations *store.ConversationStore,
	cfg *config.Config,
	metrics *observability.RelayMetrics,
	log *logger.Logger,
) *Hub {
	return &Hub{
		clients:          make(map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		creds:            creds,
		streamer:         streamer,
		sessions:         sessions,
		conversations:    conversations,
		metrics:          metrics,
		log:              log,
		models:           cfg.Ollama.Models,
		defaultModel:     cfg.Ollama.DefaultModel,
		tokenValidity:    cfg.Auth.TokenExpiry,
		streamTimeout:    cfg.Ollama.StreamTimeout,
		maxContentLength: cfg.Features.MaxContentLength,
		maxFrameSize:     cfg.Features.MaxMessageSize,
	}
}

func (h *Hub) maxMessageSize() int64 {
	if h.maxFrameSize <= 0 {
		return 512 * 1024
	}
	return h.maxFrameSize
}

// Run processes client registration until the process exits
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.ActiveConnections.Add(context.Background(), 1)
			h.log.Info("client connected", "client_id", client.ID, "remote_addr", client.remoteAddr)

		case client := <-h.unregister:
			h.mu.Lock()
			_, known := h.clients[client]
			if known {
				delete(h.clients, client)
			}
			h.mu.Unlock()

			if known {
				// registry state goes away with the connection, whatever the
				// close reason was
				if sessionID := client.currentSessionID(); sessionID != "" {
					h.sessions.Remove(sessionID)
				}
				h.metrics.ActiveConnections.Add(context.Background(), -1)
				h.log.Info("client disconnected", "client_id", client.ID)
			}
		}
	}
}

// ConnectionCount returns the number of live websocket connections
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
