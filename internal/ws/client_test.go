package ws

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"ollama-chat-relay/backend/internal/models"
	"ollama-chat-relay/backend/internal/ollama"
	"ollama-chat-relay/backend/internal/store"
	"ollama-chat-relay/backend/pkg/config"
	"ollama-chat-relay/backend/pkg/logger"
	"ollama-chat-relay/backend/pkg/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCreds struct {
	mu       sync.Mutex
	identity *models.Identity
	err      error
}

func (s *stubCreds) VerifyToken(string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	identity := *s.identity
	return &identity, nil
}

func (s *stubCreds) set(identity *models.Identity, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
	s.err = err
}

type stubStreamer struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	deltas  []ollama.Delta
	err     error
	// when non-nil, delta delivery waits until the channel is closed
	gate chan struct{}
	// when set, the stream stays open after its deltas until ctx ends
	hangAfter bool
}

func (s *stubStreamer) Generate(ctx context.Context, model, prompt string) (<-chan ollama.Delta, error) {
	s.mu.Lock()
	s.calls++
	s.prompts = append(s.prompts, prompt)
	err := s.err
	deltas := s.deltas
	gate := s.gate
	hangAfter := s.hangAfter
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan ollama.Delta)
	go func() {
		defer close(out)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
		}
		for _, delta := range deltas {
			select {
			case out <- delta:
			case <-ctx.Done():
				return
			}
		}
		if hangAfter {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (s *stubStreamer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubStreamer) recordedPrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func testIdentity() *models.Identity {
	return &models.Identity{UserID: 1, Username: "etudiant", IssuedAt: time.Now()}
}

func testHub(creds CredentialStore, streamer Streamer) *Hub {
	cfg := &config.Config{}
	cfg.Ollama.Models = []string{"llama3.2:3b", "mistral"}
	cfg.Ollama.DefaultModel = "llama3.2:3b"
	cfg.Ollama.StreamTimeout = 5 * time.Second
	cfg.Auth.TokenExpiry = 24 * time.Hour
	cfg.Features.MaxContentLength = 4000

	logCfg := logger.DefaultConfig()
	logCfg.Level = "error"

	return NewHub(
		creds,
		streamer,
		store.NewSessionRegistry(),
		store.NewConversationStore(),
		cfg,
		observability.NoopMetrics(),
		logger.New(logCfg),
	)
}

func testClient(hub *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:         "client-test",
		send:       make(chan []byte, 256),
		hub:        hub,
		log:        hub.log.WithClientID("client-test"),
		remoteAddr: "127.0.0.1:52000",
		ctx:        ctx,
		cancel:     cancel,
	}
}

// nextFrame pops one queued outbound frame as a generic map
func nextFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an outbound frame")
		return nil
	}
}

func authenticate(t *testing.T, c *Client) string {
	t.Helper()
	c.handleFrame(Frame{Type: frameAuth, Token: "valid-token"})
	frame := nextFrame(t, c)
	require.Equal(t, "authenticated", frame["type"])
	return frame["sessionId"].(string)
}

func TestOperationsBeforeAuthAreRejected(t *testing.T) {
	hub := testHub(&stubCreds{identity: testIdentity()}, &stubStreamer{})
	c := testClient(hub)

	for _, op := range []string{frameChat, frameGetHistory, frameClearHistory, frameNewConversation, framePing} {
		c.handleFrame(Frame{Type: op, Content: "hello"})
		frame := nextFrame(t, c)
		assert.Equal(t, "auth_required", frame["type"], "operation %q must require auth", op)
	}
}

func TestAuthSuccess(t *testing.T) {
	hub := testHub(&stubCreds{identity: testIdentity()}, &stubStreamer{})
	c := testClient(hub)

	c.handleFrame(Frame{Type: frameAuth, Token: "valid-token"})

	frame := nextFrame(t, c)
	require.Equal(t, "authenticated", frame["type"])
	assert.Equal(t, "etudiant", frame["username"])
	assert.Equal(t, float64(1), frame["userId"])
	assert.Len(t, frame["models"], 2)

	sessionID := frame["sessionId"].(string)
	assert.True(t, strings.HasPrefix(sessionID, "session_1_"))
	assert.True(t, strings.HasSuffix(sessionID, "_client-test"))

	assert.Equal(t, 1, hub.sessions.Count())
	_, ok := hub.sessions.Get(sessionID)
	assert.True(t, ok)
}

func TestAuthMissingToken(t *testing.T) {
	hub := testHub(&stubCreds{identity: testIdentity()}, &stubStreamer{})
	c := testClient(hub)

	c.handleFrame(Frame{Type: frameAuth})

	frame := nextFrame(t, c)
	assert.Equal(t, "auth_error", frame["type"])
	assert.Equal(t, "Missing token", frame["message"])
	assert.Equal(t, 0, hub.sessions.Count())
}

func TestAuthFailureLeavesConnectionRetryable(t *testing.T) {
	creds := &stubCreds{err: assert.AnError}
	hub := testHub(creds, &stubStreamer{})
	c := testClient(hub)

	c.handleFrame(Frame{Type: frameAuth, Token: "bad-token"})
	frame := nextFrame(t, c)
	assert.Equal(t, "auth_error", frame["type"])
	assert.Equal(t, 0, hub.sessions.Count())

	// the connection stays open and a later auth attempt can succeed
	creds.set(testIdentity(), nil)
	c.handleFrame(Frame{Type: frameAuth, Token: "valid-token"})
	frame = nextFrame(t, c)
	assert.Equal(t, "authenticated", frame["type"])
}

func TestExpiredIdentityDropsBackToUnauthenticated(t *testing.T) {
	stale := testIdentity()
	stale.IssuedAt = time.Now().Add(-25 * time.Hour)
	hub := testHub(&stubCreds{identity: stale}, &stubStreamer{})
	c := testClient(hub)

	sessionID := authenticate(t, c)
	require.Equal(t, 1, hub.sessions.Count())

	// expiry is re-checked on every authenticated operation
	c.handleFrame(Frame{Type: frameChat, Content: "hello"})
	frame := nextFrame(t, c)
	assert.Equal(t, "auth_error", frame["type"])
	assert.Contains(t, frame["message"], "expired")

	assert.Equal(t, 0, hub.sessions.Count())
	_, ok := hub.sessions.Get(sessionID)
	assert.False(t, ok)

	// and the next operation reports auth_required
	c.handleFrame(Frame{Type: framePing})
	frame = nextFrame(t, c)
	assert.Equal(t, "auth_required", frame["type"])
}

func TestChatEmptyMessageIsNotForwarded(t *testing.T) {
	streamer := &stubStreamer{}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	authenticate(t, c)

	for _, content := range []string{"", "   ", "\n\t"} {
		c.handleFrame(Frame{Type: frameChat, Content: content})
		frame := nextFrame(t, c)
		assert.Equal(t, "error", frame["type"])
		assert.Equal(t, "Empty message", frame["message"])
	}

	assert.Equal(t, 0, streamer.callCount())
	assert.Equal(t, 0, hub.conversations.MessageCount())
}

func TestChatStreamsChunksInOrder(t *testing.T) {
	streamer := &stubStreamer{deltas: []ollama.Delta{
		{Content: "He"},
		{Content: "llo"},
		{Done: true},
	}}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	sessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "Bonjour"})

	frame := nextFrame(t, c)
	assert.Equal(t, "processing", frame["type"])

	frame = nextFrame(t, c)
	assert.Equal(t, "chunk", frame["type"])
	assert.Equal(t, "He", frame["content"])

	frame = nextFrame(t, c)
	assert.Equal(t, "chunk", frame["type"])
	assert.Equal(t, "llo", frame["content"])

	frame = nextFrame(t, c)
	require.Equal(t, "complete", frame["type"])
	assert.Equal(t, "Hello", frame["fullResponse"])

	history := hub.conversations.History(1, sessionID)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "Bonjour", history[0].Content)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello", history[1].Content)
}

func TestChatBackendRequestFailure(t *testing.T) {
	streamer := &stubStreamer{err: assert.AnError}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	sessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "Bonjour"})

	frame := nextFrame(t, c)
	assert.Equal(t, "processing", frame["type"])

	frame = nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "Backend error")

	// the user turn is kept even though no response arrived
	history := hub.conversations.History(1, sessionID)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleUser, history[0].Role)
}

func TestMidStreamFailurePersistsPartialResponse(t *testing.T) {
	streamer := &stubStreamer{deltas: []ollama.Delta{
		{Content: "Par"},
		{Err: assert.AnError},
	}}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	sessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "Bonjour"})

	assert.Equal(t, "processing", nextFrame(t, c)["type"])

	frame := nextFrame(t, c)
	assert.Equal(t, "chunk", frame["type"])
	assert.Equal(t, "Par", frame["content"])

	frame = nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])

	// the partial assistant text received before the failure is kept
	history := hub.conversations.History(1, sessionID)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Par", history[1].Content)
}

func TestConnectionCloseMidStreamAbandonsTurn(t *testing.T) {
	gate := make(chan struct{})
	streamer := &stubStreamer{
		deltas: []ollama.Delta{{Content: "never delivered", Done: true}},
		gate:   gate,
	}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	sessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "Bonjour"})
	assert.Equal(t, "processing", nextFrame(t, c)["type"])

	// connection goes away while the turn is still waiting on the backend
	c.cancel()
	defer close(gate)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.streaming
	}, 5*time.Second, 5*time.Millisecond)

	// no completion or error event is emitted for the abandoned turn
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame after connection close: %s", data)
	case <-time.After(100 * time.Millisecond):
	}

	// only the user message was flushed; no assistant message is appended
	history := hub.conversations.History(1, sessionID)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleUser, history[0].Role)
}

func TestStreamTimeoutFailsTurnAndPersistsPartial(t *testing.T) {
	streamer := &stubStreamer{
		deltas:    []ollama.Delta{{Content: "Par"}},
		hangAfter: true,
	}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	hub.streamTimeout = 50 * time.Millisecond
	c := testClient(hub)
	sessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "Bonjour"})

	assert.Equal(t, "processing", nextFrame(t, c)["type"])

	frame := nextFrame(t, c)
	assert.Equal(t, "chunk", frame["type"])
	assert.Equal(t, "Par", frame["content"])

	// the wall-clock ceiling fires and takes the transport-failure path
	frame = nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "timed out")

	history := hub.conversations.History(1, sessionID)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Par", history[1].Content)
}

func TestChatStoresAndForwardsTheSameTrimmedContent(t *testing.T) {
	streamer := &stubStreamer{deltas: []ollama.Delta{{Content: "Hello", Done: true}}}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	sessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "  Bonjour \n"})

	assert.Equal(t, "processing", nextFrame(t, c)["type"])
	assert.Equal(t, "chunk", nextFrame(t, c)["type"])
	assert.Equal(t, "complete", nextFrame(t, c)["type"])

	prompts := streamer.recordedPrompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, "Bonjour", prompts[0])

	history := hub.conversations.History(1, sessionID)
	require.Len(t, history, 2)
	assert.Equal(t, prompts[0], history[0].Content)
}

func TestSecondChatWhileStreamingIsRejected(t *testing.T) {
	gate := make(chan struct{})
	streamer := &stubStreamer{
		deltas: []ollama.Delta{{Content: "ok", Done: true}},
		gate:   gate,
	}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "first"})
	assert.Equal(t, "processing", nextFrame(t, c)["type"])

	// wait for the turn goroutine to mark the connection as streaming
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.streaming
	}, 5*time.Second, 5*time.Millisecond)

	c.handleFrame(Frame{Type: frameChat, Content: "second"})
	frame := nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "already streaming")
	assert.Equal(t, 1, streamer.callCount())

	// release the first turn; it completes normally
	close(gate)
	assert.Equal(t, "chunk", nextFrame(t, c)["type"])
	assert.Equal(t, "complete", nextFrame(t, c)["type"])
}

func TestGetHistoryAndClearHistory(t *testing.T) {
	streamer := &stubStreamer{deltas: []ollama.Delta{{Content: "Hello", Done: true}}}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	sessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "Bonjour"})
	assert.Equal(t, "processing", nextFrame(t, c)["type"])
	assert.Equal(t, "chunk", nextFrame(t, c)["type"])
	assert.Equal(t, "complete", nextFrame(t, c)["type"])

	c.handleFrame(Frame{Type: frameGetHistory})
	frame := nextFrame(t, c)
	require.Equal(t, "history", frame["type"])
	assert.Equal(t, float64(2), frame["count"])
	assert.Equal(t, sessionID, frame["sessionId"])

	c.handleFrame(Frame{Type: frameClearHistory})
	frame = nextFrame(t, c)
	assert.Equal(t, "history_cleared", frame["type"])

	c.handleFrame(Frame{Type: frameGetHistory})
	frame = nextFrame(t, c)
	assert.Equal(t, float64(0), frame["count"])

	// clearing an already empty history succeeds again
	c.handleFrame(Frame{Type: frameClearHistory})
	frame = nextFrame(t, c)
	assert.Equal(t, "history_cleared", frame["type"])
}

func TestNewConversationStartsFreshSession(t *testing.T) {
	streamer := &stubStreamer{deltas: []ollama.Delta{{Content: "Hello", Done: true}}}
	hub := testHub(&stubCreds{identity: testIdentity()}, streamer)
	c := testClient(hub)
	oldSessionID := authenticate(t, c)

	c.handleFrame(Frame{Type: frameChat, Content: "Bonjour"})
	assert.Equal(t, "processing", nextFrame(t, c)["type"])
	assert.Equal(t, "chunk", nextFrame(t, c)["type"])
	assert.Equal(t, "complete", nextFrame(t, c)["type"])

	// session ids carry a millisecond timestamp
	time.Sleep(2 * time.Millisecond)

	c.handleFrame(Frame{Type: frameNewConversation})
	frame := nextFrame(t, c)
	require.Equal(t, "new_conversation", frame["type"])

	newSessionID := frame["sessionId"].(string)
	assert.NotEqual(t, oldSessionID, newSessionID)
	assert.Equal(t, newSessionID, c.currentSessionID())

	// the registry tracks only the fresh session
	assert.Equal(t, 1, hub.sessions.Count())
	_, ok := hub.sessions.Get(oldSessionID)
	assert.False(t, ok)

	// the new session starts empty; the old messages stay stored
	c.handleFrame(Frame{Type: frameGetHistory})
	frame = nextFrame(t, c)
	assert.Equal(t, float64(0), frame["count"])
	assert.Len(t, hub.conversations.History(1, oldSessionID), 2)
}

func TestPingPong(t *testing.T) {
	hub := testHub(&stubCreds{identity: testIdentity()}, &stubStreamer{})
	c := testClient(hub)
	authenticate(t, c)

	c.handleFrame(Frame{Type: framePing})
	frame := nextFrame(t, c)
	assert.Equal(t, "pong", frame["type"])
}

func TestUnknownFrameType(t *testing.T) {
	hub := testHub(&stubCreds{identity: testIdentity()}, &stubStreamer{})
	c := testClient(hub)
	authenticate(t, c)

	c.handleFrame(Frame{Type: "bogus"})
	frame := nextFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "Unknown frame type")
}

func TestReauthenticationReplacesSession(t *testing.T) {
	hub := testHub(&stubCreds{identity: testIdentity()}, &stubStreamer{})
	c := testClient(hub)

	first := authenticate(t, c)
	time.Sleep(2 * time.Millisecond)
	second := authenticate(t, c)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, hub.sessions.Count())
	_, ok := hub.sessions.Get(first)
	assert.False(t, ok)
	_, ok = hub.sessions.Get(second)
	assert.True(t, ok)
}
