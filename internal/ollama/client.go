package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"ollama-chat-relay/backend/pkg/config"
	"ollama-chat-relay/backend/pkg/logger"
)

// Client talks to a local Ollama-compatible inference backend. Generation is
// streamed; everything else is a plain request/response call.
type Client struct {
	baseURL     string
	options     Options
	probeClient *http.Client
	// no timeout on the stream client; the caller bounds the turn via context
	streamClient *http.Client
	log          *logger.Logger
}

// NewClient creates an inference client from configuration
func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		baseURL: cfg.Ollama.BaseURL,
		options: Options{
			Temperature: cfg.Ollama.Temperature,
			NumPredict:  cfg.Ollama.NumPredict,
		},
		probeClient:  &http.Client{Timeout: cfg.Ollama.ProbeTimeout},
		streamClient: &http.Client{},
		log:          log,
	}
}

// Generate issues one streaming completion request and returns a channel of
// text deltas in arrival order. The sequence is finite and not restartable:
// the channel closes when the backend signals completion, the transport ends,
// or ctx is cancelled. A backend non-success status is returned immediately,
// before any deltas are produced.
func (c *Client) Generate(ctx context.Context, model, prompt string) (<-chan Delta, error) {
	body, err := json.Marshal(GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  true,
		Options: c.options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		// the backend reports errors as a JSON object body
		var backendErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&backendErr); decodeErr == nil && backendErr.Error != "" {
			return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, backendErr.Error)
		}
		return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, resp.Status)
	}

	deltas := make(chan Delta)
	go func() {
		defer close(deltas)
		defer resp.Body.Close()
		newStreamReader(resp.Body).relay(ctx, deltas)
	}()

	return deltas, nil
}

// ListModels queries the backend for its installed models
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create tags request: %w", err)
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend error %d: %s", resp.StatusCode, resp.Status)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}

	return tags.Models, nil
}
