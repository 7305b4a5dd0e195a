package ollama

// GenerateRequest is the body sent to the backend's streaming-completion endpoint
type GenerateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

// Options are the generation parameters forwarded with every request
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// generateLine is one newline-delimited JSON object of the backend's stream
type generateLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Delta is an incremental fragment of generated text. A Delta with Err set
// terminates the stream; a Delta with Done set is the final fragment.
type Delta struct {
	Content string
	Done    bool
	Err     error
}

// ModelInfo describes one model known to the backend
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}
