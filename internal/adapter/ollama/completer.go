package ollama

import (
	"context"
	"log/slog"

	"papermind/internal/llm"
)

const DefaultCompletionModel = "llama3.2"

type Completer struct {
	c     client
	model string
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatResponse struct {
	Message llm.Message `json:"message"`
	Done    bool        `json:"done"`
}

func NewCompleter(cfg Config) *Completer {
	if cfg.Model == "" {
		cfg.Model = DefaultCompletionModel
	}
	return &Completer{c: newClient(cfg), model: cfg.Model}
}

// Ollama's chat roles match ours, so messages go over the wire unchanged.
func (c *Completer) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	if err := llm.Validate(messages); err != nil {
		return "", err
	}

	req := chatRequest{Model: c.model, Messages: messages}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.JSON {
		req.Format = "json"
	}

	slog.DebugContext(ctx, "sending chat completion", "model", req.Model, "messages", len(messages), "json", opts.JSON)
	var resp chatResponse
	if err := c.c.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}
