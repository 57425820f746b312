package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"papermind/internal/llm"
)

const DefaultCompletionModel = "gemini-1.5-flash"

var ErrEmptyCompletion = errors.New("gemini returned no text")

type Completer struct {
	client *genai.Client
	model  string
}

func NewCompleter(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Completer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	if model == "" {
		model = DefaultCompletionModel
	}
	client, err := genai.NewClient(ctx, append(opts, option.WithAPIKey(apiKey))...)
	if err != nil {
		return nil, err
	}
	return &Completer{client: client, model: model}, nil
}

// Complete replays all but the last message as chat history and sends the
// last one. System messages become the model's system instruction.
func (c *Completer) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	if err := llm.Validate(messages); err != nil {
		return "", err
	}

	name := c.model
	if opts.Model != "" {
		name = opts.Model
	}
	model := c.client.GenerativeModel(name)

	system, turns := llm.Split(messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if opts.JSON {
		model.ResponseMIMEType = "application/json"
	}

	cs := model.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	slog.DebugContext(ctx, "sending chat completion", "model", name, "turns", len(turns), "json", opts.JSON)
	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].Content))
	if err != nil {
		return "", err
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyCompletion
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}

func (c *Completer) Close() error {
	return c.client.Close()
}
