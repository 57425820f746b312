// Package retrieval answers questions about a paper by combining index
// search, recent chat history and a completion model.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"papermind/internal/config"
	"papermind/internal/conversation"
	"papermind/internal/llm"
	"papermind/internal/vector"
)

var (
	ErrCompletion  = errors.New("completion failed")
	ErrUnknownMode = errors.New("unknown retrieval mode")
	ErrEmptyQuery  = errors.New("query is empty")
)

type Mode string

const (
	ModeChat    Mode = "chat"
	ModeReview  Mode = "review"
	ModeSummary Mode = "summary"
)

const (
	FallbackChat    = "I apologize, but I encountered an error generating the response."
	FallbackSummary = "I apologize, but I encountered an error generating the summary."
	FallbackReview  = "⚠️ Failed to generate structured review. Please try again."

	defaultReviewQuery  = "methodology results limitations conclusion"
	defaultSummaryQuery = "methodology and conclusion"
)

type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vector.Result, error)
}

type History interface {
	Append(ctx context.Context, documentID, role, content string) error
	Read(ctx context.Context, documentID string) ([]conversation.Message, error)
}

type Request struct {
	DocumentID string
	Title      string
	// Abstract is added to summary prompts when known.
	Abstract string
	Query    string
	Mode     Mode
	// Style selects a summary template; empty uses the default.
	Style string
}

type Review struct {
	MarkdownReport     string   `json:"markdown_report"`
	SuggestedQuestions []string `json:"suggested_questions"`
}

type Answer struct {
	Content string          `json:"content"`
	Review  *Review         `json:"review,omitempty"`
	Sources []vector.Result `json:"sources"`
	// Fallback is set when the completion failed and Content is a canned reply.
	Fallback bool `json:"fallback"`
}

type Options struct {
	TopKChat      int
	TopKReview    int
	TopKSummary   int
	HistoryWindow int
	ChatModel     string
	ReviewModel   string
	Timeout       time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopKChat:      cfg.TopKChat,
		TopKReview:    cfg.TopKReview,
		TopKSummary:   cfg.TopKSummary,
		HistoryWindow: cfg.HistoryWindow,
		ChatModel:     cfg.CompletionModel,
		ReviewModel:   cfg.ReviewModelName(),
		Timeout:       time.Duration(cfg.CompletionTimeoutSeconds) * time.Second,
	}
}

type Service struct {
	index     Searcher
	history   History
	completer llm.Completer
	prompts   *config.Prompts
	opts      Options
	logger    *QueryLogger
}

func NewService(index Searcher, history History, completer llm.Completer, prompts *config.Prompts, opts Options, l *QueryLogger) *Service {
	if prompts == nil {
		prompts = config.DefaultPrompts()
	}
	return &Service{index: index, history: history, completer: completer, prompts: prompts, opts: opts, logger: l}
}

func (s *Service) Answer(ctx context.Context, req Request) (*Answer, error) {
	switch req.Mode {
	case ModeChat:
		return s.chat(ctx, req)
	case ModeReview:
		return s.review(ctx, req)
	case ModeSummary:
		return s.summarize(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}

func (s *Service) chat(ctx context.Context, req Request) (*Answer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	sources, err := s.retrieve(ctx, req, query, s.opts.TopKChat)
	if err != nil {
		return nil, err
	}

	past, err := s.history.Read(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if w := s.opts.HistoryWindow; len(past) > w {
		past = past[len(past)-w:]
	}

	messages := make([]llm.Message, 0, len(past)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: render(s.prompts.Chat.System, req.Title, contextBlock(sources), ""),
	})
	for _, m := range past {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	reply, err := s.complete(ctx, messages, llm.Options{Model: s.opts.ChatModel})
	if err != nil {
		slog.ErrorContext(ctx, "chat completion failed", "document_id", req.DocumentID, "error", err)
		return &Answer{Content: FallbackChat, Sources: sources, Fallback: true}, nil
	}

	if err := s.history.Append(ctx, req.DocumentID, conversation.RoleUser, query); err != nil {
		return nil, err
	}
	if err := s.history.Append(ctx, req.DocumentID, conversation.RoleAssistant, reply); err != nil {
		return nil, err
	}
	return &Answer{Content: reply, Sources: sources}, nil
}

func (s *Service) review(ctx context.Context, req Request) (*Answer, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = defaultReviewQuery
	}

	sources, err := s.retrieve(ctx, req, query, s.opts.TopKReview)
	if err != nil {
		return nil, err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: render(s.prompts.Review.Instruction, req.Title, contextBlock(sources), "")},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Review the paper %q and respond with the JSON object.", req.Title)},
	}

	failed := func(err error) *Answer {
		slog.ErrorContext(ctx, "review generation failed", "document_id", req.DocumentID, "error", err)
		return &Answer{
			Content:  FallbackReview,
			Review:   &Review{MarkdownReport: FallbackReview, SuggestedQuestions: []string{}},
			Sources:  sources,
			Fallback: true,
		}
	}

	raw, err := s.complete(ctx, messages, llm.Options{Model: s.opts.ReviewModel, JSON: true})
	if err != nil {
		return failed(err), nil
	}
	rv, err := ParseReview(raw)
	if err != nil {
		return failed(fmt.Errorf("%w: %v", ErrCompletion, err)), nil
	}
	return &Answer{Content: rv.MarkdownReport, Review: rv, Sources: sources}, nil
}

// ParseReview decodes the model's review object. Both keys are required.
func ParseReview(raw string) (*Review, error) {
	var out struct {
		MarkdownReport     *string   `json:"markdown_report"`
		SuggestedQuestions *[]string `json:"suggested_questions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, fmt.Errorf("decode review: %w", err)
	}
	if out.MarkdownReport == nil || out.SuggestedQuestions == nil {
		return nil, errors.New("review is missing markdown_report or suggested_questions")
	}
	return &Review{MarkdownReport: *out.MarkdownReport, SuggestedQuestions: *out.SuggestedQuestions}, nil
}

func (s *Service) summarize(ctx context.Context, req Request) (*Answer, error) {
	style := req.Style
	if style == "" {
		style = s.prompts.Summary.DefaultMode
	}
	tmpl, ok := s.prompts.Summary.Modes[style]
	if !ok {
		return nil, fmt.Errorf("%w: summary style %q", ErrUnknownMode, style)
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = defaultSummaryQuery
	}

	sources, err := s.retrieve(ctx, req, query, s.opts.TopKSummary)
	if err != nil {
		return nil, err
	}

	var material strings.Builder
	fmt.Fprintf(&material, "Title: %s\n", req.Title)
	if req.Abstract != "" {
		fmt.Fprintf(&material, "Abstract: %s\n", req.Abstract)
	}
	material.WriteString("Key Excerpts:\n")
	material.WriteString(contextBlock(sources))

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.prompts.Summary.System},
		{Role: llm.RoleUser, Content: render(tmpl, req.Title, "", material.String())},
	}

	text, err := s.complete(ctx, messages, llm.Options{Model: s.opts.ChatModel})
	if err != nil {
		slog.ErrorContext(ctx, "summary generation failed", "document_id", req.DocumentID, "style", style, "error", err)
		return &Answer{Content: FallbackSummary, Sources: sources, Fallback: true}, nil
	}
	return &Answer{Content: text, Sources: sources}, nil
}

// retrieve searches with the title prepended to the query. A missing index
// yields no passages rather than an error.
func (s *Service) retrieve(ctx context.Context, req Request, query string, k int) ([]vector.Result, error) {
	start := time.Now()
	searchQuery := strings.TrimSpace(req.Title + " " + query)

	results, err := s.index.Search(ctx, searchQuery, k)

	entry := QueryLogEntry{
		Mode:       string(req.Mode),
		DocumentID: req.DocumentID,
		Query:      searchQuery,
		TopK:       k,
		NumResults: len(results),
		Duration:   time.Since(start),
	}
	if len(results) > 0 {
		d := results[0].Distance
		entry.TopDistance = &d
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if s.logger != nil {
		s.logger.Log(ctx, entry)
	}

	if errors.Is(err, vector.ErrIndexNotFound) {
		slog.WarnContext(ctx, "index not built, answering without context", "document_id", req.DocumentID)
		return []vector.Result{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}

func (s *Service) complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	out, err := s.completer.Complete(ctx, messages, opts)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletion, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty response", ErrCompletion)
	}
	return out, nil
}

func contextBlock(sources []vector.Result) string {
	var sb strings.Builder
	for i, r := range sources {
		fmt.Fprintf(&sb, "[Context %d]: %s\n\n", i+1, r.Text)
	}
	return sb.String()
}

func render(tmpl, title, passages, text string) string {
	return strings.NewReplacer("{title}", title, "{context}", passages, "{text}", text).Replace(tmpl)
}
