package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"papermind/features/paper"
	"papermind/internal/retrieval"
	"papermind/internal/vector"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

// ErrInvalidArgs marks tool arguments rejected before any work is done.
var ErrInvalidArgs = errors.New("invalid tool arguments")

type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vector.Result, error)
}

type Papers interface {
	List(ctx context.Context) ([]paper.Paper, error)
	Get(ctx context.Context, id string) (*paper.Paper, error)
}

type Answerer interface {
	Answer(ctx context.Context, req retrieval.Request) (*retrieval.Answer, error)
}

type AskArgs struct {
	PaperID string `json:"paper_id" jsonschema:"the catalog id of the paper"`
	Query   string `json:"query" jsonschema:"the question to ask"`
}

type PaperSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Published string `json:"published,omitempty"`
	Category  string `json:"primary_category,omitempty"`
}

func (h *Handler) searchPassages(ctx context.Context, query string, limit int) ([]vector.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: Query is required", ErrInvalidArgs)
	}
	if limit < 1 || limit > maxSearchLimit {
		return nil, fmt.Errorf("%w: Limit must be between 1 and %d", ErrInvalidArgs, maxSearchLimit)
	}

	results, err := h.index.Search(ctx, query, limit)
	if err != nil {
		if !errors.Is(err, vector.ErrIndexNotFound) {
			slog.ErrorContext(ctx, "search failed", "error", err)
		}
		return nil, err
	}
	slog.InfoContext(ctx, "tool execution completed", "tool", "papermind_search", "result_count", len(results))
	return results, nil
}

func (h *Handler) paperSummaries(ctx context.Context) ([]PaperSummary, error) {
	papers, err := h.papers.List(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "list_papers failed", "error", err)
		return nil, err
	}
	out := make([]PaperSummary, len(papers))
	for i, p := range papers {
		out[i] = PaperSummary{ID: p.ID, Title: p.Title, Published: p.Published, Category: p.PrimaryCategory}
	}
	return out, nil
}

func (h *Handler) askPaper(ctx context.Context, args AskArgs) (*retrieval.Answer, error) {
	if args.PaperID == "" {
		return nil, fmt.Errorf("%w: paper_id is required", ErrInvalidArgs)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("%w: Query is required", ErrInvalidArgs)
	}

	p, err := h.papers.Get(ctx, args.PaperID)
	if err != nil {
		if !errors.Is(err, paper.ErrNotFound) {
			slog.ErrorContext(ctx, "ask failed to look up paper", "paper_id", args.PaperID, "error", err)
		}
		return nil, err
	}

	ans, err := h.answerer.Answer(ctx, retrieval.Request{
		DocumentID: p.ID,
		Title:      p.Title,
		Query:      args.Query,
		Mode:       retrieval.ModeChat,
	})
	if err != nil {
		slog.ErrorContext(ctx, "ask failed", "paper_id", p.ID, "error", err)
		return nil, err
	}
	slog.InfoContext(ctx, "tool execution completed", "tool", "papermind_ask", "sources", len(ans.Sources))
	return ans, nil
}

// argMessage strips the sentinel prefix for display.
func argMessage(err error) string {
	return strings.TrimPrefix(err.Error(), ErrInvalidArgs.Error()+": ")
}
