package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"papermind/features/paper"
	"papermind/internal/conversation"
	"papermind/internal/middleware"
	"papermind/internal/retrieval"
)

type Answerer interface {
	Answer(ctx context.Context, req retrieval.Request) (*retrieval.Answer, error)
}

type PaperLookup interface {
	Get(ctx context.Context, id string) (*paper.Paper, error)
}

type Store interface {
	Read(ctx context.Context, documentID string) ([]conversation.Message, error)
	ToggleBookmark(ctx context.Context, documentID, title string) (bool, error)
	ListBookmarks(ctx context.Context) ([]conversation.Bookmark, error)
}

type Handler struct {
	answerer Answerer
	papers   PaperLookup
	store    Store
}

func NewHandler(a Answerer, papers PaperLookup, store Store) *Handler {
	return &Handler{answerer: a, papers: papers, store: store}
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaperID    string `json:"paper_id"`
		PaperTitle string `json:"paper_title"`
		Query      string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.PaperID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "paper_id is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	title, ok := h.resolveTitle(w, r, req.PaperID, req.PaperTitle)
	if !ok {
		return
	}

	slog.InfoContext(r.Context(), "chat request", "paper_id", req.PaperID)
	ans, err := h.answerer.Answer(r.Context(), retrieval.Request{
		DocumentID: req.PaperID,
		Title:      title,
		Query:      req.Query,
		Mode:       retrieval.ModeChat,
	})
	if err != nil {
		h.answerError(r.Context(), w, err)
		return
	}

	h.writeData(r.Context(), w, map[string]interface{}{
		"response": ans.Content,
		"sources":  ans.Sources,
		"fallback": ans.Fallback,
	})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("paperID")
	if id == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "paper id is required", http.StatusBadRequest)
		return
	}

	msgs, err := h.store.Read(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to read chat history", "paper_id", id, "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to read chat history", http.StatusInternalServerError)
		return
	}
	h.writeData(r.Context(), w, msgs)
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaperID    string `json:"paper_id"`
		PaperTitle string `json:"paper_title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.PaperID == "" && req.PaperTitle == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "paper_id or paper_title is required", http.StatusBadRequest)
		return
	}

	title, ok := h.resolveTitle(w, r, req.PaperID, req.PaperTitle)
	if !ok {
		return
	}

	ans, err := h.answerer.Answer(r.Context(), retrieval.Request{
		DocumentID: req.PaperID,
		Title:      title,
		Mode:       retrieval.ModeReview,
	})
	if err != nil {
		h.answerError(r.Context(), w, err)
		return
	}

	review := ans.Review
	if review == nil {
		review = &retrieval.Review{MarkdownReport: ans.Content, SuggestedQuestions: []string{}}
	}
	h.writeData(r.Context(), w, map[string]interface{}{
		"markdown_report":     review.MarkdownReport,
		"suggested_questions": review.SuggestedQuestions,
		"sources":             ans.Sources,
		"fallback":            ans.Fallback,
	})
}

func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaperID string `json:"paper_id"`
		Mode    string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.PaperID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "paper_id is required", http.StatusBadRequest)
		return
	}

	p, err := h.papers.Get(r.Context(), req.PaperID)
	if err != nil {
		h.paperError(r.Context(), w, req.PaperID, err)
		return
	}

	ans, err := h.answerer.Answer(r.Context(), retrieval.Request{
		DocumentID: p.ID,
		Title:      p.Title,
		Abstract:   p.Summary,
		Mode:       retrieval.ModeSummary,
		Style:      req.Mode,
	})
	if err != nil {
		h.answerError(r.Context(), w, err)
		return
	}

	h.writeData(r.Context(), w, map[string]interface{}{
		"paper_id": p.ID,
		"summary":  ans.Content,
		"sources":  ans.Sources,
		"fallback": ans.Fallback,
	})
}

func (h *Handler) Bookmarks(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListBookmarks(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list bookmarks", "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to list bookmarks", http.StatusInternalServerError)
		return
	}
	h.writeData(r.Context(), w, list)
}

func (h *Handler) ToggleBookmark(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaperID string `json:"paper_id"`
		Title   string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.PaperID == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "paper_id is required", http.StatusBadRequest)
		return
	}

	added, err := h.store.ToggleBookmark(r.Context(), req.PaperID, req.Title)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to toggle bookmark", "paper_id", req.PaperID, "error", err)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Failed to update bookmark", http.StatusInternalServerError)
		return
	}
	h.writeData(r.Context(), w, map[string]interface{}{"paper_id": req.PaperID, "bookmarked": added})
}

// resolveTitle prefers the title sent by the client and falls back to the
// catalog.
func (h *Handler) resolveTitle(w http.ResponseWriter, r *http.Request, id, title string) (string, bool) {
	if title != "" {
		return title, true
	}
	p, err := h.papers.Get(r.Context(), id)
	if err != nil {
		h.paperError(r.Context(), w, id, err)
		return "", false
	}
	return p.Title, true
}

func (h *Handler) paperError(ctx context.Context, w http.ResponseWriter, id string, err error) {
	if errors.Is(err, paper.ErrNotFound) {
		h.writeError(ctx, w, "NOT_FOUND", "Paper not found", http.StatusNotFound)
		return
	}
	slog.ErrorContext(ctx, "failed to look up paper", "paper_id", id, "error", err)
	h.writeError(ctx, w, "INTERNAL_ERROR", "Failed to read paper catalog", http.StatusInternalServerError)
}

func (h *Handler) answerError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery), errors.Is(err, retrieval.ErrUnknownMode):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(ctx, "answer failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", err)
	}
}
