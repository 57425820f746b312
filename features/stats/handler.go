package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"papermind/internal/middleware"
	"papermind/internal/vector"
)

type PaperRepo interface {
	Count(ctx context.Context) (int, error)
}

type BookmarkRepo interface {
	CountBookmarks(ctx context.Context) (int, error)
}

type IndexStats interface {
	Stats(ctx context.Context) (*vector.Manifest, error)
}

type Handler struct {
	paperRepo    PaperRepo
	bookmarkRepo BookmarkRepo
	index        IndexStats
}

func NewHandler(p PaperRepo, b BookmarkRepo, idx IndexStats) *Handler {
	return &Handler{paperRepo: p, bookmarkRepo: b, index: idx}
}

type StatsResponse struct {
	Papers    int              `json:"papers"`
	Chunks    int              `json:"chunks"`
	Bookmarks int              `json:"bookmarks"`
	Index     *vector.Manifest `json:"index"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	pCount, err := h.paperRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count papers", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count papers", http.StatusInternalServerError)
		return
	}

	bCount, err := h.bookmarkRepo.CountBookmarks(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count bookmarks", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count bookmarks", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Papers: pCount, Bookmarks: bCount}

	// No published index yet is not an error; chunks stay 0.
	m, err := h.index.Stats(ctx)
	switch {
	case errors.Is(err, vector.ErrIndexNotFound):
	case err != nil:
		slog.ErrorContext(ctx, "failed to read index stats", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read index stats", http.StatusInternalServerError)
		return
	default:
		resp.Index = m
		resp.Chunks = m.Count
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
		slog.Error("failed to encode error response", "error", err)
	}
}
