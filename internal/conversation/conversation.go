// Package conversation persists per-paper chat history and bookmarks.
package conversation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPersistence = errors.New("conversation persistence failure")
	ErrInvalidRole = errors.New("invalid message role")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"documentId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Bookmark struct {
	DocumentID string    `json:"documentId"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Repository interface {
	Append(ctx context.Context, documentID, role, content string) error
	Read(ctx context.Context, documentID string) ([]Message, error)
	ToggleBookmark(ctx context.Context, documentID, title string) (bool, error)
	ListBookmarks(ctx context.Context) ([]Bookmark, error)
	CountBookmarks(ctx context.Context) (int, error)
}
