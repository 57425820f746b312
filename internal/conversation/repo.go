package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SQLRepo stores history and bookmarks in SQLite or PostgreSQL. Queries are
// written with ? placeholders and rebound for postgres.
type SQLRepo struct {
	db         *sql.DB
	postgres   bool
	maxHistory int
	now        func() time.Time
}

func NewSQLRepo(db *sql.DB, driver string, maxHistory int) *SQLRepo {
	return &SQLRepo{
		db:         db,
		postgres:   driver == "postgres",
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

// WithClock overrides the timestamp source.
func (r *SQLRepo) WithClock(now func() time.Time) *SQLRepo {
	r.now = now
	return r
}

func (r *SQLRepo) q(query string) string {
	if !r.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

// Append inserts a message and trims the paper's history to the newest
// maxHistory messages in the same transaction.
func (r *SQLRepo) Append(ctx context.Context, documentID, role, content string) (err error) {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		r.q(`INSERT INTO chat_history (document_id, role, content, created_at) VALUES (?, ?, ?, ?)`),
		documentID, role, content, r.now().UnixNano()); err != nil {
		return fmt.Errorf("%w: insert message: %v", ErrPersistence, err)
	}

	var count int
	if err = tx.QueryRowContext(ctx,
		r.q(`SELECT COUNT(*) FROM chat_history WHERE document_id = ?`), documentID).Scan(&count); err != nil {
		return fmt.Errorf("%w: count messages: %v", ErrPersistence, err)
	}

	if excess := count - r.maxHistory; excess > 0 {
		if _, err = tx.ExecContext(ctx,
			r.q(`DELETE FROM chat_history WHERE id IN (SELECT id FROM chat_history WHERE document_id = ? ORDER BY id ASC LIMIT ?)`),
			documentID, excess); err != nil {
			return fmt.Errorf("%w: trim history: %v", ErrPersistence, err)
		}
		slog.DebugContext(ctx, "trimmed chat history", "document_id", documentID, "removed", excess)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return nil
}

func (r *SQLRepo) Read(ctx context.Context, documentID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx,
		r.q(`SELECT id, document_id, role, content, created_at FROM chat_history WHERE document_id = ? ORDER BY id ASC`),
		documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: read history: %v", ErrPersistence, err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var (
			m  Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrPersistence, err)
		}
		m.CreatedAt = time.Unix(0, ts).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read history: %v", ErrPersistence, err)
	}
	return messages, nil
}

// ToggleBookmark removes the bookmark if present, otherwise adds it. It
// reports whether the paper is bookmarked afterwards.
func (r *SQLRepo) ToggleBookmark(ctx context.Context, documentID, title string) (added bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", ErrPersistence, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM bookmarks WHERE document_id = ?`), documentID)
	if err != nil {
		return false, fmt.Errorf("%w: delete bookmark: %v", ErrPersistence, err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: delete bookmark: %v", ErrPersistence, err)
	}

	if removed == 0 {
		if _, err = tx.ExecContext(ctx,
			r.q(`INSERT INTO bookmarks (document_id, title, created_at) VALUES (?, ?, ?)`),
			documentID, title, r.now().UnixNano()); err != nil {
			return false, fmt.Errorf("%w: insert bookmark: %v", ErrPersistence, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %v", ErrPersistence, err)
	}
	return removed == 0, nil
}

// ListBookmarks returns bookmarks, most recently added first.
func (r *SQLRepo) ListBookmarks(ctx context.Context) ([]Bookmark, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document_id, title, created_at FROM bookmarks ORDER BY created_at DESC, document_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list bookmarks: %v", ErrPersistence, err)
	}
	defer rows.Close()

	bookmarks := []Bookmark{}
	for rows.Next() {
		var (
			b  Bookmark
			ts int64
		)
		if err := rows.Scan(&b.DocumentID, &b.Title, &ts); err != nil {
			return nil, fmt.Errorf("%w: scan bookmark: %v", ErrPersistence, err)
		}
		b.CreatedAt = time.Unix(0, ts).UTC()
		bookmarks = append(bookmarks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list bookmarks: %v", ErrPersistence, err)
	}
	return bookmarks, nil
}

func (r *SQLRepo) CountBookmarks(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count bookmarks: %v", ErrPersistence, err)
	}
	return n, nil
}
