package conversation_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"papermind/internal/conversation"
	"papermind/migrations"
)

func newSQLiteRepo(t *testing.T, maxHistory int) *conversation.SQLRepo {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "papermind.db")+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Up(db, "sqlite"))

	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return conversation.NewSQLRepo(db, "sqlite", maxHistory).WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
}

func TestSQLite_HistoryCap(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t, 20)

	for i := 0; i < 25; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		require.NoError(t, repo.Append(ctx, "p1", role, fmt.Sprintf("msg %d", i)))
	}
	require.NoError(t, repo.Append(ctx, "p2", conversation.RoleUser, "other paper"))

	msgs, err := repo.Read(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg %d", i+5), m.Content)
	}

	other, err := repo.Read(ctx, "p2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSQLite_ReadEmpty(t *testing.T) {
	msgs, err := newSQLiteRepo(t, 20).Read(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}

func TestSQLite_BookmarkToggle(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t, 20)

	added, err := repo.ToggleBookmark(ctx, "p1", "First")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.ToggleBookmark(ctx, "p2", "Second")
	require.NoError(t, err)
	assert.True(t, added)

	list, err := repo.ListBookmarks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].DocumentID)
	assert.Equal(t, "First", list[1].Title)

	added, err = repo.ToggleBookmark(ctx, "p1", "First")
	require.NoError(t, err)
	assert.False(t, added)

	list, err = repo.ListBookmarks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p2", list[0].DocumentID)

	n, err := repo.CountBookmarks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
