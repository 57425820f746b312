package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papermind/internal/config"
	"papermind/internal/llm"
	"papermind/internal/vector"
)

// fakeEmbedder maps text onto letter counts so related strings land close.
type fakeEmbedder struct{}

func (fakeEmbedder) Model() string { return "fake-embed" }

func (fakeEmbedder) Embed(_ context.Context, s string) ([]float32, error) {
	v := make([]float32, 8)
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%8]++
		}
	}
	return v, nil
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls [][]llm.Message
	reply string
}

func (f *fakeCompleter) Complete(_ context.Context, messages []llm.Message, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	return f.reply, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DataDir:                  dir,
		CatalogPath:              filepath.Join(dir, "metadata.json"),
		IndexDir:                 filepath.Join(dir, "index"),
		QueryLogPath:             filepath.Join(dir, "logs", "query.log"),
		DBDriver:                 config.DriverSQLite,
		DBPath:                   filepath.Join(dir, "db", "papermind.db"),
		VectorBackend:            config.BackendFile,
		EmbeddingProvider:        config.ProviderOllama,
		EmbeddingModel:           "fake-embed",
		EmbedBatchSize:           8,
		CompletionProvider:       config.ProviderOllama,
		CompletionModel:          "fake-chat",
		CompletionTimeoutSeconds: 5,
		ChunkSize:                1000,
		ChunkOverlap:             200,
		StripReferences:          true,
		TopKChat:                 5,
		TopKReview:               7,
		TopKSummary:              3,
		MaxHistory:               20,
		HistoryWindow:            4,
		ServerPort:               0,
		BootstrapRetryAttempts:   1,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func TestNew(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t)
	deps := &Dependencies{DB: db, Embedder: fakeEmbedder{}, Completer: &fakeCompleter{reply: "ok"}}

	app, err := New(cfg, deps, nil, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, app.Handler)
	assert.NotNil(t, app.PaperService)
	assert.NotNil(t, app.Retrieval)
	assert.NotNil(t, app.Index)

	t.Run("health", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})

	t.Run("papers without catalog", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/papers", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":[]}`, w.Body.String())
		assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	})

	t.Run("stats before first build", func(t *testing.T) {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM bookmarks`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"data":{"papers":0,"chunks":0,"bookmarks":0,"index":null}}`, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("chat validation", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"paper_id":"p1"}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("mcp tools list", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/mcp",
			strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "papermind_search")
	})

	t.Run("mcp stream initialize", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/mcp/stream", strings.NewReader(
			`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		app.Handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "papermind")
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		app.Handler.ServeHTTP(w, httptest.NewRequest("DELETE", "/api/papers", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestNew_IncompleteDependencies(t *testing.T) {
	_, err := New(testConfig(t), &Dependencies{}, nil, testLogger())
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestNew_InvalidChunking(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t)
	cfg.ChunkOverlap = cfg.ChunkSize
	_, err = New(cfg, &Dependencies{DB: db, Embedder: fakeEmbedder{}, Completer: &fakeCompleter{}}, nil, testLogger())
	assert.Error(t, err)
}

func TestApp_ChatRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	db, err := OpenDatabase(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	catalog := `[{"id":"p1","title":"Test Paper","authors":["A. Author"],"summary":"An abstract."}]`
	require.NoError(t, os.WriteFile(cfg.CatalogPath, []byte(catalog), 0o600))

	completer := &fakeCompleter{reply: "The method is simple."}
	app, err := New(cfg, &Dependencies{DB: db, Embedder: fakeEmbedder{}, Completer: completer}, nil, testLogger())
	require.NoError(t, err)

	_, err = app.Index.Build(context.Background(), []vector.Entry{
		{DocumentID: "p1", Title: "Test Paper", Text: "This is the method section."},
		{DocumentID: "p1", Title: "Test Paper", Text: "Results are strong."},
	})
	require.NoError(t, err)

	body := `{"paper_id":"p1","query":"what is the method?"}`
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/chat", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Response string          `json:"response"`
			Sources  []vector.Result `json:"sources"`
			Fallback bool            `json:"fallback"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "The method is simple.", resp.Data.Response)
	assert.False(t, resp.Data.Fallback)
	require.Len(t, resp.Data.Sources, 2)
	assert.LessOrEqual(t, resp.Data.Sources[0].Distance, resp.Data.Sources[1].Distance)

	require.Len(t, completer.calls, 1)
	assert.Contains(t, completer.calls[0][0].Content, "[Context 1]")

	w = httptest.NewRecorder()
	app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/chat/p1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Data []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&history))
	require.Len(t, history.Data, 2)
	assert.Equal(t, "user", history.Data[0].Role)
	assert.Equal(t, "assistant", history.Data[1].Role)
	assert.Equal(t, "The method is simple.", history.Data[1].Content)

	w = httptest.NewRecorder()
	app.Handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/bookmark",
		bytes.NewBufferString(`{"paper_id":"p1","title":"Test Paper"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bookmarked":true`)

	w = httptest.NewRecorder()
	app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"chunks":2`)
	assert.Contains(t, w.Body.String(), `"bookmarks":1`)
	assert.Contains(t, w.Body.String(), `"papers":1`)
}

func TestApp_EnsureIndex(t *testing.T) {
	cfg := testConfig(t)
	db, err := OpenDatabase(context.Background(), cfg)
	require.NoError(t, err)
	defer db.Close()

	app, err := New(cfg, &Dependencies{DB: db, Embedder: fakeEmbedder{}, Completer: &fakeCompleter{}}, nil, testLogger())
	require.NoError(t, err)

	// An empty catalog leaves nothing to publish.
	require.NoError(t, app.EnsureIndex(context.Background()))
	_, err = app.Index.Stats(context.Background())
	assert.ErrorIs(t, err, vector.ErrIndexNotFound)

	_, err = app.Index.Build(context.Background(), []vector.Entry{{DocumentID: "p1", Title: "T", Text: "text"}})
	require.NoError(t, err)
	require.NoError(t, app.EnsureIndex(context.Background()))
}
