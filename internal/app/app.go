package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"papermind/features/chat"
	"papermind/features/mcp"
	"papermind/features/paper"
	"papermind/features/stats"
	"papermind/internal/adapter/pdf"
	wstore "papermind/internal/adapter/weaviate"
	"papermind/internal/config"
	"papermind/internal/conversation"
	"papermind/internal/ingest"
	"papermind/internal/middleware"
	"papermind/internal/retrieval"
	"papermind/internal/text"
	"papermind/internal/vector"
)

type App struct {
	Handler      http.Handler
	PaperService *paper.Service
	Retrieval    *retrieval.Service
	Index        *vector.Index

	port int
}

func New(cfg *config.Config, deps *Dependencies, prompts *config.Prompts, logger *slog.Logger) (*App, error) {
	if deps.DB == nil || deps.Embedder == nil || deps.Completer == nil {
		return nil, fmt.Errorf("%w: incomplete dependencies", config.ErrConfiguration)
	}
	if prompts == nil {
		prompts = config.DefaultPrompts()
	}

	// Index
	var backend vector.Backend = vector.NewFlatBackend()
	if deps.Weaviate != nil {
		backend = wstore.NewStore(deps.Weaviate)
	}
	index := vector.NewIndex(deps.Embedder, vector.Options{
		Dir:       cfg.IndexDir,
		Model:     deps.Embedder.Model(),
		BatchSize: cfg.EmbedBatchSize,
		Backend:   backend,
	})

	// Feature: Paper
	pipeline, err := ingest.NewPipeline(
		pdf.NewExtractor(),
		index,
		text.Normalizer{StripReferences: cfg.StripReferences},
		cfg.ChunkSize,
		cfg.ChunkOverlap,
	)
	if err != nil {
		return nil, err
	}
	paperService := paper.NewService(paper.NewCatalogRepo(cfg.CatalogPath), pipeline)
	paperHandler := paper.NewHandler(paperService)

	// Feature: Chat
	convRepo := conversation.NewSQLRepo(deps.DB, cfg.DBDriver, cfg.MaxHistory)

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		logger.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(index, convRepo, deps.Completer, prompts, retrieval.OptionsFromConfig(cfg), queryLogger)
	chatHandler := chat.NewHandler(retrievalService, paperService, convRepo)

	// Feature: MCP
	mcpHandler := mcp.NewHandler(index, paperService, retrievalService)

	// Feature: Stats
	statsHandler := stats.NewHandler(paperService, convRepo, index)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /api/papers", middleware.CorrelationID(middleware.CORS(paperHandler.List)))
	mux.Handle("POST /api/refresh", middleware.CorrelationID(middleware.CORS(paperHandler.Refresh)))

	mux.Handle("POST /api/chat", middleware.CorrelationID(middleware.CORS(chatHandler.Chat)))
	mux.Handle("GET /api/chat/{paperID}", middleware.CorrelationID(middleware.CORS(chatHandler.History)))
	mux.Handle("POST /api/review", middleware.CorrelationID(middleware.CORS(chatHandler.Review)))
	mux.Handle("POST /api/summarize", middleware.CorrelationID(middleware.CORS(chatHandler.Summarize)))

	mux.Handle("GET /api/bookmarks", middleware.CorrelationID(middleware.CORS(chatHandler.Bookmarks)))
	mux.Handle("POST /api/bookmark", middleware.CorrelationID(middleware.CORS(chatHandler.ToggleBookmark)))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(middleware.CORS(mcpHandler.HandleMessage)))
	mux.Handle("/mcp/stream", middleware.CorrelationID(mcp.NewStreamServer(mcpHandler).HTTPHandler()))

	mux.Handle("GET /stats", middleware.CorrelationID(middleware.CORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:      mux,
		PaperService: paperService,
		Retrieval:    retrievalService,
		Index:        index,
		port:         cfg.ServerPort,
	}, nil
}

// EnsureIndex builds the index from the catalog when no generation has been
// published yet.
func (a *App) EnsureIndex(ctx context.Context) error {
	_, err := a.Index.Stats(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, vector.ErrIndexNotFound) {
		return err
	}

	slog.InfoContext(ctx, "no index found, building from catalog")
	report, err := a.PaperService.Refresh(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "initial index build finished",
		"status", report.Status, "documents", report.Documents, "chunks", report.Chunks)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
