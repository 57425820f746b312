package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"papermind/internal/adapter/gemini"
	"papermind/internal/adapter/ollama"
	"papermind/internal/config"
	"papermind/internal/llm"
	"papermind/internal/vector"
	"papermind/migrations"

	_ "github.com/lib/pq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	_ "modernc.org/sqlite"
)

var ErrNotReady = errors.New("dependency not ready")

// Embedder is what the index needs from an embedding provider.
type Embedder interface {
	vector.Embedder
	Model() string
}

type Dependencies struct {
	DB        *sql.DB
	Weaviate  *weaviate.Client
	Embedder  Embedder
	Completer llm.Completer

	closers []func() error
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{DB: db}
	deps.closers = append(deps.closers, db.Close)

	if cfg.VectorBackend == config.BackendWeaviate {
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		err = Retry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "weaviate", func(ctx context.Context) error {
			ready, err := wClient.Misc().ReadyChecker().Do(ctx)
			if err != nil {
				return err
			}
			if !ready {
				return ErrNotReady
			}
			return nil
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate not ready: %w", err)
		}
		deps.Weaviate = wClient
	}

	if err := deps.initProviders(ctx, cfg); err != nil {
		deps.Close()
		return nil, err
	}
	return deps, nil
}

// OpenDatabase opens the conversation store, waits for it to answer and
// applies migrations.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.DBDriver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.DBPath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create db dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", cfg.SQLiteDSN())
		if err == nil {
			// SQLite allows a single writer.
			db.SetMaxOpenConns(1)
		}
	case config.DriverPostgres:
		db, err = sql.Open("postgres", cfg.PostgresDSN())
	default:
		return nil, fmt.Errorf("%w: unknown DB_DRIVER %q", config.ErrConfiguration, cfg.DBDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := Retry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "db", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrations.Up(db, cfg.DBDriver); err != nil {
		db.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "migrations applied", "driver", cfg.DBDriver)
	return db, nil
}

func (d *Dependencies) initProviders(ctx context.Context, cfg *config.Config) error {
	timeout := time.Duration(cfg.CompletionTimeoutSeconds) * time.Second

	switch cfg.EmbeddingProvider {
	case config.ProviderGemini:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return fmt.Errorf("gemini embedder: %w", err)
		}
		d.Embedder = e
		d.closers = append(d.closers, e.Close)
	default:
		d.Embedder = ollama.NewEmbedder(ollama.Config{BaseURL: cfg.OllamaURL, Model: cfg.EmbeddingModel, Timeout: timeout})
	}

	switch cfg.CompletionProvider {
	case config.ProviderGemini:
		c, err := gemini.NewCompleter(ctx, cfg.GeminiAPIKey, cfg.CompletionModel)
		if err != nil {
			return fmt.Errorf("gemini completer: %w", err)
		}
		d.Completer = c
		d.closers = append(d.closers, c.Close)
	default:
		d.Completer = ollama.NewCompleter(ollama.Config{BaseURL: cfg.OllamaURL, Model: cfg.CompletionModel, Timeout: timeout})
	}
	return nil
}

// Close releases everything Bootstrap opened, in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// Retry calls fn up to attempts times, sleeping delay between failures.
func Retry(ctx context.Context, attempts int, delay time.Duration, name string, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.WarnContext(ctx, "dependency not ready, retrying...", "dependency", name, "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
