package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"papermind/internal/app"
	"papermind/internal/config"
	"papermind/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("application exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	prompts, err := config.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return err
	}

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("failed to close dependencies", "error", err)
		}
	}()

	a, err := app.New(cfg, deps, prompts, log)
	if err != nil {
		return err
	}

	// A failed first build leaves the API up; chat answers without context
	// until POST /api/refresh succeeds.
	if err := a.EnsureIndex(ctx); err != nil {
		log.Warn("initial index build failed", "error", err)
	}

	return a.Run(ctx)
}
