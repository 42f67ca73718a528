// Plan-It orchestration server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"planit/internal/api"
	"planit/internal/config"
	"planit/internal/contextmgr"
	"planit/internal/guardrail"
	"planit/internal/orchestrator"
	"planit/internal/provider"
	"planit/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting server", "addr", cfg.Addr, "model", cfg.Provider.Model)

	var store storage.Store
	if cfg.DBPath == "" {
		slog.Info("DB_PATH empty, using in-memory session store")
		store = storage.NewMemoryStore()
	} else {
		sqlite, err := storage.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		store = sqlite
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()

	gen := provider.NewOpenAIGenerator(provider.OpenAIConfig{
		BaseURL:   cfg.Provider.BaseURL,
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Provider.Model,
		TimeoutMS: cfg.Provider.TimeoutMS,
	})
	tok := contextmgr.NewTokenizerForModel(cfg.Provider.Model)
	cm := contextmgr.New(tok, gen, contextmgr.Options{
		TokenBudget:     cfg.Context.TokenBudget,
		TriggerFraction: cfg.Context.TriggerFraction,
		RecentMessages:  cfg.Context.RecentMessages,
	}, logger)
	guard := guardrail.New(gen, logger, cfg.Guardrail.Enabled)

	orch := orchestrator.New(gen, store, guard, cm, logger, orchestrator.Options{
		GenTimeout: time.Duration(cfg.Provider.TimeoutMS) * time.Millisecond,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Mount("/", api.NewHandler(orch, store, logger).Routes())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Graceful shutdown failed", "error", err)
		}
	}
}
