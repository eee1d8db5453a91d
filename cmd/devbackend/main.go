// devbackend is a local stand-in for the marketplace backend. It persists
// questions in SQLite, walks them through the answer workflow and pushes
// every transition to connected dashboards.
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

	"github.com/expertdesk/livesync/internal/api"
	"github.com/expertdesk/livesync/internal/config"
	"github.com/expertdesk/livesync/internal/hub"
	"github.com/expertdesk/livesync/internal/identity"
	"github.com/expertdesk/livesync/internal/middleware"
	"github.com/expertdesk/livesync/internal/pipeline"
	"github.com/expertdesk/livesync/internal/store"
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

	slog.Info("Starting dev backend", "port", cfg.DevBackend.Port, "step", cfg.DevBackend.PipelineStep)

	repo, err := store.NewSQLite(cfg.DevBackend.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pushHub := hub.New(cfg.FrontendURL, cfg.IsDevelopment(), logger)
	runner := pipeline.NewRunner(repo, pushHub, pipeline.Config{
		Step:   cfg.DevBackend.PipelineStep,
		Logger: logger,
	})
	producer := api.NewProducerHandler(runner, repo, pushHub)
	healthHandler := api.NewHealthHandler(map[string]api.HealthCheck{"database": repo.Ping})

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(middleware.ProducerCORS(origins)))

	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo))
		r.Use(middleware.RateLimit(middleware.NewRateLimiter(ctx, 120, time.Minute)))
		producer.RegisterRoutes(r)
		r.Get("/ws/{role}/", pushHub.ServeHTTP)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.DevBackend.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	runner.Start(ctx)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
