// livesync keeps a dashboard's live state in sync with the push channel and
// serves it to views over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/expertdesk/livesync/internal/dispatch"
	"github.com/expertdesk/livesync/internal/effects"
	"github.com/expertdesk/livesync/internal/livestate"
	"github.com/expertdesk/livesync/internal/middleware"
	"github.com/expertdesk/livesync/internal/push"
	"github.com/expertdesk/livesync/internal/snapshot"
	"github.com/expertdesk/livesync/web"
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

	slog.Info("Starting livesync", "port", cfg.Port, "role", cfg.Role, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := livestate.New(cfg.RecentAnswersCap)

	// Seed from REST before any live event is applied.
	if cfg.AuthToken != "" {
		seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		snap, err := snapshot.NewClient(cfg.APIBaseURL, nil, logger).Fetch(seedCtx, cfg.Role, cfg.AuthToken)
		cancel()
		if err != nil {
			slog.Warn("Failed to seed live state, starting empty", "error", err)
		} else {
			live.Seed(snap)
			slog.Info("Live state seeded",
				"questions", len(snap.Questions),
				"recent_answers", len(snap.RecentAnswers),
			)
		}
	} else {
		slog.Info("No AUTH_TOKEN set, push channel stays idle")
	}

	pushURL := cfg.PushURL(cfg.Role, cfg.AuthToken)
	conn := push.NewManager(push.Config{
		MaxAttempts:    cfg.Reconnect.MaxAttempts,
		ReconnectDelay: cfg.Reconnect.Delay,
		Logger:         logger,
	})

	liveHandler := api.NewHandler(live, conn, api.Options{
		PushURL:   pushURL,
		Keepalive: cfg.SSEKeepalive,
		Logger:    logger,
	})

	// The dispatcher is the live store's single writer. Side effects go to
	// the log and to every open dashboard stream.
	dispatcher := dispatch.New(live, dispatch.Config{
		Toaster: effects.Tee{Toasters: []effects.Toaster{effects.LogToaster{Logger: logger}, liveHandler}},
		Cues:    effects.Tee{Players: []effects.CuePlayer{effects.LogCuePlayer{Logger: logger}, liveHandler}},
		Logger:  logger,
	})
	conn.OnMessage(dispatcher.Dispatch)
	// Callbacks may run out of order; Info.Seq lets the handler keep the newest.
	conn.OnStateChange(func(push.State) { liveHandler.ConnectionChanged(conn.Info()) })
	conn.OnExhausted(func() {
		liveHandler.Toast(effects.Toast{
			Title:   "Live updates paused",
			Message: "Connection lost. Reconnect to resume live updates.",
		})
	})

	healthHandler := api.NewHealthHandler(map[string]api.HealthCheck{
		"push": func(context.Context) error {
			if s := conn.State(); s == push.StateExhausted {
				return fmt.Errorf("push channel %s", s)
			}
			return nil
		},
	})

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.ViewCORS(allowedOrigins(cfg))))

	healthHandler.RegisterHealth(r)
	liveHandler.RegisterRoutes(r, middleware.RateLimit(middleware.NewRateLimiter(ctx, 5, time.Minute)))
	r.Get("/api/live/stats", func(w http.ResponseWriter, r *http.Request) {
		api.JSON(w, http.StatusOK, dispatcher.Stats())
	})

	// Serve embedded dashboard (SPA catch-all).
	r.Handle("/*", web.DashboardHandler())

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	conn.Connect(pushURL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// No reconnect may fire after this point.
	conn.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully", "frames", dispatcher.Stats())
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
