// ZeroCode - AI assistant panel server for the no-code app builder.
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

	"github.com/ashureev/zerocode/internal/api"
	"github.com/ashureev/zerocode/internal/assistant"
	"github.com/ashureev/zerocode/internal/config"
	"github.com/ashureev/zerocode/internal/gateway"
	"github.com/ashureev/zerocode/internal/identity"
	"github.com/ashureev/zerocode/internal/live"
	"github.com/ashureev/zerocode/internal/logging"
	"github.com/ashureev/zerocode/internal/middleware"
	"github.com/ashureev/zerocode/internal/store"
	"github.com/ashureev/zerocode/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(os.Stdout, logging.ParseLevel(cfg.LogLevel), cfg.LogFile)
	if err != nil {
		slog.Error("Failed to initialize logging", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:funlen // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Gateway.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	gw, err := gateway.New(ctx, cfg.Gateway, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := gw.Close(); closeErr != nil {
			slog.Warn("Failed to close gateway", "error", closeErr)
		}
	}()

	conversationLogger, err := assistant.NewConversationLogger(assistant.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	orch := assistant.NewOrchestrator(gw, assistant.Models{
		Planning: cfg.Assistant.PlanningModel,
		Coding:   cfg.Assistant.CodingModel,
	}, cfg.Assistant.RewriteFileMarkers, logger)
	hub := assistant.NewHub(cfg.SSE.ReplayBufferSize, logger)
	defer hub.Close()
	svc := assistant.NewService(repo, orch, hub, conversationLogger, cfg.Assistant, logger)
	defer svc.Close()
	sm := live.NewSessionManager(logger)

	// Initialize handlers.
	assistantHandler := assistant.NewHandler(svc, hub, cfg, logger)
	defer assistantHandler.Close()
	apiHandler := api.NewHandler(repo, cfg, gw.Name())
	healthHandler := api.NewHealthHandler(repo, gw, cfg, logger)
	wsHandler := live.NewWebSocketHandler(svc, hub, repo, sm, live.Options{
		RateLimiter:    assistantHandler.RateLimiter(),
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
	}, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(chiMiddleware.RequestSize(cfg.SSE.MaxRequestBodySize))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All other routes carry the anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		assistantHandler.RegisterRoutes(r)
		r.Get("/ws/assistant", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.RunTTLWorker(gctx, cfg.SessionTTL/4, cfg.SessionTTL)
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownTimeout := cfg.Timeout.Shutdown
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		sm.CloseAll()
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
