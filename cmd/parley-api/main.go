// Package main is the entry point for the parley-api server.
// Note: account registration, password handling and session issuance are
// owned by the identity subsystem; this server verifies its JWTs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/parleyhq/parley-api/internal/config"
	"github.com/parleyhq/parley-api/internal/database"
	"github.com/parleyhq/parley-api/internal/http/handlers"
	"github.com/parleyhq/parley-api/internal/http/mw"
	"github.com/parleyhq/parley-api/internal/logging"
	"github.com/parleyhq/parley-api/internal/repository"
	"github.com/parleyhq/parley-api/internal/service"
	"github.com/parleyhq/parley-api/internal/version"
	"github.com/parleyhq/parley-api/internal/worker"
)

func main() {
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting parley-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)

	// Clean up jobs left running by an unclean shutdown.
	staleCount, err := repos.Jobs.MarkStaleRunningFailed(context.Background(), cfg.StaleJobMaxAge)
	if err != nil {
		logger.Warn("failed to clean up stale jobs", "error", err)
	} else if staleCount > 0 {
		logger.Info("cleaned up stale running jobs", "count", staleCount)
	}

	usageSvc := service.NewUsageService(repos.UsageLogs, logger)
	generationSvc := service.NewGenerationService(repos.Users, usageSvc, logger)

	jobWorker := worker.New(
		repos.Jobs,
		repos.Sessions,
		repos.Users,
		generationSvc,
		worker.Config{
			PollInterval: cfg.WorkerPollInterval,
			Concurrency:  cfg.WorkerConcurrency,
			MaxAttempts:  cfg.WorkerMaxAttempts,
			RetryDelay:   cfg.WorkerRetryDelay,
		},
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	jobWorker.Start(ctx)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB) - chat messages never legitimately exceed it
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// IP-level backstop; per-user throttling happens in the message handler
	router.Use(httprate.LimitByIP(100, time.Minute))

	healthHandler := handlers.NewHealthHandler(db)
	chatHandler := handlers.NewChatHandler(repos.Sessions, repos.Jobs, usageSvc, logger)
	settingsHandler := handlers.NewSettingsHandler(repos.Users, logger)
	usageHandler := handlers.NewUsageHandler(usageSvc, logger)

	router.Get("/api/v1/health", healthHandler.Health)
	router.Get("/readyz", healthHandler.Ready)

	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(cfg.JWTSecret))

		r.Post("/api/v1/personas", chatHandler.CreatePersona)
		r.Post("/api/v1/sessions", chatHandler.CreateSession)
		r.Get("/api/v1/sessions/{id}", chatHandler.GetSession)
		r.Post("/api/v1/sessions/{id}/messages", chatHandler.PostMessage)
		r.Get("/api/v1/jobs/{id}", chatHandler.GetJob)

		r.Get("/api/v1/settings/llm", settingsHandler.GetSettings)
		r.Put("/api/v1/settings/llm", settingsHandler.UpdateSettings)

		r.Get("/api/v1/usage/limits", usageHandler.GetLimits)
		r.Get("/api/v1/usage/stats", usageHandler.GetStats)
		r.Get("/api/v1/usage/recent", usageHandler.GetRecent)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	jobWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down cleanly", "error", err)
	}

	logger.Info("stopped")
}
