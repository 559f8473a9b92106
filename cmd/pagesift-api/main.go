// Package main is the entry point for the pagesift-api server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pagesift/pagesift-api/internal/config"
	"github.com/pagesift/pagesift-api/internal/database"
	"github.com/pagesift/pagesift-api/internal/http/handlers"
	"github.com/pagesift/pagesift-api/internal/http/mw"
	"github.com/pagesift/pagesift-api/internal/http/routes"
	"github.com/pagesift/pagesift-api/internal/logging"
	"github.com/pagesift/pagesift-api/internal/repository"
	"github.com/pagesift/pagesift-api/internal/service"
	"github.com/pagesift/pagesift-api/internal/shutdown"
	"github.com/pagesift/pagesift-api/internal/version"
	"github.com/pagesift/pagesift-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting pagesift-api",
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

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)

	// Jobs left running by a previous server run will never finish; fail them
	// on startup so their owners see a terminal status instead of a hang.
	staleCount, err := repos.Job.MarkStaleRunningJobsFailed(context.Background(), cfg.JobMaxDuration)
	if err != nil {
		logger.Warn("failed to clean up stale jobs", "error", err)
	} else if staleCount > 0 {
		logger.Info("cleaned up stale running jobs", "count", staleCount)
	}

	services, err := service.NewServices(cfg, repos, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	// Background worker that claims queued jobs and runs them end to end.
	jobWorker := worker.New(
		repos.Job,
		services.Scrape,
		worker.Config{
			PollInterval: cfg.WorkerPollInterval,
			Concurrency:  cfg.WorkerConcurrency,
			StaleAfter:   cfg.JobMaxDuration,
		},
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	jobWorker.Start(ctx)

	// Idle monitor for scale-to-zero hosting. Probe traffic is excluded so
	// health checks do not keep an idle machine alive.
	idleMonitor := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      cfg.IdleTimeout,
		Logger:       logger,
		ExcludePaths: []string{"/healthz", "/readyz"},
		BusyCheck:    func() bool { return jobWorker.InFlight() > 0 },
	})
	idleMonitor.Start()

	// Router and global middleware
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(idleMonitor.Middleware)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.APIVersion())

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-API-Version", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit (1MB). Scrape submissions are small; anything larger
	// is a mistake or an attack.
	router.Use(middleware.RequestSize(1 * 1024 * 1024))

	// Rate limit keyed on the API key when present, the client IP otherwise.
	router.Use(mw.RateLimitByKey(120))

	// Concurrency throttle across all endpoints.
	router.Use(middleware.Throttle(100))

	api := humachi.New(router, routes.NewHumaConfig(cfg.BaseURL))
	api.UseMiddleware(mw.HumaAuth(api))

	routes.Register(api, &routes.Handlers{
		Job:   handlers.NewJobHandler(services.Job),
		Usage: handlers.NewUsageHandler(services.Usage),
	})

	// Stripe webhook (signature verified by the handler, not user auth).
	if cfg.StripeWebhookSecret != "" {
		stripeWebhook := handlers.NewStripeWebhookHandler(cfg, services.Billing, services.Usage, logger)
		router.Post("/api/v1/webhooks/stripe", stripeWebhook.HandleWebhook)
		logger.Info("stripe webhook endpoint enabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown: stop claiming new jobs, let running jobs reach their
	// next checkpoint, then close the listener.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idleMonitor.ShutdownChan():
			logger.Info("shutting down idle server")
		}

		idleMonitor.Stop()
		cancel()
		stopped := make(chan struct{})
		go func() {
			jobWorker.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.WorkerShutdownGracePeriod):
			logger.Warn("worker did not stop within grace period")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
