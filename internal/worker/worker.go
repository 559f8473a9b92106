// Package worker polls the job store and drives claimed scrape jobs through
// the orchestrator.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pagesift/pagesift-api/internal/models"
	"github.com/pagesift/pagesift-api/internal/repository"
)

// Runner executes one claimed job to a terminal state. The orchestrator
// finalizes the job itself, so Run returns nothing.
type Runner interface {
	Run(ctx context.Context, job *models.ScrapeJob)
}

// Worker claims queued scrape jobs and hands them to the runner.
type Worker struct {
	jobRepo      repository.JobRepository
	runner       Runner
	pollInterval time.Duration
	concurrency  int
	staleAfter   time.Duration
	inFlight     atomic.Int64
	stop         chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	// StaleAfter bounds how long a running job can sit without finishing
	// before the periodic sweep fails it. Zero disables the sweep.
	StaleAfter time.Duration
}

// New creates a new worker.
func New(jobRepo repository.JobRepository, runner Runner, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobRepo:      jobRepo,
		runner:       runner,
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
		staleAfter:   cfg.StaleAfter,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
	}
}

// Start begins processing jobs.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency, "poll_interval", w.pollInterval)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i)
	}

	if w.staleAfter > 0 {
		w.wg.Add(1)
		go w.runCleanup(ctx)
	}
}

// Stop waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processNextJob(ctx, workerID)
		}
	}
}

// processNextJob drains the queue: it keeps claiming until no queued job is
// left or the worker is told to stop.
func (w *Worker) processNextJob(ctx context.Context, workerID int) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.jobRepo.ClaimPending(ctx)
		if err != nil {
			w.logger.Error("failed to claim job", "worker_id", workerID, "error", err)
			return
		}
		if job == nil {
			return
		}

		w.logger.Info("processing job", "worker_id", workerID, "job_id", job.ID, "url", job.URL)
		w.inFlight.Add(1)
		w.runner.Run(ctx, job)
		w.inFlight.Add(-1)
	}
}

// InFlight reports how many jobs are currently running.
func (w *Worker) InFlight() int64 {
	return w.inFlight.Load()
}

// runCleanup periodically fails running jobs whose worker died without
// finalizing them, so they do not sit in running forever.
func (w *Worker) runCleanup(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.staleAfter)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.jobRepo.MarkStaleRunningJobsFailed(ctx, w.staleAfter)
			if err != nil {
				w.logger.Error("stale job sweep failed", "error", err)
				continue
			}
			if n > 0 {
				w.logger.Warn("failed stale running jobs", "count", n)
			}
		}
	}
}
