package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tournament-registry/internal/config"
	"github.com/tournament-registry/internal/domain"
)

// Job is the unattended refresh run on every tick
type Job interface {
	RunScheduled(ctx context.Context) domain.JobResult
}

// RefreshWorker runs the refresh job on a cron schedule
type RefreshWorker struct {
	job    Job
	config *config.ScheduleConfig
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	running bool
	last    *domain.JobResult
	runs    int
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(job Job, cfg *config.ScheduleConfig, logger *slog.Logger) *RefreshWorker {
	return &RefreshWorker{
		job:    job,
		config: cfg,
		logger: logger,
	}
}

// Start registers the job and starts the scheduler. ctx bounds every run.
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := c.AddFunc(w.config.Spec, func() { w.RunOnce(w.ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", w.config.Spec, err)
	}

	w.cron = c
	w.ctx = ctx
	w.running = true
	c.Start()

	w.logger.Info("refresh worker started", "schedule", w.config.Spec)
	return nil
}

// Stop stops the scheduler and waits for a run in progress
func (w *RefreshWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	c := w.cron
	w.running = false
	w.mu.Unlock()

	<-c.Stop().Done()

	w.logger.Info("refresh worker stopped")
	return nil
}

// IsRunning returns whether the scheduler is active
func (w *RefreshWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single refresh bounded by the configured timeout
func (w *RefreshWorker) RunOnce(ctx context.Context) domain.JobResult {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := w.job.RunScheduled(ctx)

	w.mu.Lock()
	w.last = &result
	w.runs++
	w.mu.Unlock()

	w.logger.Info("refresh job finished",
		"result", result.Result,
		"players", result.Players,
		"duration", time.Since(start),
	)
	return result
}

// LastResult returns the outcome of the most recent run, if any
func (w *RefreshWorker) LastResult() (domain.JobResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return domain.JobResult{}, false
	}
	return *w.last, true
}

// Runs is the number of completed runs
func (w *RefreshWorker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}
