package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/copperbooks/recon/internal/common"
	"github.com/copperbooks/recon/internal/model"
	"github.com/copperbooks/recon/internal/service"
)

// Worker pulls jobs from every registered queue and executes them, honoring
// each queue's concurrency ceiling independently.
type Worker struct {
	store         service.JobStore
	registry      *Registry
	pollInterval  time.Duration
	pruneInterval time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*Worker)

// WithPollInterval overrides how often idle workers look for jobs.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pollInterval = d }
}

// WithPruneInterval overrides how often retention pruning runs.
func WithPruneInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.pruneInterval = d }
}

// NewWorker creates a worker over the given store and registry.
func NewWorker(store service.JobStore, registry *Registry, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:         store,
		registry:      registry,
		pollInterval:  250 * time.Millisecond,
		pruneInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is canceled, executing jobs from every queue.
func (w *Worker) Run(ctx context.Context) error {
	names := w.registry.QueueNames()
	if len(names) == 0 {
		return fmt.Errorf("%w: no queues registered", common.ErrInvalidConfig)
	}

	var wg sync.WaitGroup
	for _, name := range names {
		cfg, _ := w.registry.Queue(name)

		slog.Info("Starting queue workers",
			"queue", cfg.Name,
			"concurrency", cfg.Concurrency)

		for i := 0; i < cfg.Concurrency; i++ {
			wg.Add(1)
			go func(cfg Config) {
				defer wg.Done()
				w.runLoop(ctx, cfg)
			}(cfg)
		}

		wg.Add(1)
		go func(cfg Config) {
			defer wg.Done()
			w.runPruner(ctx, cfg)
		}(cfg)
	}

	wg.Wait()
	return ctx.Err()
}

// runLoop is one worker goroutine: claim, execute, repeat.
func (w *Worker) runLoop(ctx context.Context, cfg Config) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.store.ClaimJob(ctx, cfg.Name)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("Failed to claim job", "queue", cfg.Name, "error", err)
			}
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}

		w.execute(ctx, cfg, job)
	}
}

// execute runs one claimed job under the queue's max duration and settles it
// as completed, retried, or terminally failed.
func (w *Worker) execute(ctx context.Context, cfg Config, job *model.Job) {
	handler, ok := w.registry.HandlerFor(job.Type)
	if !ok {
		// A claimed job with no handler means the registry changed between
		// deploys; surfacing it on the failed board beats dropping it.
		w.settleFailure(ctx, cfg, job, fmt.Errorf("%w: %q", common.ErrUnknownJobType, job.Type), true)
		return
	}

	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if cfg.MaxDuration > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, cfg.MaxDuration)
	}

	start := time.Now()
	result, err := handler(jobCtx, job)
	cancel()

	if err == nil {
		if completeErr := w.store.CompleteJob(ctx, job.ID, result); completeErr != nil {
			slog.Error("Failed to mark job completed", "job_id", job.ID, "error", completeErr)
		}
		slog.Info("Job completed",
			"job_id", job.ID,
			"type", job.Type,
			"duration", time.Since(start))
		return
	}

	w.settleFailure(ctx, cfg, job, err, !common.IsRetryable(err))
}

// settleFailure records a failed attempt, re-enqueuing with exponential
// backoff when attempts remain and the error is not terminal.
func (w *Worker) settleFailure(ctx context.Context, cfg Config, job *model.Job, jobErr error, terminal bool) {
	var runAt *time.Time
	if !terminal && job.AttemptsRemaining() {
		next := time.Now().Add(backoffDelay(cfg.InitialBackoff, job.Attempts))
		runAt = &next
	}

	if err := w.store.FailJob(ctx, job.ID, jobErr.Error(), runAt); err != nil {
		slog.Error("Failed to record job failure", "job_id", job.ID, "error", err)
		return
	}

	if runAt != nil {
		slog.Warn("Job failed, will retry",
			"job_id", job.ID,
			"type", job.Type,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"retry_at", runAt,
			"error", jobErr)
		return
	}

	slog.Error("Job failed terminally",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.Attempts,
		"error", jobErr)
}

// backoffDelay returns the exponential backoff delay after the given attempt
// count (1-based): initial, 2*initial, 4*initial, ...
func backoffDelay(initial time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// runPruner periodically enforces retention on finished jobs and re-queues
// jobs orphaned by a dead worker.
func (w *Worker) runPruner(ctx context.Context, cfg Config) {
	w.reclaimStalled(ctx, cfg)

	ticker := time.NewTicker(w.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.PruneJobs(ctx, cfg.Name, cfg.CompletedRetention, cfg.FailedRetention); err != nil {
				slog.Warn("Failed to prune jobs", "queue", cfg.Name, "error", err)
			}
			w.reclaimStalled(ctx, cfg)
		}
	}
}

// reclaimStalled returns jobs abandoned by a crashed worker to the queue. A
// live job settles shortly after its max-duration deadline fires, so a row
// still active a minute past that has no worker behind it.
func (w *Worker) reclaimStalled(ctx context.Context, cfg Config) {
	if cfg.MaxDuration <= 0 {
		return
	}

	n, err := w.store.ReclaimStalledJobs(ctx, cfg.Name, cfg.MaxDuration+time.Minute)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("Failed to reclaim stalled jobs", "queue", cfg.Name, "error", err)
		}
		return
	}
	if n > 0 {
		slog.Warn("Reclaimed stalled jobs", "queue", cfg.Name, "count", n)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}
