// Package worker implements the Worker Runner (C6): the consumer side of
// the Broker Adapter that claims, executes, and transitions jobs. Its
// concurrency shape is grounded on the teacher pack's rezkam-mono worker
// loop — a bounded goroutine pool tracked by a WaitGroup, cancel-safe
// shutdown on context cancellation — generalized from that loop's
// fixed-interval polling to consuming a broker.Adapter's delivery channel.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsplatform/jobcore/internal/broker"
	"github.com/opsplatform/jobcore/internal/handler"
	"github.com/opsplatform/jobcore/internal/jobstore"
)

// Runner claims deliveries from a broker.Adapter and executes them against
// a handler.Registry, following the 7-step procedure in spec.md §4.6.
type Runner struct {
	store      *jobstore.Store
	registry   *handler.Registry
	broker     broker.Adapter
	workerName string

	concurrency    int
	retryBase      time.Duration
	retryMax       time.Duration
	retryOverrides map[string]RetryPolicy
	jobTimeout     time.Duration

	logger *slog.Logger
}

// RetryPolicy overrides the base/cap backoff parameters for one handler
// name, read from the optional YAML overlay (config.FileConfig.RetryOverrides).
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// Config configures a Runner's retry/timeout/concurrency knobs.
type Config struct {
	WorkerName     string
	Concurrency    int
	RetryBase      time.Duration
	RetryMax       time.Duration
	RetryOverrides map[string]RetryPolicy
	JobTimeout     time.Duration
}

// New returns a Runner wired to store, registry, and adapter. registry
// should already be frozen. Pass a nil logger to use slog.Default().
func New(store *jobstore.Store, registry *handler.Registry, adapter broker.Adapter, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Runner{
		store:          store,
		registry:       registry,
		broker:         adapter,
		workerName:     cfg.WorkerName,
		concurrency:    concurrency,
		retryBase:      cfg.RetryBase,
		retryMax:       cfg.RetryMax,
		retryOverrides: cfg.RetryOverrides,
		jobTimeout:     cfg.JobTimeout,
		logger:         logger,
	}
}

// Run consumes deliveries until ctx is canceled or the broker's delivery
// channel closes, dispatching each one to its own goroutine bounded by a
// semaphore sized by cfg.Concurrency. It blocks until all in-flight
// deliveries finish before returning, so shutdown never drops a job
// mid-execution without the store reflecting its outcome.
func (r *Runner) Run(ctx context.Context) error {
	deliveries, err := r.broker.Receive(ctx)
	if err != nil {
		return fmt.Errorf("worker: receive: %w", err)
	}

	sem := make(chan struct{}, r.concurrency)

	var wg sync.WaitGroup

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				wg.Wait()
				return nil
			}

			sem <- struct{}{}
			wg.Add(1)

			go func(jobID string) {
				defer wg.Done()
				defer func() { <-sem }()

				r.handle(ctx, jobID)
			}(d.JobID)
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}
	}
}

// handle runs the full claim→execute→transition procedure for a single
// delivered job id.
func (r *Runner) handle(ctx context.Context, jobID string) {
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		if jobstore.IsNotFound(err) {
			r.logger.Warn("skipping delivery for unknown job", slog.String("job_id", jobID))

			return
		}

		r.logger.Error("failed to load job", slog.String("job_id", jobID), slog.String("error", err.Error()))

		return
	}

	if job.Status.IsTerminal() {
		r.logger.Info("skipping terminal job", slog.String("job_id", jobID), slog.String("status", string(job.Status)))

		return
	}

	if job.Status == jobstore.StatusRunning && (job.LockedBy == nil || *job.LockedBy != r.workerName) {
		owner := "unknown"
		if job.LockedBy != nil {
			owner = *job.LockedBy
		}

		r.logger.Warn("skipping job locked by another worker",
			slog.String("job_id", jobID), slog.String("locked_by", owner))

		return
	}

	h, ok := r.registry.Lookup(job.Type)
	if !ok {
		// Unknown handler type is a permanent failure, not retryable
		// (spec.md §4.5, §4.6 step 3).
		if err := r.store.MarkDead(ctx, jobID, job.Attempts, "unknown-type: "+job.Type); err != nil {
			r.logger.Error("failed to mark unknown-type job dead",
				slog.String("job_id", jobID), slog.String("error", err.Error()))
		}

		return
	}

	if err := r.store.MarkRunning(ctx, jobID, r.workerName); err != nil {
		if jobstore.IsNotClaimable(err) {
			r.logger.Info("job already claimed", slog.String("job_id", jobID))

			return
		}

		r.logger.Error("failed to claim job", slog.String("job_id", jobID), slog.String("error", err.Error()))

		return
	}

	r.execute(ctx, job, h)
}

func (r *Runner) execute(ctx context.Context, job *jobstore.Job, h handler.Handler) {
	invokeCtx := ctx

	if r.jobTimeout > 0 {
		var cancel context.CancelFunc

		invokeCtx, cancel = context.WithTimeout(ctx, r.jobTimeout)
		defer cancel()
	}

	result, err := h.Invoke(invokeCtx, job.Payload)
	if err == nil {
		if markErr := r.store.MarkSucceeded(ctx, job.ID, result); markErr != nil {
			r.logger.Error("failed to mark job succeeded",
				slog.String("job_id", job.ID), slog.String("error", markErr.Error()))
		}

		return
	}

	r.failAttempt(ctx, job, err)
}

// failAttempt implements step 7: compute the next attempt count, dead-letter
// if attempts are exhausted, otherwise schedule a backoff retry and ask the
// broker to redeliver after the delay.
func (r *Runner) failAttempt(ctx context.Context, job *jobstore.Job, invokeErr error) {
	nextAttempts := job.Attempts + 1
	errString := formatError(invokeErr)

	if nextAttempts >= job.MaxAttempts {
		if err := r.store.MarkDead(ctx, job.ID, nextAttempts, errString); err != nil {
			r.logger.Error("failed to mark job dead",
				slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}

		return
	}

	base, max := resolveRetryPolicy(r.retryBase, r.retryMax, r.retryOverrides, job.Type)

	delay := retryDelay(nextAttempts, base, max)
	runAfter := time.Now().Add(delay)

	if err := r.store.MarkRetry(ctx, job.ID, nextAttempts, runAfter, errString); err != nil {
		r.logger.Error("failed to mark job for retry",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))

		return
	}

	if r.broker == nil {
		return
	}

	if err := r.broker.Enqueue(ctx, job.ID, &runAfter); err != nil {
		r.logger.Warn("broker redelivery request failed; sweeper will recover",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

// resolveRetryPolicy returns the base/cap to use for jobType: the
// per-handler override from the YAML overlay when one is configured and
// non-zero, otherwise the Runner's global defaults.
func resolveRetryPolicy(base, max time.Duration, overrides map[string]RetryPolicy, jobType string) (time.Duration, time.Duration) {
	override, ok := overrides[jobType]
	if !ok {
		return base, max
	}

	if override.Base > 0 {
		base = override.Base
	}

	if override.Max > 0 {
		max = override.Max
	}

	return base, max
}

// retryDelay computes min(base * 2^(attempt-1), cap), per spec.md §4.6.
func retryDelay(attempt int, base, capDuration time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}

	if capDuration <= 0 {
		capDuration = 300 * time.Second
	}

	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}

	if shift > 32 {
		return capDuration
	}

	delay := base * time.Duration(1<<uint(shift))
	if delay > capDuration || delay <= 0 {
		return capDuration
	}

	return delay
}

// formatError renders "<exception-kind>: <message>", spec.md §4.6's
// required last_error format, truncation is handled by the store.
func formatError(err error) string {
	return fmt.Sprintf("%T: %v", err, err)
}
