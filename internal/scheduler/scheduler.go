// Package scheduler implements the Scheduler (C8): a set of long-running
// ticker loops that periodically call the Enqueue Service with a bucketed
// idempotency key so that, across any number of scheduler processes, at
// most one job exists per interval. Grounded on the teacher pack's
// rezkam-mono internal/application/worker.Worker: ticker-driven loops,
// sync.WaitGroup-tracked goroutines, cancel-safe shutdown.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsplatform/jobcore/internal/enqueue"
	"github.com/opsplatform/jobcore/internal/jobstore"
)

// Sweep describes one periodic job: a handler to enqueue and the interval
// at which it fires.
type Sweep struct {
	Name     string
	Handler  string
	Interval time.Duration
	Args     []any
	Kwargs   map[string]any
}

// Scheduler runs a fixed set of Sweeps on independent tickers, each using a
// bucketed idempotency key so repeated ticks within one interval collapse to
// a single job row (spec.md §4.2, §4.8, §8 scenario 5).
type Scheduler struct {
	enqueuer *enqueue.Service
	sweeps   []Sweep
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New returns a Scheduler that dispatches through enqueuer.
func New(enqueuer *enqueue.Service, sweeps []Sweep, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{enqueuer: enqueuer, sweeps: sweeps, logger: logger}
}

// Run starts one ticker goroutine per configured Sweep and blocks until ctx
// is canceled, at which point no new ticks are scheduled but any in-flight
// enqueue call is allowed to finish (spec.md §5 Cancellation).
func (s *Scheduler) Run(ctx context.Context) {
	for _, sweep := range s.sweeps {
		s.wg.Add(1)

		go s.runSweep(ctx, sweep)
	}

	s.wg.Wait()
}

func (s *Scheduler) runSweep(ctx context.Context, sweep Sweep) {
	defer s.wg.Done()

	ticker := time.NewTicker(sweep.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, sweep)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, sweep Sweep) {
	if ctx.Err() != nil {
		return
	}

	key := BucketKey(sweep.Handler, time.Now(), sweep.Interval)

	// An enqueue already under way runs to completion after ctx is canceled.
	id, wasCreated, err := s.enqueuer.Enqueue(context.WithoutCancel(ctx), enqueue.Params{
		HandlerName:    sweep.Handler,
		Args:           sweep.Args,
		Kwargs:         sweep.Kwargs,
		IdempotencyKey: &key,
	})
	if err != nil {
		s.logger.Error("scheduler tick failed to enqueue",
			slog.String("sweep", sweep.Name), slog.String("error", err.Error()))

		return
	}

	s.logger.Debug("scheduler tick",
		slog.String("sweep", sweep.Name), slog.String("job_id", id), slog.Bool("was_created", wasCreated))
}

// BucketKey builds the "<job-type>:<timestamp // interval_seconds>" scheduled
// idempotency key convention from spec.md §4.2, collapsing any number of
// ticks that land in the same interval-sized bucket into one job.
func BucketKey(handlerName string, now time.Time, interval time.Duration) string {
	seconds := int64(interval / time.Second)
	if seconds <= 0 {
		seconds = 1
	}

	bucket := now.Unix() / seconds

	return fmt.Sprintf("%s:%d", handlerName, bucket)
}

// RecoverySweeper periodically re-dispatches jobs that are due (status
// queued|failed with run_after <= now), closing the gap described in
// spec.md §4.4's failure semantics and §4.8's recovery sweeper. It does not
// track in-flight broker deliveries, so a due job whose delivery is still
// pending is dispatched again; MarkRunning's claim keeps the duplicate
// delivery from running the job twice. It runs once per worker process
// rather than once per deployment, since each worker's broker connection is
// independent and may have silently dropped a delivery of its own.
type RecoverySweeper struct {
	store    *jobstore.Store
	enqueuer *enqueue.Service
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// defaultRecoveryBatch bounds how many due jobs a single sweep re-dispatches.
//
// This value is not specified by spec.md §9's Open Question on sweeper
// frequency; 200 is chosen here.
const defaultRecoveryBatch = 200

// NewRecoverySweeper returns a RecoverySweeper ticking every interval.
func NewRecoverySweeper(store *jobstore.Store, enqueuer *enqueue.Service, interval time.Duration, logger *slog.Logger) *RecoverySweeper {
	if logger == nil {
		logger = slog.Default()
	}

	return &RecoverySweeper{store: store, enqueuer: enqueuer, interval: interval, batch: defaultRecoveryBatch, logger: logger}
}

// Run ticks until ctx is canceled.
func (r *RecoverySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *RecoverySweeper) sweep(ctx context.Context) {
	jobs, err := r.store.DueForRecovery(ctx, time.Now(), r.batch)
	if err != nil {
		r.logger.Error("recovery sweep failed to list due jobs", slog.String("error", err.Error()))

		return
	}

	for _, job := range jobs {
		if err := r.enqueuer.Redeliver(ctx, job.ID, job.RunAfter); err != nil {
			r.logger.Warn("recovery sweep redelivery failed",
				slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
	}

	if len(jobs) > 0 {
		r.logger.Info("recovery sweep redelivered due jobs", slog.Int("count", len(jobs)))
	}
}
