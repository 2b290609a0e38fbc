// Package enqueue implements the Enqueue Service (C4): the single entry
// point through which webhooks, the scheduler, and the dashboard create new
// jobs. It composes the Job Store (C1/C2) and the Broker Adapter (C3) and
// owns the one rule that keeps them consistent: a broker dispatch failure
// never turns a successful store write into an error.
package enqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsplatform/jobcore/internal/broker"
	"github.com/opsplatform/jobcore/internal/jobstore"
)

// Params describes a job to enqueue. Args and Kwargs are marshaled together
// into the job's payload document as {"args": ..., "kwargs": ...}.
type Params struct {
	HandlerName    string
	Args           []any
	Kwargs         map[string]any
	IdempotencyKey *string
	MaxAttempts    int
	RunAfter       *time.Time
}

// defaultMaxAttempts is the attempts ceiling used when a caller omits
// MaxAttempts; it equals the jobs.max_attempts column default (8).
const defaultMaxAttempts = 8

// Service implements the 4-step enqueue procedure from spec.md §4.4.
type Service struct {
	store  *jobstore.Store
	broker broker.Adapter
	logger *slog.Logger
}

// New returns a Service wrapping store and adapter. Pass a nil logger to
// use slog.Default().
func New(store *jobstore.Store, adapter broker.Adapter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{store: store, broker: adapter, logger: logger}
}

// Enqueue runs the procedure: build the payload, create the row (or reuse
// an existing one by idempotency key), then — only for newly created rows
// — notify the broker. A broker failure is logged, not returned: the row
// is already durable and the sweeper (C8) will recover dispatch.
func (s *Service) Enqueue(ctx context.Context, p Params) (id string, wasCreated bool, err error) {
	payload, err := json.Marshal(struct {
		Args   []any          `json:"args"`
		Kwargs map[string]any `json:"kwargs,omitempty"`
	}{Args: p.Args, Kwargs: p.Kwargs})
	if err != nil {
		return "", false, fmt.Errorf("enqueue: build payload: %w", err)
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	id, wasCreated, err = s.store.Create(ctx, jobstore.CreateParams{
		Type:           p.HandlerName,
		Payload:        payload,
		IdempotencyKey: p.IdempotencyKey,
		MaxAttempts:    maxAttempts,
		RunAfter:       p.RunAfter,
	})
	if err != nil {
		return "", false, fmt.Errorf("enqueue: create: %w", err)
	}

	if !wasCreated {
		// Idempotent duplicate: the broker is not re-invoked (spec.md §4.3).
		return id, false, nil
	}

	if s.broker == nil {
		return id, true, nil
	}

	if dispatchErr := s.broker.Enqueue(ctx, id, p.RunAfter); dispatchErr != nil {
		s.logger.Warn("broker dispatch failed after successful job creation; sweeper will recover",
			slog.String("job_id", id),
			slog.String("handler", p.HandlerName),
			slog.String("error", dispatchErr.Error()),
		)
	}

	return id, true, nil
}

// Redeliver re-notifies the broker about an already-existing job id, without
// touching the store. The recovery sweeper (internal/scheduler) calls this
// for jobs whose original dispatch (step 3 of the Enqueue procedure) may
// have been lost.
func (s *Service) Redeliver(ctx context.Context, id string, runAfter *time.Time) error {
	if s.broker == nil {
		return nil
	}

	if err := s.broker.Enqueue(ctx, id, runAfter); err != nil {
		return fmt.Errorf("enqueue: redeliver: %w", err)
	}

	return nil
}
