package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/opsplatform/jobcore/internal/dbconn"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique_violation error.
const uniqueViolation = "23505"

// Store is the Postgres-backed job ledger (C1).
type Store struct {
	conn   *dbconn.Conn
	logger *slog.Logger
}

// New returns a Store backed by conn. Pass a nil logger to use slog.Default().
func New(conn *dbconn.Conn, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{conn: conn, logger: logger}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// HealthCheck reports whether the store can reach the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// CreateParams describes a job to create.
type CreateParams struct {
	Type           string
	Payload        json.RawMessage
	IdempotencyKey *string
	MaxAttempts    int
	RunAfter       *time.Time
}

// Create inserts a new queued job, or — if idempotencyKey collides with an
// existing row — looks up and returns that row's id with wasCreated=false.
// This is C2: the idempotency index is a unique constraint on this table,
// not a separate service.
func (s *Store) Create(ctx context.Context, p CreateParams) (id string, wasCreated bool, err error) {
	id = uuid.NewString()

	const query = `
		INSERT INTO jobs (id, type, status, payload, idempotency_key, attempts, max_attempts, run_after)
		VALUES ($1, $2, 'queued', $3, $4, 0, $5, $6)
	`

	_, execErr := s.conn.ExecContext(ctx, query, id, p.Type, []byte(p.Payload), p.IdempotencyKey, p.MaxAttempts, p.RunAfter)
	if execErr == nil {
		return id, true, nil
	}

	var pqErr *pq.Error
	if errors.As(execErr, &pqErr) && pqErr.Code == uniqueViolation && p.IdempotencyKey != nil {
		existingID, lookupErr := s.idByIdempotencyKey(ctx, *p.IdempotencyKey)
		if lookupErr != nil {
			return "", false, fmt.Errorf("jobstore: create: reuse lookup: %w", lookupErr)
		}

		return existingID, false, nil
	}

	return "", false, fmt.Errorf("jobstore: create: %w", execErr)
}

func (s *Store) idByIdempotencyKey(ctx context.Context, key string) (string, error) {
	const query = `SELECT id FROM jobs WHERE idempotency_key = $1`

	var id string
	if err := s.conn.QueryRowContext(ctx, query, key).Scan(&id); err != nil {
		return "", err
	}

	return id, nil
}

// Get loads a job by id. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	const query = `
		SELECT id, type, status, payload, idempotency_key, attempts, max_attempts,
		       run_after, locked_at, locked_by, last_error, created_at, updated_at
		FROM jobs WHERE id = $1
	`

	job, err := s.scanRow(s.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("jobstore: get: %w", err)
	}

	return job, nil
}

func (s *Store) scanRow(row *sql.Row) (*Job, error) {
	var (
		j       Job
		status  string
		payload []byte
	)

	err := row.Scan(
		&j.ID, &j.Type, &status, &payload, &j.IdempotencyKey, &j.Attempts, &j.MaxAttempts,
		&j.RunAfter, &j.LockedAt, &j.LockedBy, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Payload = payload
	j.Status = Status(status)

	if !j.Status.valid() {
		s.logger.Warn("coercing unknown job status to failed",
			slog.String("job_id", j.ID), slog.String("status", status))
		j.Status = StatusFailed
	}

	return &j, nil
}

// MarkRunning claims job id for worker, transitioning queued|failed → running.
// It is the mutual-exclusion point described in spec.md §4.6: the UPDATE's
// WHERE clause only matches rows in queued or failed status, so a running
// or terminal row is never claimed and at most one worker wins the claim. Zero rows affected
// is surfaced as ErrNotClaimable.
func (s *Store) MarkRunning(ctx context.Context, id, worker string) error {
	const query = `
		UPDATE jobs
		SET status = 'running', locked_at = now(), locked_by = $2, run_after = NULL
		WHERE id = $1 AND status IN ('queued', 'failed')
	`

	res, err := s.conn.ExecContext(ctx, query, id, worker)
	if err != nil {
		return fmt.Errorf("jobstore: mark_running: %w", err)
	}

	return s.requireAffected(res, ErrNotClaimable)
}

// MarkSucceeded transitions a running job to succeeded, optionally merging a
// result value into the payload document under the "result" key. last_error
// is cleared per SPEC_FULL.md's resolution of the "clear vs preserve"
// open question.
func (s *Store) MarkSucceeded(ctx context.Context, id string, result any) error {
	payload, err := mergeResult(result)
	if err != nil {
		return fmt.Errorf("jobstore: mark_succeeded: encode result: %w", err)
	}

	const query = `
		UPDATE jobs
		SET status = 'succeeded', locked_at = NULL, locked_by = NULL, last_error = NULL,
		    payload = CASE WHEN $2::jsonb IS NULL THEN payload ELSE payload || $2::jsonb END
		WHERE id = $1 AND status = 'running'
	`

	res, err := s.conn.ExecContext(ctx, query, id, payload)
	if err != nil {
		return fmt.Errorf("jobstore: mark_succeeded: %w", err)
	}

	return s.requireAffected(res, ErrTerminal)
}

// MarkRetry records a transient failure: attempts is bumped to nextAttempts,
// the lock is released, run_after is set to runAfter (the next claimable
// instant), and status returns to failed — the spec's "awaiting retry"
// transient meaning (spec.md §3 Lifecycle).
func (s *Store) MarkRetry(ctx context.Context, id string, nextAttempts int, runAfter time.Time, lastError string) error {
	const query = `
		UPDATE jobs
		SET status = 'failed', attempts = $2, run_after = $3, last_error = $4,
		    locked_at = NULL, locked_by = NULL
		WHERE id = $1 AND status = 'running'
	`

	res, err := s.conn.ExecContext(ctx, query, id, nextAttempts, runAfter, truncateError(lastError))
	if err != nil {
		return fmt.Errorf("jobstore: mark_retry: %w", err)
	}

	return s.requireAffected(res, ErrTerminal)
}

// MarkDead transitions a job to dead: attempts exhausted, or the handler type
// was unknown (in which case the caller passes the job's current attempts
// unchanged — see spec.md §4.6 step 3 and §8 scenario 4).
func (s *Store) MarkDead(ctx context.Context, id string, attempts int, lastError string) error {
	const query = `
		UPDATE jobs
		SET status = 'dead', attempts = $2, last_error = $3, locked_at = NULL, locked_by = NULL
		WHERE id = $1 AND status NOT IN ('succeeded', 'dead', 'canceled')
	`

	res, err := s.conn.ExecContext(ctx, query, id, attempts, truncateError(lastError))
	if err != nil {
		return fmt.Errorf("jobstore: mark_dead: %w", err)
	}

	return s.requireAffected(res, ErrTerminal)
}

// Cancel sets a job's status to canceled, an external terminal override that
// the runner's final transition must never overwrite (spec.md §4.6
// Cancellation).
func (s *Store) Cancel(ctx context.Context, id string) error {
	const query = `
		UPDATE jobs SET status = 'canceled', locked_at = NULL, locked_by = NULL
		WHERE id = $1 AND status NOT IN ('succeeded', 'dead', 'canceled')
	`

	res, err := s.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("jobstore: cancel: %w", err)
	}

	return s.requireAffected(res, ErrTerminal)
}

// DueForRecovery returns jobs in queued or failed status whose run_after has
// passed, for the recovery sweeper (spec.md §4.8) to re-dispatch through the
// broker. limit bounds a single sweep batch.
func (s *Store) DueForRecovery(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	const query = `
		SELECT id, type, status, payload, idempotency_key, attempts, max_attempts,
		       run_after, locked_at, locked_by, last_error, created_at, updated_at
		FROM jobs
		WHERE status IN ('queued', 'failed') AND (run_after IS NULL OR run_after <= $1)
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := s.conn.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("jobstore: due_for_recovery: %w", err)
	}
	defer rows.Close()

	var jobs []*Job

	for rows.Next() {
		var (
			j       Job
			status  string
			payload []byte
		)

		if err := rows.Scan(
			&j.ID, &j.Type, &status, &payload, &j.IdempotencyKey, &j.Attempts, &j.MaxAttempts,
			&j.RunAfter, &j.LockedAt, &j.LockedBy, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("jobstore: due_for_recovery: scan: %w", err)
		}

		j.Payload = payload
		j.Status = Status(status)
		jobs = append(jobs, &j)
	}

	return jobs, rows.Err()
}

func (s *Store) requireAffected(res sql.Result, ifZero error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("jobstore: rows_affected: %w", err)
	}

	if n == 0 {
		return ifZero
	}

	return nil
}

func mergeResult(result any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}

	wrapped := map[string]any{"result": result}

	return json.Marshal(wrapped)
}
