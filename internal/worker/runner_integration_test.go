package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opsplatform/jobcore/internal/broker"
	"github.com/opsplatform/jobcore/internal/dbconn"
	"github.com/opsplatform/jobcore/internal/handler"
	"github.com/opsplatform/jobcore/internal/jobstore"
)

// setupTestRunnerStore starts a PostgreSQL testcontainer and runs the
// project's migrations against it, the same way internal/jobstore's
// integration tests do: claim/transition logic only means something tested
// against a real database.
func setupTestRunnerStore(ctx context.Context, t *testing.T) *jobstore.Store {
	t.Helper()

	container, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("jobcore_test"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn, err := dbconn.Open(&dbconn.Config{
		DatabaseURL:     connStr,
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	driver, err := postgres.WithInstance(conn.DB, &postgres.Config{})
	require.NoError(t, err)

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	require.NoError(t, err)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		require.NoError(t, err)
	}

	return jobstore.New(conn, nil)
}

// TestRunner_RetryThenSucceed exercises spec.md §8 scenario 2: a handler
// that fails once and succeeds on the next attempt must leave the job
// succeeded rather than dead, and its last_error must be cleared.
func TestRunner_RetryThenSucceed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupTestRunnerStore(ctx, t)
	adapter := broker.NewInMemoryAdapter(4)
	t.Cleanup(func() { _ = adapter.Close() })

	var calls int32

	registry := handler.NewRegistry()
	require.NoError(t, registry.Register("flaky", handler.HandlerFunc(
		func(context.Context, json.RawMessage) (any, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, errors.New("transient failure")
			}

			return "ok", nil
		},
	)))
	registry.Freeze()

	runner := New(store, registry, adapter, Config{
		WorkerName:  "worker-test",
		Concurrency: 1,
		RetryBase:   10 * time.Millisecond,
		RetryMax:    10 * time.Millisecond,
	}, nil)

	id, _, err := store.Create(ctx, jobstore.CreateParams{
		Type: "flaky", Payload: json.RawMessage(`{}`), MaxAttempts: 3,
	})
	require.NoError(t, err)

	runner.handle(ctx, id)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusFailed, job.Status)
	require.Equal(t, 1, job.Attempts)

	// The retry delay has elapsed by the time the second delivery lands;
	// MarkRunning reclaims a 'failed' row the same way it claims 'queued'.
	time.Sleep(20 * time.Millisecond)
	runner.handle(ctx, id)

	job, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusSucceeded, job.Status)
	require.Nil(t, job.LastError)
}

// TestRunner_ExhaustsRetriesToDead exercises spec.md §8 scenario 3: once
// attempts reach max_attempts the job must transition straight to dead
// instead of scheduling another retry.
func TestRunner_ExhaustsRetriesToDead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupTestRunnerStore(ctx, t)
	adapter := broker.NewInMemoryAdapter(4)
	t.Cleanup(func() { _ = adapter.Close() })

	registry := handler.NewRegistry()
	require.NoError(t, registry.Register("always-fails", handler.HandlerFunc(
		func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("boom")
		},
	)))
	registry.Freeze()

	runner := New(store, registry, adapter, Config{
		WorkerName:  "worker-test",
		Concurrency: 1,
		RetryBase:   10 * time.Millisecond,
		RetryMax:    10 * time.Millisecond,
	}, nil)

	id, _, err := store.Create(ctx, jobstore.CreateParams{
		Type: "always-fails", Payload: json.RawMessage(`{}`), MaxAttempts: 2,
	})
	require.NoError(t, err)

	runner.handle(ctx, id)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusFailed, job.Status)
	require.Equal(t, 1, job.Attempts)

	time.Sleep(20 * time.Millisecond)
	runner.handle(ctx, id)

	job, err = store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusDead, job.Status)
	require.Equal(t, 2, job.Attempts)
}

// TestRunner_UnknownHandlerGoesDeadImmediately exercises spec.md §8 scenario
// 4: a job type with no registered handler is a permanent failure, never
// retried, regardless of max_attempts.
func TestRunner_UnknownHandlerGoesDeadImmediately(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	store := setupTestRunnerStore(ctx, t)
	adapter := broker.NewInMemoryAdapter(4)
	t.Cleanup(func() { _ = adapter.Close() })

	registry := handler.NewRegistry()
	registry.Freeze()

	runner := New(store, registry, adapter, Config{
		WorkerName:  "worker-test",
		Concurrency: 1,
		RetryBase:   10 * time.Millisecond,
		RetryMax:    10 * time.Millisecond,
	}, nil)

	id, _, err := store.Create(ctx, jobstore.CreateParams{
		Type: "no-such-handler", Payload: json.RawMessage(`{}`), MaxAttempts: 5,
	})
	require.NoError(t, err)

	runner.handle(ctx, id)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusDead, job.Status)
	require.Equal(t, 0, job.Attempts)
	require.NotNil(t, job.LastError)
}
