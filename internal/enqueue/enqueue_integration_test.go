package enqueue

import (
	"context"
	"errors"
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
	"github.com/opsplatform/jobcore/internal/jobstore"
)

func setupTestService(ctx context.Context, t *testing.T) (*Service, *broker.InMemoryAdapter) {
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
		DatabaseURL:  connStr,
		MaxOpenConns: 5, MaxIdleConns: 2,
		ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 10 * time.Minute,
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

	store := jobstore.New(conn, nil)
	adapter := broker.NewInMemoryAdapter(8)
	t.Cleanup(func() { _ = adapter.Close() })

	return New(store, adapter, nil), adapter
}

func TestService_EnqueueCreatesAndDispatches(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, adapter := setupTestService(ctx, t)

	id, wasCreated, err := svc.Enqueue(ctx, Params{
		HandlerName: "generic-webhook",
		Args:        []any{"hello"},
	})
	require.NoError(t, err)
	require.True(t, wasCreated)
	require.NotEmpty(t, id)

	deliveries, err := adapter.Receive(ctx)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		require.Equal(t, id, d.JobID)
	case <-time.After(time.Second):
		t.Fatal("broker was never notified of the new job")
	}
}

func TestService_EnqueueIdempotentDuplicateSkipsBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	svc, adapter := setupTestService(ctx, t)

	key := "webhook:source-a:event-1"

	id1, wasCreated1, err := svc.Enqueue(ctx, Params{
		HandlerName: "generic-webhook", IdempotencyKey: &key,
	})
	require.NoError(t, err)
	require.True(t, wasCreated1)

	// Drain the first dispatch.
	deliveries, err := adapter.Receive(ctx)
	require.NoError(t, err)
	<-deliveries

	id2, wasCreated2, err := svc.Enqueue(ctx, Params{
		HandlerName: "generic-webhook", IdempotencyKey: &key,
	})
	require.NoError(t, err)
	require.False(t, wasCreated2)
	require.Equal(t, id1, id2)

	select {
	case d := <-deliveries:
		t.Fatalf("broker should not be re-invoked for a duplicate, got %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}
