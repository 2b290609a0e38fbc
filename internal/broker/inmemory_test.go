package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryAdapter_EnqueueDeliversImmediately(t *testing.T) {
	a := NewInMemoryAdapter(1)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Enqueue(ctx, "job-1", nil))

	deliveries, err := a.Receive(ctx)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		assert.Equal(t, "job-1", d.JobID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInMemoryAdapter_RunAfterDelaysDelivery(t *testing.T) {
	a := NewInMemoryAdapter(1)
	defer a.Close()

	ctx := context.Background()
	runAt := time.Now().Add(75 * time.Millisecond)
	require.NoError(t, a.Enqueue(ctx, "job-2", &runAt))

	deliveries, err := a.Receive(ctx)
	require.NoError(t, err)

	select {
	case <-deliveries:
		t.Fatal("delivered before not_before elapsed")
	case <-time.After(25 * time.Millisecond):
	}

	select {
	case d := <-deliveries:
		assert.Equal(t, "job-2", d.JobID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delayed delivery")
	}
}

func TestInMemoryAdapter_PastRunAfterDeliversImmediately(t *testing.T) {
	a := NewInMemoryAdapter(1)
	defer a.Close()

	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, a.Enqueue(ctx, "job-3", &past))

	deliveries, err := a.Receive(ctx)
	require.NoError(t, err)

	select {
	case d := <-deliveries:
		assert.Equal(t, "job-3", d.JobID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestInMemoryAdapter_CloseClosesChannel(t *testing.T) {
	a := NewInMemoryAdapter(0)

	ctx := context.Background()
	deliveries, err := a.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Close())

	_, open := <-deliveries
	assert.False(t, open)
}
