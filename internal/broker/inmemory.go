package broker

import (
	"context"
	"sync"
	"time"
)

// InMemoryAdapter is a buffered-channel Adapter for unit tests and
// single-process deployments where Kafka is not provisioned. It satisfies
// the same Adapter interface as KafkaAdapter so cmd/worker can run against
// either.
type InMemoryAdapter struct {
	deliveries chan Delivery
	mu         sync.Mutex
	closed     bool
}

// NewInMemoryAdapter returns an InMemoryAdapter with the given channel
// buffer size. A size of 0 still works but blocks Enqueue until a consumer
// is ranging over Receive's channel.
func NewInMemoryAdapter(bufferSize int) *InMemoryAdapter {
	return &InMemoryAdapter{
		deliveries: make(chan Delivery, bufferSize),
	}
}

// Enqueue delivers jobID immediately, or after a delay via time.AfterFunc
// when runAt is in the future.
func (a *InMemoryAdapter) Enqueue(ctx context.Context, jobID string, runAt *time.Time) error {
	if runAt == nil || !runAt.After(time.Now()) {
		return a.send(ctx, jobID)
	}

	delay := time.Until(*runAt)
	time.AfterFunc(delay, func() {
		_ = a.send(context.Background(), jobID)
	})

	return nil
}

func (a *InMemoryAdapter) send(ctx context.Context, jobID string) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	select {
	case a.deliveries <- Delivery{JobID: jobID}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the adapter's delivery channel. ctx cancellation does not
// close the channel directly (Close does); callers select on both ctx.Done
// and the returned channel.
func (a *InMemoryAdapter) Receive(_ context.Context) (<-chan Delivery, error) {
	return a.deliveries, nil
}

// HealthCheck always reports healthy: the in-memory adapter has no external
// dependency to fail.
func (a *InMemoryAdapter) HealthCheck(_ context.Context) error {
	return nil
}

// Close marks the adapter closed and closes the delivery channel. Safe to
// call once; a second call panics, matching the teacher's channel-closing
// conventions elsewhere in the codebase.
func (a *InMemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	close(a.deliveries)

	return nil
}
