// Package broker implements the advisory dispatch notification described in
// spec.md §4.3 (C3): a hint that a job is ready to run, never authoritative
// over job state, safe to lose. The Job Store remains the source of truth;
// the recovery sweeper in internal/scheduler re-dispatches anything the
// broker failed to deliver.
package broker

import (
	"context"
	"time"
)

// Delivery is a single job-ready notification handed to the Worker Runner.
type Delivery struct {
	JobID string
}

// Adapter dispatches job-ready notifications and hands them back to a
// consumer. Enqueue is advisory only: a failed Enqueue call must never fail
// the enqueue operation that produced it (see internal/enqueue), and a
// message the adapter never delivers is recovered by the sweeper instead.
type Adapter interface {
	// Enqueue notifies the broker that jobID is ready to run. If runAt is
	// non-nil and in the future, delivery must not happen before that
	// instant (spec.md §4.3: "the broker must not deliver early").
	Enqueue(ctx context.Context, jobID string, runAt *time.Time) error

	// Receive returns a channel of deliveries. Adapters close the channel
	// on Close; KafkaAdapter also closes it once ctx is canceled and its
	// consume loop exits, while InMemoryAdapter does not, so consumers
	// also select on ctx.Done(). Callers should range over
	// it from a single consumer loop, as cmd/worker does.
	Receive(ctx context.Context) (<-chan Delivery, error)

	// Close releases the adapter's underlying connections/goroutines.
	Close() error
}
