// Package jobstore implements the durable job ledger (C1) and its
// idempotency index (C2): a Postgres-backed CRUD and state-transition API
// over the jobs table, with the unique idempotency constraint enforced at
// the database level.
package jobstore

import (
	"encoding/json"
	"time"
)

// Status is one of the enumerated job lifecycle states.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
	StatusCanceled  Status = "canceled"
)

// IsTerminal reports whether status is one of {succeeded, dead, canceled}.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusDead, StatusCanceled:
		return true
	default:
		return false
	}
}

// valid reports whether status is one of the six enumerated states.
func (s Status) valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusDead, StatusCanceled:
		return true
	default:
		return false
	}
}

// Job is a persisted unit of work.
type Job struct {
	ID             string
	Type           string
	Status         Status
	Payload        json.RawMessage
	IdempotencyKey *string
	Attempts       int
	MaxAttempts    int
	RunAfter       *time.Time
	LockedAt       *time.Time
	LockedBy       *string
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// maxLastErrorLen caps how many bytes of an error message are stored in
// last_error (the column itself is unbounded TEXT).
const maxLastErrorLen = 2000

func truncateError(s string) string {
	if len(s) <= maxLastErrorLen {
		return s
	}

	return s[:maxLastErrorLen]
}
