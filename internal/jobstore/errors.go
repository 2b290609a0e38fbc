package jobstore

import "errors"

// Sentinel errors for jobstore operations. Usable with errors.Is().
var (
	// ErrNotFound indicates the requested job id has no row.
	ErrNotFound = errors.New("job not found")

	// ErrNotClaimable indicates mark_running could not claim the job: it is
	// either terminal or already running under a different owner.
	ErrNotClaimable = errors.New("job not claimable")

	// ErrTerminal indicates an attempted transition on a sticky terminal job.
	ErrTerminal = errors.New("job is in a terminal state")

	// ErrInvalidStatus indicates a status value outside the enumerated set
	// was read back from storage; the row is coerced to failed and logged
	// rather than causing a panic (spec.md §3 invariant).
	ErrInvalidStatus = errors.New("invalid job status")
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotClaimable reports whether err wraps ErrNotClaimable.
func IsNotClaimable(err error) bool {
	return errors.Is(err, ErrNotClaimable)
}

// IsTerminal reports whether err wraps ErrTerminal.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}
