// Package audit implements the Audit Sink (C10): an append-only log of
// every privileged human-initiated action, grounded on
// original_source/packages/shared/src/five08/audit.py's insert_audit_event
// and actor-subject normalization, made best-effort and asynchronous per
// spec.md §4.10 via a bounded-channel writer goroutine.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsplatform/jobcore/internal/dbconn"
)

// Source identifies which ingest surface originated a human action.
type Source string

const (
	SourceDiscord        Source = "discord"
	SourceAdminDashboard Source = "admin_dashboard"
)

// Result is the outcome tag of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// ActorProvider identifies which identity provider resolved the actor.
type ActorProvider string

const (
	ActorDiscord  ActorProvider = "discord"
	ActorAdminSSO ActorProvider = "admin_sso"
)

// Event is one audit record: the spec's AuditEvent (§3).
type Event struct {
	Source           Source
	Action           string
	Result           Result
	ActorProvider    ActorProvider
	ActorSubject     string
	ActorDisplayName *string
	ResourceType     *string
	ResourceID       *string
	CorrelationID    *string
	Metadata         map[string]any
	OccurredAt       time.Time
}

// NormalizeActorSubject normalizes subject per provider: lowercase email for
// SSO actors, the raw id unchanged for chat-originated actors (spec.md §3).
func NormalizeActorSubject(provider ActorProvider, subject string) string {
	trimmed := strings.TrimSpace(subject)

	if provider == ActorAdminSSO {
		return strings.ToLower(trimmed)
	}

	return trimmed
}

// Sink is the asynchronous, best-effort audit writer. Writes are queued on a
// bounded channel and flushed by a single background goroutine so a slow or
// unavailable database never blocks the privileged operation that triggered
// the audit write (spec.md §4.10, §7).
type Sink struct {
	conn    *dbconn.Conn
	logger  *slog.Logger
	events  chan Event
	done    chan struct{}
}

// New returns a Sink with a queue sized bufferSize. Call Run in a goroutine
// to start draining it; Run returns once its ctx is canceled.
func New(conn *dbconn.Conn, bufferSize int, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}

	if bufferSize <= 0 {
		bufferSize = 256
	}

	return &Sink{
		conn:   conn,
		logger: logger,
		events: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Record enqueues ev for asynchronous persistence. If the queue is full the
// event is dropped and logged at warning — a full queue means the database
// is falling behind, and audit writes must never apply backpressure to the
// privileged request path that emits them.
func (s *Sink) Record(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	select {
	case s.events <- ev:
	default:
		s.logger.Warn("audit queue full, dropping event",
			slog.String("source", string(ev.Source)),
			slog.String("action", ev.Action),
		)
	}
}

// Run drains the event queue until ctx is canceled and the queue is empty,
// persisting one event at a time so insertion order is preserved per the
// single-writer-goroutine FIFO spec.md §5 requires ("broker-level FIFO per
// actor").
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case ev := <-s.events:
			s.write(ctx, ev)
		case <-ctx.Done():
			s.drain(ctx)

			return
		}
	}
}

func (s *Sink) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.events:
			s.write(context.WithoutCancel(ctx), ev)
		default:
			return
		}
	}
}

// Wait blocks until Run has returned.
func (s *Sink) Wait() {
	<-s.done
}

func (s *Sink) write(ctx context.Context, ev Event) {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		s.logger.Warn("failed to encode audit metadata", slog.String("error", err.Error()))

		return
	}

	normalizedSubject := NormalizeActorSubject(ev.ActorProvider, ev.ActorSubject)

	personID, err := s.resolvePersonID(ctx, ev.ActorProvider, normalizedSubject)
	if err != nil {
		s.logger.Warn("failed to resolve person for audit event", slog.String("error", err.Error()))
	}

	const query = `
		INSERT INTO audit_events (
			id, occurred_at, source, action, result, actor_provider, actor_subject,
			actor_display_name, resource_type, resource_id, correlation_id, metadata, person_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.conn.ExecContext(ctx, query,
		uuid.NewString(), ev.OccurredAt, ev.Source, ev.Action, ev.Result, ev.ActorProvider, normalizedSubject,
		ev.ActorDisplayName, ev.ResourceType, ev.ResourceID, ev.CorrelationID, metadataJSON, personID,
	)
	if err != nil {
		// Audit write failures are logged at warning and never propagated
		// (spec.md §7): the underlying privileged operation has already
		// completed by the time this goroutine runs.
		s.logger.Warn("failed to persist audit event",
			slog.String("action", ev.Action),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Sink) resolvePersonID(ctx context.Context, provider ActorProvider, normalizedSubject string) (*string, error) {
	var query string

	if provider == ActorDiscord {
		query = `SELECT id::text FROM people WHERE discord_subject = $1 LIMIT 1`
	} else {
		query = `SELECT id::text FROM people WHERE $1 = ANY(emails) LIMIT 1`
	}

	var id string
	if err := s.conn.QueryRowContext(ctx, query, normalizedSubject).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("audit: resolve_person_id: %w", err)
	}

	return &id, nil
}
