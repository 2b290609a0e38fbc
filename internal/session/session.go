// Package session implements the Session/Auth Store (C9): three Postgres-backed
// keyed maps with TTL — pending OIDC/PKCE login state, server-side dashboard
// sessions, and one-shot deep-link grants — grounded on
// original_source/apps/worker/src/five08/backend/auth.py's RedisAuthStore,
// reimplemented over the same Postgres database as the job ledger per
// SPEC_FULL.md's Open Question decision (see DESIGN.md).
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opsplatform/jobcore/internal/api/middleware"
	"github.com/opsplatform/jobcore/internal/dbconn"
)

// ErrNotFound indicates the key has no live (unexpired) row.
var ErrNotFound = errors.New("session: not found")

// PendingAuthState is the transient record persisted between /auth/login and
// /auth/callback, keyed by the random "state" value sent to the OIDC provider.
type PendingAuthState struct {
	State     string
	Verifier  string
	Nonce     string
	NextPath  string
	DeepLink  *string
	ExpiresAt time.Time
}

// Session is a server-side dashboard session established after a successful
// OIDC callback.
type Session struct {
	ID          string
	Subject     string
	Email       *string
	DisplayName *string
	Groups      []string
	IsAdmin     bool
	IDToken     string
	ExpiresAt   time.Time
}

// DeepLinkGrant is a one-shot token binding a chat-identified actor to an
// upcoming SSO session (spec.md §4.9).
type DeepLinkGrant struct {
	Token     string
	SubjectID string
	NextPath  string
	ExpiresAt time.Time
}

// Store is the Postgres-backed implementation of all three keyed maps.
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

// SavePendingAuthState persists state for later atomic retrieval by
// PopPendingAuthState.
func (s *Store) SavePendingAuthState(ctx context.Context, state string, p PendingAuthState, ttl time.Duration) error {
	const query = `
		INSERT INTO pending_auth_state (state, verifier, nonce, next_path, deep_link, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (state) DO UPDATE
		SET verifier = EXCLUDED.verifier, nonce = EXCLUDED.nonce,
		    next_path = EXCLUDED.next_path, deep_link = EXCLUDED.deep_link,
		    expires_at = EXCLUDED.expires_at
	`

	_, err := s.conn.ExecContext(ctx, query, state, p.Verifier, p.Nonce, p.NextPath, p.DeepLink, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("session: save_pending_auth_state: %w", err)
	}

	return nil
}

// PopPendingAuthState reads and deletes state in a single statement — the
// atomic get-and-delete spec.md §3 requires so a state value can complete
// the OIDC callback at most once. Expired rows are treated as absent and
// evicted as part of the same delete.
func (s *Store) PopPendingAuthState(ctx context.Context, state string) (*PendingAuthState, error) {
	const query = `
		DELETE FROM pending_auth_state
		WHERE state = $1
		RETURNING state, verifier, nonce, next_path, deep_link, expires_at
	`

	var p PendingAuthState

	err := s.conn.QueryRowContext(ctx, query, state).Scan(
		&p.State, &p.Verifier, &p.Nonce, &p.NextPath, &p.DeepLink, &p.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("session: pop_pending_auth_state: %w", err)
	}

	if time.Now().After(p.ExpiresAt) {
		return nil, ErrNotFound
	}

	return &p, nil
}

// CreateSession persists a new dashboard session and returns its id.
func (s *Store) CreateSession(ctx context.Context, sess Session, ttl time.Duration) (string, error) {
	sess.ID = uuid.NewString()

	groups, err := json.Marshal(sess.Groups)
	if err != nil {
		return "", fmt.Errorf("session: create_session: encode groups: %w", err)
	}

	const query = `
		INSERT INTO sessions (session_id, subject, email, display_name, groups, is_admin, id_token, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.conn.ExecContext(ctx, query, sess.ID, sess.Subject, sess.Email, sess.DisplayName,
		groups, sess.IsAdmin, sess.IDToken, time.Now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("session: create_session: %w", err)
	}

	return sess.ID, nil
}

// GetSession loads a session by id, evicting and returning ErrNotFound if it
// has expired — the TTL-on-read contract spec.md §9 Design Notes requires
// for any Postgres-backed substitute of the reference KV store.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	const query = `
		SELECT session_id, subject, email, display_name, groups, is_admin, id_token, expires_at
		FROM sessions WHERE session_id = $1
	`

	var (
		sess   Session
		groups []byte
	)

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.Subject, &sess.Email, &sess.DisplayName, &groups, &sess.IsAdmin, &sess.IDToken, &sess.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("session: get_session: %w", err)
	}

	if time.Now().After(sess.ExpiresAt) {
		s.DeleteSession(ctx, id)

		return nil, ErrNotFound
	}

	if err := json.Unmarshal(groups, &sess.Groups); err != nil {
		return nil, fmt.Errorf("session: get_session: decode groups: %w", err)
	}

	return &sess, nil
}

// Lookup adapts GetSession to middleware.SessionLookup, the narrow interface
// the session-cookie auth middleware depends on.
func (s *Store) Lookup(sessionID string) (middleware.SessionRecord, bool) {
	sess, err := s.GetSession(context.Background(), sessionID)
	if err != nil {
		return middleware.SessionRecord{}, false
	}

	return middleware.SessionRecord{
		Subject:   sess.Subject,
		IsAdmin:   sess.IsAdmin,
		ExpiresAt: sess.ExpiresAt,
	}, true
}

// DeleteSession invalidates a session. After this call the same session id
// never resolves to a valid session again (spec.md §8 testable property).
// Errors are logged, not propagated: logout must always succeed from the
// caller's perspective.
func (s *Store) DeleteSession(ctx context.Context, id string) {
	const query = `DELETE FROM sessions WHERE session_id = $1`

	if _, err := s.conn.ExecContext(ctx, query, id); err != nil {
		s.logger.Warn("failed to delete session", slog.String("session_id", id), slog.String("error", err.Error()))
	}
}

// SaveDeepLinkGrant persists a one-shot grant for token.
func (s *Store) SaveDeepLinkGrant(ctx context.Context, token string, g DeepLinkGrant, ttl time.Duration) error {
	const query = `
		INSERT INTO deep_link_grants (token, subject_id, next_path, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE
		SET subject_id = EXCLUDED.subject_id, next_path = EXCLUDED.next_path, expires_at = EXCLUDED.expires_at
	`

	_, err := s.conn.ExecContext(ctx, query, token, g.SubjectID, g.NextPath, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("session: save_deep_link_grant: %w", err)
	}

	return nil
}

// PopDeepLinkGrant reads and deletes a deep-link grant atomically: it is
// consumed after first successful bind and never again (spec.md §4.9).
func (s *Store) PopDeepLinkGrant(ctx context.Context, token string) (*DeepLinkGrant, error) {
	const query = `
		DELETE FROM deep_link_grants WHERE token = $1
		RETURNING token, subject_id, next_path, expires_at
	`

	var g DeepLinkGrant

	err := s.conn.QueryRowContext(ctx, query, token).Scan(&g.Token, &g.SubjectID, &g.NextPath, &g.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("session: pop_deep_link_grant: %w", err)
	}

	if time.Now().After(g.ExpiresAt) {
		return nil, ErrNotFound
	}

	return &g, nil
}

// NormalizeNextPath allows only local absolute paths, preventing the
// open-redirect class spec.md §4.9 calls out explicitly.
func NormalizeNextPath(candidate, fallback string) string {
	if candidate == "" {
		return fallback
	}

	if candidate[0] != '/' {
		return fallback
	}

	if len(candidate) > 1 && candidate[1] == '/' {
		return fallback
	}

	return candidate
}
