// Package middleware provides HTTP middleware components for the job orchestration API.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// SessionRecord is the subset of session state the middleware needs to enrich
// a request's AuthContext. internal/session.Store satisfies SessionLookup by
// returning this shape.
type SessionRecord struct {
	Subject   string
	IsAdmin   bool
	ExpiresAt time.Time
}

// SessionLookup resolves a session cookie value to its stored record.
type SessionLookup interface {
	Lookup(sessionID string) (SessionRecord, bool)
}

// ErrMissingSession is returned when no session cookie is present.
var ErrMissingSession = errors.New("missing session")

// ErrSessionExpired is returned when the session cookie refers to an expired or unknown session.
var ErrSessionExpired = errors.New("session expired or not found")

// AuthenticateSession creates authentication middleware for human operators using
// the browser session cookie established by the OIDC login flow.
func AuthenticateSession(store SessionLookup, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				writeAuthError(w, r, logger, ErrMissingSession, http.StatusUnauthorized)

				return
			}

			record, ok := store.Lookup(cookie.Value)
			if !ok || time.Now().After(record.ExpiresAt) {
				writeAuthError(w, r, logger, ErrSessionExpired, http.StatusUnauthorized)

				return
			}

			authCtx := AuthContext{
				Kind:     PrincipalSession,
				Subject:  record.Subject,
				IsAdmin:  record.IsAdmin,
				AuthTime: time.Now(),
			}
			ctx := SetAuthContext(r.Context(), authCtx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin wraps a handler, rejecting non-admin sessions with 403 Forbidden.
// Must run after AuthenticateSession in the chain.
func RequireAdmin(logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := GetAuthContext(r.Context())
		if !ok || !authCtx.IsAdmin {
			writeAuthError(w, r, logger, errors.New("admin privileges required"), http.StatusForbidden)

			return
		}

		next(w, r)
	}
}
