// Package middleware provides HTTP middleware components for the job orchestration API.
package middleware

import (
	"context"
	"time"
)

// authContextKey is the context key for authenticated caller information.
type authContextKey struct{}

// PrincipalKind distinguishes the two supported authentication modes.
type PrincipalKind string

const (
	// PrincipalSharedSecret identifies a machine caller authenticated via the
	// shared-secret header (webhooks, schedulers, other internal services).
	PrincipalSharedSecret PrincipalKind = "shared-secret"
	// PrincipalSession identifies a human operator authenticated via an OIDC-backed
	// browser session cookie.
	PrincipalSession PrincipalKind = "session"
)

// AuthContext contains authenticated caller information enriched in the request
// context by the shared-secret or session authentication middleware.
type AuthContext struct {
	Kind     PrincipalKind
	Subject  string
	IsAdmin  bool
	AuthTime time.Time
}

// GetAuthContext extracts auth context from the request context.
// Returns (context, true) if authenticated, (empty, false) if not found.
func GetAuthContext(ctx context.Context) (AuthContext, bool) {
	authCtx, ok := ctx.Value(authContextKey{}).(AuthContext)

	return authCtx, ok
}

// SetAuthContext adds auth context to the request context.
func SetAuthContext(ctx context.Context, authCtx AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, authCtx)
}
