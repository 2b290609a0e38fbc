package api

import (
	"net/http"

	"github.com/opsplatform/jobcore/internal/api/middleware"
)

// setupRoutes registers every endpoint from spec.md §4.7 on mux. Two auth
// modes wrap individual route groups: shared-secret for machine callers
// (webhooks, manual ops, typed jobs, audit writes), session cookie for the
// human-operator auth surface. GET /health is always public.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	middleware.RegisterPublicEndpoint("/health")

	mux.HandleFunc("GET /health", s.handleHealth)

	secret := s.secretAuth()

	mux.Handle("POST /webhooks/{source}", secret(http.HandlerFunc(s.handleGenericWebhook)))
	mux.Handle("POST /webhooks/{source}/batch", secret(http.HandlerFunc(s.handleDomainWebhook)))
	mux.Handle("POST /process-item/{id}", secret(http.HandlerFunc(s.handleProcessItem)))
	mux.Handle("POST /jobs/{logicalName}", secret(http.HandlerFunc(s.handleEnqueueJob)))
	mux.Handle("GET /jobs/{id}", secret(http.HandlerFunc(s.handleGetJob)))
	mux.Handle("POST /audit/events", secret(http.HandlerFunc(s.handleAuditEvent)))
	mux.Handle("POST /auth/deep-links", secret(http.HandlerFunc(s.handleCreateDeepLink)))

	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	mux.HandleFunc("GET /auth/deep-links/{token}", s.handleConsumeDeepLink)

	session := s.sessionAuth()
	mux.Handle("GET /auth/me", session(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /auth/logout", session(http.HandlerFunc(s.handleLogout)))
}

// secretAuth wraps a handler with shared-secret authentication. If no secret
// is configured, every wrapped request is rejected (fail closed, spec.md
// §4.7) rather than silently passing through.
func (s *Server) secretAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return middleware.AuthenticateSharedSecret(s.deps.SharedSecret, s.logger)(next)
	}
}

// sessionAuth wraps a handler with session-cookie authentication for the
// dashboard surface. If no session store is configured, every wrapped
// request is rejected outright rather than passed through with a typed-nil
// SessionLookup.
func (s *Server) sessionAuth() func(http.Handler) http.Handler {
	cookieName := "jobcore_session"
	if s.deps.Cookie != nil {
		cookieName = s.deps.Cookie.Name
	}

	return func(next http.Handler) http.Handler {
		if s.deps.Sessions == nil {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				WriteErrorResponse(w, r, s.logger, ServiceUnavailable("session store not configured"))
			})
		}

		return middleware.AuthenticateSession(s.deps.Sessions, cookieName, s.logger)(next)
	}
}
