package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/opsplatform/jobcore/internal/audit"
	"github.com/opsplatform/jobcore/internal/oidc"
	"github.com/opsplatform/jobcore/internal/session"
)

const defaultNextPath = "/"

// recordAudit emits an audit event if the sink is configured; a nil sink
// (OIDC/audit not wired up) is a no-op rather than a panic.
func (s *Server) recordAudit(ev audit.Event) {
	if s.deps.Audit == nil {
		return
	}

	s.deps.Audit.Record(ev)
}

func ptr(v string) *string { return &v }

// handleLogin implements GET /auth/login: allocates PKCE verifier/challenge
// and state/nonce, persists pending auth state with TTL, and redirects to
// the provider's authorization endpoint (spec.md §4.7, §4.9).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.OIDC == nil || s.deps.Sessions == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("OIDC authentication is not configured"))

		return
	}

	meta, err := s.deps.OIDC.Metadata(r.Context())
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	state, err := oidc.RandomToken(24)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to generate state"))

		return
	}

	nonce, err := oidc.RandomToken(24)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to generate nonce"))

		return
	}

	verifier := oidc.GenerateVerifier()

	next := session.NormalizeNextPath(r.URL.Query().Get("next"), defaultNextPath)

	pending := session.PendingAuthState{
		Verifier: verifier,
		Nonce:    nonce,
		NextPath: next,
	}

	if deepLinkSubject := r.URL.Query().Get("deep_link_subject"); deepLinkSubject != "" {
		pending.DeepLink = ptr(deepLinkSubject)
	}

	ttl := 5 * time.Minute
	if s.deps.SessionCfg != nil {
		ttl = s.deps.SessionCfg.StateTTL
	}

	if err := s.deps.Sessions.SavePendingAuthState(r.Context(), state, pending, ttl); err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	redirectURI := s.callbackURL(r)

	http.Redirect(w, r, s.deps.OIDC.AuthorizationURL(meta, redirectURI, state, nonce, verifier), http.StatusFound)
}

// callbackURL derives the redirect_uri OIDC providers must match exactly;
// it always points at this server's own /auth/callback endpoint.
func (s *Server) callbackURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}

	return fmt.Sprintf("%s://%s/auth/callback", scheme, r.Host)
}

// handleCallback implements GET /auth/callback: consumes pending state,
// validates the id-token (including nonce), resolves the deep-link bind
// check if one was pending, creates a session, and redirects to next_path
// (spec.md §4.7, §4.9).
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OIDC == nil || s.deps.Sessions == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("OIDC authentication is not configured"))

		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	pending, err := s.deps.Sessions.PopPendingAuthState(r.Context(), state)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, Unauthorized("invalid or expired state"))

		return
	}

	providerError := func(err error) {
		s.recordAudit(audit.Event{
			Source:        audit.SourceAdminDashboard,
			Action:        "auth.login",
			Result:        audit.ResultError,
			ActorProvider: audit.ActorAdminSSO,
		})
		WriteErrorResponse(w, r, s.logger, NewProblemDetail(http.StatusBadGateway, "Bad Gateway", err.Error()))
	}

	meta, err := s.deps.OIDC.Metadata(r.Context())
	if err != nil {
		providerError(err)

		return
	}

	idToken, err := s.deps.OIDC.ExchangeCode(r.Context(), meta, code, s.callbackURL(r), pending.Verifier)
	if err != nil {
		providerError(err)

		return
	}

	claims, err := s.deps.OIDC.ValidateIDToken(r.Context(), meta, idToken, pending.Nonce)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, Unauthorized(err.Error()))

		return
	}

	subject, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	normalizedActor := audit.NormalizeActorSubject(audit.ActorAdminSSO, email)

	if pending.DeepLink != nil && audit.NormalizeActorSubject(audit.ActorAdminSSO, *pending.DeepLink) != normalizedActor {
		s.recordAudit(audit.Event{
			Source:        audit.SourceAdminDashboard,
			Action:        "auth.login",
			Result:        audit.ResultDenied,
			ActorProvider: audit.ActorAdminSSO,
			ActorSubject:  email,
		})
		WriteErrorResponse(w, r, s.logger, Forbidden("oidc_user_not_linked"))

		return
	}

	groupsClaim := "groups"
	var adminGroups []string

	if s.deps.OIDCCfg != nil {
		groupsClaim = s.deps.OIDCCfg.GroupsClaim
		adminGroups = s.deps.OIDCCfg.AdminGroups
	}

	groups := oidc.ExtractGroups(claims, groupsClaim)
	isAdmin := oidc.IsAdminFromGroups(groups, adminGroups)

	ttl := 12 * time.Hour
	if s.deps.SessionCfg != nil {
		ttl = s.deps.SessionCfg.SessionTTL
	}

	if expUnix, ok := claims["exp"].(float64); ok {
		if tokenTTL := time.Until(time.Unix(int64(expUnix), 0)); tokenTTL < ttl {
			ttl = tokenTTL
		}
	}

	sessionID, err := s.deps.Sessions.CreateSession(r.Context(), session.Session{
		Subject:     subject,
		Email:       ptr(email),
		DisplayName: ptr(name),
		Groups:      groups,
		IsAdmin:     isAdmin,
		IDToken:     idToken,
	}, ttl)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	http.SetCookie(w, s.sessionCookie(sessionID, ttl))

	s.recordAudit(audit.Event{
		Source:        audit.SourceAdminDashboard,
		Action:        "auth.login",
		Result:        audit.ResultSuccess,
		ActorProvider: audit.ActorAdminSSO,
		ActorSubject:  email,
	})

	http.Redirect(w, r, pending.NextPath, http.StatusFound)
}

func (s *Server) sessionCookie(value string, ttl time.Duration) *http.Cookie {
	name, secure, sameSite := "jobcore_session", true, http.SameSiteLaxMode

	if s.deps.Cookie != nil {
		name = s.deps.Cookie.Name
		secure = s.deps.Cookie.Secure

		switch s.deps.Cookie.SameSite {
		case "strict":
			sameSite = http.SameSiteStrictMode
		case "none":
			sameSite = http.SameSiteNoneMode
		default:
			sameSite = http.SameSiteLaxMode
		}
	}

	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		MaxAge:   int(ttl.Seconds()),
	}
}

// handleMe implements GET /auth/me: returns the current session's attributes.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	cookieName := "jobcore_session"
	if s.deps.Cookie != nil {
		cookieName = s.deps.Cookie.Name
	}

	cookie, err := r.Cookie(cookieName)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, Unauthorized("missing session"))

		return
	}

	sess, err := s.deps.Sessions.GetSession(r.Context(), cookie.Value)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, Unauthorized("session expired or not found"))

		return
	}

	resp := SessionResponse{
		Subject:   sess.Subject,
		Groups:    sess.Groups,
		IsAdmin:   sess.IsAdmin,
		ExpiresAt: sess.ExpiresAt,
	}

	if sess.Email != nil {
		resp.Email = *sess.Email
	}

	if sess.DisplayName != nil {
		resp.DisplayName = *sess.DisplayName
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLogout implements POST /auth/logout: invalidates the session and
// returns the provider's end-session URL when known.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookieName := "jobcore_session"
	if s.deps.Cookie != nil {
		cookieName = s.deps.Cookie.Name
	}

	var subject string

	if cookie, err := r.Cookie(cookieName); err == nil {
		if sess, err := s.deps.Sessions.GetSession(r.Context(), cookie.Value); err == nil {
			subject = sess.Subject
		}

		s.deps.Sessions.DeleteSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, s.sessionCookie("", -1))

	s.recordAudit(audit.Event{
		Source:        audit.SourceAdminDashboard,
		Action:        "auth.logout",
		Result:        audit.ResultSuccess,
		ActorProvider: audit.ActorAdminSSO,
		ActorSubject:  subject,
	})

	resp := LogoutResponse{}

	if s.deps.OIDC != nil {
		if meta, err := s.deps.OIDC.Metadata(r.Context()); err == nil {
			resp.EndSessionURL = meta.EndSessionEndpoint
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCreateDeepLink implements POST /auth/deep-links: creates a one-shot
// link grant binding subject_id to next_path (spec.md §4.9).
func (s *Server) handleCreateDeepLink(w http.ResponseWriter, r *http.Request) {
	var req DeepLinkGrantRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePayloadError(w, r, s.logger, errInvalidJSON)

		return
	}

	if req.SubjectID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("subject_id is required"))

		return
	}

	token, err := oidc.RandomToken(24)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to generate token"))

		return
	}

	ttl := 10 * time.Minute
	if s.deps.SessionCfg != nil {
		ttl = s.deps.SessionCfg.DeepLinkTTL
	}

	next := session.NormalizeNextPath(req.NextPath, defaultNextPath)

	if err := s.deps.Sessions.SaveDeepLinkGrant(r.Context(), token, session.DeepLinkGrant{
		SubjectID: req.SubjectID,
		NextPath:  next,
	}, ttl); err != nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable(err.Error()))

		return
	}

	writeJSON(w, http.StatusCreated, DeepLinkGrantResponse{Token: token})
}

// handleConsumeDeepLink implements GET /auth/deep-links/{token}: consumes
// the grant and starts the OIDC login flow carrying the bound subject id
// forward so the callback can verify the identity-linkage check.
func (s *Server) handleConsumeDeepLink(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("session store not configured"))

		return
	}

	token := r.PathValue("token")

	grant, err := s.deps.Sessions.PopDeepLinkGrant(r.Context(), token)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, NotFound("deep-link grant not found or already consumed"))

		return
	}

	q := url.Values{"next": {grant.NextPath}, "deep_link_subject": {grant.SubjectID}}

	http.Redirect(w, r, "/auth/login?"+q.Encode(), http.StatusFound)
}
