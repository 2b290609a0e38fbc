package config

import "time"

const (
	defaultSessionTTL  = 12 * time.Hour
	defaultStateTTL    = 5 * time.Minute
	defaultDeepLinkTTL = 10 * time.Minute
)

// SessionConfig holds session.*, state.*, and deep_link.* TTL configuration.
type SessionConfig struct {
	SessionTTL  time.Duration
	StateTTL    time.Duration
	DeepLinkTTL time.Duration
}

// LoadSessionConfig reads session/state/deep-link TTL configuration from the environment.
func LoadSessionConfig() *SessionConfig {
	return &SessionConfig{
		SessionTTL:  GetEnvDuration("JOBCORE_SESSION_TTL", defaultSessionTTL),
		StateTTL:    GetEnvDuration("JOBCORE_STATE_TTL", defaultStateTTL),
		DeepLinkTTL: GetEnvDuration("JOBCORE_DEEP_LINK_TTL", defaultDeepLinkTTL),
	}
}

// CookieConfig holds auth.cookie_* configuration.
type CookieConfig struct {
	Name     string
	Secure   bool
	SameSite string // "lax", "strict", or "none"
}

// LoadCookieConfig reads auth.cookie_* configuration from the environment.
func LoadCookieConfig() *CookieConfig {
	return &CookieConfig{
		Name:     GetEnvStr("JOBCORE_AUTH_COOKIE_NAME", "jobcore_session"),
		Secure:   GetEnvBool("JOBCORE_AUTH_COOKIE_SECURE", true),
		SameSite: GetEnvStr("JOBCORE_AUTH_COOKIE_SAMESITE", "lax"),
	}
}

// OIDCConfig holds oidc.* configuration.
type OIDCConfig struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	Scope         string
	GroupsClaim   string
	AdminGroups   []string
	HTTPTimeout   time.Duration
	JWKSCacheTTL  time.Duration
}

// LoadOIDCConfig reads oidc.* configuration from the environment.
func LoadOIDCConfig() *OIDCConfig {
	return &OIDCConfig{
		Issuer:       GetEnvStr("JOBCORE_OIDC_ISSUER", ""),
		ClientID:     GetEnvStr("JOBCORE_OIDC_CLIENT_ID", ""),
		ClientSecret: GetEnvStr("JOBCORE_OIDC_CLIENT_SECRET", ""),
		Scope:        GetEnvStr("JOBCORE_OIDC_SCOPE", "openid email profile groups"),
		GroupsClaim:  GetEnvStr("JOBCORE_OIDC_GROUPS_CLAIM", "groups"),
		AdminGroups:  ParseCommaSeparatedList(GetEnvStr("JOBCORE_OIDC_ADMIN_GROUPS", "")),
		HTTPTimeout:  GetEnvDuration("JOBCORE_OIDC_HTTP_TIMEOUT", 15*time.Second),
		JWKSCacheTTL: GetEnvDuration("JOBCORE_OIDC_JWKS_CACHE_TTL", 10*time.Minute),
	}
}

// Configured reports whether enough OIDC settings are present to run the auth flow.
func (c *OIDCConfig) Configured() bool {
	return c.Issuer != "" && c.ClientID != ""
}

// APIConfig holds the shared-secret configuration.
type APIConfig struct {
	SharedSecret string
}

// LoadAPIConfig reads api.shared_secret from the environment.
func LoadAPIConfig() *APIConfig {
	return &APIConfig{
		SharedSecret: GetEnvStr("JOBCORE_API_SHARED_SECRET", ""),
	}
}
