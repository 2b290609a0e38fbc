// Package oidc is a PKCE-flow OIDC client used by the Session/Auth Store
// (C9): discovery document + JWKS fetch with caching, authorization-code
// exchange, and ID-token validation. Grounded on
// original_source/apps/worker/src/five08/backend/auth.py's
// OIDCProviderClient.
package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Metadata is the subset of the provider's discovery document the PKCE
// flow needs, grounded on original_source's Metadata dataclass.
type Metadata struct {
	Issuer               string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
}

// Config configures Client.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scope        string
	HTTPTimeout  time.Duration
	JWKSCacheTTL time.Duration
}

// Client is a small OIDC discovery + token-exchange + id-token-validation
// client, grounded on original_source's OIDCProviderClient.
type Client struct {
	cfg        Config
	httpClient *http.Client

	metaOnce sync.Once
	meta     *Metadata
	metaErr  error

	jwksMu       sync.Mutex
	jwks         *jwkSet
	jwksLoadedAt time.Time
}

// NewClient returns an Client for cfg.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Metadata fetches and caches the provider's OIDC discovery document.
func (c *Client) Metadata(ctx context.Context) (*Metadata, error) {
	c.metaOnce.Do(func() {
		issuer := strings.TrimRight(c.cfg.Issuer, "/")
		discoveryURL := issuer + "/.well-known/openid-configuration"

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
		if err != nil {
			c.metaErr = fmt.Errorf("oidc: build discovery request: %w", err)
			return
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.metaErr = fmt.Errorf("oidc: discovery request: %w", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.metaErr = fmt.Errorf("oidc: discovery returned status %d", resp.StatusCode)
			return
		}

		var meta Metadata
		if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
			c.metaErr = fmt.Errorf("oidc: decode discovery document: %w", err)
			return
		}

		c.meta = &meta
	})

	return c.meta, c.metaErr
}

// oauthConfig adapts the provider's discovery document and this client's
// static settings into an oauth2.Config for the given redirect_uri.
func (c *Client) oauthConfig(meta *Metadata, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(c.cfg.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  meta.AuthorizationEndpoint,
			TokenURL: meta.TokenEndpoint,
		},
	}
}

// AuthorizationURL builds the OIDC authorization redirect URL, attaching the
// nonce claim and the PKCE S256 challenge derived from verifier.
func (c *Client) AuthorizationURL(meta *Metadata, redirectURI, state, nonce, verifier string) string {
	cfg := c.oauthConfig(meta, redirectURI)

	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.S256ChallengeOption(verifier),
	)
}

// ExchangeCode exchanges an authorization code for tokens, returning the
// raw id_token for ValidateIDToken.
func (c *Client) ExchangeCode(ctx context.Context, meta *Metadata, code, redirectURI, codeVerifier string) (string, error) {
	cfg := c.oauthConfig(meta, redirectURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return "", fmt.Errorf("oidc: exchange code: %w", err)
	}

	idToken, ok := token.Extra("id_token").(string)
	if !ok || idToken == "" {
		return "", fmt.Errorf("oidc: token response missing id_token")
	}

	return idToken, nil
}

// ValidateIDToken verifies idToken's signature against the provider's JWKS,
// checks audience/issuer/expiry, and confirms the nonce claim matches the
// one generated at login — the replay-prevention invariant spec.md §4.9
// requires.
func (c *Client) ValidateIDToken(ctx context.Context, meta *Metadata, idToken, nonce string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))

	token, err := parser.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("oidc: id token missing kid")
		}

		return c.publicKey(ctx, meta, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("oidc: parse id token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("oidc: id token failed validation")
	}

	aud, _ := claims["aud"].(string)
	if aud != c.cfg.ClientID {
		if auds, ok := claims["aud"].([]any); !ok || !containsAny(auds, c.cfg.ClientID) {
			return nil, fmt.Errorf("oidc: unexpected audience")
		}
	}

	iss, _ := claims["iss"].(string)
	if iss != meta.Issuer {
		return nil, fmt.Errorf("oidc: unexpected issuer")
	}

	tokenNonce, _ := claims["nonce"].(string)
	if tokenNonce != nonce {
		return nil, fmt.Errorf("oidc: nonce mismatch")
	}

	return claims, nil
}

func containsAny(values []any, target string) bool {
	for _, v := range values {
		if s, ok := v.(string); ok && s == target {
			return true
		}
	}

	return false
}

func (c *Client) publicKey(ctx context.Context, meta *Metadata, kid string) (*rsa.PublicKey, error) {
	set, err := c.jwksFor(ctx, meta)
	if err != nil {
		return nil, err
	}

	for _, k := range set.Keys {
		if k.Kid != kid || k.Kty != "RSA" {
			continue
		}

		return rsaPublicKeyFromJWK(k)
	}

	return nil, fmt.Errorf("oidc: signing key %q not found in jwks", kid)
}

func (c *Client) jwksFor(ctx context.Context, meta *Metadata) (*jwkSet, error) {
	c.jwksMu.Lock()
	defer c.jwksMu.Unlock()

	if c.jwks != nil && time.Since(c.jwksLoadedAt) < c.cfg.JWKSCacheTTL {
		return c.jwks, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.JWKSURI, nil)
	if err != nil {
		return nil, fmt.Errorf("oidc: build jwks request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oidc: jwks request: %w", err)
	}
	defer resp.Body.Close()

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("oidc: decode jwks: %w", err)
	}

	c.jwks = &set
	c.jwksLoadedAt = time.Now()

	return c.jwks, nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("oidc: decode jwk modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("oidc: decode jwk exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// GenerateVerifier returns a PKCE code_verifier; AuthorizationURL derives
// the S256 code_challenge from it via oauth2.S256ChallengeOption, and
// ExchangeCode presents the same verifier back to the token endpoint.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// RandomToken returns a URL-safe random string suitable for state/nonce/session/token values.
func RandomToken(numBytes int) (string, error) {
	raw := make([]byte, numBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("oidc: generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ExtractGroups reads a string or []string claim and normalizes it to a
// trimmed, non-empty string slice.
func ExtractGroups(claims jwt.MapClaims, claimName string) []string {
	raw, ok := claims[claimName]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []any:
		groups := make([]string, 0, len(v))

		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				groups = append(groups, strings.TrimSpace(s))
			}
		}

		return groups
	case string:
		parts := strings.Split(v, ",")
		groups := make([]string, 0, len(parts))

		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				groups = append(groups, t)
			}
		}

		return groups
	default:
		return nil
	}
}

// IsAdminFromGroups reports whether groups intersects configuredAdminGroups
// (case-insensitively).
func IsAdminFromGroups(groups, configuredAdminGroups []string) bool {
	if len(configuredAdminGroups) == 0 {
		return false
	}

	admin := make(map[string]struct{}, len(configuredAdminGroups))
	for _, g := range configuredAdminGroups {
		admin[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}

	for _, g := range groups {
		if _, ok := admin[strings.ToLower(strings.TrimSpace(g))]; ok {
			return true
		}
	}

	return false
}
