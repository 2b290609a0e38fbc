package oidc

import (
	"net/url"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *Client {
	return NewClient(Config{
		Issuer:       "https://idp.example.com",
		ClientID:     "jobcore-dashboard",
		ClientSecret: "secret",
		Scope:        "openid email profile",
	})
}

func TestAuthorizationURL_CarriesPKCEAndNonce(t *testing.T) {
	c := newTestClient()
	meta := &Metadata{AuthorizationEndpoint: "https://idp.example.com/authorize"}

	verifier := GenerateVerifier()
	raw := c.AuthorizationURL(meta, "https://jobcore.example.com/auth/callback", "state-1", "nonce-1", verifier)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "jobcore-dashboard", q.Get("client_id"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEqual(t, verifier, q.Get("code_challenge"), "challenge must be derived from, not equal to, the verifier")
}

func TestGenerateVerifier_ProducesDistinctValues(t *testing.T) {
	a := GenerateVerifier()
	b := GenerateVerifier()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestExtractGroups_FromStringSliceClaim(t *testing.T) {
	claims := jwt.MapClaims{"groups": []any{"admins", " ops ", ""}}

	groups := ExtractGroups(claims, "groups")
	assert.Equal(t, []string{"admins", "ops"}, groups)
}

func TestExtractGroups_FromCommaSeparatedStringClaim(t *testing.T) {
	claims := jwt.MapClaims{"groups": "admins, ops,"}

	groups := ExtractGroups(claims, "groups")
	assert.Equal(t, []string{"admins", "ops"}, groups)
}

func TestExtractGroups_MissingClaimReturnsNil(t *testing.T) {
	groups := ExtractGroups(jwt.MapClaims{}, "groups")
	assert.Nil(t, groups)
}

func TestIsAdminFromGroups(t *testing.T) {
	admin := []string{"Admins"}

	assert.True(t, IsAdminFromGroups([]string{"admins"}, admin))
	assert.True(t, IsAdminFromGroups([]string{"ADMINS"}, admin))
	assert.False(t, IsAdminFromGroups([]string{"users"}, admin))
	assert.False(t, IsAdminFromGroups([]string{"admins"}, nil))
}
