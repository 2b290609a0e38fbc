// Package middleware provides HTTP middleware components for the job orchestration API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// publicEndpoints defines public endpoints that bypass authentication.
// These endpoints are accessible without credentials (e.g., K8s health probes).
//
// Security note: Only health check endpoints should be in this map.
// Never add business logic endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup for health check endpoints.
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// Authentication error types for granular error handling.
var (
	// ErrMissingSharedSecret is returned when no shared secret is provided in headers.
	ErrMissingSharedSecret = errors.New("missing shared secret")
	// ErrInvalidSharedSecret is returned for an invalid shared secret value.
	// Generic error prevents enumeration attacks.
	ErrInvalidSharedSecret = errors.New("invalid shared secret")
	// ErrSharedSecretNotConfigured is returned when the server has no secret configured.
	ErrSharedSecretNotConfigured = errors.New("shared secret auth not configured")
)

// extractSharedSecret extracts the caller-supplied secret from request headers.
// It checks X-Shared-Secret first, then falls back to Authorization: Bearer.
func extractSharedSecret(r *http.Request) (string, bool) {
	if secret := r.Header.Get("X-Shared-Secret"); secret != "" {
		return cleanSecret(secret)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return cleanSecret(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return "", false
}

// cleanSecret rejects header-injection attempts and trims whitespace.
func cleanSecret(secret string) (string, bool) {
	if strings.ContainsAny(secret, "\r\n") {
		return "", false
	}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", false
	}

	return secret, true
}

// performDummyBcryptComparison runs a throwaway bcrypt comparison so the
// missing-header rejection path takes roughly the same time as the
// mismatched-secret path, which already costs a ConstantTimeCompare.
func performDummyBcryptComparison() {
	_ = bcrypt.CompareHashAndPassword([]byte("dummy"), []byte("dummy"))
}

// AuthenticateSharedSecret creates authentication middleware for machine callers
// (webhook producers, the scheduler, other internal services) using a single
// shared secret compared in constant time.
//
// If expectedSecret is empty, every request to a non-public endpoint is rejected
// with ErrSharedSecretNotConfigured - this is a misconfiguration, not a bypass.
func AuthenticateSharedSecret(expectedSecret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			if expectedSecret == "" {
				writeAuthError(w, r, logger, ErrSharedSecretNotConfigured, http.StatusServiceUnavailable)

				return
			}

			secret, found := extractSharedSecret(r)
			if !found {
				performDummyBcryptComparison()
				writeAuthError(w, r, logger, ErrMissingSharedSecret, http.StatusUnauthorized)

				return
			}

			if subtle.ConstantTimeCompare([]byte(secret), []byte(expectedSecret)) != 1 {
				writeAuthError(w, r, logger, ErrInvalidSharedSecret, http.StatusUnauthorized)

				return
			}

			authCtx := AuthContext{
				Kind:     PrincipalSharedSecret,
				Subject:  "shared-secret",
				AuthTime: time.Now(),
			}
			ctx := SetAuthContext(r.Context(), authCtx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes an RFC 7807 compliant error response for authentication failures.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, status int) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("authentication failed",
		slog.String("reason", err.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	if writeErr := writeRFC7807Error(w, r, status, err.Error(), correlationID); writeErr != nil {
		logger.Error("failed to write RFC 7807 error response",
			slog.String("correlation_id", correlationID),
			slog.Any("error", writeErr),
		)

		http.Error(w, err.Error(), status)
	}
}

// writeRFC7807Error writes an RFC 7807 compliant error response without importing the api package.
func writeRFC7807Error(w http.ResponseWriter, r *http.Request, statusCode int, detail, correlationID string) error {
	var title string

	switch statusCode {
	case http.StatusUnauthorized:
		title = "Unauthorized"
	case http.StatusForbidden:
		title = "Forbidden"
	case http.StatusTooManyRequests:
		title = "Too Many Requests"
	case http.StatusServiceUnavailable:
		title = "Service Unavailable"
	default:
		title = "Authentication Failed"
	}

	problem := map[string]interface{}{
		"type":           fmt.Sprintf("https://jobcore.internal/problems/%d", statusCode),
		"title":          title,
		"status":         statusCode,
		"detail":         detail,
		"instance":       r.URL.Path,
		"correlationId":  correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(statusCode)

	return json.NewEncoder(w).Encode(problem)
}
