// Package middleware provides HTTP middleware components for the job orchestration API.
package middleware

import (
	"time"

	"github.com/opsplatform/jobcore/internal/config"
)

// Config holds rate limiter configuration.
//
// Rate limits specify requests per second (RPS) for three tiers:
//   - Global: Applied to all requests
//   - Per-principal: Applied to authenticated requests (shared-secret or session)
//   - Unauthenticated: Applied to requests without a resolved caller identity
//
// Burst capacity allows temporary bursts above sustained rate.
// If burst fields are 0, they are computed automatically as 2 × rate.
type Config struct {
	// Rate limits (requests per second)
	GlobalRPS    int // Default: 100
	PrincipalRPS int // Default: 50
	UnAuthRPS    int // Default: 10

	// Optional burst capacity overrides (0 = compute automatically as 2 × rate) using computeBurstCapacity()
	GlobalBurst    int // Default: 0 (computed as 2 × GlobalRPS = 200)
	PrincipalBurst int // Default: 0 (computed as 2 × PrincipalRPS = 100)
	UnAuthBurst    int // Default: 0 (computed as 2 × UnAuthRPS = 20)

	// Memory cleanup configuration
	CleanupInterval time.Duration // Default: 5 minutes
	IdleTimeout     time.Duration // Default: 1 hour
	MaxPrincipals   int           // Default: 100
}

// LoadConfig loads middleware config from environment variables with fallback to defaults.
//
// Default burst capacity: 2 × rate (allows 2-second burst)
// Default cleanup: every 5 minutes, removes principals idle >1 hour.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:    config.GetEnvInt("JOBCORE_GLOBAL_RPS", defaultGlobalRPS),
		PrincipalRPS: config.GetEnvInt("JOBCORE_PRINCIPAL_RPS", defaultPrincipalRPS),
		UnAuthRPS:    config.GetEnvInt("JOBCORE_UNAUTH_RPS", defaultUnAuthRPS),

		GlobalBurst:    config.GetEnvInt("JOBCORE_GLOBAL_BURST", 0),
		PrincipalBurst: config.GetEnvInt("JOBCORE_PRINCIPAL_BURST", 0),
		UnAuthBurst:    config.GetEnvInt("JOBCORE_UNAUTH_BURST", 0),

		CleanupInterval: config.GetEnvDuration(
			"JOBCORE_RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval,
		),
		IdleTimeout:   config.GetEnvDuration("JOBCORE_RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxPrincipals: config.GetEnvInt("JOBCORE_RATE_LIMIT_MAX_PRINCIPALS", maxPrincipals),
	}
}
