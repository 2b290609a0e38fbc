// Package api provides the HTTP API server for the job orchestration core
// (C7): authenticated endpoints that validate, deduplicate, and persist jobs
// atomically with broker dispatch, plus the OIDC/session surface that gates
// privileged human-operator endpoints. Grounded on the teacher's full
// internal/api package (server lifecycle, middleware chain, RFC 7807
// errors) generalized from lineage ingest to job orchestration.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsplatform/jobcore/internal/api/middleware"
	"github.com/opsplatform/jobcore/internal/audit"
	"github.com/opsplatform/jobcore/internal/broker"
	"github.com/opsplatform/jobcore/internal/config"
	"github.com/opsplatform/jobcore/internal/enqueue"
	"github.com/opsplatform/jobcore/internal/jobstore"
	"github.com/opsplatform/jobcore/internal/oidc"
	"github.com/opsplatform/jobcore/internal/session"
)

// healthChecker is the optional interface a broker.Adapter may satisfy to
// participate in GET /health; adapters that don't implement it are assumed
// healthy.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies collects every component the Ingest API calls into. Store,
// Broker, and Enqueuer are required; Sessions, Audit, and OIDC are optional
// (nil disables the dashboard/auth endpoints, matching the teacher's
// nil-disables-feature convention).
type Dependencies struct {
	Store       *jobstore.Store
	Broker      broker.Adapter
	Enqueuer    *enqueue.Service
	Sessions    *session.Store
	Audit       *audit.Sink
	OIDC        *oidc.Client
	RateLimiter middleware.RateLimiter

	SharedSecret string
	Cookie       *config.CookieConfig
	SessionCfg   *config.SessionConfig
	OIDCCfg      *config.OIDCConfig
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	deps       Dependencies
}

// NewServer builds a Server from cfg and deps. Panics if Store, Broker, or
// Enqueuer is nil — these are the non-negotiable core the API cannot run
// without, following the teacher's "panic on missing required dependency"
// constructor convention.
func NewServer(cfg *ServerConfig, deps Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if deps.Store == nil || deps.Broker == nil || deps.Enqueuer == nil {
		logger.Error("job store, broker, and enqueue service are required")
		panic("api: Store, Broker, and Enqueuer must not be nil")
	}

	server := &Server{logger: logger, config: cfg, deps: deps}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if deps.Sessions != nil && deps.OIDC != nil {
		logger.Info("OIDC/session endpoints enabled")
	} else {
		logger.Warn("session store or OIDC client not configured - auth endpoints disabled")
	}

	if deps.RateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("rate limiter not configured - rate limiting middleware disabled")
	}

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown, handling graceful
// shutdown on SIGINT/SIGTERM.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting jobcore API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if err := s.deps.Store.Close(); err != nil {
		s.logger.Error("failed to close job store", slog.String("error", err.Error()))
	}

	if err := s.deps.Broker.Close(); err != nil {
		s.logger.Error("failed to close broker adapter", slog.String("error", err.Error()))
	}

	s.logger.Info("server shutdown completed")

	return nil
}

// checkHealth reports (storeOK, brokerOK) for GET /health.
func (s *Server) checkHealth(ctx context.Context) (bool, bool) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	storeOK := s.deps.Store.HealthCheck(checkCtx) == nil

	brokerOK := true
	if hc, ok := s.deps.Broker.(healthChecker); ok {
		brokerOK = hc.HealthCheck(checkCtx) == nil
	}

	return storeOK, brokerOK
}
