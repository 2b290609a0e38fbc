// Package main provides the jobcore Ingest API service.
//
// It serves the authenticated HTTP surface that validates, deduplicates,
// and enqueues jobs, plus the OIDC/session endpoints that gate the
// dashboard (spec.md §4.7).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsplatform/jobcore/internal/api"
	"github.com/opsplatform/jobcore/internal/api/middleware"
	"github.com/opsplatform/jobcore/internal/audit"
	"github.com/opsplatform/jobcore/internal/broker"
	"github.com/opsplatform/jobcore/internal/config"
	"github.com/opsplatform/jobcore/internal/dbconn"
	"github.com/opsplatform/jobcore/internal/enqueue"
	"github.com/opsplatform/jobcore/internal/jobstore"
	"github.com/opsplatform/jobcore/internal/oidc"
	"github.com/opsplatform/jobcore/internal/session"
)

const (
	version = "1.0.0-dev"
	name    = "jobcore-api"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting jobcore API service", slog.String("service", name), slog.String("version", version))

	dbConfig := dbconn.LoadConfig()

	conn, err := dbconn.Open(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := jobstore.New(conn, logger)

	brokerCfg := config.LoadBrokerConfig()

	var adapter broker.Adapter
	if len(brokerCfg.Brokers) > 0 {
		adapter = broker.NewKafkaAdapter(brokerCfg.Brokers, brokerCfg.Topic, brokerCfg.GroupID, logger)
	} else {
		logger.Warn("JOBCORE_BROKER_ADDRS not set, using in-memory broker adapter")
		adapter = broker.NewInMemoryAdapter(256)
	}

	enqueuer := enqueue.New(store, adapter, logger)
	sessionStore := session.New(conn, logger)

	auditCfg := config.LoadAuditConfig()
	auditSink := audit.New(conn, auditCfg.BufferSize, logger)

	auditCtx, stopAudit := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopAudit()

	go auditSink.Run(auditCtx)

	oidcCfg := config.LoadOIDCConfig()

	var oidcClient *oidc.Client
	if oidcCfg.Configured() {
		oidcClient = oidc.NewClient(oidc.Config{
			Issuer:       oidcCfg.Issuer,
			ClientID:     oidcCfg.ClientID,
			ClientSecret: oidcCfg.ClientSecret,
			Scope:        oidcCfg.Scope,
			HTTPTimeout:  oidcCfg.HTTPTimeout,
			JWKSCacheTTL: oidcCfg.JWKSCacheTTL,
		})
	} else {
		logger.Warn("OIDC issuer/client_id not configured, auth endpoints will be unavailable")
	}

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	apiCfg := config.LoadAPIConfig()

	server := api.NewServer(&serverConfig, api.Dependencies{
		Store:        store,
		Broker:       adapter,
		Enqueuer:     enqueuer,
		Sessions:     sessionStore,
		Audit:        auditSink,
		OIDC:         oidcClient,
		RateLimiter:  rateLimiter,
		SharedSecret: apiCfg.SharedSecret,
		Cookie:       config.LoadCookieConfig(),
		SessionCfg:   config.LoadSessionConfig(),
		OIDCCfg:      oidcCfg,
	})

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	stopAudit()
	auditSink.Wait()

	logger.Info("jobcore API service stopped")
}
