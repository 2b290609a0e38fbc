// Package main provides the jobcore Worker Runner service.
//
// It claims job deliveries from the broker, executes them against the
// Handler Registry, and runs the Scheduler's fixed-interval sweeps and
// recovery sweeper (spec.md §4.6, §4.8).
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsplatform/jobcore/internal/broker"
	"github.com/opsplatform/jobcore/internal/config"
	"github.com/opsplatform/jobcore/internal/dbconn"
	"github.com/opsplatform/jobcore/internal/enqueue"
	"github.com/opsplatform/jobcore/internal/handler"
	"github.com/opsplatform/jobcore/internal/jobstore"
	"github.com/opsplatform/jobcore/internal/scheduler"
	"github.com/opsplatform/jobcore/internal/worker"
)

const (
	version = "1.0.0-dev"
	name    = "jobcore-worker"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	jobCfg := config.LoadJobConfig()
	workerCfg := config.LoadWorkerConfig()
	dbCfg := dbconn.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("JOBCORE_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("starting jobcore worker service", slog.String("service", name), slog.String("version", version))

	conn, err := dbconn.Open(dbCfg)
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

	registry := handler.NewRegistry()

	if err := handler.RegisterDefaults(registry); err != nil {
		logger.Error("failed to register default handlers", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry.Freeze()

	fileCfg, err := config.LoadFileConfig(os.Getenv("JOBCORE_CONFIG_FILE"))
	if err != nil {
		logger.Error("failed to load config file overlay", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner := worker.New(store, registry, adapter, worker.Config{
		WorkerName:     hostnameOrDefault(),
		Concurrency:    workerCfg.Concurrency,
		RetryBase:      time.Duration(jobCfg.RetryBaseSeconds) * time.Second,
		RetryMax:       time.Duration(jobCfg.RetryMaxSeconds) * time.Second,
		RetryOverrides: retryOverridesFrom(fileCfg),
		JobTimeout:     jobCfg.Timeout,
	}, logger)

	enqueuer := enqueue.New(store, adapter, logger)

	sched := scheduler.New(enqueuer, sweepsFrom(fileCfg), logger)
	recovery := scheduler.NewRecoverySweeper(store, enqueuer, workerCfg.SweeperInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)
	go recovery.Run(ctx)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker runner stopped with error", slog.String("error", err.Error()))
	}

	if err := store.Close(); err != nil {
		logger.Error("failed to close job store", slog.String("error", err.Error()))
	}

	if err := adapter.Close(); err != nil {
		logger.Error("failed to close broker adapter", slog.String("error", err.Error()))
	}

	logger.Info("jobcore worker service stopped")
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}

	return h
}

// sweepsFrom converts the optional YAML overlay's sweep specs into
// scheduler.Sweep values. A nil or empty overlay yields no sweeps: the
// Scheduler then only runs whatever Run callers configure, same as before
// this overlay existed.
func sweepsFrom(fileCfg *config.FileConfig) []scheduler.Sweep {
	if fileCfg == nil {
		return nil
	}

	sweeps := make([]scheduler.Sweep, 0, len(fileCfg.Sweeps))

	for _, spec := range fileCfg.Sweeps {
		interval := time.Duration(spec.IntervalSeconds) * time.Second
		if interval <= 0 {
			continue
		}

		sweeps = append(sweeps, scheduler.Sweep{
			Name:     spec.Name,
			Handler:  spec.Handler,
			Interval: interval,
			Args:     spec.Args,
			Kwargs:   spec.Kwargs,
		})
	}

	return sweeps
}

// retryOverridesFrom converts the optional YAML overlay's per-handler
// retry policies into the map worker.Config expects.
func retryOverridesFrom(fileCfg *config.FileConfig) map[string]worker.RetryPolicy {
	if fileCfg == nil || len(fileCfg.RetryOverrides) == 0 {
		return nil
	}

	overrides := make(map[string]worker.RetryPolicy, len(fileCfg.RetryOverrides))

	for handlerName, policy := range fileCfg.RetryOverrides {
		overrides[handlerName] = worker.RetryPolicy{
			Base: time.Duration(policy.BaseSeconds) * time.Second,
			Max:  time.Duration(policy.MaxSeconds) * time.Second,
		}
	}

	return overrides
}
