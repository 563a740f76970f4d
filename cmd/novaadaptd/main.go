// Command novaadaptd runs the objective-planning/execution HTTP service:
// model routing, plan approval, async jobs, idempotent mutating routes,
// an audit stream, and a policy gate in front of a pluggable execution
// transport.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/novaadapt/novaadapt-core/pkg/actionlog"
	"github.com/novaadapt/novaadapt-core/pkg/agent"
	"github.com/novaadapt/novaadapt-core/pkg/api"
	"github.com/novaadapt/novaadapt-core/pkg/audit"
	"github.com/novaadapt/novaadapt-core/pkg/config"
	"github.com/novaadapt/novaadapt-core/pkg/idempotency"
	"github.com/novaadapt/novaadapt-core/pkg/jobmanager"
	"github.com/novaadapt/novaadapt-core/pkg/metrics"
	"github.com/novaadapt/novaadapt-core/pkg/orchestrator"
	"github.com/novaadapt/novaadapt-core/pkg/planstore"
	"github.com/novaadapt/novaadapt-core/pkg/policy"
	"github.com/novaadapt/novaadapt-core/pkg/router"
	"github.com/novaadapt/novaadapt-core/pkg/tracing"
	"github.com/novaadapt/novaadapt-core/pkg/transport"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "./config/novaadaptd.yaml"), "path to the YAML config file")
	envPath := flag.String("env-file", getEnv("ENV_FILE", "./config/.env"), "path to an optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Printf("warning: could not load %s: %v", *envPath, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		log.Fatalf("failed to create data directory %s: %v", cfg.Data.Dir, err)
	}

	plans, err := planstore.Open(filepath.Join(cfg.Data.Dir, "plans.db"))
	if err != nil {
		log.Fatalf("failed to open plan store: %v", err)
	}
	defer plans.Close()

	logs, err := actionlog.Open(filepath.Join(cfg.Data.Dir, "actions.db"))
	if err != nil {
		log.Fatalf("failed to open action log store: %v", err)
	}
	defer logs.Close()

	auditOpts := audit.Options{
		RetentionSeconds:       cfg.Audit.RetentionSeconds,
		CleanupIntervalSeconds: cfg.Audit.CleanupIntervalSeconds,
		RetryAttempts:          cfg.Audit.RetryAttempts,
		RetryBackoffSeconds:    cfg.Audit.RetryBackoffSeconds,
	}
	auditStore, err := audit.Open(filepath.Join(cfg.Data.Dir, "audit.db"), auditOpts)
	if err != nil {
		log.Fatalf("failed to open audit store: %v", err)
	}
	defer auditStore.Close()

	jobStore, err := jobmanager.Open(filepath.Join(cfg.Data.Dir, "jobs.db"))
	if err != nil {
		log.Fatalf("failed to open job store: %v", err)
	}
	defer jobStore.Close()

	jobs, err := jobmanager.NewManager(ctx, jobStore, cfg.Jobs.Workers, cfg.Jobs.QueueDepth)
	if err != nil {
		log.Fatalf("failed to recover job manager: %v", err)
	}
	jobs.Start(ctx)
	defer jobs.Stop()

	idem, err := idempotency.Open(filepath.Join(cfg.Data.Dir, "idempotency.db"))
	if err != nil {
		log.Fatalf("failed to open idempotency store: %v", err)
	}
	defer idem.Close()

	rt, err := router.New(cfg.Router.Endpoints, router.Config{
		DefaultModel:          cfg.Router.DefaultModel,
		Temperature:           cfg.Router.Temperature,
		MaxTokens:             cfg.Router.MaxTokens,
		TimeoutSeconds:        cfg.Router.TimeoutSeconds,
		DefaultVoteCandidates: cfg.Router.DefaultVoteCandidates,
		MinVoteAgreement:      cfg.Router.MinVoteAgreement,
	}, nil)
	if err != nil {
		log.Fatalf("failed to build model router: %v", err)
	}

	gate := policy.NewGate()
	tr := transport.Transport(transport.NullTransport{})
	ag := agent.New(rt, gate, tr, logs)

	orch := orchestrator.New(rt, ag, gate, tr, plans, logs, jobs, auditStore, orchestrator.Config{
		DefaultMaxActions:         cfg.Orchestrator.DefaultMaxActions,
		ActionRetryAttempts:       cfg.Orchestrator.ActionRetryAttempts,
		ActionRetryBackoffSeconds: cfg.Orchestrator.ActionRetryBackoffSeconds,
		HistoryLimit:              cfg.Orchestrator.HistoryLimit,
		EventsLimit:               cfg.Orchestrator.EventsLimit,
	})

	tracerProvider, err := tracing.NewProvider(ctx, cfg.Tracing.ServiceName)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer provider shutdown failed", "error", err)
		}
	}()

	m := metrics.New()
	server := api.NewServer(cfg, orch, jobs, idem, m, tracerProvider.Tracer("novaadaptd"))

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = 15 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("novaadaptd listening", "addr", cfg.Server.ListenAddr)
		if err := server.Start(cfg.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		log.Fatalf("HTTP server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
