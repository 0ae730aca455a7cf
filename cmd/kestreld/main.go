// Kestrel - Credit appraisal that deploys in 60 seconds.
// Copyright (c) 2025 opencredit
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencredit/kestrel/internal/agent"
	"github.com/opencredit/kestrel/internal/api"
	"github.com/opencredit/kestrel/internal/appraisal"
	"github.com/opencredit/kestrel/internal/bus"
	"github.com/opencredit/kestrel/internal/cache"
	"github.com/opencredit/kestrel/internal/domain"
	"github.com/opencredit/kestrel/internal/repository"
	"github.com/opencredit/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load .env for local development; absence is fine
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	// Optional YAML overlay
	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		if err := domain.LoadConfigFile(cfg, path); err != nil {
			slog.Error("failed to load config file", "path", path, "error", err)
			os.Exit(1)
		}
		slog.Info("config file loaded", "path", path)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize the appraisal pipeline
	pipeline := appraisal.NewPipeline(repo, cacheImpl, busImpl)
	slog.Info("appraisal pipeline initialized")

	// Initialize the scoring agent relay
	var agentClient *agent.Client
	if cfg.Agent.BaseURL != "" {
		agentClient = agent.NewClient(cfg.Agent)
		if err := agentClient.Ping(ctx); err != nil {
			slog.Warn("scoring agent unreachable at startup", "base_url", cfg.Agent.BaseURL, "error", err)
		} else {
			slog.Info("scoring agent connected", "base_url", cfg.Agent.BaseURL)
		}
	}

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, pipeline)

		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, t := range strings.Split(envTenants, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tenantIDs = append(tenantIDs, t)
				}
			}
		}

		workerCfg := worker.Config{
			TenantIDs: tenantIDs,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, pipeline, agentClient, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                 KESTREL")
	fmt.Println("        Credit Appraisal Engine")
	fmt.Println("     Every application, explained.")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/appraisals                 - Appraise an applicant batch (CSV)")
	fmt.Println("    GET  /v1/runs                       - List appraisal runs")
	fmt.Println("    GET  /v1/runs/{id}/report           - Download a run report")
	fmt.Println("    POST /v1/runs/{id}/reviews          - Record human reviews")
	fmt.Println("    GET  /v1/runs/{id}/agreement        - AI/human agreement report")
	fmt.Println("    GET  /v1/policies                   - List rule policies")
	fmt.Println("    POST /v1/policies                   - Create a rule policy")
	fmt.Println("    POST /v1/synthetic                  - Generate a synthetic batch")
	fmt.Println("    POST /v1/sanitize/preview           - Preview PII scrubbing")
	fmt.Println("    POST /v1/training/train             - Start candidate training")
	fmt.Println("    POST /v1/training/promote           - Promote the candidate model")
	fmt.Println("    GET  /v1/training/production_meta   - Production model metadata")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
