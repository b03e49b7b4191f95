// Kestrel - POS fraud detection and source-system sync for retail.
// Copyright (c) 2026 OpenRetail
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openretail/kestrel/internal/api"
	"github.com/openretail/kestrel/internal/audit"
	"github.com/openretail/kestrel/internal/bus"
	"github.com/openretail/kestrel/internal/cache"
	"github.com/openretail/kestrel/internal/connector"
	"github.com/openretail/kestrel/internal/detect"
	"github.com/openretail/kestrel/internal/domain"
	"github.com/openretail/kestrel/internal/store"
	"github.com/openretail/kestrel/internal/syncer"
	"github.com/openretail/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := domain.LoadConfig()

	slog.Info("configuration loaded",
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"source", cfg.Source.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	st, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	source, err := connector.New(cfg.Source)
	if err != nil {
		slog.Error("failed to initialize source connector", "error", err)
		os.Exit(1)
	}
	slog.Info("source connector initialized", "type", cfg.Source.Type)

	suppressor, err := detect.NewSuppressor()
	if err != nil {
		slog.Error("failed to initialize suppressor", "error", err)
		os.Exit(1)
	}
	if err := suppressor.ReloadFromStore(ctx, st); err != nil {
		slog.Warn("failed to load suppression rules", "error", err)
	}
	slog.Info("suppression rules loaded", "count", suppressor.RulesCount())

	engine := detect.NewEngine(st, busImpl, suppressor, cfg.Detection)
	slog.Info("detection engine initialized", "lookback_days", cfg.Detection.LookbackDays)

	sync := syncer.New(st, cacheImpl, busImpl, source, cfg.Sync)
	slog.Info("sync service initialized",
		"batch_size", cfg.Sync.BatchSize,
		"dedup", cfg.Sync.DedupEnabled,
	)

	recorder := audit.NewRecorder(st)

	var chainWorker *worker.Worker
	if cfg.Detection.RunOnSyncCompleted {
		chainWorker = worker.NewWorker(busImpl, engine)
		if err := chainWorker.Start(); err != nil {
			slog.Error("failed to start detection worker", "error", err)
		}
	}

	srv := api.NewServer(cfg.Server, st, cacheImpl, busImpl, engine, sync, recorder, suppressor, Version)

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

	<-ctx.Done()
	slog.Info("shutting down...")

	if chainWorker != nil {
		chainWorker.Stop()
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
	fmt.Println("  KESTREL - POS fraud detection")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Source:   %s @ %s:%d\n", cfg.Source.Type, cfg.Source.Host, cfg.Source.Port)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /sync/run                 - Pull transactions from the source")
	fmt.Println("    POST /sync/test                - Probe source connectivity")
	fmt.Println("    GET  /sync/status              - Sync state and last result")
	fmt.Println("    POST /detection/run            - Run all detection modules")
	fmt.Println("    GET  /detection/status         - Detection state and last result")
	fmt.Println("    GET  /alerts                   - List fraud alerts")
	fmt.Println("    PUT  /alerts/{id}/investigation - Update alert triage state")
	fmt.Println("    GET  /risk-scores              - Operator risk scores")
	fmt.Println("    GET  /audit/syncs              - Sync run history")
	fmt.Println("    GET  /audit/detections         - Detection run history")
	fmt.Println("    GET  /audit/stats              - Aggregate statistics")
	fmt.Println("    POST /suppression-rules        - Register a CEL suppression rule")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
