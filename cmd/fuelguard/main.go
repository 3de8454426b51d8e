// FuelGuard - Fraud detection for fuel retail networks.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/fuelguard/internal/alert"
	"github.com/opensource-finance/fuelguard/internal/api"
	"github.com/opensource-finance/fuelguard/internal/bus"
	"github.com/opensource-finance/fuelguard/internal/cache"
	"github.com/opensource-finance/fuelguard/internal/cases"
	"github.com/opensource-finance/fuelguard/internal/config"
	"github.com/opensource-finance/fuelguard/internal/detector"
	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/ingest"
	"github.com/opensource-finance/fuelguard/internal/model"
	"github.com/opensource-finance/fuelguard/internal/monitor"
	"github.com/opensource-finance/fuelguard/internal/pattern"
	"github.com/opensource-finance/fuelguard/internal/repository"
	"github.com/opensource-finance/fuelguard/internal/rules"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("fuelguard exited", "error", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until ctx is cancelled or the HTTP
// listener fails.
func run(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting fuelguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	if cfg.Tracing.Enabled {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	store, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer store.Close()

	eventBus, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	defer eventBus.Close()

	if err := seedCatalogues(ctx, repo, cfg.Seed); err != nil {
		return err
	}

	engine, err := rules.NewEngine(100)
	if err != nil {
		return fmt.Errorf("rule engine: %w", err)
	}
	defer engine.Close()
	if err := loadRules(ctx, repo, engine); err != nil {
		return err
	}

	matcher, err := pattern.NewMatcher()
	if err != nil {
		return fmt.Errorf("pattern matcher: %w", err)
	}
	if err := loadPatterns(ctx, repo, matcher); err != nil {
		return err
	}

	suite := fitModels(ctx, repo)

	var forward domain.EventBus
	if cfg.Cases.ForwardToBus {
		forward = eventBus
	}
	dispatcher := alert.NewDispatcher(forward)
	manager := cases.NewManager(repo, dispatcher, cfg.Cases)

	registry := detector.NewRegistry(detector.Deps{
		Rules:    engine,
		Patterns: matcher,
		Models:   suite,
		Cache:    store,
		Records:  repo,
		Cases:    manager,

		LedgerTTL: cfg.Monitor.LongestLookback(),
	})
	slog.Info("detectors ready", "detectors", registry.Names())

	sched := monitor.New(cfg.Monitor, registry, repo, store)
	sched.Start(ctx)

	var worker *ingest.Worker
	if cfg.Ingest {
		worker = ingest.NewWorker(eventBus, repo, registry)
		if err := worker.Start(); err != nil {
			slog.Error("ingest worker not started", "error", err)
			worker = nil
		} else {
			slog.Info("ingest worker subscribed", "topics", worker.GetStats().Topics)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:     repo,
		Cache:    store,
		Bus:      eventBus,
		Registry: registry,
		Rules:    engine,
		Patterns: matcher,
		Cases:    manager,
		Accuracy: cases.NewAccuracyTracker(repo),
		Monitor:  sched,
		Version:  Version,
	}, alert.NewStream(dispatcher, cfg.Alerts.ClientBuffer))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("fuelguard listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	printBanner(cfg, Version)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Producers stop first so no case is opened while the server drains.
	if worker != nil {
		if err := worker.Stop(); err != nil {
			slog.Warn("ingest worker stop", "error", err)
		}
	}
	sched.Stop()
	sched.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown incomplete", "error", err)
	}

	slog.Info("fuelguard stopped")
	return runErr
}

// fitModels trains the per-category ensembles from validated history. Any
// category the suite could not fit keeps predicting 0, so only its rule and
// pattern signals contribute.
func fitModels(ctx context.Context, repo domain.Repository) *model.Suite {
	suite := model.NewSuite()
	rows, err := repo.ListTrainingData(ctx, true)
	if err != nil {
		slog.Warn("training data unavailable", "error", err)
		return suite
	}
	if err := suite.Fit(ctx, rows); err != nil {
		slog.Warn("some categories unfitted, their models predict 0", "error", err)
	}
	slog.Info("models fitted", "rows", len(rows), "trained", suite.Trained())
	return suite
}
