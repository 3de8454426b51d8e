package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opensource-finance/fuelguard/internal/domain"
	"github.com/opensource-finance/fuelguard/internal/pattern"
	"github.com/opensource-finance/fuelguard/internal/rules"
)

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// seedCatalogues stores the built-in rules and patterns into an empty store.
func seedCatalogues(ctx context.Context, repo domain.Repository, seed domain.SeedConfig) error {
	if seed.Rules {
		existing, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			return fmt.Errorf("seed: listing rules: %w", err)
		}
		if len(existing) == 0 {
			builtin := rules.BuiltinRules()
			for _, r := range builtin {
				if err := repo.SaveRuleConfig(ctx, r); err != nil {
					return fmt.Errorf("seed: rule %s: %w", r.ID, err)
				}
			}
			slog.Info("seeded rule catalogue", "count", len(builtin))
		}
	}

	if seed.Patterns {
		existing, err := repo.ListPatterns(ctx)
		if err != nil {
			return fmt.Errorf("seed: listing patterns: %w", err)
		}
		if len(existing) == 0 {
			builtin := pattern.BuiltinPatterns()
			for _, p := range builtin {
				if err := repo.SavePattern(ctx, p); err != nil {
					return fmt.Errorf("seed: pattern %s: %w", p.ID, err)
				}
			}
			slog.Info("seeded pattern library", "count", len(builtin))
		}
	}
	return nil
}

// loadRules compiles the stored rule catalogue. An unreadable store leaves
// the engine empty rather than blocking startup.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("rule store unreadable, starting with no rules", "error", err)
		return nil
	}
	if len(stored) == 0 {
		slog.Info("rule store empty, add rules with POST /rules")
		return nil
	}
	if err := engine.LoadRules(stored); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	slog.Info("rules loaded", "stored", len(stored), "active", engine.RulesCount(), "domains", engine.Domains())
	return nil
}

func loadPatterns(ctx context.Context, repo domain.Repository, matcher *pattern.Matcher) error {
	stored, err := repo.ListPatterns(ctx)
	if err != nil {
		slog.Warn("pattern store unreadable, starting with no patterns", "error", err)
		return nil
	}
	if len(stored) == 0 {
		slog.Info("pattern store empty, add patterns with POST /patterns")
		return nil
	}
	if err := matcher.Reload(stored); err != nil {
		return fmt.Errorf("loading patterns: %w", err)
	}
	slog.Info("patterns loaded", "count", matcher.Count())
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	const endpoints = `
  Endpoints:
    POST  /events/{kind}       evaluate a pump, transaction, inventory,
                               driver, pricing or document record
    GET   /cases               list fraud cases
    GET   /cases/{id}          fetch a fraud case
    PATCH /cases/{id}/status   advance a case
    GET   /rules               loaded rules
    POST  /rules               store a rule
    POST  /rules/reload        hot-reload rules
    GET   /patterns            fraud pattern library
    POST  /patterns            store a pattern
    POST  /patterns/reload     hot-reload patterns
    GET   /accuracy            detection accuracy
    GET   /monitor             monitoring loops
    GET   /ws/alerts           live alert stream
    GET   /health              health check
    GET   /metrics             prometheus metrics
`
	fmt.Printf(`
  +-------------------------------------------+
  |                FUELGUARD                  |
  |     Fuel Retail Fraud Detection Engine    |
  +-------------------------------------------+

  Version:  %s
  Tier:     %s
  Server:   http://%s:%d
%s
`, version, cfg.Tier, cfg.Server.Host, cfg.Server.Port, endpoints)
}
