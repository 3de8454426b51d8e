// Package config loads the service configuration from defaults, an optional
// YAML file and FUELGUARD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/fuelguard/internal/domain"
)

const (
	// EnvPrefix is stripped from environment keys. A double underscore
	// separates levels: FUELGUARD_SERVER__PORT sets server.port.
	EnvPrefix = "FUELGUARD_"

	// EnvFile names the optional YAML file.
	EnvFile = "FUELGUARD_CONFIG"

	// EnvTier selects the defaults: "community" or "pro".
	EnvTier = "FUELGUARD_TIER"

	// EnvDebug forces debug logging when "true".
	EnvDebug = "FUELGUARD_DEBUG"
)

// Load builds the configuration. Later sources win: tier defaults, then the
// file named by FUELGUARD_CONFIG, then environment overrides.
func Load() (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(os.Getenv(EnvTier))) == domain.TierPro {
		defaults = domain.ProConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := os.Getenv(EnvFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("loading %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if os.Getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to a config key. The control
// variables are consumed by Load itself and yield "", which koanf skips.
func envKey(s string) string {
	switch s {
	case EnvFile, EnvTier, EnvDebug:
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects settings the service cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("unknown tier %q", cfg.Tier))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache type %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type %q", cfg.EventBus.Type))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port %d", cfg.Server.Port))
	}
	if cfg.Cases.PersistRetries < 0 {
		errs = append(errs, errors.New("cases.persist_retries must not be negative"))
	}

	for name, loop := range map[string]domain.LoopConfig{
		domain.CategoryPump:        cfg.Monitor.Pump,
		domain.CategoryDriver:      cfg.Monitor.Driver,
		domain.CategoryInventory:   cfg.Monitor.Inventory,
		domain.CategoryTransaction: cfg.Monitor.Transaction,
		domain.CategoryPricing:     cfg.Monitor.Pricing,
		domain.CategoryDocument:    cfg.Monitor.Document,
	} {
		if loop.Enabled && loop.Interval <= 0 {
			errs = append(errs, fmt.Errorf("monitor.%s.interval must be positive", name))
		}
	}

	return errors.Join(errs...)
}
