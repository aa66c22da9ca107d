package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "DOTABOD_"
	envConfig  = "DOTABOD_CONFIG"
	envDotfile = "DOTABOD_DOTENV"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if DOTABOD_CONFIG is set
//  3. env (prefix DOTABOD_), including values read from a .env file
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)
	k := koanf.New(".")

	// A missing .env file is normal outside local development.
	dotfile := os.Getenv(envDotfile)
	if dotfile == "" {
		dotfile = ".env"
	}
	if err := godotenv.Load(dotfile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, dotfile, err)
	}

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// DOTABOD_SESSION_TIMEOUT_SEC -> session_timeout_sec (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.MetricsRefreshSec <= 0:
		return fmt.Errorf("%w: metrics_refresh_sec must be positive", ErrInvalidConfig)
	case c.SessionTimeoutSec <= 0:
		return fmt.Errorf("%w: session_timeout_sec must be positive", ErrInvalidConfig)
	case c.ServerIDAttempts <= 0 || c.StatsAttempts <= 0:
		return fmt.Errorf("%w: resolver attempts must be positive", ErrInvalidConfig)
	case c.PartyMultiplier < 0:
		return fmt.Errorf("%w: party_multiplier must not be negative", ErrInvalidConfig)
	case c.EligibilityLookbackHours <= 0:
		return fmt.Errorf("%w: eligibility_lookback_hours must be positive", ErrInvalidConfig)
	}
	return nil
}
