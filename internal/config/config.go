// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New(ctx) builds a Config holding every default.
//   - Load(ctx) layers an optional .env file, an optional YAML file and
//     DOTABOD_* environment variables on top of the defaults.
//   - Durations are expressed in whole units named by the key suffix.
package config

import (
	"context"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogJSON switches log output to JSON lines.
	LogJSON bool `koanf:"log_json"`
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// DatabasePath is the sqlite file holding users, settings and matches.
	DatabasePath string `koanf:"database_path"`
	// MetricsEnabled turns Prometheus recording on or off.
	MetricsEnabled bool `koanf:"metrics_enabled"`
	// MetricsRefreshSec is how often system and service gauges are refreshed.
	MetricsRefreshSec int `koanf:"metrics_refresh_sec"`

	// SessionTimeoutSec evicts sessions that stop posting telemetry. It is also
	// the sweep interval.
	SessionTimeoutSec int `koanf:"session_timeout_sec"`
	// NegativeCacheTTLSec bounds how long an invalid token is remembered.
	NegativeCacheTTLSec int `koanf:"negative_cache_ttl_sec"`
	// NegativeCacheSize caps the number of remembered invalid tokens.
	NegativeCacheSize int `koanf:"negative_cache_size"`
	// EventDedupeSize caps remembered (game_time, event_type) pairs per session.
	EventDedupeSize int `koanf:"event_dedupe_size"`

	// WorkerCount sets the number of background job workers.
	WorkerCount int `koanf:"worker_count"`
	// JobQueueSize bounds the background job queue.
	JobQueueSize int `koanf:"job_queue_size"`

	// CompanionURL is the websocket URL of the game-network companion process.
	CompanionURL string `koanf:"companion_url"`
	// CompanionTimeoutMS bounds a single companion call.
	CompanionTimeoutMS int `koanf:"companion_timeout_ms"`

	ServerIDAttempts         int  `koanf:"server_id_attempts"`
	ServerIDInitialBackoffMS int  `koanf:"server_id_initial_backoff_ms"`
	ServerIDMaxBackoffMS     int  `koanf:"server_id_max_backoff_ms"`
	StatsAttempts            int  `koanf:"stats_attempts"`
	StatsInitialBackoffMS    int  `koanf:"stats_initial_backoff_ms"`
	StatsMaxBackoffMS        int  `koanf:"stats_max_backoff_ms"`
	StatsRequireHeroes       bool `koanf:"stats_require_heroes"`
	StatsCacheTTLSec         int  `koanf:"stats_cache_ttl_sec"`

	// WageringBaseURL is the prediction API root, e.g. https://api.twitch.tv/helix.
	WageringBaseURL string `koanf:"wagering_base_url"`
	// WageringClientID and WageringToken authenticate prediction calls.
	WageringClientID string `koanf:"wagering_client_id"`
	WageringToken    string `koanf:"wagering_token"`
	// WageringRequestsPerSec limits outbound prediction calls.
	WageringRequestsPerSec int `koanf:"wagering_requests_per_sec"`
	// PredictionWindowSec is how long a prediction accepts entries.
	PredictionWindowSec int `koanf:"prediction_window_sec"`

	// EligibilityLookbackHours is used when the stream start time is unknown.
	EligibilityLookbackHours int `koanf:"eligibility_lookback_hours"`
	// RatingStep is the rating change for a solo ranked match.
	RatingStep int `koanf:"rating_step"`
	// PartyMultiplier scales RatingStep for party matches.
	PartyMultiplier float64 `koanf:"party_multiplier"`
}

// New creates a Config holding the defaults. The context is reserved for
// loaders that need it.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                 "info",
		Addr:                     ":5120",
		DatabasePath:             "data/dotabod.db",
		MetricsEnabled:           true,
		MetricsRefreshSec:        10,
		SessionTimeoutSec:        300,
		NegativeCacheTTLSec:      600,
		NegativeCacheSize:        10_000,
		EventDedupeSize:          512,
		WorkerCount:              runtime.NumCPU() * 4,
		JobQueueSize:             10_000,
		CompanionURL:             "ws://127.0.0.1:5035/rpc",
		CompanionTimeoutMS:       5000,
		ServerIDAttempts:         8,
		ServerIDInitialBackoffMS: 2000,
		ServerIDMaxBackoffMS:     10_000,
		StatsAttempts:            10,
		StatsInitialBackoffMS:    3000,
		StatsMaxBackoffMS:        15_000,
		StatsRequireHeroes:       false,
		StatsCacheTTLSec:         3600,
		WageringBaseURL:          "https://api.twitch.tv/helix",
		WageringRequestsPerSec:   10,
		PredictionWindowSec:      240,
		EligibilityLookbackHours: 12,
		RatingStep:               25,
		PartyMultiplier:          0.8,
	}
}

// SessionTimeout returns SessionTimeoutSec as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSec) * time.Second
}

// MetricsRefresh returns MetricsRefreshSec as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshSec) * time.Second
}

// NegativeCacheTTL returns NegativeCacheTTLSec as a duration.
func (c *Config) NegativeCacheTTL() time.Duration {
	return time.Duration(c.NegativeCacheTTLSec) * time.Second
}

// EligibilityLookback returns EligibilityLookbackHours as a duration.
func (c *Config) EligibilityLookback() time.Duration {
	return time.Duration(c.EligibilityLookbackHours) * time.Hour
}

// CompanionTimeout returns CompanionTimeoutMS as a duration.
func (c *Config) CompanionTimeout() time.Duration { return ms(c.CompanionTimeoutMS) }

// ServerIDBackoff returns the initial and maximum phase-one backoff.
func (c *Config) ServerIDBackoff() (initial, maxInterval time.Duration) {
	return ms(c.ServerIDInitialBackoffMS), ms(c.ServerIDMaxBackoffMS)
}

// StatsBackoff returns the initial and maximum phase-two backoff.
func (c *Config) StatsBackoff() (initial, maxInterval time.Duration) {
	return ms(c.StatsInitialBackoffMS), ms(c.StatsMaxBackoffMS)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
