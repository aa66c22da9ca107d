package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/dotabod/backend-sub002/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":5120")
				convey.So(cfg.SessionTimeoutSec, convey.ShouldEqual, 300)
				convey.So(cfg.EligibilityLookbackHours, convey.ShouldEqual, 12)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("DOTABOD_ADDR", ":8080")
			_ = os.Setenv("DOTABOD_SESSION_TIMEOUT_SEC", "60")
			_ = os.Setenv("DOTABOD_STATS_REQUIRE_HEROES", "true")
			_ = os.Setenv("DOTABOD_PARTY_MULTIPLIER", "0.5")
			_ = os.Setenv("DOTABOD_METRICS_ENABLED", "false")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.SessionTimeoutSec, convey.ShouldEqual, 60)
				convey.So(cfg.StatsRequireHeroes, convey.ShouldBeTrue)
				convey.So(cfg.PartyMultiplier, convey.ShouldEqual, 0.5)
				convey.So(cfg.MetricsEnabled, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
session_timeout_sec: 120
rating_step: 30
companion_url: "ws://companion:5035/rpc"
`
			tmpFile := createTempFile("dotabod-config-*.yaml", yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DOTABOD_CONFIG", tmpFile)
			_ = os.Setenv("DOTABOD_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.SessionTimeoutSec, convey.ShouldEqual, 120)
				convey.So(cfg.RatingStep, convey.ShouldEqual, 30)
				convey.So(cfg.CompanionURL, convey.ShouldEqual, "ws://companion:5035/rpc")
				convey.So(cfg.StatsAttempts, convey.ShouldEqual, 10)
			})
		})

		convey.Convey("When a dotenv file provides values", func() {
			tmpFile := createTempFile("dotabod-*.env", "DOTABOD_WAGERING_CLIENT_ID=client-1\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DOTABOD_DOTENV", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then they are applied like environment variables", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.WageringClientID, convey.ShouldEqual, "client-1")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempFile("dotabod-config-*.yaml", `invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("DOTABOD_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("DOTABOD_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("DOTABOD_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with a non-positive session timeout", func() {
			_ = os.Setenv("DOTABOD_SESSION_TIMEOUT_SEC", "0")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("DOTABOD_WORKER_COUNT", "not_a_number")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"DOTABOD_CONFIG",
		"DOTABOD_DOTENV",
		"DOTABOD_ADDR",
		"DOTABOD_SESSION_TIMEOUT_SEC",
		"DOTABOD_STATS_REQUIRE_HEROES",
		"DOTABOD_PARTY_MULTIPLIER",
		"DOTABOD_METRICS_ENABLED",
		"DOTABOD_WAGERING_CLIENT_ID",
		"DOTABOD_WORKER_COUNT",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func createTempFile(pattern, content string) string {
	tmpFile, err := os.CreateTemp("", pattern)
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
