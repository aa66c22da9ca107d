package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dotabod/backend-sub002/internal/adapters/http/api"
	"github.com/dotabod/backend-sub002/internal/adapters/http/swagger"
	app "github.com/dotabod/backend-sub002/internal/app"
	"github.com/dotabod/backend-sub002/internal/config"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When configuration comes from the environment", func() {
			_ = os.Setenv("DOTABOD_ADDR", ":8080")
			_ = os.Setenv("DOTABOD_JOB_QUEUE_SIZE", "1000")
			_ = os.Setenv("DOTABOD_WORKER_COUNT", "4")
			defer func() {
				_ = os.Unsetenv("DOTABOD_ADDR")
				_ = os.Unsetenv("DOTABOD_JOB_QUEUE_SIZE")
				_ = os.Unsetenv("DOTABOD_WORKER_COUNT")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.JobQueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When the address is empty", func() {
			_ = os.Setenv("DOTABOD_ADDR", " ")
			defer func() { _ = os.Unsetenv("DOTABOD_ADDR") }()

			convey.Convey("Then configuration loading should fail", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When testing metrics initialization", func() {
			manager := metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))
			convey.So(manager, convey.ShouldNotBeNil)
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given main application components", t, func() {
		svc := app.New(config.New(context.Background()))

		convey.Convey("Then the updaters return when the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			convey.So(func() { startSystemMetricsUpdater(ctx, 10*time.Millisecond) }, convey.ShouldNotPanic)
			convey.So(func() { startServiceMetricsUpdater(ctx, svc, 10*time.Millisecond) }, convey.ShouldNotPanic)
		})

		convey.Convey("Then single updates do not panic before start", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
		})
	})
}

func TestMainApplicationIntegration(t *testing.T) {
	convey.Convey("Given a started service behind the HTTP routes", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cfg := config.New(ctx)
		cfg.DatabasePath = filepath.Join(t.TempDir(), "main.db")
		cfg.CompanionURL = "ws://127.0.0.1:1/rpc"
		cfg.WorkerCount = 2

		svc := app.New(cfg)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop(ctx)

		mux := http.NewServeMux()
		swagger.Register(ctx, mux)
		api.NewServer(svc, svc).Register(mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		convey.Convey("Then the health probe answers", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then the API description is served next to ingress", func() {
			resp, err := http.Get(srv.URL + "/openapi.yaml")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then telemetry from an unknown token is unauthorized", func() {
			resp, err := http.Post(srv.URL+"/", "application/json",
				strings.NewReader(`{"auth":{"token":"unknown"},"map":{"game_state":"DOTA_GAMERULES_STATE_HERO_SELECTION"}}`))
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusUnauthorized)
		})

		convey.Convey("Then stats report the started service", func() {
			stats := svc.GetStats()
			convey.So(stats["started"], convey.ShouldBeTrue)
			convey.So(stats["workers"], convey.ShouldEqual, 2)
		})
	})
}
