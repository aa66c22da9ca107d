// Package service owns the process-wide state and implements the
// dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dotabod/backend-sub002/internal/adapters/companion"
	"github.com/dotabod/backend-sub002/internal/adapters/http/realtime"
	jobqueue "github.com/dotabod/backend-sub002/internal/adapters/mq/queue"
	workerpool "github.com/dotabod/backend-sub002/internal/adapters/mq/worker"
	"github.com/dotabod/backend-sub002/internal/adapters/repository"
	"github.com/dotabod/backend-sub002/internal/adapters/wagering"
	"github.com/dotabod/backend-sub002/internal/config"
	"github.com/dotabod/backend-sub002/internal/domain/dedupe"
	"github.com/dotabod/backend-sub002/internal/domain/events"
	"github.com/dotabod/backend-sub002/internal/domain/match"
	"github.com/dotabod/backend-sub002/internal/domain/prediction"
	"github.com/dotabod/backend-sub002/internal/domain/rating"
	"github.com/dotabod/backend-sub002/internal/domain/retry"
	"github.com/dotabod/backend-sub002/internal/domain/session"
	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// ErrNotStarted is returned by calls made before Start.
var ErrNotStarted = errors.New("service not started")

// Service wires sessions, dispatch, the match lifecycle and the adapters.
type Service struct {
	mu  sync.RWMutex
	cfg *config.Config

	// Adapters, injectable for tests.
	store       repository.Store
	source      match.Source
	wageringAPI prediction.API
	companion   *companion.Client

	// Process-wide state.
	registry   *session.Registry
	auth       *session.Authenticator
	dispatcher *events.Dispatcher[*session.Session]
	lifecycle  *match.Lifecycle
	sweeper    *session.Sweeper
	hub        *realtime.Hub
	jobs       *workerpool.Pool

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore replaces the sqlite store opened from configuration.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithSource replaces the companion client.
func WithSource(src match.Source) Option {
	return func(s *Service) { s.source = src }
}

// WithPredictionAPI replaces the wagering client.
func WithPredictionAPI(api prediction.API) Option {
	return func(s *Service) { s.wageringAPI = api }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep overrides how resolution jobs wait out the stream delay.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service from cfg. Components are built by Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and starts every component.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.logger.Info(ctx, "starting telemetry service...")
	cfg := s.cfg

	if s.store == nil {
		store, err := repository.Open(ctx, cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		s.store = store
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.source == nil {
		s.companion = companion.NewClient(cfg.CompanionURL, companion.WithCallTimeout(cfg.CompanionTimeout()))
		s.source = s.companion
		go s.companion.Run(runCtx)
	}
	if s.wageringAPI == nil {
		s.wageringAPI = wagering.NewClient(cfg.WageringBaseURL, cfg.WageringClientID, cfg.WageringToken,
			wagering.WithRateLimit(float64(cfg.WageringRequestsPerSec)))
	}

	s.hub = realtime.NewHub()
	s.registry = session.NewRegistry()
	s.auth = session.NewAuthenticator(s.registry, identityAdapter{store: s.store},
		session.WithChannels(s.hub),
		session.WithSeenSize(cfg.EventDedupeSize),
		session.WithClock(s.now),
		session.WithNegativeCache(dedupe.NewExpiring[string, struct{}](cfg.NegativeCacheTTL(),
			dedupe.WithMaxSize(cfg.NegativeCacheSize), dedupe.WithClock(s.now))),
	)

	s.jobs = workerpool.NewPool(cfg.WorkerCount, jobqueue.NewInMemoryQueue(jobqueue.WithCapacity(cfg.JobQueueSize)))
	s.jobs.Start(runCtx)

	serverInitial, serverMax := cfg.ServerIDBackoff()
	statsInitial, statsMax := cfg.StatsBackoff()
	resolver := match.NewDataResolver(s.source,
		match.WithServerIDPolicy(retry.Exponential(cfg.ServerIDAttempts, serverInitial, serverMax)),
		match.WithStatsPolicy(retry.Exponential(cfg.StatsAttempts, statsInitial, statsMax)),
		match.WithRequireHeroes(cfg.StatsRequireHeroes),
		match.WithStatsCacheTTL(time.Duration(cfg.StatsCacheTTLSec)*time.Second),
	)
	lifecycleOpts := []match.Option{
		match.WithPredictions(prediction.NewController(s.wageringAPI, time.Duration(cfg.PredictionWindowSec)*time.Second, nil)),
		match.WithResolver(resolver),
		match.WithAdjuster(rating.NewAdjuster(rating.WithStep(cfg.RatingStep), rating.WithPartyMultiplier(cfg.PartyMultiplier))),
		match.WithLookback(cfg.EligibilityLookback()),
		match.WithClock(s.now),
		match.WithSessions(s.registry.Get),
	}
	if s.sleep != nil {
		lifecycleOpts = append(lifecycleOpts, match.WithSleep(s.sleep))
	}
	s.lifecycle = match.NewLifecycle(matchAdapter{store: s.store}, s.jobs, lifecycleOpts...)

	reg := events.NewRegistry[*session.Session]()
	if err := s.lifecycle.Register(reg); err != nil {
		cancel()
		return fmt.Errorf("register lifecycle handlers: %w", err)
	}
	if err := registerOverlay(reg); err != nil {
		cancel()
		return fmt.Errorf("register overlay handlers: %w", err)
	}
	reg.Freeze()
	s.dispatcher = events.NewDispatcher(reg, nil)

	s.sweeper = session.NewSweeper(s.registry, cfg.SessionTimeout(), s.lifecycle.ExpireStale, nil)
	go s.sweeper.Run(runCtx)

	s.started = true
	s.logger.Info(ctx, "telemetry service started",
		logger.Int("workers", s.jobs.Size()),
		logger.Int("jobQueueSize", cfg.JobQueueSize),
		logger.Duration("sessionTimeout", cfg.SessionTimeout()),
	)
	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping telemetry service...")

	if err := s.lifecycle.Close(ctx); err != nil {
		s.logger.Warn(ctx, "pending resolutions", logger.Error(err))
	}
	if err := s.jobs.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "job pool shutdown", logger.Error(err))
	}
	s.cancel()
	s.hub.Close()
	if s.companion != nil {
		_ = s.companion.Close()
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn(ctx, "store close", logger.Error(err))
	}

	s.started = false
	s.logger.Info(ctx, "telemetry service stopped")
}

func (s *Service) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Ingest processes one envelope. The token is stamped live before identity
// resolution, and the envelope's events are dispatched under the session
// lock so envelopes of one token are handled in arrival order.
func (s *Service) Ingest(ctx context.Context, env *telemetry.Envelope) error {
	if !s.running() {
		return ErrNotStarted
	}
	start := time.Now()
	s.registry.Touch(env.Token, s.now())

	sess, err := s.lockSession(ctx, env.Token)
	if err != nil {
		return err
	}
	defer sess.Unlock()

	sess.SetSnapshot(env)
	rep := s.dispatcher.Dispatch(ctx, sess, events.FromEnvelope(env, sess.Seen()),
		logger.String("token", session.Redact(env.Token)))
	metrics.RecordProcessingLatency(float64(time.Since(start).Milliseconds()))
	if rep.Failed > 0 {
		s.logger.Debug(ctx, "envelope handled with failures",
			logger.String("token", session.Redact(env.Token)),
			logger.Int("events", rep.Events),
			logger.Int("failed", rep.Failed),
		)
	}
	return nil
}

// lockSession resolves token and locks its session, following a refresh
// that replaced the session while waiting for the lock.
func (s *Service) lockSession(ctx context.Context, token string) (*session.Session, error) {
	for {
		sess, err := s.auth.Resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		sess.Lock()
		if cur, ok := s.registry.Get(token); !ok || cur == sess {
			return sess, nil
		}
		sess.Unlock()
	}
}

// Authenticate resolves token to a live session. A successful call counts
// as activity, so a session opened only by an overlay socket is still swept.
func (s *Service) Authenticate(ctx context.Context, token string) error {
	if !s.running() {
		return ErrNotStarted
	}
	if _, err := s.auth.Resolve(ctx, token); err != nil {
		return err
	}
	s.registry.Touch(token, s.now())
	return nil
}

// Subscribe attaches an overlay connection to token.
func (s *Service) Subscribe(w http.ResponseWriter, r *http.Request, token string) error {
	if !s.running() {
		return ErrNotStarted
	}
	return s.hub.Serve(w, r, token)
}

// ResolveMatch applies the streamer's verdict to the live match, or to
// matchID when given.
func (s *Service) ResolveMatch(ctx context.Context, token string, won bool, matchID string) (match.Rejection, error) {
	if !s.running() {
		return match.RejectNone, ErrNotStarted
	}
	sess, err := s.auth.Resolve(ctx, token)
	if err != nil {
		return match.RejectNone, err
	}
	if matchID == "" {
		return s.lifecycle.ResolveCurrent(ctx, sess, won)
	}
	return s.lifecycle.ResolvePast(ctx, sess, matchID, won)
}

// RefreshSession reloads the identity and settings of token.
func (s *Service) RefreshSession(ctx context.Context, token string) error {
	if !s.running() {
		return ErrNotStarted
	}
	_, err := s.auth.Refresh(ctx, token)
	return err
}

// Sweep runs one liveness sweep as of now.
func (s *Service) Sweep(ctx context.Context, now time.Time) []string {
	if !s.running() {
		return nil
	}
	return s.sweeper.Sweep(ctx, now)
}

// Session returns the live session of token.
func (s *Service) Session(token string) (*session.Session, bool) {
	if !s.running() {
		return nil, false
	}
	return s.registry.Get(token)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started": s.started,
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	processed, failed, queued := s.jobs.Stats(ctx)
	sessions := s.registry.Len()
	stats["sessions"] = sessions
	stats["overlays"] = s.hub.Total()
	stats["workers"] = s.jobs.Size()
	stats["jobsProcessed"] = processed
	stats["jobsFailed"] = failed
	stats["jobsQueued"] = queued
	if s.companion != nil {
		stats["companionConnected"] = s.companion.Connected()
	}

	metrics.UpdateSessionsActive(sessions)
	metrics.UpdateJobQueueSize(queued)
	return stats
}
