package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dotabod/backend-sub002/internal/domain/events"
	"github.com/dotabod/backend-sub002/internal/domain/prediction"
	"github.com/dotabod/backend-sub002/internal/domain/rating"
	"github.com/dotabod/backend-sub002/internal/domain/session"
	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// DefaultEligibilityLookback bounds retroactive resolution when the stream
// start time is unknown.
const DefaultEligibilityLookback = 12 * time.Hour

// Realtime event names published on resolution.
const (
	EventUpdateWL    = "update-wl"
	EventUpdateMedal = "update-medal"
)

// Job kinds submitted to the scheduler.
const (
	JobPredictionCreate = "prediction_create"
	JobMatchResolve     = "match_resolve"
)

// Rejection classifies why a resolution command was refused.
type Rejection string

const (
	RejectNone            Rejection = ""
	RejectNoPendingMatch  Rejection = "no_pending_match"
	RejectActiveMatch     Rejection = "active_match"
	RejectNotFound        Rejection = "not_found"
	RejectAlreadyResolved Rejection = "already_resolved"
	RejectOutsideWindow   Rejection = "outside_window"
)

// Message is a short human readable explanation.
func (r Rejection) Message() string {
	switch r {
	case RejectNoPendingMatch:
		return "no match is waiting for a result"
	case RejectActiveMatch:
		return "that is the current match, resolve it without an id"
	case RejectNotFound:
		return "no such match"
	case RejectAlreadyResolved:
		return "match already resolved"
	case RejectOutsideWindow:
		return "match is too old to resolve"
	default:
		return ""
	}
}

// Lifecycle advances the match context of each session. Event handlers run
// with the session lock held by the caller; commands and background jobs
// take it themselves.
//
// Resolution waits (enrichment retries and the stream delay) run on
// goroutines owned by the Lifecycle. Only the short finalize step goes
// through the scheduler.
type Lifecycle struct {
	store       Store
	scheduler   Scheduler
	predictions Predictions
	resolver    Enricher
	adjuster    *rating.Adjuster
	lookback    time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	log         logger.Logger
	sessions    func(token string) (*session.Session, bool)

	// inflight holds match ids with a resolution running.
	inflight sync.Map
	waiting  sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithPredictions enables prediction handling.
func WithPredictions(p Predictions) Option {
	return func(l *Lifecycle) { l.predictions = p }
}

// WithResolver enables match data enrichment.
func WithResolver(r Enricher) Option {
	return func(l *Lifecycle) { l.resolver = r }
}

// WithAdjuster sets the rating adjuster.
func WithAdjuster(a *rating.Adjuster) Option {
	return func(l *Lifecycle) {
		if a != nil {
			l.adjuster = a
		}
	}
}

// WithLookback overrides DefaultEligibilityLookback.
func WithLookback(d time.Duration) Option {
	return func(l *Lifecycle) {
		if d > 0 {
			l.lookback = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleep overrides how the stream delay is waited out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Lifecycle) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithSessions sets the lookup used by background jobs to reach the live
// session of a token after a refresh replaced it.
func WithSessions(lookup func(token string) (*session.Session, bool)) Option {
	return func(l *Lifecycle) { l.sessions = lookup }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Lifecycle) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(store Store, scheduler Scheduler, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		store:     store,
		scheduler: scheduler,
		adjuster:  rating.NewAdjuster(),
		lookback:  DefaultEligibilityLookback,
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Named("match")
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())
	return l
}

// Wait blocks until every running resolution has handed its finalize step
// to the scheduler or given up.
func (l *Lifecycle) Wait() { l.waiting.Wait() }

// Close abandons pending resolution waits and waits for their goroutines.
// Abandoned matches stay unresolved in the store.
func (l *Lifecycle) Close(ctx context.Context) error {
	l.cancel()
	done := make(chan struct{})
	go func() {
		l.waiting.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("resolution shutdown: %w", ctx.Err())
	}
}

// Register installs the lifecycle's event handlers.
func (l *Lifecycle) Register(reg *events.Registry[*session.Session]) error {
	if err := reg.Register(events.NameNewData, l.OnNewData); err != nil {
		return err
	}
	return reg.Register(events.NameWinTeam, l.OnWinTeam)
}

// OnNewData starts a context for a new match id seen during active play and
// picks up a winner reported in the full snapshot.
func (l *Lifecycle) OnNewData(ctx context.Context, s *session.Session, ev events.Event) error {
	nd, ok := ev.(events.NewData)
	if !ok || nd.Envelope == nil {
		return nil
	}
	env := nd.Envelope
	matchID := env.MatchID()
	cur := Current(s)

	if cur != nil && matchID != "" && cur.MatchID == matchID {
		if cur.MyTeam == "" {
			cur.MyTeam = env.MyTeam()
		}
		if cur.HeroName == "" {
			cur.HeroName = env.HeroName()
		}
		l.checkWinner(ctx, s, cur, env.WinTeam())
		return nil
	}
	if matchID == "" || !telemetry.IsActivePlay(env.GameState()) || env.IsSpectating() {
		return nil
	}
	// A context awaiting confirmation belongs to its resolution and is only
	// detached here.
	if cur != nil && cur.Status == StatusInProgress {
		l.transition(ctx, s, cur, StatusExpired)
	}
	return l.start(ctx, s, env)
}

// OnWinTeam moves the current match to awaiting confirmation.
func (l *Lifecycle) OnWinTeam(ctx context.Context, s *session.Session, ev events.Event) error {
	wt, ok := ev.(events.WinTeam)
	if !ok {
		return nil
	}
	cur := Current(s)
	if cur == nil {
		return nil
	}
	if snap := s.Snapshot(); snap != nil && snap.MatchID() != "" && snap.MatchID() != cur.MatchID {
		return nil
	}
	l.checkWinner(ctx, s, cur, wt.Team)
	return nil
}

func (l *Lifecycle) start(ctx context.Context, s *session.Session, env *telemetry.Envelope) error {
	id := s.Identity()
	matchID := env.MatchID()

	rec, err := l.store.Match(ctx, id.UserID, matchID)
	switch {
	case err == nil:
		c := fromRecord(rec)
		s.SetAttachment(c)
		l.log.Info(ctx, "match context restored", l.fields(s, c)...)
		return nil
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("load match %s: %w", matchID, err)
	}

	c := &Context{
		MatchID:   matchID,
		MyTeam:    env.MyTeam(),
		HeroName:  env.HeroName(),
		Status:    StatusInProgress,
		CreatedAt: l.now(),
	}
	s.SetAttachment(c)
	metrics.RecordMatchTransition(c.Status.String())
	l.log.Info(ctx, "match started", l.fields(s, c)...)

	var storeErr error
	if err := l.store.CreateMatch(ctx, c.record(id.UserID)); err != nil {
		storeErr = fmt.Errorf("create match %s: %w", matchID, err)
	}
	l.openPrediction(ctx, s, c)
	return storeErr
}

// openPrediction submits the prediction once. A failure leaves PredictionID
// empty and is not retried.
func (l *Lifecycle) openPrediction(ctx context.Context, s *session.Session, c *Context) {
	settings := s.Settings()
	id := s.Identity()
	if l.predictions == nil || !settings.BetsEnabled() || id.BroadcasterID == "" {
		return
	}
	owner := prediction.Owner{BroadcasterID: id.BroadcasterID, RefundEnabled: settings.RefundEnabled()}
	title := predictionTitle(settings.String(session.KeyBetsTitle, session.DefaultBetsTitle), c.HeroName)
	matchID := c.MatchID

	ok := l.scheduler.Submit(ctx, JobPredictionCreate, matchID, func(ctx context.Context) error {
		pid, err := l.predictions.Create(ctx, owner, title)
		if err != nil {
			return fmt.Errorf("match %s: %w", matchID, err)
		}
		s.Lock()
		c.PredictionID = pid
		s.Unlock()
		return l.store.AttachPrediction(ctx, id.UserID, matchID, pid)
	})
	if !ok {
		l.log.Warn(ctx, "prediction job rejected", logger.String("matchID", matchID))
	}
}

func (l *Lifecycle) checkWinner(ctx context.Context, s *session.Session, cur *Context, team string) {
	team = strings.ToLower(team)
	if team == "" || team == telemetry.WinTeamNone || cur.Status != StatusInProgress {
		return
	}
	if cur.MyTeam == "" {
		l.log.Warn(ctx, "winner reported without own team", l.fields(s, cur)...)
	}
	cur.Won = boolPtr(team == cur.MyTeam)
	l.transition(ctx, s, cur, StatusAwaitingConfirmation)
	l.scheduleResolution(ctx, s, cur)
}

// scheduleResolution starts one resolution per match id; a second request
// while one is running is dropped. The resolution finalizes c itself, even
// when a newer match has replaced it on the session. The caller holds the
// session lock.
func (l *Lifecycle) scheduleResolution(ctx context.Context, s *session.Session, c *Context) {
	matchID := c.MatchID
	if _, busy := l.inflight.LoadOrStore(matchID, struct{}{}); busy {
		l.log.Debug(ctx, "resolution already running", logger.String("matchID", matchID))
		return
	}
	accountID := s.Identity().AccountID
	delay := s.Settings().StreamDelay()

	l.waiting.Add(1)
	go func() {
		defer l.waiting.Done()
		wctx := l.ctx
		enr := l.enrich(wctx, accountID, matchID)
		// Hold the result back until the stream shows the end of the match.
		if delay > 0 && !l.forced(s, c) {
			if err := l.sleep(wctx, delay); err != nil {
				l.inflight.Delete(matchID)
				l.log.Warn(wctx, "resolution abandoned", logger.String("matchID", matchID), logger.Error(err))
				return
			}
		}
		ok := l.scheduler.Submit(wctx, JobMatchResolve, matchID, func(ctx context.Context) error {
			defer l.inflight.Delete(matchID)
			return l.finalize(ctx, s, c, enr)
		})
		if !ok {
			l.inflight.Delete(matchID)
			l.log.Error(wctx, "resolution job rejected", logger.String("matchID", matchID))
		}
	}()
}

func (l *Lifecycle) forced(s *session.Session, c *Context) bool {
	s.Lock()
	defer s.Unlock()
	return c.Forced
}

// live returns the session currently registered for the token of s.
func (l *Lifecycle) live(s *session.Session) *session.Session {
	if l.sessions == nil {
		return s
	}
	if cur, ok := l.sessions(s.Token()); ok {
		return cur
	}
	return s
}

func (l *Lifecycle) enrich(ctx context.Context, accountID, matchID string) Enrichment {
	if l.resolver == nil {
		return Enrichment{}
	}
	return l.resolver.Resolve(ctx, accountID, matchID)
}

// finalize resolves c if it is still awaiting confirmation. The status
// check and the transition happen under the session lock, so of two racing
// callers only one performs the side effects.
func (l *Lifecycle) finalize(ctx context.Context, s *session.Session, c *Context, enr Enrichment) error {
	accountID := s.Identity().AccountID
	s.Lock()
	if c.Status != StatusAwaitingConfirmation || c.Won == nil {
		s.Unlock()
		l.log.Debug(ctx, "match no longer pending", logger.String("matchID", c.MatchID))
		return nil
	}
	applyEnrichment(c, enr, accountID)
	l.transition(ctx, s, c, StatusResolved)
	done := *c
	s.Unlock()

	_, err := l.settle(ctx, l.live(s), done)
	return err
}

// settle performs the side effects of a resolved match and reports whether
// the stored record was updated by this call.
func (l *Lifecycle) settle(ctx context.Context, s *session.Session, c Context) (bool, error) {
	id := s.Identity()
	settings := s.Settings()
	won := *c.Won
	fields := l.fields(s, &c)

	if c.PredictionID != "" && l.predictions != nil {
		owner := prediction.Owner{BroadcasterID: id.BroadcasterID, RefundEnabled: settings.RefundEnabled()}
		if _, err := l.predictions.Resolve(ctx, owner, c.PredictionID, won); err != nil {
			l.log.Error(ctx, "prediction resolution failed", append(fields, logger.Error(err))...)
		}
	}

	updated, err := l.store.ResolveMatch(ctx, c.record(id.UserID))
	if err != nil {
		return false, fmt.Errorf("resolve match %s: %w", c.MatchID, err)
	}
	if !updated {
		l.log.Info(ctx, "match already resolved in store", fields...)
		return false, nil
	}

	if rating.Eligible(c.LobbyType) && settings.RatingTracked() {
		next := l.adjuster.Apply(id.Rating, won, c.IsParty)
		if err := l.store.UpdateRating(ctx, id.UserID, next); err != nil {
			l.log.Error(ctx, "rating update failed", append(fields, logger.Error(err))...)
		} else {
			s.SetRating(next)
			metrics.RecordRatingAdjusted()
			l.publish(ctx, s, EventUpdateMedal, map[string]int{"rating": next})
		}
	}

	wl, err := l.store.RecordSince(ctx, id.UserID, l.windowStart(id, l.now()))
	if err != nil {
		l.log.Error(ctx, "win/loss lookup failed", append(fields, logger.Error(err))...)
	} else {
		l.publish(ctx, s, EventUpdateWL, wl)
	}
	l.log.Info(ctx, "match resolved", append(fields, logger.Bool("won", won), logger.Bool("forced", c.Forced))...)
	return true, nil
}

// ResolveCurrent forces the result of the session's pending match.
func (l *Lifecycle) ResolveCurrent(ctx context.Context, s *session.Session, won bool) (Rejection, error) {
	s.Lock()
	cur := Current(s)
	if cur == nil || cur.Terminal() {
		s.Unlock()
		return RejectNoPendingMatch, nil
	}
	cur.Won = boolPtr(won)
	cur.Forced = true
	if cur.Status == StatusInProgress {
		l.transition(ctx, s, cur, StatusAwaitingConfirmation)
	}
	l.scheduleResolution(ctx, s, cur)
	s.Unlock()
	return RejectNone, nil
}

// ResolvePast resolves a stored match that is not the current one.
func (l *Lifecycle) ResolvePast(ctx context.Context, s *session.Session, matchID string, won bool) (Rejection, error) {
	id := s.Identity()
	s.Lock()
	if cur := Current(s); cur != nil && cur.MatchID == matchID && !cur.Terminal() {
		s.Unlock()
		return RejectActiveMatch, nil
	}
	s.Unlock()

	rec, err := l.store.Match(ctx, id.UserID, matchID)
	switch {
	case errors.Is(err, ErrNotFound):
		return RejectNotFound, nil
	case err != nil:
		return RejectNone, fmt.Errorf("load match %s: %w", matchID, err)
	case rec.Won != nil:
		return RejectAlreadyResolved, nil
	case rec.CreatedAt.Before(l.windowStart(id, l.now())):
		return RejectOutsideWindow, nil
	}

	c := fromRecord(rec)
	c.Won = boolPtr(won)
	c.Forced = true
	c.Status = StatusResolved
	if l.resolver != nil {
		if stats, ok := l.resolver.Cached(matchID); ok {
			applyEnrichment(c, Enrichment{Stats: &stats}, id.AccountID)
		}
	}

	s.Lock()
	if cur := Current(s); cur != nil && cur.MatchID == matchID {
		*cur = *c
	}
	s.Unlock()

	updated, err := l.settle(ctx, s, *c)
	if err != nil {
		return RejectNone, err
	}
	if !updated {
		return RejectAlreadyResolved, nil
	}
	metrics.RecordMatchTransition(StatusResolved.String())
	return RejectNone, nil
}

// ExpireStale marks contexts created before the eligibility window as
// expired. A resolution already waiting is not interrupted but will find
// nothing to finalize.
func (l *Lifecycle) ExpireStale(ctx context.Context, now time.Time, sessions []*session.Session) {
	for _, s := range sessions {
		start := l.windowStart(s.Identity(), now)
		s.Lock()
		if cur := Current(s); cur != nil && !cur.Terminal() && cur.CreatedAt.Before(start) {
			l.transition(ctx, s, cur, StatusExpired)
		}
		s.Unlock()
	}
}

func (l *Lifecycle) windowStart(id session.Identity, now time.Time) time.Time {
	if !id.StreamStartedAt.IsZero() {
		return id.StreamStartedAt
	}
	return now.Add(-l.lookback)
}

func (l *Lifecycle) transition(ctx context.Context, s *session.Session, c *Context, to Status) {
	from := c.Status
	c.Status = to
	metrics.RecordMatchTransition(to.String())
	l.log.Info(ctx, "match transition",
		append(l.fields(s, c), logger.String("from", from.String()), logger.String("to", to.String()))...)
}

func (l *Lifecycle) publish(ctx context.Context, s *session.Session, name string, payload any) {
	if err := s.Publish(ctx, name, payload); err != nil {
		l.log.Warn(ctx, "realtime publish failed", logger.String("event", name), logger.Error(err))
	}
}

func (l *Lifecycle) fields(s *session.Session, c *Context) []logger.Field {
	return []logger.Field{
		logger.String("token", session.Redact(s.Token())),
		logger.String("matchID", c.MatchID),
	}
}

func applyEnrichment(c *Context, enr Enrichment, accountID string) {
	if enr.ServerID != "" {
		c.ServerID = enr.ServerID
	}
	if enr.Stats == nil {
		return
	}
	c.LobbyType = intPtr(enr.Stats.LobbyType)
	c.IsParty = enr.Stats.InParty(accountID)
	c.RadiantScore = intPtr(enr.Stats.RadiantScore)
	c.DireScore = intPtr(enr.Stats.DireScore)
}

func predictionTitle(template, hero string) string {
	if hero == "" {
		template = strings.ReplaceAll(template, " with [heroname]", "")
	}
	return strings.ReplaceAll(template, "[heroname]", heroDisplayName(hero))
}

func heroDisplayName(hero string) string {
	words := strings.Split(strings.TrimPrefix(hero, "npc_dota_hero_"), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
