package match

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dotabod/backend-sub002/internal/domain/dedupe"
	"github.com/dotabod/backend-sub002/internal/domain/retry"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

var (
	// ErrNotReady means the data is not assigned yet; the caller retries.
	ErrNotReady = errors.New("match data not ready")
	// ErrUnavailable means the data will never be available.
	ErrUnavailable = errors.New("match data unavailable")
)

// Player is one roster entry of the match stats.
type Player struct {
	AccountID string `json:"account_id"`
	HeroID    int    `json:"hero_id"`
	Team      string `json:"team"`
	PartyID   string `json:"party_id,omitempty"`
}

// Stats is the authoritative server-side view of a match.
type Stats struct {
	LobbyType    int      `json:"lobby_type"`
	Players      []Player `json:"players"`
	RadiantScore int      `json:"radiant_score"`
	DireScore    int      `json:"dire_score"`
}

// InParty reports whether accountID queued with at least one other player.
func (s Stats) InParty(accountID string) bool {
	var party string
	for _, p := range s.Players {
		if p.AccountID == accountID {
			party = p.PartyID
		}
	}
	if party == "" {
		return false
	}
	members := 0
	for _, p := range s.Players {
		if p.PartyID == party {
			members++
		}
	}
	return members > 1
}

// Source is the companion process holding a connection to the game network.
// Errors wrap ErrNotReady or ErrUnavailable; anything else is transient.
type Source interface {
	ResolveServerID(ctx context.Context, accountID string) (string, error)
	FetchMatchStats(ctx context.Context, matchID, serverID string) (Stats, error)
}

// Enrichment is what the resolver found. Stats is nil when either phase
// gave up.
type Enrichment struct {
	ServerID string
	Stats    *Stats
	Phase1   retry.Outcome
	Phase2   retry.Outcome
	Cached   bool
}

// Enricher resolves match data.
type Enricher interface {
	Resolve(ctx context.Context, accountID, matchID string) Enrichment
	Cached(matchID string) (Stats, bool)
}

// DataResolver runs the two lookups against a Source, each under its own
// retry budget. Both sources lag the live match on purpose, so "not ready"
// is the normal answer for the first attempts.
type DataResolver struct {
	source        Source
	serverPolicy  retry.Policy
	statsPolicy   retry.Policy
	requireHeroes bool
	cache         *dedupe.Expiring[string, Stats]
	group         singleflight.Group
	log           logger.Logger
}

// ResolverOption configures a DataResolver.
type ResolverOption func(*DataResolver)

// WithServerIDPolicy sets the phase one retry policy.
func WithServerIDPolicy(p retry.Policy) ResolverOption {
	return func(r *DataResolver) { r.serverPolicy = p }
}

// WithStatsPolicy sets the phase two retry policy.
func WithStatsPolicy(p retry.Policy) ResolverOption {
	return func(r *DataResolver) { r.statsPolicy = p }
}

// WithRequireHeroes keeps polling until every player has picked a hero.
func WithRequireHeroes(b bool) ResolverOption {
	return func(r *DataResolver) { r.requireHeroes = b }
}

// WithStatsCacheTTL sets how long stats are cached by match id.
func WithStatsCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *DataResolver) { r.cache = dedupe.NewExpiring[string, Stats](ttl, dedupe.WithMaxSize(1000)) }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *DataResolver) {
		if l != nil {
			r.log = l
		}
	}
}

// NewDataResolver creates a resolver over source.
func NewDataResolver(source Source, opts ...ResolverOption) *DataResolver {
	r := &DataResolver{
		source:       source,
		serverPolicy: retry.Exponential(8, 2*time.Second, 10*time.Second),
		statsPolicy:  retry.Exponential(10, 3*time.Second, 15*time.Second),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = dedupe.NewExpiring[string, Stats](time.Hour, dedupe.WithMaxSize(1000))
	}
	if r.log == nil {
		r.log = logger.Named("resolver")
	}
	return r
}

// Cached returns stats already fetched for matchID.
func (r *DataResolver) Cached(matchID string) (Stats, bool) { return r.cache.Get(matchID) }

// Resolve never fails: callers proceed without enrichment when Stats is nil.
func (r *DataResolver) Resolve(ctx context.Context, accountID, matchID string) Enrichment {
	if s, ok := r.cache.Get(matchID); ok {
		return Enrichment{Stats: &s, Phase1: retry.Succeeded, Phase2: retry.Succeeded, Cached: true}
	}
	// Retry loops end on their attempt budget, not on caller cancellation.
	v, _, _ := r.group.Do(matchID, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), accountID, matchID), nil
	})
	return v.(Enrichment)
}

func (r *DataResolver) resolve(ctx context.Context, accountID, matchID string) Enrichment {
	fields := []logger.Field{logger.String("matchID", matchID), logger.String("accountID", accountID)}
	if accountID == "" {
		r.log.Warn(ctx, "no account id, skipping match data", fields...)
		return Enrichment{Phase1: retry.Failed, Phase2: retry.Failed}
	}

	serverID, outcome, err := retry.Do(ctx, r.serverPolicy, func(ctx context.Context, _ int) retry.Result[string] {
		id, err := r.source.ResolveServerID(ctx, accountID)
		res := classify(id, err, id != "")
		metrics.RecordResolverAttempt("server_id", kindLabel(res.Kind))
		return res
	})
	if outcome != retry.Succeeded {
		r.log.Warn(ctx, "server id unavailable", append(fields, logger.String("outcome", outcome.String()), logger.Error(err))...)
		return Enrichment{Phase1: outcome, Phase2: retry.Failed}
	}

	stats, outcome, err := retry.Do(ctx, r.statsPolicy, func(ctx context.Context, _ int) retry.Result[Stats] {
		s, err := r.source.FetchMatchStats(ctx, matchID, serverID)
		res := classify(s, err, r.complete(s))
		metrics.RecordResolverAttempt("stats", kindLabel(res.Kind))
		return res
	})
	if outcome != retry.Succeeded {
		r.log.Warn(ctx, "match stats unavailable", append(fields, logger.String("outcome", outcome.String()), logger.Error(err))...)
		return Enrichment{ServerID: serverID, Phase1: retry.Succeeded, Phase2: outcome}
	}
	r.cache.Put(matchID, stats)
	return Enrichment{ServerID: serverID, Stats: &stats, Phase1: retry.Succeeded, Phase2: retry.Succeeded}
}

func (r *DataResolver) complete(s Stats) bool {
	if len(s.Players) == 0 {
		return false
	}
	if r.requireHeroes {
		for _, p := range s.Players {
			if p.HeroID == 0 {
				return false
			}
		}
	}
	return true
}

func classify[T any](v T, err error, complete bool) retry.Result[T] {
	switch {
	case errors.Is(err, ErrUnavailable):
		return retry.Fatal[T](err)
	case err != nil:
		return retry.Retryable[T](err)
	case !complete:
		return retry.Retryable[T](ErrNotReady)
	default:
		return retry.Ok(v)
	}
}

func kindLabel(k retry.Kind) string {
	switch k {
	case retry.KindOk:
		return "ok"
	case retry.KindFatal:
		return "fatal"
	default:
		return "retry"
	}
}
