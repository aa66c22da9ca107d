package session

import (
	"context"
	"time"

	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// SweepHook runs after every sweep with the sessions still live.
type SweepHook func(ctx context.Context, now time.Time, live []*Session)

// Sweeper evicts tokens that stopped posting. A token whose last post is
// exactly timeout old survives the tick and goes on the next one.
type Sweeper struct {
	registry *Registry
	timeout  time.Duration
	onSweep  SweepHook
	now      func() time.Time
	log      logger.Logger
}

// NewSweeper creates a sweeper. The tick interval equals timeout.
func NewSweeper(registry *Registry, timeout time.Duration, onSweep SweepHook, log logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Named("sweeper")
	}
	return &Sweeper{registry: registry, timeout: timeout, onSweep: onSweep, now: time.Now, log: log}
}

// Run sweeps every timeout until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.timeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, s.now())
		}
	}
}

// Sweep evicts stale tokens as of now and returns them.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) []string {
	stale := s.registry.Stale(now, s.timeout)
	for _, token := range stale {
		if _, ok := s.registry.Evict(token); ok {
			metrics.RecordSessionEvicted()
			s.log.Info(ctx, "session evicted", logger.String("token", Redact(token)))
		}
	}
	metrics.UpdateSessionsActive(s.registry.Len())

	if s.onSweep != nil {
		var live []*Session
		s.registry.Range(func(sess *Session) bool {
			live = append(live, sess)
			return true
		})
		s.onSweep(ctx, now, live)
	}
	return stale
}
