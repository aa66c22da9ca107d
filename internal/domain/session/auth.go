package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dotabod/backend-sub002/internal/domain/dedupe"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// IdentityStore resolves a token to the identity and settings of its owner.
// It returns ErrIdentityNotFound for unknown tokens.
type IdentityStore interface {
	LookupIdentity(ctx context.Context, token string) (Identity, Settings, error)
}

// ChannelProvider hands out the realtime publisher of a token.
type ChannelProvider interface {
	Channel(token string) Publisher
}

// Authenticator resolves tokens to sessions. Resolution order: negative
// cache, registry, in-flight lookup, identity store.
type Authenticator struct {
	registry *Registry
	store    IdentityStore
	channels ChannelProvider
	negative *dedupe.Expiring[string, struct{}]
	inflight singleflight.Group
	seenSize int
	now      func() time.Time
	log      logger.Logger
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithNegativeCache replaces the default invalid-token cache.
func WithNegativeCache(c *dedupe.Expiring[string, struct{}]) AuthOption {
	return func(a *Authenticator) {
		if c != nil {
			a.negative = c
		}
	}
}

// WithChannels attaches realtime publishers to new sessions.
func WithChannels(p ChannelProvider) AuthOption {
	return func(a *Authenticator) { a.channels = p }
}

// WithSeenSize bounds remembered game events per session.
func WithSeenSize(n int) AuthOption {
	return func(a *Authenticator) { a.seenSize = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AuthOption {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAuthLogger sets the logger.
func WithAuthLogger(l logger.Logger) AuthOption {
	return func(a *Authenticator) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(registry *Registry, store IdentityStore, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		registry: registry,
		store:    store,
		seenSize: 512,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.negative == nil {
		a.negative = dedupe.NewExpiring[string, struct{}](10*time.Minute, dedupe.WithClock(a.now))
	}
	if a.log == nil {
		a.log = logger.Named("auth")
	}
	return a
}

// Resolve returns the session of token, creating it on the first valid lookup.
func (a *Authenticator) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	if a.negative.Contains(token) {
		metrics.RecordNegativeCacheHit()
		return nil, ErrInvalidToken
	}
	if s, ok := a.registry.Get(token); ok {
		return s, nil
	}

	v, err, shared := a.inflight.Do(token, func() (any, error) {
		if s, ok := a.registry.Get(token); ok {
			return s, nil
		}
		// Joined callers must not be failed by the first caller going away.
		s, err := a.load(context.WithoutCancel(ctx), token)
		if err != nil {
			return nil, err
		}
		return a.registry.Put(s), nil
	})
	if shared {
		metrics.RecordIdentityLookup("shared")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Refresh re-reads the identity of token and replaces its session. The match
// attachment and realtime channel of the previous session are kept.
func (a *Authenticator) Refresh(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	a.negative.Delete(token)
	s, err := a.load(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		a.registry.Evict(token)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if old, ok := a.registry.Get(token); ok {
		old.Lock()
		defer old.Unlock()
	}
	return a.registry.Put(s), nil
}

func (a *Authenticator) load(ctx context.Context, token string) (*Session, error) {
	identity, settings, err := a.store.LookupIdentity(ctx, token)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		metrics.RecordIdentityLookup("not_found")
		a.negative.Put(token, struct{}{})
		a.log.Info(ctx, "unknown token cached", logger.String("token", Redact(token)))
		return nil, ErrInvalidToken
	case err != nil:
		metrics.RecordIdentityLookup("error")
		a.log.Error(ctx, "identity lookup failed", logger.String("token", Redact(token)), logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	metrics.RecordIdentityLookup("found")
	identity.Token = token
	s := New(identity, settings, a.seenSize, a.now())
	if a.channels != nil {
		s.SetChannel(a.channels.Channel(token))
	}
	return s, nil
}

// Invalid reports whether token is in the negative cache.
func (a *Authenticator) Invalid(token string) bool { return a.negative.Contains(token) }
