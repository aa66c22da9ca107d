// Package session owns the per-viewer state kept while a game client is
// posting telemetry: identity, settings, latest snapshot and liveness.
package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dotabod/backend-sub002/internal/domain/dedupe"
	"github.com/dotabod/backend-sub002/internal/domain/telemetry"
)

// Identity is who a token belongs to.
type Identity struct {
	UserID        string
	Token         string
	DisplayName   string
	Locale        string
	Tier          string
	AccountID     string
	BroadcasterID string
	Rating        int
	// StreamStartedAt is zero when the stream start is unknown.
	StreamStartedAt time.Time
}

// Setting keys read by the service.
const (
	KeyBets        = "bets"
	KeyBetsRefund  = "betsRefund"
	KeyBetsTitle   = "betsTitle"
	KeyStreamDelay = "streamDelay"
	KeyMMRTracker  = "mmrTracker"
)

// DefaultBetsTitle is used when betsTitle is not set.
const DefaultBetsTitle = "Will we win with [heroname]?"

// Setting is one key/value pair.
type Setting struct {
	Key   string
	Value string
}

// Settings is an ordered list of settings with unique keys.
type Settings struct {
	items []Setting
}

// NewSettings builds Settings; a later duplicate key overwrites the earlier one.
func NewSettings(items ...Setting) Settings {
	var s Settings
	for _, it := range items {
		s = s.With(it.Key, it.Value)
	}
	return s
}

// With returns a copy with key set to value.
func (s Settings) With(key, value string) Settings {
	out := make([]Setting, len(s.items), len(s.items)+1)
	copy(out, s.items)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return Settings{items: out}
		}
	}
	return Settings{items: append(out, Setting{Key: key, Value: value})}
}

// Lookup returns the raw value of key.
func (s Settings) Lookup(key string) (string, bool) {
	for _, it := range s.items {
		if it.Key == key {
			return it.Value, true
		}
	}
	return "", false
}

// Items returns the settings in order.
func (s Settings) Items() []Setting {
	out := make([]Setting, len(s.items))
	copy(out, s.items)
	return out
}

// Bool returns key parsed as a bool, or def.
func (s Settings) Bool(key string, def bool) bool {
	raw, ok := s.Lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// Int returns key parsed as an int, or def.
func (s Settings) Int(key string, def int) int {
	raw, ok := s.Lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// String returns key, or def when unset or empty.
func (s Settings) String(key, def string) string {
	if raw, ok := s.Lookup(key); ok && raw != "" {
		return raw
	}
	return def
}

// BetsEnabled reports whether predictions are opened for matches.
func (s Settings) BetsEnabled() bool { return s.Bool(KeyBets, true) }

// RefundEnabled reports whether zero-backer predictions are canceled.
func (s Settings) RefundEnabled() bool { return s.Bool(KeyBetsRefund, true) }

// RatingTracked reports whether ranked results adjust the rating.
func (s Settings) RatingTracked() bool { return s.Bool(KeyMMRTracker, true) }

// StreamDelay returns the configured broadcast delay.
func (s Settings) StreamDelay() time.Duration {
	return time.Duration(s.Int(KeyStreamDelay, 0)) * time.Second
}

// Publisher delivers named payloads to the viewer's realtime channel.
type Publisher interface {
	Publish(ctx context.Context, name string, payload any) error
}

// Session is the live state of one token.
type Session struct {
	token string

	// proc serializes envelope and command processing for the token. It is
	// shared with every session that replaces this one.
	proc *sync.Mutex

	mu         sync.RWMutex
	identity   Identity
	settings   Settings
	snapshot   *telemetry.Envelope
	attachment any
	channel    Publisher
	seen       dedupe.Deduper
	createdAt  time.Time
}

// New creates a session. seenSize bounds remembered game events.
func New(identity Identity, settings Settings, seenSize int, now time.Time) *Session {
	return &Session{
		token:     identity.Token,
		proc:      &sync.Mutex{},
		identity:  identity,
		settings:  settings,
		seen:      dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(seenSize)),
		createdAt: now,
	}
}

// Token returns the session key.
func (s *Session) Token() string { return s.token }

// Lock acquires the processing lock.
func (s *Session) Lock() { s.proc.Lock() }

// Unlock releases the processing lock.
func (s *Session) Unlock() { s.proc.Unlock() }

func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetRating records the tracked rating after an adjustment.
func (s *Session) SetRating(rating int) {
	s.mu.Lock()
	s.identity.Rating = rating
	s.mu.Unlock()
}

func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Session) SetSetting(key, value string) {
	s.mu.Lock()
	s.settings = s.settings.With(key, value)
	s.mu.Unlock()
}

// Snapshot returns the latest envelope.
func (s *Session) Snapshot() *telemetry.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *Session) SetSnapshot(env *telemetry.Envelope) {
	s.mu.Lock()
	s.snapshot = env
	s.mu.Unlock()
}

// Attachment returns the match state attached by the lifecycle.
func (s *Session) Attachment() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attachment
}

func (s *Session) SetAttachment(v any) {
	s.mu.Lock()
	s.attachment = v
	s.mu.Unlock()
}

// Channel returns the realtime publisher, nil when detached.
func (s *Session) Channel() Publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

func (s *Session) SetChannel(p Publisher) {
	s.mu.Lock()
	s.channel = p
	s.mu.Unlock()
}

// Detach drops the realtime publisher.
func (s *Session) Detach() { s.SetChannel(nil) }

// Publish sends to the realtime channel; a detached session drops the event.
func (s *Session) Publish(ctx context.Context, name string, payload any) error {
	ch := s.Channel()
	if ch == nil {
		return nil
	}
	return ch.Publish(ctx, name, payload)
}

// Seen returns the game event deduper.
func (s *Session) Seen() dedupe.Deduper { return s.seen }

// CreatedAt returns when the session was built.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// carryOver moves the state that outlives an identity refresh from old,
// including its processing lock. s must not be visible to other goroutines
// yet.
func (s *Session) carryOver(old *Session) {
	s.proc = old.proc

	old.mu.RLock()
	attachment, channel, snapshot, seen := old.attachment, old.channel, old.snapshot, old.seen
	old.mu.RUnlock()

	s.mu.Lock()
	s.attachment = attachment
	if s.channel == nil {
		s.channel = channel
	}
	s.snapshot = snapshot
	s.seen = seen
	s.mu.Unlock()
}

// Redact shortens a token for logs.
func Redact(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[:6] + "..."
}
