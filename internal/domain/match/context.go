// Package match tracks the match a session is playing, from the first
// envelope carrying its id until the result is settled.
package match

import (
	"time"

	"github.com/dotabod/backend-sub002/internal/domain/session"
)

// Status of a match context.
type Status uint8

const (
	StatusInProgress Status = iota
	StatusAwaitingConfirmation
	StatusResolved
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusAwaitingConfirmation:
		return "awaiting_confirmation"
	case StatusResolved:
		return "resolved"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible on the
// automatic path.
func (s Status) Terminal() bool { return s == StatusResolved || s == StatusExpired }

// Context is the per-session record of one match. It is only mutated while
// holding the owning session's processing lock.
type Context struct {
	MatchID      string
	MyTeam       string
	HeroName     string
	LobbyType    *int
	ServerID     string
	PredictionID string
	IsParty      bool
	Status       Status
	// Won is the provisional outcome once a winner is reported, final once
	// Status is Resolved.
	Won          *bool
	Forced       bool
	RadiantScore *int
	DireScore    *int
	CreatedAt    time.Time
}

// Terminal reports whether the context is resolved or expired.
func (c *Context) Terminal() bool { return c.Status.Terminal() }

func (c *Context) record(userID string) Record {
	return Record{
		MatchID:      c.MatchID,
		UserID:       userID,
		MyTeam:       c.MyTeam,
		HeroName:     c.HeroName,
		PredictionID: c.PredictionID,
		ServerID:     c.ServerID,
		LobbyType:    c.LobbyType,
		IsParty:      c.IsParty,
		Won:          c.Won,
		RadiantScore: c.RadiantScore,
		DireScore:    c.DireScore,
		CreatedAt:    c.CreatedAt,
	}
}

func fromRecord(r Record) *Context {
	c := &Context{
		MatchID:      r.MatchID,
		MyTeam:       r.MyTeam,
		HeroName:     r.HeroName,
		LobbyType:    r.LobbyType,
		ServerID:     r.ServerID,
		PredictionID: r.PredictionID,
		IsParty:      r.IsParty,
		Status:       StatusInProgress,
		Won:          r.Won,
		RadiantScore: r.RadiantScore,
		DireScore:    r.DireScore,
		CreatedAt:    r.CreatedAt,
	}
	if r.Won != nil {
		c.Status = StatusResolved
	}
	return c
}

// Current returns the match context attached to s, or nil. Callers that
// read fields must hold the session lock.
func Current(s *session.Session) *Context {
	c, _ := s.Attachment().(*Context)
	return c
}

// Snapshot returns a copy of the context attached to s under its lock.
func Snapshot(s *session.Session) (Context, bool) {
	s.Lock()
	defer s.Unlock()
	c := Current(s)
	if c == nil {
		return Context{}, false
	}
	return *c, true
}

func boolPtr(b bool) *bool { return &b }

func intPtr(n int) *int { return &n }
