// Package repository persists users, their settings and their match history.
package repository

import (
	"context"
	"time"
)

// User is the identity row a telemetry token belongs to.
type User struct {
	ID              string
	Token           string
	DisplayName     string
	Locale          string
	Tier            string
	AccountID       string
	BroadcasterID   string
	Rating          int
	StreamStartedAt *time.Time
}

// Setting is one per-user preference. Values are kept as text.
type Setting struct {
	UserID string
	Key    string
	Value  string
}

// Match is one tracked match of a user.
type Match struct {
	MatchID      string
	UserID       string
	MyTeam       string
	HeroName     string
	PredictionID string
	ServerID     string
	LobbyType    *int
	IsParty      bool
	Won          *bool
	RadiantScore *int
	DireScore    *int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Record counts resolved matches.
type Record struct {
	Wins   int
	Losses int
}

// Store provides read/write access to persisted state.
type Store interface {
	// PutUser inserts or replaces a user.
	PutUser(ctx context.Context, u User) error
	// UserByToken returns ErrNotFound for unknown tokens.
	UserByToken(ctx context.Context, token string) (User, error)
	UpdateRating(ctx context.Context, userID string, rating int) error

	// Settings returns the user's settings in insertion order.
	Settings(ctx context.Context, userID string) ([]Setting, error)
	UpsertSetting(ctx context.Context, s Setting) error

	// CreateMatch inserts a match; an existing row for the same id is kept.
	CreateMatch(ctx context.Context, m Match) error
	// Match returns ErrNotFound for unknown matches.
	Match(ctx context.Context, userID, matchID string) (Match, error)
	AttachPrediction(ctx context.Context, userID, matchID, predictionID string) error
	// ResolveMatch writes the result only while the row is unresolved and
	// reports whether it did.
	ResolveMatch(ctx context.Context, m Match) (bool, error)
	// RecordSince counts resolved matches created at or after since.
	RecordSince(ctx context.Context, userID string, since time.Time) (Record, error)

	Close() error
}
