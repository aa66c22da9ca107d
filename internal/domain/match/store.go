package match

import (
	"context"
	"errors"
	"time"

	"github.com/dotabod/backend-sub002/internal/domain/prediction"
)

// ErrNotFound is returned by a Store for unknown matches.
var ErrNotFound = errors.New("match not found")

// Record is the persisted form of a match.
type Record struct {
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
}

// WinLoss counts results.
type WinLoss struct {
	Wins   int `json:"win"`
	Losses int `json:"lose"`
}

// Store persists match records and ratings.
type Store interface {
	CreateMatch(ctx context.Context, r Record) error
	Match(ctx context.Context, userID, matchID string) (Record, error)
	AttachPrediction(ctx context.Context, userID, matchID, predictionID string) error
	// ResolveMatch writes the final result only if the record is still
	// unresolved and reports whether it did.
	ResolveMatch(ctx context.Context, r Record) (bool, error)
	UpdateRating(ctx context.Context, userID string, rating int) error
	RecordSince(ctx context.Context, userID string, since time.Time) (WinLoss, error)
}

// Predictions is the subset of the prediction controller the lifecycle uses.
type Predictions interface {
	Create(ctx context.Context, owner prediction.Owner, title string) (string, error)
	Resolve(ctx context.Context, owner prediction.Owner, id string, won bool) (prediction.Action, error)
}

// Scheduler runs background jobs.
type Scheduler interface {
	Submit(ctx context.Context, kind, id string, run func(ctx context.Context) error) bool
}
