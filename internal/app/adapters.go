package service

import (
	"context"
	"errors"
	"time"

	"github.com/dotabod/backend-sub002/internal/adapters/repository"
	"github.com/dotabod/backend-sub002/internal/domain/match"
	"github.com/dotabod/backend-sub002/internal/domain/session"
)

// identityAdapter adapts repository.Store to session.IdentityStore.
type identityAdapter struct {
	store repository.Store
}

func (a identityAdapter) LookupIdentity(ctx context.Context, token string) (session.Identity, session.Settings, error) {
	u, err := a.store.UserByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return session.Identity{}, session.Settings{}, session.ErrIdentityNotFound
	}
	if err != nil {
		return session.Identity{}, session.Settings{}, err
	}
	rows, err := a.store.Settings(ctx, u.ID)
	if err != nil {
		return session.Identity{}, session.Settings{}, err
	}
	items := make([]session.Setting, 0, len(rows))
	for _, r := range rows {
		items = append(items, session.Setting{Key: r.Key, Value: r.Value})
	}
	id := session.Identity{
		UserID:        u.ID,
		Token:         u.Token,
		DisplayName:   u.DisplayName,
		Locale:        u.Locale,
		Tier:          u.Tier,
		AccountID:     u.AccountID,
		BroadcasterID: u.BroadcasterID,
		Rating:        u.Rating,
	}
	if u.StreamStartedAt != nil {
		id.StreamStartedAt = *u.StreamStartedAt
	}
	return id, session.NewSettings(items...), nil
}

// matchAdapter adapts repository.Store to match.Store.
type matchAdapter struct {
	store repository.Store
}

func (a matchAdapter) CreateMatch(ctx context.Context, r match.Record) error { //nolint:gocritic // hugeParam: records are passed by value
	return a.store.CreateMatch(ctx, toRow(r))
}

func (a matchAdapter) Match(ctx context.Context, userID, matchID string) (match.Record, error) {
	m, err := a.store.Match(ctx, userID, matchID)
	if errors.Is(err, repository.ErrNotFound) {
		return match.Record{}, match.ErrNotFound
	}
	if err != nil {
		return match.Record{}, err
	}
	return match.Record{
		MatchID:      m.MatchID,
		UserID:       m.UserID,
		MyTeam:       m.MyTeam,
		HeroName:     m.HeroName,
		PredictionID: m.PredictionID,
		ServerID:     m.ServerID,
		LobbyType:    m.LobbyType,
		IsParty:      m.IsParty,
		Won:          m.Won,
		RadiantScore: m.RadiantScore,
		DireScore:    m.DireScore,
		CreatedAt:    m.CreatedAt,
	}, nil
}

func (a matchAdapter) AttachPrediction(ctx context.Context, userID, matchID, predictionID string) error {
	return a.store.AttachPrediction(ctx, userID, matchID, predictionID)
}

func (a matchAdapter) ResolveMatch(ctx context.Context, r match.Record) (bool, error) { //nolint:gocritic // hugeParam: records are passed by value
	return a.store.ResolveMatch(ctx, toRow(r))
}

func (a matchAdapter) UpdateRating(ctx context.Context, userID string, rating int) error {
	return a.store.UpdateRating(ctx, userID, rating)
}

func (a matchAdapter) RecordSince(ctx context.Context, userID string, since time.Time) (match.WinLoss, error) {
	rec, err := a.store.RecordSince(ctx, userID, since)
	if err != nil {
		return match.WinLoss{}, err
	}
	return match.WinLoss{Wins: rec.Wins, Losses: rec.Losses}, nil
}

func toRow(r match.Record) repository.Match { //nolint:gocritic // hugeParam: records are passed by value
	return repository.Match{
		MatchID:      r.MatchID,
		UserID:       r.UserID,
		MyTeam:       r.MyTeam,
		HeroName:     r.HeroName,
		PredictionID: r.PredictionID,
		ServerID:     r.ServerID,
		LobbyType:    r.LobbyType,
		IsParty:      r.IsParty,
		Won:          r.Won,
		RadiantScore: r.RadiantScore,
		DireScore:    r.DireScore,
		CreatedAt:    r.CreatedAt,
	}
}
