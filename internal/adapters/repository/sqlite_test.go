package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/dotabod/backend-sub002/internal/adapters/repository"
	"github.com/dotabod/backend-sub002/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func openStore(t *testing.T, now time.Time) *repository.SQLiteStore {
	t.Helper()
	s, err := repository.Open(context.Background(), filepath.Join(t.TempDir(), "dotabod.db"),
		repository.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func boolp(b bool) *bool { return &b }
func intp(n int) *int    { return &n }

func TestSQLiteStoreUsers(t *testing.T) {
	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s := openStore(t, now)

		Convey("Unknown tokens are not found", func() {
			_, err := s.UserByToken(ctx, "nope")
			So(err, ShouldEqual, repository.ErrNotFound)
		})

		Convey("An empty path is rejected", func() {
			_, err := repository.Open(ctx, " ")
			So(errors.Is(err, repository.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When a user is stored", func() {
			started := now.Add(-time.Hour)
			So(s.PutUser(ctx, repository.User{
				ID: "u1", Token: "tok", DisplayName: "Streamer", AccountID: "42",
				BroadcasterID: "b1", Rating: 3000, StreamStartedAt: &started,
			}), ShouldBeNil)

			Convey("Then it is found by token", func() {
				u, err := s.UserByToken(ctx, "tok")
				So(err, ShouldBeNil)
				So(u.ID, ShouldEqual, "u1")
				So(u.AccountID, ShouldEqual, "42")
				So(u.Rating, ShouldEqual, 3000)
				So(u.StreamStartedAt, ShouldNotBeNil)
				So(u.StreamStartedAt.Equal(started), ShouldBeTrue)
			})

			Convey("Then its rating can change", func() {
				So(s.UpdateRating(ctx, "u1", 3025), ShouldBeNil)
				u, _ := s.UserByToken(ctx, "tok")
				So(u.Rating, ShouldEqual, 3025)
				So(s.UpdateRating(ctx, "ghost", 1), ShouldEqual, repository.ErrNotFound)
			})

			Convey("Then settings keep insertion order and unique keys", func() {
				So(s.UpsertSetting(ctx, repository.Setting{UserID: "u1", Key: "bets", Value: "true"}), ShouldBeNil)
				So(s.UpsertSetting(ctx, repository.Setting{UserID: "u1", Key: "streamDelay", Value: "30"}), ShouldBeNil)
				So(s.UpsertSetting(ctx, repository.Setting{UserID: "u1", Key: "bets", Value: "false"}), ShouldBeNil)

				got, err := s.Settings(ctx, "u1")
				So(err, ShouldBeNil)
				So(got, ShouldResemble, []repository.Setting{
					{UserID: "u1", Key: "bets", Value: "false"},
					{UserID: "u1", Key: "streamDelay", Value: "30"},
				})
			})
		})
	})
}

func TestSQLiteStoreMatches(t *testing.T) {
	Convey("Given a store with one open match", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s := openStore(t, now)
		So(s.CreateMatch(ctx, repository.Match{MatchID: "m1", UserID: "u1", MyTeam: "radiant", CreatedAt: now}), ShouldBeNil)

		Convey("Creating it again keeps the first row", func() {
			So(s.CreateMatch(ctx, repository.Match{MatchID: "m1", UserID: "u1", MyTeam: "dire", CreatedAt: now}), ShouldBeNil)
			m, err := s.Match(ctx, "u1", "m1")
			So(err, ShouldBeNil)
			So(m.MyTeam, ShouldEqual, "radiant")
			So(m.Won, ShouldBeNil)
			So(m.LobbyType, ShouldBeNil)
		})

		Convey("A prediction can be attached", func() {
			So(s.AttachPrediction(ctx, "u1", "m1", "p1"), ShouldBeNil)
			m, _ := s.Match(ctx, "u1", "m1")
			So(m.PredictionID, ShouldEqual, "p1")
			So(s.AttachPrediction(ctx, "u1", "m2", "p2"), ShouldEqual, repository.ErrNotFound)
		})

		Convey("When it is resolved", func() {
			ok, err := s.ResolveMatch(ctx, repository.Match{
				MatchID: "m1", UserID: "u1", Won: boolp(true), LobbyType: intp(7),
				IsParty: true, ServerID: "srv", RadiantScore: intp(30), DireScore: intp(12),
			})
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			Convey("Then the result is stored", func() {
				m, _ := s.Match(ctx, "u1", "m1")
				So(*m.Won, ShouldBeTrue)
				So(*m.LobbyType, ShouldEqual, 7)
				So(m.IsParty, ShouldBeTrue)
				So(m.ServerID, ShouldEqual, "srv")
				So(*m.RadiantScore, ShouldEqual, 30)
				So(m.CreatedAt.Equal(now), ShouldBeTrue)
			})

			Convey("Then a second resolution is refused", func() {
				ok, err := s.ResolveMatch(ctx, repository.Match{MatchID: "m1", UserID: "u1", Won: boolp(false)})
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
				m, _ := s.Match(ctx, "u1", "m1")
				So(*m.Won, ShouldBeTrue)
			})
		})

		Convey("Resolving without a result is rejected", func() {
			_, err := s.ResolveMatch(ctx, repository.Match{MatchID: "m1", UserID: "u1"})
			So(errors.Is(err, repository.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("Resolving an unknown match inserts it resolved", func() {
			ok, err := s.ResolveMatch(ctx, repository.Match{MatchID: "m9", UserID: "u1", Won: boolp(false), CreatedAt: now})
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			m, err := s.Match(ctx, "u1", "m9")
			So(err, ShouldBeNil)
			So(*m.Won, ShouldBeFalse)
		})

		Convey("The record counts resolved matches inside the window", func() {
			So(s.CreateMatch(ctx, repository.Match{MatchID: "old", UserID: "u1", CreatedAt: now.Add(-48 * time.Hour)}), ShouldBeNil)
			So(s.CreateMatch(ctx, repository.Match{MatchID: "m2", UserID: "u1", CreatedAt: now.Add(time.Minute)}), ShouldBeNil)
			for id, won := range map[string]bool{"m1": true, "m2": false, "old": true} {
				_, err := s.ResolveMatch(ctx, repository.Match{MatchID: id, UserID: "u1", Won: boolp(won)})
				So(err, ShouldBeNil)
			}
			So(s.CreateMatch(ctx, repository.Match{MatchID: "open", UserID: "u1", CreatedAt: now}), ShouldBeNil)

			rec, err := s.RecordSince(ctx, "u1", now.Add(-12*time.Hour))
			So(err, ShouldBeNil)
			So(rec, ShouldResemble, repository.Record{Wins: 1, Losses: 1})

			rec, err = s.RecordSince(ctx, "nobody", now.Add(-12*time.Hour))
			So(err, ShouldBeNil)
			So(rec, ShouldResemble, repository.Record{})
		})
	})
}
