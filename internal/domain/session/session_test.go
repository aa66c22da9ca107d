package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dotabod/backend-sub002/internal/domain/session"
	"github.com/dotabod/backend-sub002/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeStore struct {
	mu      sync.Mutex
	calls   atomic.Int32
	delay   time.Duration
	users   map[string]session.Identity
	failErr error
}

func (f *fakeStore) LookupIdentity(_ context.Context, token string) (session.Identity, session.Settings, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failErr != nil {
		return session.Identity{}, session.Settings{}, f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.users[token]
	if !ok {
		return session.Identity{}, session.Settings{}, session.ErrIdentityNotFound
	}
	return id, session.NewSettings(session.Setting{Key: session.KeyBets, Value: "true"}), nil
}

type recordingChannel struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingChannel) Publish(_ context.Context, name string, _ any) error {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
	return nil
}

type channels struct{ ch *recordingChannel }

func (c channels) Channel(string) session.Publisher { return c.ch }

func TestSettings(t *testing.T) {
	Convey("Given settings with a duplicate key", t, func() {
		s := session.NewSettings(
			session.Setting{Key: session.KeyStreamDelay, Value: "5"},
			session.Setting{Key: session.KeyBets, Value: "false"},
			session.Setting{Key: session.KeyStreamDelay, Value: "12"},
		)

		Convey("Then keys stay unique and ordered", func() {
			So(s.Items(), ShouldResemble, []session.Setting{
				{Key: session.KeyStreamDelay, Value: "12"},
				{Key: session.KeyBets, Value: "false"},
			})
		})

		Convey("Then typed getters apply defaults", func() {
			So(s.StreamDelay(), ShouldEqual, 12*time.Second)
			So(s.BetsEnabled(), ShouldBeFalse)
			So(s.RefundEnabled(), ShouldBeTrue)
			So(s.RatingTracked(), ShouldBeTrue)
			So(s.String(session.KeyBetsTitle, session.DefaultBetsTitle), ShouldEqual, session.DefaultBetsTitle)
			So(s.With(session.KeyBetsRefund, "nope").RefundEnabled(), ShouldBeTrue)
		})
	})
}

func TestAuthenticator(t *testing.T) {
	Convey("Given an authenticator over a store with one user", t, func() {
		store := &fakeStore{users: map[string]session.Identity{
			"T1": {UserID: "u1", DisplayName: "streamer", AccountID: "849473199"},
		}}
		reg := session.NewRegistry()
		ch := &recordingChannel{}
		auth := session.NewAuthenticator(reg, store, session.WithChannels(channels{ch: ch}))
		ctx := context.Background()

		Convey("When a known token resolves", func() {
			s, err := auth.Resolve(ctx, "T1")

			Convey("Then a session is created and registered", func() {
				So(err, ShouldBeNil)
				So(s.Token(), ShouldEqual, "T1")
				So(s.Identity().UserID, ShouldEqual, "u1")
				So(s.Channel(), ShouldNotBeNil)
				So(reg.Len(), ShouldEqual, 1)
			})

			Convey("Then a second resolve hits the registry", func() {
				again, err := auth.Resolve(ctx, "T1")
				So(err, ShouldBeNil)
				So(again, ShouldEqual, s)
				So(store.calls.Load(), ShouldEqual, 1)
			})
		})

		Convey("When an unknown token resolves twice", func() {
			_, err1 := auth.Resolve(ctx, "bad")
			_, err2 := auth.Resolve(ctx, "bad")

			Convey("Then the second is answered from the negative cache", func() {
				So(errors.Is(err1, session.ErrInvalidToken), ShouldBeTrue)
				So(errors.Is(err2, session.ErrInvalidToken), ShouldBeTrue)
				So(store.calls.Load(), ShouldEqual, 1)
				So(auth.Invalid("bad"), ShouldBeTrue)
			})
		})

		Convey("When the token is empty", func() {
			_, err := auth.Resolve(ctx, "")
			So(errors.Is(err, session.ErrInvalidToken), ShouldBeTrue)
			So(store.calls.Load(), ShouldEqual, 0)
		})

		Convey("When concurrent requests race for a cold token", func() {
			store.delay = 50 * time.Millisecond
			var wg sync.WaitGroup
			results := make([]*session.Session, 10)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], _ = auth.Resolve(ctx, "T1")
				}(i)
			}
			wg.Wait()

			Convey("Then one lookup serves them all", func() {
				So(store.calls.Load(), ShouldEqual, 1)
				for _, s := range results {
					So(s, ShouldEqual, results[0])
				}
			})
		})

		Convey("When the store fails", func() {
			store.failErr = errors.New("db down")
			_, err := auth.Resolve(ctx, "T1")

			Convey("Then the error is not cached as an invalid token", func() {
				So(errors.Is(err, session.ErrLookupFailed), ShouldBeTrue)
				So(auth.Invalid("T1"), ShouldBeFalse)
			})
		})

		Convey("When a session is refreshed", func() {
			s, _ := auth.Resolve(ctx, "T1")
			s.SetAttachment("match-123")
			store.users["T1"] = session.Identity{UserID: "u1", DisplayName: "renamed"}

			fresh, err := auth.Refresh(ctx, "T1")

			Convey("Then identity changes and the attachment survives", func() {
				So(err, ShouldBeNil)
				So(fresh, ShouldNotEqual, s)
				So(fresh.Identity().DisplayName, ShouldEqual, "renamed")
				So(fresh.Attachment(), ShouldEqual, "match-123")
				got, _ := reg.Get("T1")
				So(got, ShouldEqual, fresh)
			})

			Convey("Then the old and new session share one processing lock", func() {
				s.Lock()
				acquired := make(chan struct{})
				go func() {
					fresh.Lock()
					close(acquired)
					fresh.Unlock()
				}()
				var early bool
				select {
				case <-acquired:
					early = true
				case <-time.After(50 * time.Millisecond):
				}
				s.Unlock()
				So(early, ShouldBeFalse)
				So(waitClosed(acquired, time.Second), ShouldBeTrue)
			})
		})
	})
}

func TestSweeper(t *testing.T) {
	Convey("Given a registry with one session and a five minute timeout", t, func() {
		reg := session.NewRegistry()
		t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		ch := &recordingChannel{}
		s := session.New(session.Identity{Token: "T1"}, session.Settings{}, 16, t0)
		s.SetChannel(ch)
		s.SetAttachment("pending-match")
		reg.Put(s)
		reg.Touch("T1", t0)
		reg.Touch("ghost", t0)

		var hookCalls int
		sw := session.NewSweeper(reg, 5*time.Minute, func(context.Context, time.Time, []*session.Session) {
			hookCalls++
		}, nil)
		ctx := context.Background()

		Convey("When a sweep runs exactly at the boundary", func() {
			evicted := sw.Sweep(ctx, t0.Add(5*time.Minute))

			Convey("Then the session survives", func() {
				So(evicted, ShouldBeEmpty)
				So(reg.Len(), ShouldEqual, 1)
				So(hookCalls, ShouldEqual, 1)
			})

			Convey("Then the next tick evicts it", func() {
				evicted := sw.Sweep(ctx, t0.Add(10*time.Minute))
				So(evicted, ShouldResemble, []string{"T1", "ghost"})
				So(reg.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a session is evicted", func() {
			sw.Sweep(ctx, t0.Add(6*time.Minute))

			Convey("Then its channel is detached and match state untouched", func() {
				So(s.Channel(), ShouldBeNil)
				So(s.Attachment(), ShouldEqual, "pending-match")
				So(s.Publish(ctx, "update-wl", nil), ShouldBeNil)
				So(ch.events, ShouldBeEmpty)
			})
		})

		Convey("When the token keeps posting", func() {
			reg.Touch("T1", t0.Add(4*time.Minute))
			evicted := sw.Sweep(ctx, t0.Add(8*time.Minute))

			Convey("Then only the silent token goes", func() {
				So(evicted, ShouldResemble, []string{"ghost"})
				_, ok := reg.Get("T1")
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
