package prediction_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dotabod/backend-sub002/internal/domain/prediction"
	"github.com/dotabod/backend-sub002/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeAPI struct {
	mu       sync.Mutex
	res      prediction.Resource
	resolves []string
	cancels  int
	creates  int
	failGet  error
}

func (f *fakeAPI) CreatePrediction(_ context.Context, _, title string, outcomes []string, _ time.Duration) (prediction.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.res = prediction.Resource{ID: "p1", Title: title, Status: prediction.StatusActive}
	for i, o := range outcomes {
		f.res.Outcomes = append(f.res.Outcomes, prediction.Outcome{ID: []string{"o-yes", "o-no"}[i], Title: o, Users: 3})
	}
	return f.res, nil
}

func (f *fakeAPI) GetPredictions(_ context.Context, _ string, ids ...string) ([]prediction.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return nil, f.failGet
	}
	for _, id := range ids {
		if id == f.res.ID {
			return []prediction.Resource{f.res}, nil
		}
	}
	return nil, nil
}

func (f *fakeAPI) ResolvePrediction(_ context.Context, _, _, outcomeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves = append(f.resolves, outcomeID)
	f.res.Status = prediction.StatusResolved
	f.res.WinningOutcomeID = outcomeID
	return nil
}

func (f *fakeAPI) CancelPrediction(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.res.Status = prediction.StatusCanceled
	return nil
}

func TestController(t *testing.T) {
	Convey("Given an open prediction with backers on both sides", t, func() {
		api := &fakeAPI{}
		c := prediction.NewController(api, 4*time.Minute, nil)
		ctx := context.Background()
		owner := prediction.Owner{BroadcasterID: "b1", RefundEnabled: true}
		id, err := c.Create(ctx, owner, "Will we win with Axe?")
		So(err, ShouldBeNil)
		So(id, ShouldEqual, "p1")

		Convey("When it is resolved as won", func() {
			action, err := c.Resolve(ctx, owner, id, true)

			Convey("Then the first outcome wins", func() {
				So(err, ShouldBeNil)
				So(action, ShouldEqual, prediction.ActionResolved)
				So(api.resolves, ShouldResemble, []string{"o-yes"})
			})
		})

		Convey("When it is resolved as lost", func() {
			_, _ = c.Resolve(ctx, owner, id, false)
			So(api.resolves, ShouldResemble, []string{"o-no"})
		})

		Convey("When it is resolved twice", func() {
			first, _ := c.Resolve(ctx, owner, id, true)
			second, err := c.Resolve(ctx, owner, id, false)

			Convey("Then exactly one external resolve happens", func() {
				So(first, ShouldEqual, prediction.ActionResolved)
				So(second, ShouldEqual, prediction.ActionSkipped)
				So(err, ShouldBeNil)
				So(len(api.resolves), ShouldEqual, 1)
			})
		})

		Convey("When resolutions race", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(won bool) {
					defer wg.Done()
					_, _ = c.Resolve(ctx, owner, id, won)
				}(i%2 == 0)
			}
			wg.Wait()
			So(len(api.resolves), ShouldEqual, 1)
		})

		Convey("When it is canceled after resolution", func() {
			_, _ = c.Resolve(ctx, owner, id, true)
			action, err := c.Cancel(ctx, owner, id)
			So(err, ShouldBeNil)
			So(action, ShouldEqual, prediction.ActionSkipped)
			So(api.cancels, ShouldEqual, 0)
		})

		Convey("When the winning side has no backers and refunds are on", func() {
			api.res.Outcomes[0].Users = 0
			action, err := c.Resolve(ctx, owner, id, true)

			Convey("Then it is canceled and never resolved", func() {
				So(err, ShouldBeNil)
				So(action, ShouldEqual, prediction.ActionCanceled)
				So(api.cancels, ShouldEqual, 1)
				So(api.resolves, ShouldBeEmpty)
			})
		})

		Convey("When a side has no backers but refunds are off", func() {
			api.res.Outcomes[1].Users = 0
			owner.RefundEnabled = false
			action, _ := c.Resolve(ctx, owner, id, true)
			So(action, ShouldEqual, prediction.ActionResolved)
			So(api.cancels, ShouldEqual, 0)
		})

		Convey("When the prediction is unknown", func() {
			_, err := c.Resolve(ctx, owner, "missing", true)
			So(errors.Is(err, prediction.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the status read fails", func() {
			api.failGet = errors.New("503")
			action, err := c.Resolve(ctx, owner, id, true)
			So(err, ShouldNotBeNil)
			So(action, ShouldEqual, prediction.ActionSkipped)
			So(api.resolves, ShouldBeEmpty)
		})
	})
}
