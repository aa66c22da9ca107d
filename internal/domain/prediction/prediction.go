// Package prediction drives the external two-outcome wager opened for each
// match. Every mutation re-reads the live status first, so repeated or
// racing calls after a terminal transition are no-ops.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// Status of a prediction resource.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusLocked   Status = "LOCKED"
	StatusResolved Status = "RESOLVED"
	StatusCanceled Status = "CANCELED"
)

// Open reports whether the resource still accepts resolution or cancellation.
func (s Status) Open() bool { return s == StatusActive || s == StatusLocked }

// Outcome is one side of a prediction. Index 0 is "won", index 1 is "lost".
type Outcome struct {
	ID            string
	Title         string
	Users         int
	ChannelPoints int
}

// Resource mirrors the external prediction.
type Resource struct {
	ID               string
	Title            string
	Status           Status
	Outcomes         []Outcome
	WinningOutcomeID string
}

// API is the external wagering service.
type API interface {
	CreatePrediction(ctx context.Context, broadcasterID, title string, outcomes []string, window time.Duration) (Resource, error)
	GetPredictions(ctx context.Context, broadcasterID string, ids ...string) ([]Resource, error)
	ResolvePrediction(ctx context.Context, broadcasterID, id, winningOutcomeID string) error
	CancelPrediction(ctx context.Context, broadcasterID, id string) error
}

// Owner identifies whose prediction is acted on.
type Owner struct {
	BroadcasterID string
	// RefundEnabled cancels instead of resolving when a side has no backers.
	RefundEnabled bool
}

// Action is what a call ended up doing.
type Action string

const (
	ActionCreated  Action = "created"
	ActionResolved Action = "resolved"
	ActionCanceled Action = "canceled"
	ActionSkipped  Action = "skipped"
)

var (
	// ErrNotFound is returned when the external service has no such prediction.
	ErrNotFound = errors.New("prediction not found")
	// ErrMalformed is returned when a prediction lacks its two outcomes.
	ErrMalformed = errors.New("prediction has fewer than two outcomes")
)

// Default outcome titles.
var DefaultOutcomes = []string{"Yes", "No"}

// Controller creates, resolves and cancels predictions.
type Controller struct {
	api      API
	window   time.Duration
	outcomes []string
	log      logger.Logger

	// locks serializes mutations per prediction id.
	locks sync.Map
}

// NewController creates a Controller. window is how long entries are accepted.
func NewController(api API, window time.Duration, log logger.Logger) *Controller {
	if log == nil {
		log = logger.Named("prediction")
	}
	return &Controller{api: api, window: window, outcomes: DefaultOutcomes, log: log}
}

// Create opens a prediction and returns its id.
func (c *Controller) Create(ctx context.Context, owner Owner, title string) (string, error) {
	res, err := c.api.CreatePrediction(ctx, owner.BroadcasterID, title, c.outcomes, c.window)
	if err != nil {
		metrics.RecordPredictionAction("create_failed")
		return "", fmt.Errorf("create prediction: %w", err)
	}
	metrics.RecordPredictionAction(string(ActionCreated))
	return res.ID, nil
}

// Resolve settles prediction id for the given result. With the refund
// policy on and a side without backers it cancels instead.
func (c *Controller) Resolve(ctx context.Context, owner Owner, id string, won bool) (Action, error) {
	unlock := c.lock(id)
	defer unlock()

	res, err := c.fetch(ctx, owner, id)
	if err != nil {
		return ActionSkipped, err
	}
	if !res.Status.Open() {
		return c.skip(ctx, id, res.Status), nil
	}
	if len(res.Outcomes) < 2 {
		return ActionSkipped, fmt.Errorf("%w: %s", ErrMalformed, id)
	}
	if owner.RefundEnabled && (res.Outcomes[0].Users == 0 || res.Outcomes[1].Users == 0) {
		if err := c.api.CancelPrediction(ctx, owner.BroadcasterID, id); err != nil {
			return ActionSkipped, fmt.Errorf("cancel prediction %s: %w", id, err)
		}
		metrics.RecordPredictionAction(string(ActionCanceled))
		c.log.Info(ctx, "prediction refunded", logger.String("predictionID", id))
		return ActionCanceled, nil
	}

	winner := res.Outcomes[1].ID
	if won {
		winner = res.Outcomes[0].ID
	}
	if err := c.api.ResolvePrediction(ctx, owner.BroadcasterID, id, winner); err != nil {
		return ActionSkipped, fmt.Errorf("resolve prediction %s: %w", id, err)
	}
	metrics.RecordPredictionAction(string(ActionResolved))
	c.log.Info(ctx, "prediction resolved", logger.String("predictionID", id), logger.Bool("won", won))
	return ActionResolved, nil
}

// Cancel refunds prediction id unless it is already terminal.
func (c *Controller) Cancel(ctx context.Context, owner Owner, id string) (Action, error) {
	unlock := c.lock(id)
	defer unlock()

	res, err := c.fetch(ctx, owner, id)
	if err != nil {
		return ActionSkipped, err
	}
	if !res.Status.Open() {
		return c.skip(ctx, id, res.Status), nil
	}
	if err := c.api.CancelPrediction(ctx, owner.BroadcasterID, id); err != nil {
		return ActionSkipped, fmt.Errorf("cancel prediction %s: %w", id, err)
	}
	metrics.RecordPredictionAction(string(ActionCanceled))
	return ActionCanceled, nil
}

func (c *Controller) fetch(ctx context.Context, owner Owner, id string) (Resource, error) {
	list, err := c.api.GetPredictions(ctx, owner.BroadcasterID, id)
	if err != nil {
		return Resource{}, fmt.Errorf("get prediction %s: %w", id, err)
	}
	for _, r := range list {
		if r.ID == id {
			return r, nil
		}
	}
	return Resource{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (c *Controller) skip(ctx context.Context, id string, status Status) Action {
	metrics.RecordPredictionAction(string(ActionSkipped))
	c.log.Info(ctx, "prediction already terminal",
		logger.String("predictionID", id), logger.String("status", string(status)))
	return ActionSkipped
}

func (c *Controller) lock(id string) func() {
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
