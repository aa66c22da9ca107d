package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

// ErrRegistryFrozen is returned when registering after Freeze.
var ErrRegistryFrozen = errors.New("handler registry is frozen")

// Handler reacts to one event for one session of type S.
type Handler[S any] func(ctx context.Context, s S, ev Event) error

// Registry maps event names to handlers, in registration order. It is built
// once at process start and frozen before the first dispatch.
type Registry[S any] struct {
	mu       sync.RWMutex
	handlers map[string][]Handler[S]
	frozen   bool
}

// NewRegistry returns an empty registry.
func NewRegistry[S any]() *Registry[S] {
	return &Registry[S]{handlers: make(map[string][]Handler[S])}
}

// Register appends h to the handlers of name.
func (r *Registry[S]) Register(name string, h Handler[S]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %q: %w", name, ErrRegistryFrozen)
	}
	r.handlers[name] = append(r.handlers[name], h)
	return nil
}

// Freeze rejects further registrations.
func (r *Registry[S]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Handlers returns the handlers registered for name.
func (r *Registry[S]) Handlers(name string) []Handler[S] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Names returns how many event names have handlers.
func (r *Registry[S]) Names() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Report summarizes one dispatch.
type Report struct {
	Events  int
	Handled int
	Failed  int
}

// Dispatcher runs the registered handlers of each event sequentially. A
// failing or panicking handler is logged and the rest still run.
type Dispatcher[S any] struct {
	registry *Registry[S]
	log      logger.Logger
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher[S any](registry *Registry[S], log logger.Logger) *Dispatcher[S] {
	if log == nil {
		log = logger.Named("dispatch")
	}
	return &Dispatcher[S]{registry: registry, log: log}
}

// Dispatch delivers evs to their handlers. fields are added to every error
// log line, typically the session token.
func (d *Dispatcher[S]) Dispatch(ctx context.Context, s S, evs []Event, fields ...logger.Field) Report {
	rep := Report{Events: len(evs)}
	metrics.RecordEventsEmitted(len(evs))
	for _, ev := range evs {
		for _, h := range d.registry.Handlers(ev.Name()) {
			rep.Handled++
			if err := d.call(ctx, h, s, ev); err != nil {
				rep.Failed++
				metrics.RecordHandlerError(ev.Name())
				d.log.Error(ctx, "event handler failed",
					append([]logger.Field{logger.String("event", ev.Name()), logger.Error(err)}, fields...)...)
			}
		}
	}
	return rep
}

func (d *Dispatcher[S]) call(ctx context.Context, h Handler[S], s S, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, s, ev)
}
