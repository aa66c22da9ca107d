// Package retry runs bounded retry loops whose attempts report a typed
// result instead of signalling "retry me" through errors.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when every attempt reported Retryable.
var ErrExhausted = errors.New("retry budget exhausted")

// Kind classifies one attempt.
type Kind uint8

const (
	// KindOk ends the loop with a value.
	KindOk Kind = iota
	// KindRetryable means the data is not available yet; try again.
	KindRetryable
	// KindFatal means the data will never be available; give up.
	KindFatal
)

// Result is what an attempt returns.
type Result[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{Kind: KindOk, Value: v} }

// Retryable marks a transient failure.
func Retryable[T any](err error) Result[T] { return Result[T]{Kind: KindRetryable, Err: err} }

// Fatal marks a permanent failure.
func Fatal[T any](err error) Result[T] { return Result[T]{Kind: KindFatal, Err: err} }

// Outcome summarizes how a loop ended.
type Outcome uint8

const (
	Succeeded Outcome = iota
	Exhausted
	Failed
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff builds a fresh schedule for each loop. Nil means no wait.
	Backoff func() backoff.BackOff
	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential returns a policy with capped exponential backoff.
func Exponential(maxAttempts int, initial, maxInterval time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.Multiplier = 1.5
			b.RandomizationFactor = 0.2
			b.Reset()
			return b
		},
	}
}

// Immediate returns a policy that retries without waiting. Used in tests.
func Immediate(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     func() backoff.BackOff { return &backoff.ZeroBackOff{} },
	}
}

// Do runs fn until it returns Ok or Fatal, the attempt budget is spent, or
// ctx is done. The last attempt's error is returned for every outcome but
// Succeeded.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) Result[T]) (T, Outcome, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var schedule backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		schedule = p.Backoff()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, Canceled, err
		}
		res := fn(ctx, attempt)
		switch res.Kind {
		case KindOk:
			return res.Value, Succeeded, nil
		case KindFatal:
			return zero, Failed, res.Err
		}
		lastErr = res.Err
		if attempt == attempts {
			break
		}
		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, Canceled, err
		}
	}
	if lastErr == nil {
		lastErr = ErrExhausted
	} else {
		lastErr = errors.Join(ErrExhausted, lastErr)
	}
	return zero, Exhausted, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
