// Package worker runs background jobs pulled off a queue.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dotabod/backend-sub002/internal/adapters/mq/queue"
	"github.com/dotabod/backend-sub002/pkg/logger"
	"github.com/dotabod/backend-sub002/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 4
	poolShutdownTimeout     = 30 * time.Second
)

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in hand finishes.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue   Queue
	name    string
	timeout time.Duration

	processed atomic.Int64
	failed    atomic.Int64

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker reading from q.
func NewInMemoryWorker(q Queue, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, j); err != nil {
				w.failed.Add(1)
				w.logger.Error(ctx, "job failed",
					logger.String("kind", j.Kind),
					logger.String("jobID", j.ID),
					logger.Error(err),
				)
			}
			w.processed.Add(1)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one job. A panicking job is reported as an error so the
// worker survives it.
func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) (err error) { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			metrics.RecordJobError(j.Kind)
		}
		metrics.RecordJobLatency(float64(time.Since(start).Milliseconds()))
	}()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return j.Run(ctx)
}

// Pool manages multiple workers over one queue and is the scheduler the
// match lifecycle submits its jobs to.
type Pool struct {
	workers []*InMemoryWorker
	queue   queue.Queue
	stopped atomic.Bool

	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive count sizes the pool
// from the CPU count.
func NewPool(workerCount int, q queue.Queue, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(q, append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Submit queues run under the given kind. It reports false when the job
// was dropped.
func (p *Pool) Submit(ctx context.Context, kind, id string, run func(ctx context.Context) error) bool {
	if err := p.enqueue(ctx, queue.Job{ID: id, Kind: kind, Run: run}); err != nil {
		p.logger.Warn(ctx, "job dropped",
			logger.String("kind", kind),
			logger.String("jobID", id),
			logger.Error(err),
		)
		return false
	}
	return true
}

func (p *Pool) enqueue(ctx context.Context, j queue.Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	if p.stopped.Load() {
		return queue.ErrStopped
	}
	if !p.queue.Enqueue(ctx, j) {
		if p.queue.IsClosed() {
			return queue.ErrStopped
		}
		return queue.ErrFull
	}
	return nil
}

// Stats reports processed and failed job totals plus the queue depth.
func (p *Pool) Stats(ctx context.Context) (processed, failed int64, queued int) {
	for _, w := range p.workers {
		processed += w.processed.Load()
		failed += w.failed.Load()
	}
	return processed, failed, p.queue.Len(ctx)
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue, lets workers drain it and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	if !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "error closing queue", logger.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
