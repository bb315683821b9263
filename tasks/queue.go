// Package tasks runs work after a response has been sent.
//
// A Queue owns a fixed set of workers fed by a bounded channel. Each task
// gets its own timeout and a context detached from the request that
// scheduled it. Failures are logged, counted and reported to an optional
// error handler; they never reach the original caller.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/google/uuid"
)

var (
	// ErrQueueClosed is returned when scheduling after Shutdown
	ErrQueueClosed = errors.New("tasks: queue closed")
	// ErrQueueFull is returned when the buffer is full
	ErrQueueFull = errors.New("tasks: queue full")
)

var (
	scheduledCounter = metrics.GetOrRegisterCounter("tasks/scheduled", nil)
	completedCounter = metrics.GetOrRegisterCounter("tasks/completed", nil)
	failedCounter    = metrics.GetOrRegisterCounter("tasks/failed", nil)
	droppedCounter   = metrics.GetOrRegisterCounter("tasks/dropped", nil)
)

// Func is a unit of background work
type Func func(ctx context.Context) error

// ErrorHandler receives every failed task
type ErrorHandler func(id, name string, err error)

type job struct {
	id   string
	name string
	fn   Func
}

// Queue is a bounded pool of background workers
type Queue struct {
	workers int
	buffer  int
	timeout time.Duration
	logger  *slog.Logger
	onError ErrorHandler

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	started bool
}

// Option configures a Queue
type Option func(*Queue)

// WithWorkers sets the number of workers (default 2)
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBuffer sets how many tasks may wait for a worker (default 64)
func WithBuffer(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.buffer = n
		}
	}
}

// WithTimeout bounds each task (default 2m)
func WithTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithErrorHandler registers a callback for failed tasks
func WithErrorHandler(h ErrorHandler) Option {
	return func(q *Queue) {
		q.onError = h
	}
}

// NewQueue creates a queue. Call Start before scheduling work.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		workers: 2,
		buffer:  64,
		timeout: 2 * time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan job, q.buffer)
	return q
}

// Start launches the workers. Tasks run with contexts derived from ctx.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work()
	}
}

// Schedule enqueues fn without blocking. It implements x402.Scheduler.
func (q *Queue) Schedule(name string, fn func(ctx context.Context) error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || !q.started {
		droppedCounter.Inc(1)
		return ErrQueueClosed
	}

	j := job{id: uuid.NewString(), name: name, fn: fn}
	select {
	case q.jobs <- j:
		scheduledCounter.Inc(1)
		q.logger.Debug("task scheduled", "taskId", j.id, "task", name)
		return nil
	default:
		droppedCounter.Inc(1)
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued tasks to finish.
// If ctx expires first, running tasks are cancelled and ctx.Err() returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(ctx, j.fn)
	if err == nil {
		completedCounter.Inc(1)
		q.logger.Debug("task completed", "taskId", j.id, "task", j.name, "duration", time.Since(start))
		return
	}

	failedCounter.Inc(1)
	q.logger.Error("task failed", "taskId", j.id, "task", j.name, "duration", time.Since(start), "error", err)
	if q.onError != nil {
		q.onError(j.id, j.name, err)
	}
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}
