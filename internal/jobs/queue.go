// Package jobs runs EDA, training and batch prediction work in the
// background: a bounded in-process queue with a fixed worker pool, a
// dispatcher that feeds it PENDING rows, and a reaper for rows whose worker
// stopped sending heartbeats.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/tabforge/internal/config"
	"github.com/KaramelBytes/tabforge/internal/domain"
	"github.com/KaramelBytes/tabforge/internal/logger"
	"github.com/KaramelBytes/tabforge/internal/metrics"
)

type Kind string

const (
	KindEDA        Kind = "eda"
	KindTraining   Kind = "training"
	KindPrediction Kind = "prediction"
)

// TimeLimitMessage is recorded on rows whose task ran out of time.
const TimeLimitMessage = "time limit exceeded"

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// Task is one attempt at running the work behind a status-carrying row.
type Task struct {
	Kind Kind
	// ID is the owning row; its heartbeat is refreshed while Run executes.
	ID  string
	Run func(ctx context.Context) error
	// Fail marks the owning row as ERROR when Run could not do so itself
	// (panic or time limit). It must tolerate rows that are already terminal.
	Fail func(ctx context.Context, message string) error
}

type Queue struct {
	tasks      chan Task
	heartbeats map[Kind]domain.RunRepository
	limits     map[Kind]time.Duration
	workers    int
	beat       time.Duration
	now        func() time.Time

	mu       sync.Mutex
	closed   bool
	inflight sync.Map
}

type Option func(*Queue)

// WithTimeLimit bounds every task of kind.
func WithTimeLimit(kind Kind, d time.Duration) Option {
	return func(q *Queue) { q.limits[kind] = d }
}

// WithHeartbeat overrides the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(q *Queue) { q.beat = d }
}

// NewQueue sizes the queue from cfg. EDA tasks get the analyzer's time
// limit by default.
func NewQueue(cfg config.Worker, edaLimit time.Duration, repos domain.Repositories, opts ...Option) *Queue {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 1
	}
	q := &Queue{
		tasks: make(chan Task, size),
		heartbeats: map[Kind]domain.RunRepository{
			KindEDA:        repos.EDAResults,
			KindTraining:   repos.Jobs,
			KindPrediction: repos.Predictions,
		},
		limits:  map[Kind]time.Duration{},
		workers: workers,
		beat:    cfg.Heartbeat(),
		now:     time.Now,
	}
	if edaLimit > 0 {
		q.limits[KindEDA] = edaLimit
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit enqueues t without blocking. A task whose row is already queued or
// running is ignored.
func (q *Queue) Submit(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	key := string(t.Kind) + "/" + t.ID
	if _, busy := q.inflight.LoadOrStore(key, struct{}{}); busy {
		return nil
	}
	select {
	case q.tasks <- t:
		metrics.QueueDepth.Inc()
		return nil
	default:
		q.inflight.Delete(key)
		return ErrQueueFull
	}
}

// Close stops accepting tasks; workers drain what is already queued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}

// Run starts the workers and blocks until the queue is closed and drained,
// or ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case t, ok := <-q.tasks:
					if !ok {
						return nil
					}
					metrics.QueueDepth.Dec()
					q.execute(ctx, t)
					q.inflight.Delete(string(t.Kind) + "/" + t.ID)
				}
			}
		})
	}
	return eg.Wait()
}

func (q *Queue) execute(ctx context.Context, t Task) {
	log := logger.WithJob(string(t.Kind), t.ID)
	if limit := q.limits[t.Kind]; limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	stop := q.heartbeat(ctx, t)
	err := safeRun(ctx, t)
	stop()

	outcome := metrics.OutcomeSuccess
	var p *panicError
	switch {
	case err == nil:
	case errors.As(err, &p):
		outcome = metrics.OutcomeFailure
		log.Errorf("Task panicked: %v\n%s", p.value, p.stack)
		q.fail(ctx, t, fmt.Sprintf("worker panic: %v", p.value))
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
		log.Warnf("Task exceeded its time limit: %v", err)
		q.fail(ctx, t, TimeLimitMessage)
	default:
		outcome = metrics.OutcomeFailure
		log.Errorf("Task failed: %v", err)
	}
	metrics.TaskCount.WithLabelValues(string(t.Kind), outcome).Inc()
}

func (q *Queue) fail(ctx context.Context, t Task, message string) {
	if t.Fail == nil {
		return
	}
	if err := t.Fail(context.WithoutCancel(ctx), message); err != nil {
		logger.WithJob(string(t.Kind), t.ID).Errorf("Failed to record task failure: %v", err)
	}
}

// heartbeat touches the owning row every beat until the returned stop is
// called.
func (q *Queue) heartbeat(ctx context.Context, t Task) (stop func()) {
	repo := q.heartbeats[t.Kind]
	if repo == nil || q.beat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(q.beat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := repo.Touch(ctx, t.ID, q.now()); err != nil {
					logger.WithJob(string(t.Kind), t.ID).Warnf("Heartbeat failed: %v", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

type panicError struct {
	value any
	stack []byte
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()
	return t.Run(ctx)
}
