// Package queue runs delayed jobs with at-least-once delivery. Handlers may
// run more than once for the same job and must check current record state
// before acting.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hray3182/topicmate/internal/logutil"
)

type Handler interface {
	Handle(ctx context.Context, job *Job) error
}

type HandlerFunc func(ctx context.Context, job *Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *Job) error { return f(ctx, job) }

// DeadLetterHandler is implemented by handlers that want to react once a
// job has exhausted its attempts.
type DeadLetterHandler interface {
	OnDeadLetter(ctx context.Context, job *Job, err error)
}

type Options struct {
	Concurrency  int
	MaxAttempts  int
	Backoff      time.Duration
	PollInterval time.Duration
	Lease        time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

func (o *Options) withDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 5 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Queue struct {
	store  Store
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func New(store Store, opts Options) *Queue {
	opts.withDefaults()
	return &Queue{
		store:    store,
		opts:     opts,
		logger:   logutil.OrDiscard(opts.Logger).With("component", "queue"),
		handlers: make(map[string]Handler),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// Register attaches the handler for kind. It must be called before Run.
func (q *Queue) Register(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

func (q *Queue) handler(kind string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[kind]
	return h, ok
}

func (q *Queue) newID(now time.Time) string {
	q.entropyMu.Lock()
	defer q.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), q.entropy).String()
}

// Enqueue schedules a job of kind to run no earlier than delay from now.
// A non-empty key collapses calls while a job with that key is pending or
// running; the existing job id is returned in that case.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, delay time.Duration, key string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	if delay < 0 {
		delay = 0
	}

	now := q.opts.Now()
	job := &Job{
		ID:          q.newID(now),
		Kind:        kind,
		Payload:     raw,
		Key:         key,
		RunAt:       now.Add(delay),
		MaxAttempts: q.opts.MaxAttempts,
		State:       StatePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	id, created, err := q.store.Add(ctx, job)
	if err != nil {
		return "", err
	}
	if created {
		q.logger.Debug("Job enqueued", "job_id", id, "kind", kind, "run_at", job.RunAt, "key", key)
	} else {
		q.logger.Debug("Job deduplicated", "job_id", id, "kind", kind, "key", key)
	}
	return id, nil
}

// Cancel removes a pending job. Jobs that are already running or finished
// return ErrJobNotPending.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.store.Cancel(ctx, id, q.opts.Now())
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) DeadLetters(ctx context.Context) ([]*Job, error) {
	return q.store.ListDead(ctx)
}

// RetryDead puts a dead job back in the queue with a fresh attempt budget.
func (q *Queue) RetryDead(ctx context.Context, id string) error {
	return q.store.Requeue(ctx, id, q.opts.Now())
}

func (q *Queue) Stats(ctx context.Context) (map[string]KindStats, error) {
	return q.store.Stats(ctx)
}

// Run starts one poller and a pool of workers for every registered kind.
// It blocks until ctx is cancelled and in-flight jobs have returned.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.RLock()
	kinds := make([]string, 0, len(q.handlers))
	for kind := range q.handlers {
		kinds = append(kinds, kind)
	}
	q.mu.RUnlock()
	sort.Strings(kinds)

	var wg sync.WaitGroup
	for _, kind := range kinds {
		wg.Add(1)
		go func(kind string) {
			defer wg.Done()
			q.runKind(ctx, kind)
		}(kind)
	}

	q.logger.Info("Queue started", "kinds", kinds, "concurrency", q.opts.Concurrency)
	wg.Wait()
	q.logger.Info("Queue stopped")
	return nil
}

func (q *Queue) runKind(ctx context.Context, kind string) {
	jobs := make(chan *Job)
	var inflight atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				q.execute(ctx, job)
				inflight.Add(-1)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		free := q.opts.Concurrency - int(inflight.Load())
		if free > 0 {
			claimed, err := q.store.Claim(ctx, kind, q.opts.Now(), q.opts.Lease, free)
			if err != nil && ctx.Err() == nil {
				q.logger.Error("Failed to claim jobs", "kind", kind, "error", err)
			}
			for _, job := range claimed {
				inflight.Add(1)
				select {
				case jobs <- job:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessDue claims every due job of kind that fits in one batch and runs
// them to completion. It returns the number of jobs executed.
func (q *Queue) ProcessDue(ctx context.Context, kind string) (int, error) {
	claimed, err := q.store.Claim(ctx, kind, q.opts.Now(), q.opts.Lease, q.opts.Concurrency)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, job := range claimed {
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			q.execute(ctx, job)
		}(job)
	}
	wg.Wait()
	return len(claimed), nil
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	logger := q.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)

	h, ok := q.handler(job.Kind)
	if !ok {
		q.bury(ctx, job, nil, fmt.Errorf("no handler registered for %s", job.Kind), logger)
		return
	}

	err := q.invoke(ctx, h, job)
	if err == nil {
		if err := q.store.Complete(ctx, job, q.opts.Now()); err != nil {
			logger.Error("Failed to complete job", "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		// Shutdown interrupted the handler; the lease expiry hands the job
		// to the next process.
		logger.Warn("Job interrupted by shutdown", "error", err)
		return
	}

	if IsPermanent(err) || job.Attempts >= job.MaxAttempts {
		q.bury(ctx, job, h, err, logger)
		return
	}

	delay := q.backoff(job.Attempts)
	if rerr := q.store.Retry(ctx, job, q.opts.Now().Add(delay), err.Error(), q.opts.Now()); rerr != nil {
		logger.Error("Failed to schedule job retry", "error", rerr)
		return
	}
	logger.Warn("Job failed, retrying", "error", err, "retry_in", delay)
}

func (q *Queue) invoke(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, job)
}

func (q *Queue) bury(ctx context.Context, job *Job, h Handler, cause error, logger *slog.Logger) {
	if err := q.store.Bury(ctx, job, cause.Error(), q.opts.Now()); err != nil {
		logger.Error("Failed to dead-letter job", "error", err)
		return
	}
	logger.Error("Job dead-lettered", "error", cause)

	if dl, ok := h.(DeadLetterHandler); ok {
		var p *permanentError
		if errors.As(cause, &p) {
			cause = p.err
		}
		dl.OnDeadLetter(ctx, job, cause)
	}
}

// backoff returns base * 2^(attempt-1).
func (q *Queue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return q.opts.Backoff << (attempt - 1)
}
