package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingHandler struct {
	mu       sync.Mutex
	calls    int
	err      error
	dead     []*Job
	deadErrs []error
}

func (h *recordingHandler) Handle(_ context.Context, _ *Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.err
}

func (h *recordingHandler) OnDeadLetter(_ context.Context, job *Job, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dead = append(h.dead, job)
	h.deadErrs = append(h.deadErrs, err)
}

func (h *recordingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func newTestQueue(clock *fakeClock) *Queue {
	return New(NewMemoryStore(), Options{
		Concurrency: 5,
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		Now:         clock.Now,
	})
}

func TestQueue_DelayedJobWaitsForRunAt(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	h := &recordingHandler{}
	q.Register("reminder", h)

	_, err := q.Enqueue(ctx, "reminder", map[string]string{"reminderId": "r1"}, 2*time.Second, "")
	require.NoError(t, err)

	n, err := q.ProcessDue(ctx, "reminder")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(1999 * time.Millisecond)
	n, _ = q.ProcessDue(ctx, "reminder")
	assert.Equal(t, 0, n)

	clock.Advance(time.Millisecond)
	n, _ = q.ProcessDue(ctx, "reminder")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.Calls())
}

func TestQueue_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	q.Register("summary", &recordingHandler{})

	first, err := q.Enqueue(ctx, "summary", nil, 0, "summary:t1:day:2025-06-01")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, "summary", nil, 0, "summary:t1:day:2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, _ := q.ProcessDue(ctx, "summary")
	assert.Equal(t, 1, n)

	// The key is released once the job finishes.
	third, err := q.Enqueue(ctx, "summary", nil, 0, "summary:t1:day:2025-06-01")
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestQueue_RetriesWithBackoffThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	h := &recordingHandler{err: errors.New("telegram unavailable")}
	q.Register("reminder", h)

	id, err := q.Enqueue(ctx, "reminder", nil, 0, "")
	require.NoError(t, err)

	n, _ := q.ProcessDue(ctx, "reminder")
	require.Equal(t, 1, n)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, clock.Now().Add(2*time.Second), job.RunAt)
	assert.Equal(t, "telegram unavailable", job.LastError)

	clock.Advance(2 * time.Second)
	n, _ = q.ProcessDue(ctx, "reminder")
	require.Equal(t, 1, n)

	job, _ = q.Get(ctx, id)
	assert.Equal(t, clock.Now().Add(4*time.Second), job.RunAt)

	clock.Advance(4 * time.Second)
	n, _ = q.ProcessDue(ctx, "reminder")
	require.Equal(t, 1, n)

	job, _ = q.Get(ctx, id)
	assert.Equal(t, StateDead, job.State)
	assert.Equal(t, 3, h.Calls())
	require.Len(t, h.dead, 1)
	assert.EqualError(t, h.deadErrs[0], "telegram unavailable")

	clock.Advance(time.Hour)
	n, _ = q.ProcessDue(ctx, "reminder")
	assert.Equal(t, 0, n)

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)

	require.NoError(t, q.RetryDead(ctx, id))
	job, _ = q.Get(ctx, id)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, 0, job.Attempts)
}

func TestQueue_PermanentErrorSkipsRetries(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	h := &recordingHandler{err: Permanent(errors.New("reminder missing"))}
	q.Register("reminder", h)

	id, err := q.Enqueue(ctx, "reminder", nil, 0, "")
	require.NoError(t, err)

	_, err = q.ProcessDue(ctx, "reminder")
	require.NoError(t, err)

	job, _ := q.Get(ctx, id)
	assert.Equal(t, StateDead, job.State)
	assert.Equal(t, 1, h.Calls())
	require.Len(t, h.deadErrs, 1)
	assert.False(t, IsPermanent(h.deadErrs[0]))
	assert.EqualError(t, h.deadErrs[0], "reminder missing")
}

func TestQueue_Cancel(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	h := &recordingHandler{}
	q.Register("reminder", h)

	id, err := q.Enqueue(ctx, "reminder", nil, time.Minute, "reminder:r1:0")
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, id))

	clock.Advance(time.Minute)
	n, _ := q.ProcessDue(ctx, "reminder")
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, h.Calls())

	assert.ErrorIs(t, q.Cancel(ctx, id), ErrJobNotPending)
	assert.ErrorIs(t, q.Cancel(ctx, "missing"), ErrJobNotFound)
}

func TestQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore()
	q := New(store, Options{Lease: time.Minute, Now: clock.Now})
	h := &recordingHandler{}
	q.Register("reminder", h)

	id, err := q.Enqueue(ctx, "reminder", nil, 0, "")
	require.NoError(t, err)

	// A process claims the job and dies before acknowledging it.
	claimed, err := store.Claim(ctx, "reminder", clock.Now(), time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, _ := q.ProcessDue(ctx, "reminder")
	assert.Equal(t, 0, n)

	clock.Advance(time.Minute)
	n, _ = q.ProcessDue(ctx, "reminder")
	assert.Equal(t, 1, n)

	job, _ := q.Get(ctx, id)
	assert.Equal(t, StateDone, job.State)
	assert.Equal(t, 2, job.Attempts)
}

func TestQueue_PanicIsRetried(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	q.Register("summary", HandlerFunc(func(context.Context, *Job) error {
		panic("nil topic")
	}))

	id, err := q.Enqueue(ctx, "summary", nil, 0, "")
	require.NoError(t, err)
	_, err = q.ProcessDue(ctx, "summary")
	require.NoError(t, err)

	job, _ := q.Get(ctx, id)
	assert.Equal(t, StatePending, job.State)
	assert.Contains(t, job.LastError, "nil topic")
}

func TestQueue_UnregisteredKindIsDeadLettered(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)

	id, err := q.Enqueue(ctx, "unknown", nil, 0, "")
	require.NoError(t, err)
	_, err = q.ProcessDue(ctx, "unknown")
	require.NoError(t, err)

	job, _ := q.Get(ctx, id)
	assert.Equal(t, StateDead, job.State)
}

func TestQueue_RunBoundsConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New(NewMemoryStore(), Options{Concurrency: 3, PollInterval: 5 * time.Millisecond})

	var running, peak, done atomic.Int32
	release := make(chan struct{})
	q.Register("summary", HandlerFunc(func(ctx context.Context, _ *Job) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		done.Add(1)
		return nil
	}))

	for i := 0; i < 10; i++ {
		_, err := q.Enqueue(ctx, "summary", i, 0, "")
		require.NoError(t, err)
	}

	stopped := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool { return running.Load() == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	require.Eventually(t, func() bool { return done.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(3))

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("queue did not stop")
	}
}

func TestQueue_Stats(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(clock)
	q.Register("reminder", &recordingHandler{err: Permanent(errors.New("gone"))})

	_, _ = q.Enqueue(ctx, "reminder", nil, 0, "")
	_, _ = q.Enqueue(ctx, "reminder", nil, time.Hour, "")
	_, _ = q.ProcessDue(ctx, "reminder")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindStats{Pending: 1, Dead: 1}, stats["reminder"])
}

func TestBackoff(t *testing.T) {
	q := New(NewMemoryStore(), Options{Backoff: 2 * time.Second})
	assert.Equal(t, 2*time.Second, q.backoff(1))
	assert.Equal(t, 4*time.Second, q.backoff(2))
	assert.Equal(t, 8*time.Second, q.backoff(3))
}
