package queue

import (
	"context"
	"time"
)

// Store persists jobs. Implementations must make Add and Claim atomic with
// respect to concurrent callers.
type Store interface {
	// Add inserts job unless a live job already holds job.Key, in which
	// case the existing id is returned with created=false.
	Add(ctx context.Context, job *Job) (id string, created bool, err error)
	// Claim leases up to limit jobs of kind that are due at now, plus any
	// active jobs whose lease expired. Each claim counts as an attempt.
	Claim(ctx context.Context, kind string, now time.Time, lease time.Duration, limit int) ([]*Job, error)
	Complete(ctx context.Context, job *Job, now time.Time) error
	Retry(ctx context.Context, job *Job, runAt time.Time, lastErr string, now time.Time) error
	Bury(ctx context.Context, job *Job, lastErr string, now time.Time) error
	// Cancel removes a pending job. Active or finished jobs return ErrJobNotPending.
	Cancel(ctx context.Context, id string, now time.Time) error
	Get(ctx context.Context, id string) (*Job, error)
	ListDead(ctx context.Context) ([]*Job, error)
	// Requeue moves a dead job back to pending with a fresh attempt budget.
	Requeue(ctx context.Context, id string, runAt time.Time) error
	Stats(ctx context.Context) (map[string]KindStats, error)
}
