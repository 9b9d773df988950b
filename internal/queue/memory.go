package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. Jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	keys map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		keys: make(map[string]string),
	}
}

func (s *MemoryStore) Add(_ context.Context, job *Job) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Key != "" {
		if id, ok := s.keys[job.Key]; ok {
			if existing, ok := s.jobs[id]; ok && existing.live() {
				return id, false, nil
			}
		}
		s.keys[job.Key] = job.ID
	}
	s.jobs[job.ID] = job.clone()
	return job.ID, true, nil
}

func (s *MemoryStore) Claim(_ context.Context, kind string, now time.Time, lease time.Duration, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, j := range s.jobs {
		if j.Kind != kind {
			continue
		}
		switch {
		case j.State == StatePending && !j.RunAt.After(now):
			due = append(due, j)
		case j.State == StateActive && !j.LeaseUntil.After(now):
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		return due[a].RunAt.Before(due[b].RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Job, 0, len(due))
	for _, j := range due {
		j.State = StateActive
		j.LeaseUntil = now.Add(lease)
		j.Attempts++
		j.UpdatedAt = now
		claimed = append(claimed, j.clone())
	}
	return claimed, nil
}

func (s *MemoryStore) Complete(_ context.Context, job *Job, now time.Time) error {
	return s.finish(job.ID, StateDone, "", now)
}

func (s *MemoryStore) Bury(_ context.Context, job *Job, lastErr string, now time.Time) error {
	return s.finish(job.ID, StateDead, lastErr, now)
}

func (s *MemoryStore) Cancel(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.State != StatePending {
		return ErrJobNotPending
	}
	s.finishLocked(j, StateCancelled, "", now)
	return nil
}

func (s *MemoryStore) finish(id string, state State, lastErr string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	s.finishLocked(j, state, lastErr, now)
	return nil
}

func (s *MemoryStore) finishLocked(j *Job, state State, lastErr string, now time.Time) {
	j.State = state
	j.LeaseUntil = time.Time{}
	j.UpdatedAt = now
	if lastErr != "" {
		j.LastError = lastErr
	}
	if j.Key != "" && s.keys[j.Key] == j.ID {
		delete(s.keys, j.Key)
	}
}

func (s *MemoryStore) Retry(_ context.Context, job *Job, runAt time.Time, lastErr string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	j.State = StatePending
	j.RunAt = runAt
	j.LeaseUntil = time.Time{}
	j.LastError = lastErr
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.clone(), nil
}

func (s *MemoryStore) ListDead(_ context.Context) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []*Job
	for _, j := range s.jobs {
		if j.State == StateDead {
			dead = append(dead, j.clone())
		}
	}
	sort.Slice(dead, func(a, b int) bool {
		return dead[a].UpdatedAt.Before(dead[b].UpdatedAt)
	})
	return dead, nil
}

func (s *MemoryStore) Requeue(_ context.Context, id string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.State != StateDead {
		return ErrJobNotDead
	}
	j.State = StatePending
	j.Attempts = 0
	j.RunAt = runAt
	j.UpdatedAt = runAt
	if j.Key != "" {
		if _, taken := s.keys[j.Key]; !taken {
			s.keys[j.Key] = id
		}
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (map[string]KindStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]KindStats)
	for _, j := range s.jobs {
		st := stats[j.Kind]
		switch j.State {
		case StatePending:
			st.Pending++
		case StateActive:
			st.Active++
		case StateDead:
			st.Dead++
		default:
			continue
		}
		stats[j.Kind] = st
	}
	return stats, nil
}
