package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateDone      State = "done"
	StateDead      State = "dead"
	StateCancelled State = "cancelled"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotPending is returned when cancelling a job that is already running or finished.
	ErrJobNotPending = errors.New("job is not pending")
	ErrJobNotDead    = errors.New("job is not dead")
)

// Job is one unit of delayed work. Payload holds record ids only; handlers
// load current state from the repository.
type Job struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Key         string          `json:"key,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	State       State           `json:"state"`
	LeaseUntil  time.Time       `json:"lease_until,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s job payload: %w", j.Kind, err)
	}
	return nil
}

func (j *Job) live() bool {
	return j.State == StatePending || j.State == StateActive
}

func (j *Job) clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	return &c
}

type KindStats struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
	Dead    int `json:"dead"`
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job goes straight to the
// dead-letter set.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
