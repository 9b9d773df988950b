package models

import (
	"time"
)

type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSent      ReminderStatus = "sent"
	ReminderCancelled ReminderStatus = "cancelled"
	ReminderFailed    ReminderStatus = "failed"
)

type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqCron    Frequency = "CRON"
)

// RepeatRule describes how a reminder recurs. Weekday codes in ByDay are
// two-letter RFC 5545 names (MO..SU).
type RepeatRule struct {
	Freq     Frequency  `json:"freq"`
	Interval int        `json:"interval,omitempty"`
	ByDay    []string   `json:"byDay,omitempty"`
	Cron     string     `json:"cron,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
	Count    int        `json:"count,omitempty"`
}

// EffectiveInterval returns Interval, treating zero as 1.
func (r *RepeatRule) EffectiveInterval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

type Reminder struct {
	ID          string         `json:"id"`
	TopicID     string         `json:"topic_id"`
	ChatID      int64          `json:"chat_id"`
	ThreadID    int            `json:"thread_id"`
	UserID      int64          `json:"user_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	DueAt       time.Time      `json:"due_at"`
	Timezone    string         `json:"timezone"`
	Status      ReminderStatus `json:"status"`
	Repeat      *RepeatRule    `json:"repeat,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
	NextRunAt   *time.Time     `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	RunCount    int            `json:"run_count"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsRecurring returns true if this reminder has a repeat rule
func (r *Reminder) IsRecurring() bool {
	return r.Repeat != nil
}

// Location resolves the reminder timezone, falling back to UTC.
func (r *Reminder) Location() *time.Location {
	return LoadLocation(r.Timezone)
}

// ReminderState is the mutable part of a reminder written by a
// compare-and-set update.
type ReminderState struct {
	Status    ReminderStatus
	RunCount  int
	JobID     string
	NextRunAt *time.Time
	LastRunAt *time.Time
	LastError string
}

// State captures the reminder's current mutable fields.
func (r *Reminder) State() ReminderState {
	return ReminderState{
		Status:    r.Status,
		RunCount:  r.RunCount,
		JobID:     r.JobID,
		NextRunAt: r.NextRunAt,
		LastRunAt: r.LastRunAt,
		LastError: r.LastError,
	}
}

// Apply copies s onto the reminder.
func (r *Reminder) Apply(s ReminderState) {
	r.Status = s.Status
	r.RunCount = s.RunCount
	r.JobID = s.JobID
	r.NextRunAt = s.NextRunAt
	r.LastRunAt = s.LastRunAt
	r.LastError = s.LastError
}

// LoadLocation loads a tz database name, returning UTC when it is empty or unknown.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
