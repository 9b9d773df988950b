package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/queue"
	"github.com/hray3182/topicmate/internal/repository"
	"github.com/hray3182/topicmate/internal/rrule"
)

// maxSkipped bounds the catch-up loop after long downtime.
const maxSkipped = 1000

// Executor is the queue handler for JobKind.
type Executor struct {
	reminders repository.Reminders
	jobs      Jobs
	sender    Sender
	now       func() time.Time
	logger    *slog.Logger
}

func NewExecutor(reminders repository.Reminders, jobs Jobs, sender Sender, now func() time.Time, logger *slog.Logger) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		reminders: reminders,
		jobs:      jobs,
		sender:    sender,
		now:       now,
		logger:    logutil.OrDiscard(logger).With("component", "reminder_executor"),
	}
}

func (e *Executor) Handle(ctx context.Context, job *queue.Job) error {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}
	logger := e.logger.With("reminder_id", p.ReminderID, "run_count", p.RunCount)

	r, err := e.reminders.Get(ctx, p.ReminderID)
	if errors.Is(err, repository.ErrNotFound) {
		return queue.Permanent(apperr.NotFound("reminder", p.ReminderID))
	}
	if err != nil {
		return fmt.Errorf("failed to load reminder: %w", err)
	}
	if r.Status != models.ReminderScheduled || r.RunCount != p.RunCount {
		logger.Debug("Stale reminder job skipped", "status", r.Status, "current_run_count", r.RunCount)
		return nil
	}

	if _, err := e.sender.SendMessage(ctx, r.ChatID, r.ThreadID, Text(r)); err != nil {
		return apperr.Delivery(err)
	}

	now := e.now()
	occurrence := r.DueAt
	if r.NextRunAt != nil {
		occurrence = *r.NextRunAt
	}
	runCount := r.RunCount + 1

	next, skipped, err := nextOccurrence(r, occurrence, runCount, now)
	if err != nil {
		logger.Warn("Failed to compute next run, ending series", "error", err)
		next = nil
	}
	if skipped > 0 {
		logger.Info("Skipped missed occurrences", "count", skipped)
	}

	state := r.State()
	state.RunCount = runCount
	state.LastRunAt = &now
	state.LastError = ""

	var nextJobID string
	if next != nil {
		nextJobID, err = e.jobs.Enqueue(ctx, JobKind, Payload{ReminderID: r.ID, RunCount: runCount}, next.Sub(now), JobKey(r.ID, runCount))
		if err != nil {
			return fmt.Errorf("failed to enqueue next occurrence: %w", err)
		}
		state.Status = models.ReminderScheduled
		state.JobID = nextJobID
		state.NextRunAt = next
	} else {
		state.Status = models.ReminderSent
		state.JobID = ""
		state.NextRunAt = nil
	}

	err = e.reminders.CompareAndSet(ctx, r.ID, models.ReminderScheduled, r.RunCount, state)
	if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrNotFound) {
		logger.Info("Reminder changed while firing", "error", err)
		if nextJobID != "" {
			if cerr := e.jobs.Cancel(ctx, nextJobID); cerr != nil {
				logger.Warn("Failed to remove next occurrence job", "job_id", nextJobID, "error", cerr)
			}
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}

	if next != nil {
		logger.Info("Reminder sent, next occurrence scheduled", "next_run_at", next.Format(time.RFC3339))
	} else {
		logger.Info("Reminder sent")
	}
	return nil
}

// nextOccurrence returns the first occurrence after now. Occurrences missed
// while the bot was down are skipped rather than sent in a burst; they do
// not count towards the rule's count.
func nextOccurrence(r *models.Reminder, occurrence time.Time, runCount int, now time.Time) (*time.Time, int, error) {
	next, err := rrule.NextRunFrom(r.Repeat, r.DueAt, occurrence, runCount, now, r.Location())
	skipped := 0
	for err == nil && next != nil && !next.After(now) && skipped < maxSkipped {
		next, err = rrule.NextRunFrom(r.Repeat, r.DueAt, *next, runCount, now, r.Location())
		skipped++
	}
	return next, skipped, err
}

// OnDeadLetter marks the reminder failed once its job runs out of attempts.
func (e *Executor) OnDeadLetter(ctx context.Context, job *queue.Job, cause error) {
	var p Payload
	if err := job.Decode(&p); err != nil {
		e.logger.Error("Failed to decode dead reminder job", "job_id", job.ID, "error", err)
		return
	}
	r, err := e.reminders.Get(ctx, p.ReminderID)
	if err != nil {
		e.logger.Warn("Dead reminder job without reminder", "reminder_id", p.ReminderID, "error", err)
		return
	}
	if r.Status != models.ReminderScheduled || r.RunCount != p.RunCount {
		return
	}

	state := r.State()
	state.Status = models.ReminderFailed
	state.NextRunAt = nil
	state.JobID = ""
	if cause != nil {
		state.LastError = cause.Error()
	}
	if err := e.reminders.CompareAndSet(ctx, r.ID, models.ReminderScheduled, r.RunCount, state); err != nil {
		e.logger.Error("Failed to mark reminder failed", "reminder_id", r.ID, "error", err)
		return
	}
	e.logger.Error("Reminder failed", "reminder_id", r.ID, "error", cause)
}
