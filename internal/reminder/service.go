package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/queue"
	"github.com/hray3182/topicmate/internal/repository"
	"github.com/hray3182/topicmate/internal/rrule"
)

const maxCancelAttempts = 3

type CreateInput struct {
	TopicID     string
	UserID      int64
	Title       string
	Description string
	DueAt       time.Time
	Timezone    string // empty uses the topic timezone
	Repeat      *models.RepeatRule
	CreatedBy   string
}

type Service struct {
	reminders repository.Reminders
	topics    repository.Topics
	jobs      Jobs
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(reminders repository.Reminders, topics repository.Topics, jobs Jobs, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		reminders: reminders,
		topics:    topics,
		jobs:      jobs,
		now:       now,
		logger:    logutil.OrDiscard(logger).With("component", "reminder"),
	}
}

func (s *Service) validate(in CreateInput, now time.Time) error {
	if strings.TrimSpace(in.Title) == "" {
		return apperr.Validation("reminder title is required")
	}
	if in.DueAt.IsZero() {
		return apperr.Validation("reminder due time is required")
	}
	if !in.DueAt.After(now) {
		return apperr.Validation("due time %s is in the past", in.DueAt.UTC().Format(time.RFC3339))
	}
	if in.Repeat != nil {
		if in.Repeat.Freq == models.FreqCron {
			return apperr.Unsupported("cron repeat rules are not supported, use DAILY, WEEKLY or MONTHLY")
		}
		if err := rrule.Validate(in.Repeat); err != nil {
			return apperr.Validation("%s", err.Error())
		}
		if in.Repeat.Until != nil && in.Repeat.Until.Before(in.DueAt) {
			return apperr.Validation("repeat until must not be before the due time")
		}
	}
	if in.Timezone != "" {
		if _, err := time.LoadLocation(in.Timezone); err != nil {
			return apperr.Validation("unknown timezone %q", in.Timezone)
		}
	}
	return nil
}

// Create persists a scheduled reminder and enqueues its first occurrence.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Reminder, error) {
	now := s.now()
	if err := s.validate(in, now); err != nil {
		return nil, err
	}

	topic, err := s.topics.Get(ctx, in.TopicID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("topic", in.TopicID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}

	tz := in.Timezone
	if tz == "" {
		tz = topic.Timezone
	}
	due := in.DueAt
	r := &models.Reminder{
		ID:          repository.NewID(),
		TopicID:     topic.ID,
		ChatID:      topic.ChatID,
		ThreadID:    topic.ThreadID,
		UserID:      in.UserID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		DueAt:       due,
		Timezone:    tz,
		Status:      models.ReminderScheduled,
		Repeat:      in.Repeat,
		NextRunAt:   &due,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.reminders.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create reminder: %w", err)
	}

	jobID, err := s.jobs.Enqueue(ctx, JobKind, Payload{ReminderID: r.ID, RunCount: 0}, due.Sub(now), JobKey(r.ID, 0))
	if err != nil {
		failed := r.State()
		failed.Status = models.ReminderFailed
		failed.NextRunAt = nil
		failed.LastError = err.Error()
		if cerr := s.reminders.CompareAndSet(ctx, r.ID, models.ReminderScheduled, 0, failed); cerr != nil {
			s.logger.Error("Failed to mark unscheduled reminder", "reminder_id", r.ID, "error", cerr)
		}
		return nil, fmt.Errorf("failed to schedule reminder: %w", err)
	}

	next := r.State()
	next.JobID = jobID
	err = s.reminders.CompareAndSet(ctx, r.ID, models.ReminderScheduled, 0, next)
	switch {
	case err == nil:
		r.Apply(next)
	case errors.Is(err, repository.ErrConflict):
		// Already fired.
		if current, gerr := s.reminders.Get(ctx, r.ID); gerr == nil {
			r = current
		}
	default:
		return nil, fmt.Errorf("failed to record reminder job: %w", err)
	}

	s.logger.Info("Reminder created", "reminder_id", r.ID, "topic_id", r.TopicID, "due_at", r.DueAt, "job_id", jobID)
	return r, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Reminder, error) {
	r, err := s.reminders.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("reminder", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

// List returns the scheduled reminders of a topic ordered by next run,
// optionally limited to next runs within [from, to].
func (s *Service) List(ctx context.Context, topicID string, from, to *time.Time) ([]*models.Reminder, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperr.Validation("range end is before range start")
	}
	reminders, err := s.reminders.ListScheduled(ctx, topicID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return reminders, nil
}

// Cancel moves a scheduled reminder to cancelled and removes its pending
// job. A job that cannot be removed is left to find the reminder cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Reminder, error) {
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Status != models.ReminderScheduled {
			return nil, apperr.Validation("reminder %s is already %s", id, r.Status)
		}

		if r.JobID != "" {
			if err := s.jobs.Cancel(ctx, r.JobID); err != nil && !errors.Is(err, queue.ErrJobNotFound) {
				s.logger.Warn("Failed to remove reminder job", "reminder_id", id, "job_id", r.JobID, "error", err)
			}
		}

		next := r.State()
		next.Status = models.ReminderCancelled
		next.NextRunAt = nil
		next.JobID = ""
		err = s.reminders.CompareAndSet(ctx, id, models.ReminderScheduled, r.RunCount, next)
		if errors.Is(err, repository.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to cancel reminder: %w", err)
		}

		r.Apply(next)
		s.logger.Info("Reminder cancelled", "reminder_id", id)
		return r, nil
	}
	return nil, apperr.Internal(fmt.Errorf("reminder %s kept changing while cancelling", id))
}

// Rearm re-enqueues the current occurrence of a scheduled reminder. The
// per-occurrence key collapses it into the existing job when that one is
// still alive.
func (s *Service) Rearm(ctx context.Context, r *models.Reminder) error {
	if r.Status != models.ReminderScheduled || r.NextRunAt == nil {
		return nil
	}
	jobID, err := s.jobs.Enqueue(ctx, JobKind, Payload{ReminderID: r.ID, RunCount: r.RunCount}, r.NextRunAt.Sub(s.now()), JobKey(r.ID, r.RunCount))
	if err != nil {
		return fmt.Errorf("failed to re-enqueue reminder: %w", err)
	}
	if jobID == r.JobID {
		return nil
	}

	next := r.State()
	next.JobID = jobID
	if err := s.reminders.CompareAndSet(ctx, r.ID, models.ReminderScheduled, r.RunCount, next); err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("failed to record reminder job: %w", err)
	}
	s.logger.Info("Reminder re-armed", "reminder_id", r.ID, "job_id", jobID)
	return nil
}
