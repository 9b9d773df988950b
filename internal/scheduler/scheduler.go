// Package scheduler runs the periodic checks that sit next to the job
// queue: automatic topic summaries and re-arming reminders whose jobs were
// lost.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/repository"
	"github.com/hray3182/topicmate/internal/summary"
)

const (
	defaultCheckInterval = time.Minute
	defaultRearmAfter    = 2 * time.Minute
	startupDelay         = 2 * time.Second
)

type SummaryRequester interface {
	Request(ctx context.Context, topic *models.Topic, period summary.Period, deliver bool) (string, error)
}

type ReminderRearmer interface {
	Rearm(ctx context.Context, r *models.Reminder) error
}

type Options struct {
	// SummaryAt is the topic-local "HH:MM" after which the previous
	// periods are summarized.
	SummaryAt     string
	CheckInterval time.Duration
	// RearmAfter is how long a reminder may be overdue before its job is
	// considered lost.
	RearmAfter time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

type Scheduler struct {
	topics    repository.Topics
	reminders repository.Reminders
	summaries SummaryRequester
	rearmer   ReminderRearmer

	summaryHour   int
	summaryMinute int
	checkInterval time.Duration
	rearmAfter    time.Duration
	now           func() time.Time
	logger        *slog.Logger
	notifyCh      chan struct{}

	mu        sync.Mutex
	requested map[string]string // topic:grain -> last requested period key
}

func New(topics repository.Topics, reminders repository.Reminders, summaries SummaryRequester, rearmer ReminderRearmer, opts Options) (*Scheduler, error) {
	if opts.SummaryAt == "" {
		opts.SummaryAt = "03:30"
	}
	at, err := time.Parse("15:04", opts.SummaryAt)
	if err != nil {
		return nil, apperr.Configuration("invalid summary time %q, expected HH:MM", opts.SummaryAt)
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.RearmAfter <= 0 {
		opts.RearmAfter = defaultRearmAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		topics:        topics,
		reminders:     reminders,
		summaries:     summaries,
		rearmer:       rearmer,
		summaryHour:   at.Hour(),
		summaryMinute: at.Minute(),
		checkInterval: opts.CheckInterval,
		rearmAfter:    opts.RearmAfter,
		now:           opts.Now,
		logger:        logutil.OrDiscard(opts.Logger).With("component", "scheduler"),
		notifyCh:      make(chan struct{}, 1),
		requested:     make(map[string]string),
	}, nil
}

// Notify triggers an immediate check. Non-blocking if a check is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Scheduler started", "summary_at", fmt.Sprintf("%02d:%02d", s.summaryHour, s.summaryMinute))
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Wait a bit for migrations to complete before first check
	select {
	case <-ctx.Done():
		return
	case <-time.After(startupDelay):
	}

	s.recoverJobs(ctx)
	s.check(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.check(ctx)
		case <-s.notifyCh:
			s.logger.Debug("Scheduler triggered by notification")
			s.check(ctx)
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	s.checkSummaries(ctx)
	s.rearm(ctx, s.now().Add(-s.rearmAfter))
}

// recoverJobs re-enqueues every scheduled reminder. A store that lost its
// jobs (memory store after a restart, flushed Redis) is filled again; jobs
// that still exist are matched by their idempotency key.
func (s *Scheduler) recoverJobs(ctx context.Context) {
	s.rearm(ctx, s.now().AddDate(100, 0, 0))
}

func (s *Scheduler) rearm(ctx context.Context, before time.Time) {
	reminders, err := s.reminders.ListOverdue(ctx, before)
	if err != nil {
		s.logger.Error("Failed to list reminders to re-arm", "error", err)
		return
	}
	for _, r := range reminders {
		if err := s.rearmer.Rearm(ctx, r); err != nil {
			s.logger.Error("Failed to re-arm reminder", "reminder_id", r.ID, "error", err)
		}
	}
}

func (s *Scheduler) checkSummaries(ctx context.Context) {
	topics, err := s.topics.ListAutoSummary(ctx)
	if err != nil {
		s.logger.Error("Failed to list topics for summaries", "error", err)
		return
	}
	now := s.now()
	for _, topic := range topics {
		s.requestSummariesIfNeeded(ctx, topic, now)
	}
}

// requestSummariesIfNeeded asks for the previous day once the topic-local
// clock passes the summary time, plus the previous week on Mondays, month
// on the 1st and year on January 1st.
func (s *Scheduler) requestSummariesIfNeeded(ctx context.Context, topic *models.Topic, now time.Time) {
	loc := topic.Location()
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), s.summaryHour, s.summaryMinute, 0, 0, loc)
	if local.Before(at) {
		return
	}

	for _, grain := range dueGrains(local) {
		period, err := summary.Previous(grain, now, loc)
		if err != nil {
			s.logger.Error("Failed to compute summary period", "topic_id", topic.ID, "grain", grain, "error", err)
			continue
		}

		key := topic.ID + ":" + string(grain)
		s.mu.Lock()
		done := s.requested[key] == period.Key
		s.mu.Unlock()
		if done {
			continue
		}

		jobID, err := s.summaries.Request(ctx, topic, period, true)
		if err != nil {
			s.logger.Error("Failed to request summary", "topic_id", topic.ID, "grain", grain, "period", period.Key, "error", err)
			continue
		}

		s.mu.Lock()
		s.requested[key] = period.Key
		s.mu.Unlock()
		s.logger.Info("Automatic summary requested", "topic_id", topic.ID, "grain", grain, "period", period.Key, "job_id", jobID)
	}
}

func dueGrains(local time.Time) []models.Grain {
	grains := []models.Grain{models.GrainDay}
	if local.Weekday() == time.Monday {
		grains = append(grains, models.GrainWeek)
	}
	if local.Day() == 1 {
		grains = append(grains, models.GrainMonth)
	}
	if local.YearDay() == 1 {
		grains = append(grains, models.GrainYear)
	}
	return grains
}
