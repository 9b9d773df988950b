package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/repository"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, delay time.Duration, key string) (string, error)
}

// Result is either an existing summary or a generation request.
type Result struct {
	Summary    *models.Summary
	Generating bool
	JobID      string
	Period     Period
}

type Service struct {
	topics    repository.Topics
	summaries repository.Summaries
	jobs      Enqueuer
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(topics repository.Topics, summaries repository.Summaries, jobs Enqueuer, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		topics:    topics,
		summaries: summaries,
		jobs:      jobs,
		now:       now,
		logger:    logutil.OrDiscard(logger).With("component", "summary_service"),
	}
}

// Get returns the summary of the period containing date, or enqueues its
// generation. A zero date means today in the topic timezone.
func (s *Service) Get(ctx context.Context, topicID string, grain models.Grain, date time.Time) (*Result, error) {
	return s.get(ctx, topicID, grain, date, false)
}

// Post is Get for chat commands: a summary generated on demand is posted
// to the topic once ready.
func (s *Service) Post(ctx context.Context, topicID string, grain models.Grain, date time.Time) (*Result, error) {
	return s.get(ctx, topicID, grain, date, true)
}

func (s *Service) get(ctx context.Context, topicID string, grain models.Grain, date time.Time, deliver bool) (*Result, error) {
	topic, err := s.topics.Get(ctx, topicID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("topic", topicID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	if date.IsZero() {
		date = s.now()
	}
	period, err := PeriodFor(grain, date, topic.Location())
	if err != nil {
		return nil, err
	}

	existing, err := s.summaries.Get(ctx, topic.ID, grain, period.Key)
	if err == nil {
		return &Result{Summary: existing, Period: period}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	jobID, err := s.Request(ctx, topic, period, deliver)
	if err != nil {
		return nil, err
	}
	return &Result{Generating: true, JobID: jobID, Period: period}, nil
}

// Request enqueues generation of period for topic. Repeated requests while
// a job is pending collapse into it. Delivering and silent requests use
// separate keys so a pending silent job never swallows a delivery.
func (s *Service) Request(ctx context.Context, topic *models.Topic, period Period, deliver bool) (string, error) {
	payload := Payload{
		TopicID: topic.ID,
		Grain:   period.Grain,
		Date:    period.Start.Format("2006-01-02"),
		Deliver: deliver,
	}
	key := JobKey(topic.ID, period.Grain, period.Key)
	if deliver {
		key += ":post"
	}
	jobID, err := s.jobs.Enqueue(ctx, JobKind, payload, 0, key)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue summary: %w", err)
	}
	s.logger.Info("Summary requested", "topic_id", topic.ID, "grain", period.Grain, "period", period.Key, "job_id", jobID)
	return jobID, nil
}

func (s *Service) Recent(ctx context.Context, topicID string, limit int) ([]*models.Summary, error) {
	summaries, err := s.summaries.ListByTopic(ctx, topicID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	return summaries, nil
}
