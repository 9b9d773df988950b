// Package memory implements the repository contracts in process memory.
// It backs tests and single-process runs without PostgreSQL.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/repository"
)

type threadKey struct {
	chatID   int64
	threadID int
}

type TopicRepository struct {
	mu       sync.Mutex
	topics   map[string]*models.Topic
	byThread map[threadKey]string
}

func NewTopicRepository() *TopicRepository {
	return &TopicRepository{
		topics:   make(map[string]*models.Topic),
		byThread: make(map[threadKey]string),
	}
}

func (r *TopicRepository) Get(_ context.Context, id string) (*models.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *TopicRepository) GetByThread(ctx context.Context, chatID int64, threadID int) (*models.Topic, error) {
	r.mu.Lock()
	id, ok := r.byThread[threadKey{chatID, threadID}]
	r.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *TopicRepository) Ensure(_ context.Context, t *models.Topic) (*models.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := threadKey{t.ChatID, t.ThreadID}
	if id, ok := r.byThread[key]; ok {
		c := *r.topics[id]
		return &c, nil
	}

	c := *t
	if c.ID == "" {
		c.ID = repository.NewID()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	r.topics[c.ID] = &c
	r.byThread[key] = c.ID

	out := c
	return &out, nil
}

func (r *TopicRepository) Update(_ context.Context, t *models.Topic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[t.ID]; !ok {
		return repository.ErrNotFound
	}
	c := *t
	c.UpdatedAt = time.Now()
	r.topics[t.ID] = &c
	return nil
}

func (r *TopicRepository) ListAutoSummary(_ context.Context) ([]*models.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Topic
	for _, t := range r.topics {
		if t.Active && t.AutoSummaryEnabled {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *TopicRepository) RecordMessage(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.MessageCount++
	t.LastMessageAt = &at
	return nil
}

type MessageRepository struct {
	mu       sync.Mutex
	messages []*models.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{}
}

func (r *MessageRepository) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == "" {
		m.ID = repository.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	c := *m
	r.messages = append(r.messages, &c)
	return nil
}

func (r *MessageRepository) sortedFor(topicID string) []*models.Message {
	var out []*models.Message
	for _, m := range r.messages {
		if m.TopicID == topicID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MessageRepository) Recent(_ context.Context, topicID string, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.sortedFor(topicID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (r *MessageRepository) ListInWindow(_ context.Context, topicID string, start, end time.Time, roles []models.Role) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Message
	for _, m := range r.sortedFor(topicID) {
		if m.CreatedAt.Before(start) || !m.CreatedAt.Before(end) {
			continue
		}
		if len(roles) > 0 && !slices.Contains(roles, m.Role) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

type ReminderRepository struct {
	mu        sync.Mutex
	reminders map[string]*models.Reminder
}

func NewReminderRepository() *ReminderRepository {
	return &ReminderRepository{reminders: make(map[string]*models.Reminder)}
}

func cloneReminder(r *models.Reminder) *models.Reminder {
	c := *r
	if r.Repeat != nil {
		rule := *r.Repeat
		rule.ByDay = slices.Clone(r.Repeat.ByDay)
		c.Repeat = &rule
	}
	return &c
}

func (r *ReminderRepository) Create(_ context.Context, reminder *models.Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reminder.ID == "" {
		reminder.ID = repository.NewID()
	}
	if _, ok := r.reminders[reminder.ID]; ok {
		return repository.ErrDuplicate
	}
	now := time.Now()
	reminder.CreatedAt, reminder.UpdatedAt = now, now
	r.reminders[reminder.ID] = cloneReminder(reminder)
	return nil
}

func (r *ReminderRepository) Get(_ context.Context, id string) (*models.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reminder, ok := r.reminders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneReminder(reminder), nil
}

func (r *ReminderRepository) ListScheduled(_ context.Context, topicID string, from, to *time.Time) ([]*models.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Reminder
	for _, reminder := range r.reminders {
		if reminder.TopicID != topicID || reminder.Status != models.ReminderScheduled {
			continue
		}
		if from != nil && (reminder.NextRunAt == nil || reminder.NextRunAt.Before(*from)) {
			continue
		}
		if to != nil && (reminder.NextRunAt == nil || reminder.NextRunAt.After(*to)) {
			continue
		}
		out = append(out, cloneReminder(reminder))
	}
	sortByNextRun(out)
	return out, nil
}

func (r *ReminderRepository) ListOverdue(_ context.Context, before time.Time) ([]*models.Reminder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Reminder
	for _, reminder := range r.reminders {
		if reminder.Status == models.ReminderScheduled && reminder.NextRunAt != nil && reminder.NextRunAt.Before(before) {
			out = append(out, cloneReminder(reminder))
		}
	}
	sortByNextRun(out)
	return out, nil
}

func sortByNextRun(reminders []*models.Reminder) {
	sort.Slice(reminders, func(i, j int) bool {
		a, b := reminders[i].NextRunAt, reminders[j].NextRunAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}

func (r *ReminderRepository) CompareAndSet(_ context.Context, id string, status models.ReminderStatus, runCount int, next models.ReminderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reminder, ok := r.reminders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if reminder.Status != status || reminder.RunCount != runCount || next.RunCount < runCount {
		return repository.ErrConflict
	}
	reminder.Apply(next)
	reminder.UpdatedAt = time.Now()
	return nil
}

type summaryKey struct {
	topicID   string
	grain     models.Grain
	periodKey string
}

type SummaryRepository struct {
	mu        sync.Mutex
	summaries map[summaryKey]*models.Summary
}

func NewSummaryRepository() *SummaryRepository {
	return &SummaryRepository{summaries: make(map[summaryKey]*models.Summary)}
}

func (r *SummaryRepository) Get(_ context.Context, topicID string, grain models.Grain, periodKey string) (*models.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.summaries[summaryKey{topicID, grain, periodKey}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *SummaryRepository) Create(_ context.Context, s *models.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := summaryKey{s.TopicID, s.Grain, s.PeriodKey}
	if _, ok := r.summaries[key]; ok {
		return repository.ErrDuplicate
	}
	if s.ID == "" {
		s.ID = repository.NewID()
	}
	s.CreatedAt = time.Now()
	c := *s
	r.summaries[key] = &c
	return nil
}

func (r *SummaryRepository) ListByTopic(_ context.Context, topicID string, limit int) ([]*models.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Summary
	for k, s := range r.summaries {
		if k.topicID == topicID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.After(out[j].PeriodStart) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Compile-time checks.
var (
	_ repository.Topics    = (*TopicRepository)(nil)
	_ repository.Messages  = (*MessageRepository)(nil)
	_ repository.Reminders = (*ReminderRepository)(nil)
	_ repository.Summaries = (*SummaryRepository)(nil)
)
