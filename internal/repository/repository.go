package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hray3182/topicmate/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned by compare-and-set updates whose expected
	// state no longer matches the stored record.
	ErrConflict = errors.New("record changed concurrently")
)

type Topics interface {
	Get(ctx context.Context, id string) (*models.Topic, error)
	GetByThread(ctx context.Context, chatID int64, threadID int) (*models.Topic, error)
	// Ensure returns the topic for (chatID, threadID), creating it from t when missing.
	Ensure(ctx context.Context, t *models.Topic) (*models.Topic, error)
	Update(ctx context.Context, t *models.Topic) error
	ListAutoSummary(ctx context.Context) ([]*models.Topic, error)
	RecordMessage(ctx context.Context, id string, at time.Time) error
}

type Messages interface {
	Create(ctx context.Context, m *models.Message) error
	// Recent returns up to limit latest messages of a topic, oldest first.
	Recent(ctx context.Context, topicID string, limit int) ([]*models.Message, error)
	// ListInWindow returns messages with start <= created_at < end, oldest first.
	ListInWindow(ctx context.Context, topicID string, start, end time.Time, roles []models.Role) ([]*models.Message, error)
}

type Reminders interface {
	Create(ctx context.Context, r *models.Reminder) error
	Get(ctx context.Context, id string) (*models.Reminder, error)
	// ListScheduled returns scheduled reminders of a topic ordered by next run,
	// optionally bounded to [from, to].
	ListScheduled(ctx context.Context, topicID string, from, to *time.Time) ([]*models.Reminder, error)
	// ListOverdue returns scheduled reminders of every topic whose next run is before t.
	ListOverdue(ctx context.Context, before time.Time) ([]*models.Reminder, error)
	// CompareAndSet writes next only while the record still has the expected
	// status and run count. It returns ErrConflict otherwise.
	CompareAndSet(ctx context.Context, id string, status models.ReminderStatus, runCount int, next models.ReminderState) error
}

type Summaries interface {
	Get(ctx context.Context, topicID string, grain models.Grain, periodKey string) (*models.Summary, error)
	// Create inserts s, returning ErrDuplicate when (topic, grain, period) exists.
	Create(ctx context.Context, s *models.Summary) error
	ListByTopic(ctx context.Context, topicID string, limit int) ([]*models.Summary, error)
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}
