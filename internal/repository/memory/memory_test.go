package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/repository"
)

func TestTopicRepository_EnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewTopicRepository()

	first, err := repo.Ensure(ctx, models.NewTopic(-100, 7, "Planning", ""))
	require.NoError(t, err)
	second, err := repo.Ensure(ctx, models.NewTopic(-100, 7, "Renamed", ""))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Planning", second.Title)
	assert.Equal(t, models.DefaultTimezone, second.Timezone)

	got, err := repo.GetByThread(ctx, -100, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = repo.GetByThread(ctx, -100, 8)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMessageRepository_RecentAndWindow(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	roles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleTool, models.RoleUser}
	for i, role := range roles {
		require.NoError(t, repo.Create(ctx, &models.Message{
			TopicID:   "t1",
			Role:      role,
			Content:   string(role),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	recent, err := repo.Recent(ctx, "t1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.RoleTool, recent[0].Role)
	assert.Equal(t, models.RoleUser, recent[1].Role)

	window, err := repo.ListInWindow(ctx, "t1", base, base.Add(3*time.Hour), []models.Role{models.RoleUser, models.RoleAssistant})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, models.RoleUser, window[0].Role)
	assert.Equal(t, models.RoleAssistant, window[1].Role)
}

func TestReminderRepository_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewReminderRepository()

	due := time.Now().Add(time.Hour)
	reminder := &models.Reminder{TopicID: "t1", Title: "Stand-up", DueAt: due, NextRunAt: &due, Status: models.ReminderScheduled}
	require.NoError(t, repo.Create(ctx, reminder))

	next := reminder.State()
	next.Status = models.ReminderSent
	next.RunCount = 1
	require.NoError(t, repo.CompareAndSet(ctx, reminder.ID, models.ReminderScheduled, 0, next))

	// Second writer with the stale expectation loses.
	err := repo.CompareAndSet(ctx, reminder.ID, models.ReminderScheduled, 0, next)
	assert.ErrorIs(t, err, repository.ErrConflict)

	// Run count never goes backwards.
	back := next
	back.RunCount = 0
	err = repo.CompareAndSet(ctx, reminder.ID, models.ReminderSent, 1, back)
	assert.ErrorIs(t, err, repository.ErrConflict)

	err = repo.CompareAndSet(ctx, "missing", models.ReminderScheduled, 0, next)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := repo.Get(ctx, reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderSent, got.Status)
	assert.Equal(t, 1, got.RunCount)
}

func TestReminderRepository_ListScheduledRange(t *testing.T) {
	ctx := context.Background()
	repo := NewReminderRepository()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, status := range []models.ReminderStatus{models.ReminderScheduled, models.ReminderScheduled, models.ReminderCancelled, models.ReminderScheduled} {
		next := base.Add(time.Duration(3-i) * 24 * time.Hour)
		require.NoError(t, repo.Create(ctx, &models.Reminder{TopicID: "t1", Title: "r", Status: status, DueAt: next, NextRunAt: &next}))
	}

	all, err := repo.ListScheduled(ctx, "t1", nil, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].NextRunAt.Before(*all[1].NextRunAt))

	from := base.Add(24 * time.Hour)
	to := base.Add(2 * 24 * time.Hour)
	ranged, err := repo.ListScheduled(ctx, "t1", &from, &to)
	require.NoError(t, err)
	assert.Len(t, ranged, 1)
}

func TestSummaryRepository_UniquePeriod(t *testing.T) {
	ctx := context.Background()
	repo := NewSummaryRepository()

	s := &models.Summary{TopicID: "t1", Grain: models.GrainDay, PeriodKey: "2025-06-01", Text: "a"}
	require.NoError(t, repo.Create(ctx, s))
	err := repo.Create(ctx, &models.Summary{TopicID: "t1", Grain: models.GrainDay, PeriodKey: "2025-06-01", Text: "b"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	got, err := repo.Get(ctx, "t1", models.GrainDay, "2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Text)
}
