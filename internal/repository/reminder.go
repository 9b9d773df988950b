package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/topicmate/internal/database"
	"github.com/hray3182/topicmate/internal/models"
)

type ReminderRepository struct {
	db *database.DB
}

func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, topic_id, chat_id, thread_id, user_id, title, description, due_at, timezone,
	status, repeat, job_id, next_run_at, last_run_at, run_count, last_error, created_by, created_at, updated_at`

func scanReminder(row pgx.Row) (*models.Reminder, error) {
	r := &models.Reminder{}
	var status string
	err := row.Scan(&r.ID, &r.TopicID, &r.ChatID, &r.ThreadID, &r.UserID, &r.Title, &r.Description, &r.DueAt, &r.Timezone,
		&status, &r.Repeat, &r.JobID, &r.NextRunAt, &r.LastRunAt, &r.RunCount, &r.LastError, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = models.ReminderStatus(status)
	return r, nil
}

func collectReminders(rows pgx.Rows) ([]*models.Reminder, error) {
	defer rows.Close()

	var reminders []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (r *ReminderRepository) Create(ctx context.Context, reminder *models.Reminder) error {
	if reminder.ID == "" {
		reminder.ID = NewID()
	}
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO reminders (id, topic_id, chat_id, thread_id, user_id, title, description, due_at, timezone,
			status, repeat, job_id, next_run_at, run_count, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING created_at, updated_at`,
		reminder.ID, reminder.TopicID, reminder.ChatID, reminder.ThreadID, reminder.UserID, reminder.Title,
		reminder.Description, reminder.DueAt, reminder.Timezone, string(reminder.Status), reminder.Repeat,
		reminder.JobID, reminder.NextRunAt, reminder.RunCount, reminder.CreatedBy,
	).Scan(&reminder.CreatedAt, &reminder.UpdatedAt)
}

func (r *ReminderRepository) Get(ctx context.Context, id string) (*models.Reminder, error) {
	return scanReminder(r.db.Pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id))
}

func (r *ReminderRepository) ListScheduled(ctx context.Context, topicID string, from, to *time.Time) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE topic_id = $1 AND status = 'scheduled'
		   AND ($2::timestamptz IS NULL OR next_run_at >= $2)
		   AND ($3::timestamptz IS NULL OR next_run_at <= $3)
		 ORDER BY next_run_at ASC NULLS LAST`,
		topicID, from, to,
	)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

func (r *ReminderRepository) ListOverdue(ctx context.Context, before time.Time) ([]*models.Reminder, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+reminderColumns+` FROM reminders
		 WHERE status = 'scheduled' AND next_run_at IS NOT NULL AND next_run_at < $1
		 ORDER BY next_run_at ASC`,
		before,
	)
	if err != nil {
		return nil, err
	}
	return collectReminders(rows)
}

func (r *ReminderRepository) CompareAndSet(ctx context.Context, id string, status models.ReminderStatus, runCount int, next models.ReminderState) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE reminders SET status = $1, run_count = $2, job_id = $3, next_run_at = $4, last_run_at = $5,
			last_error = $6, updated_at = NOW()
		 WHERE id = $7 AND status = $8 AND run_count = $9 AND run_count <= $2`,
		string(next.Status), next.RunCount, next.JobID, next.NextRunAt, next.LastRunAt, next.LastError,
		id, string(status), runCount,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reminders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
