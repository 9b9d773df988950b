package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/topicmate/internal/database"
	"github.com/hray3182/topicmate/internal/models"
)

type TopicRepository struct {
	db *database.DB
}

func NewTopicRepository(db *database.DB) *TopicRepository {
	return &TopicRepository{db: db}
}

const topicColumns = `id, chat_id, thread_id, title, timezone, provider, model, system_prompt,
	max_context_window, auto_summary_enabled, active, message_count, last_message_at, created_at, updated_at`

func scanTopic(row pgx.Row) (*models.Topic, error) {
	t := &models.Topic{}
	err := row.Scan(&t.ID, &t.ChatID, &t.ThreadID, &t.Title, &t.Timezone, &t.Provider, &t.Model, &t.SystemPrompt,
		&t.MaxContextWindow, &t.AutoSummaryEnabled, &t.Active, &t.MessageCount, &t.LastMessageAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TopicRepository) Get(ctx context.Context, id string) (*models.Topic, error) {
	return scanTopic(r.db.Pool.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = $1`, id))
}

func (r *TopicRepository) GetByThread(ctx context.Context, chatID int64, threadID int) (*models.Topic, error) {
	return scanTopic(r.db.Pool.QueryRow(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE chat_id = $1 AND thread_id = $2`, chatID, threadID))
}

func (r *TopicRepository) Ensure(ctx context.Context, t *models.Topic) (*models.Topic, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	// The no-op update makes RETURNING yield the existing row on conflict.
	topic, err := scanTopic(r.db.Pool.QueryRow(ctx,
		`INSERT INTO topics (id, chat_id, thread_id, title, timezone, max_context_window, auto_summary_enabled, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (chat_id, thread_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
		 RETURNING `+topicColumns,
		t.ID, t.ChatID, t.ThreadID, t.Title, t.Timezone, t.MaxContextWindow, t.AutoSummaryEnabled, t.Active,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure topic: %w", err)
	}
	return topic, nil
}

func (r *TopicRepository) Update(ctx context.Context, t *models.Topic) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE topics SET title = $1, timezone = $2, provider = $3, model = $4, system_prompt = $5,
		 max_context_window = $6, auto_summary_enabled = $7, active = $8, updated_at = NOW()
		 WHERE id = $9`,
		t.Title, t.Timezone, t.Provider, t.Model, t.SystemPrompt,
		t.MaxContextWindow, t.AutoSummaryEnabled, t.Active, t.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TopicRepository) ListAutoSummary(ctx context.Context) ([]*models.Topic, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE active = true AND auto_summary_enabled = true ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topics []*models.Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func (r *TopicRepository) RecordMessage(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE topics SET message_count = message_count + 1, last_message_at = $1, updated_at = NOW() WHERE id = $2`,
		at, id,
	)
	return err
}
