package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hray3182/topicmate/internal/database"
	"github.com/hray3182/topicmate/internal/models"
)

const uniqueViolation = "23505"

type SummaryRepository struct {
	db *database.DB
}

func NewSummaryRepository(db *database.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

const summaryColumns = `id, topic_id, chat_id, thread_id, grain, period_key, text, message_count,
	period_start, period_end, model, provider, created_at`

func scanSummary(row pgx.Row) (*models.Summary, error) {
	s := &models.Summary{}
	var grain string
	err := row.Scan(&s.ID, &s.TopicID, &s.ChatID, &s.ThreadID, &grain, &s.PeriodKey, &s.Text, &s.MessageCount,
		&s.PeriodStart, &s.PeriodEnd, &s.Model, &s.Provider, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Grain = models.Grain(grain)
	return s, nil
}

func (r *SummaryRepository) Get(ctx context.Context, topicID string, grain models.Grain, periodKey string) (*models.Summary, error) {
	return scanSummary(r.db.Pool.QueryRow(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE topic_id = $1 AND grain = $2 AND period_key = $3`,
		topicID, string(grain), periodKey))
}

func (r *SummaryRepository) Create(ctx context.Context, s *models.Summary) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO summaries (id, topic_id, chat_id, thread_id, grain, period_key, text, message_count,
			period_start, period_end, model, provider)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING created_at`,
		s.ID, s.TopicID, s.ChatID, s.ThreadID, string(s.Grain), s.PeriodKey, s.Text, s.MessageCount,
		s.PeriodStart, s.PeriodEnd, s.Model, s.Provider,
	).Scan(&s.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// ListByTopic returns the newest summaries first; limit 0 means all.
func (r *SummaryRepository) ListByTopic(ctx context.Context, topicID string, limit int) ([]*models.Summary, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM summaries WHERE topic_id = $1 ORDER BY period_start DESC LIMIT NULLIF($2::int, 0)`,
		topicID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*models.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
