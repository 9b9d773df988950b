package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/topicmate/internal/database"
	"github.com/hray3182/topicmate/internal/models"
)

type MessageRepository struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO messages (id, topic_id, chat_id, thread_id, telegram_message_id, user_id, role, content, provider, model, tokens_used)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		m.ID, m.TopicID, m.ChatID, m.ThreadID, m.TelegramMessageID, m.UserID, string(m.Role), m.Content,
		m.Provider, m.Model, m.TokensUsed,
	).Scan(&m.CreatedAt)
}

func (r *MessageRepository) Recent(ctx context.Context, topicID string, limit int) ([]*models.Message, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT * FROM (
			SELECT id, topic_id, chat_id, thread_id, telegram_message_id, user_id, role, content, provider, model, tokens_used, created_at
			FROM messages WHERE topic_id = $1 ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		topicID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func (r *MessageRepository) ListInWindow(ctx context.Context, topicID string, start, end time.Time, roles []models.Role) ([]*models.Message, error) {
	roleNames := make([]string, len(roles))
	for i, role := range roles {
		roleNames[i] = string(role)
	}
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, topic_id, chat_id, thread_id, telegram_message_id, user_id, role, content, provider, model, tokens_used, created_at
		 FROM messages
		 WHERE topic_id = $1 AND created_at >= $2 AND created_at < $3
		   AND (cardinality($4::text[]) = 0 OR role = ANY($4))
		 ORDER BY created_at ASC`,
		topicID, start, end, roleNames,
	)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func collectMessages(rows pgx.Rows) ([]*models.Message, error) {
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := &models.Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.TopicID, &m.ChatID, &m.ThreadID, &m.TelegramMessageID, &m.UserID, &role,
			&m.Content, &m.Provider, &m.Model, &m.TokensUsed, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
