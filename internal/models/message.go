package models

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	ID                string    `json:"id"`
	TopicID           string    `json:"topic_id"`
	ChatID            int64     `json:"chat_id"`
	ThreadID          int       `json:"thread_id"`
	TelegramMessageID int       `json:"telegram_message_id,omitempty"`
	UserID            int64     `json:"user_id,omitempty"`
	Role              Role      `json:"role"`
	Content           string    `json:"content"`
	Provider          string    `json:"provider,omitempty"`
	Model             string    `json:"model,omitempty"`
	TokensUsed        int       `json:"tokens_used,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
