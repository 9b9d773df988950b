package models

import "time"

const (
	DefaultTimezone      = "Europe/Berlin"
	DefaultContextWindow = 50
)

// Topic is one forum thread of a chat. ThreadID is 0 for the general topic
// and for plain (non-forum) chats.
type Topic struct {
	ID                 string     `json:"id"`
	ChatID             int64      `json:"chat_id"`
	ThreadID           int        `json:"thread_id"`
	Title              string     `json:"title"`
	Timezone           string     `json:"timezone"`
	Provider           string     `json:"provider,omitempty"`
	Model              string     `json:"model,omitempty"`
	SystemPrompt       string     `json:"system_prompt,omitempty"`
	MaxContextWindow   int        `json:"max_context_window"`
	AutoSummaryEnabled bool       `json:"auto_summary_enabled"`
	Active             bool       `json:"active"`
	MessageCount       int        `json:"message_count"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// NewTopic creates a Topic with default settings
func NewTopic(chatID int64, threadID int, title, timezone string) *Topic {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	return &Topic{
		ChatID:             chatID,
		ThreadID:           threadID,
		Title:              title,
		Timezone:           timezone,
		MaxContextWindow:   DefaultContextWindow,
		AutoSummaryEnabled: true,
		Active:             true,
	}
}

func (t *Topic) Location() *time.Location {
	return LoadLocation(t.Timezone)
}
