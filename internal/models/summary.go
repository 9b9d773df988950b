package models

import (
	"fmt"
	"strings"
	"time"
)

type Grain string

const (
	GrainDay   Grain = "day"
	GrainWeek  Grain = "week"
	GrainMonth Grain = "month"
	GrainYear  Grain = "year"
)

// ParseGrain accepts the grain names case-insensitively.
func ParseGrain(s string) (Grain, error) {
	switch g := Grain(strings.ToLower(strings.TrimSpace(s))); g {
	case GrainDay, GrainWeek, GrainMonth, GrainYear:
		return g, nil
	default:
		return "", fmt.Errorf("unknown grain %q", s)
	}
}

type Summary struct {
	ID           string    `json:"id"`
	TopicID      string    `json:"topic_id"`
	ChatID       int64     `json:"chat_id"`
	ThreadID     int       `json:"thread_id"`
	Grain        Grain     `json:"grain"`
	PeriodKey    string    `json:"period_key"`
	Text         string    `json:"text"`
	MessageCount int       `json:"message_count"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Model        string    `json:"model,omitempty"`
	Provider     string    `json:"provider,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
