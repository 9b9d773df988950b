// Package reminder creates, cancels and fires reminders. Firing runs as a
// queue job; every state change goes through a compare-and-set on
// (status, run count) so duplicate or stale jobs become no-ops.
package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/rrule"
)

// JobKind is the queue kind for reminder deliveries.
const JobKind = "reminder"

// Payload identifies one occurrence of a reminder.
type Payload struct {
	ReminderID string `json:"reminderId"`
	RunCount   int    `json:"runCount"`
}

// JobKey is the idempotency key of the occurrence after runCount deliveries.
func JobKey(id string, runCount int) string {
	return fmt.Sprintf("reminder:%s:%d", id, runCount)
}

// Jobs is the part of the queue used to schedule occurrences.
type Jobs interface {
	Enqueue(ctx context.Context, kind string, payload any, delay time.Duration, key string) (string, error)
	Cancel(ctx context.Context, id string) error
}

// Sender delivers text to a topic and returns the message id.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, threadID int, text string) (int, error)
}

// Text renders the delivery message for r.
func Text(r *models.Reminder) string {
	text := "⏰ **Reminder**\n\n" + r.Title
	if r.Description != "" {
		text += "\n\n" + r.Description
	}
	if r.IsRecurring() {
		text += "\n\n🔄 " + rrule.Describe(r.Repeat)
	}
	return text
}
