package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/rrule"
	"github.com/hray3182/topicmate/internal/telegram"
)

func (h *Handlers) handleReminderList(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	reminders, err := h.reminders.List(ctx, topic.ID, nil, nil)
	if err != nil {
		h.logger.Error("Failed to list reminders", "topic_id", topic.ID, "error", err)
		h.sendMessage(ctx, msg, apperr.UserMessage(err))
		return
	}

	if len(reminders) == 0 {
		h.sendMessage(ctx, msg, "⏰ No scheduled reminders in this topic.")
		return
	}

	loc := topic.Location()
	var sb strings.Builder
	sb.WriteString("⏰ **Scheduled reminders**\n\n")
	for i, r := range reminders {
		due := r.DueAt
		if r.NextRunAt != nil {
			due = *r.NextRunAt
		}
		fmt.Fprintf(&sb, "**%d.** %s\n", i+1, r.Title)
		fmt.Fprintf(&sb, "   📅 %s", due.In(loc).Format("2006-01-02 15:04"))
		if r.IsRecurring() {
			fmt.Fprintf(&sb, " · 🔄 %s", rrule.Describe(r.Repeat))
		}
		fmt.Fprintf(&sb, "\n   🆔 `%s`\n\n", r.ID)
	}
	sb.WriteString("Cancel one with /cancel <id>")
	h.sendMessage(ctx, msg, sb.String())
}

func (h *Handlers) handleReminderCancel(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		h.sendMessage(ctx, msg, "Usage: /cancel <id>\nUse /reminders to see the ids.")
		return
	}

	// Only reminders of the current topic can be cancelled from it.
	r, err := h.reminders.Get(ctx, id)
	if err == nil && r.TopicID != topic.ID {
		err = apperr.NotFound("reminder", id)
	}
	if err == nil {
		r, err = h.reminders.Cancel(ctx, id)
	}
	if err != nil {
		if !apperr.Is(err, apperr.CodeNotFound) && !apperr.Is(err, apperr.CodeValidation) {
			h.logger.Error("Failed to cancel reminder", "reminder_id", id, "error", err)
		}
		h.sendMessage(ctx, msg, "❌ "+apperr.UserMessage(err))
		return
	}

	h.sendMessage(ctx, msg, fmt.Sprintf("✅ Reminder cancelled: **%s**", r.Title))
}
