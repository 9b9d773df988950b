package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/summary"
	"github.com/hray3182/topicmate/internal/telegram"
)

const summaryUsage = "Usage: /summary [day|week|month|year] [YYYY-MM-DD]"

// parseSummaryArgs reads "[grain] [date]". The grain defaults to day and a
// missing date is returned as the zero time.
func parseSummaryArgs(args string, loc *time.Location) (models.Grain, time.Time, error) {
	fields := strings.Fields(args)
	grain := models.GrainDay
	var date time.Time

	if len(fields) > 2 {
		return "", date, apperr.Validation(summaryUsage)
	}
	if len(fields) >= 1 {
		g, err := models.ParseGrain(fields[0])
		if err != nil {
			return "", date, apperr.Validation("unknown period %q. %s", fields[0], summaryUsage)
		}
		grain = g
	}
	if len(fields) == 2 {
		d, err := time.ParseInLocation("2006-01-02", fields[1], loc)
		if err != nil {
			return "", date, apperr.Validation("invalid date %q, expected YYYY-MM-DD", fields[1])
		}
		date = d
	}
	return grain, date, nil
}

func (h *Handlers) handleSummary(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	grain, date, err := parseSummaryArgs(msg.CommandArguments(), topic.Location())
	if err != nil {
		h.sendMessage(ctx, msg, "❌ "+apperr.UserMessage(err))
		return
	}
	if !date.IsZero() && date.After(h.now()) {
		h.sendMessage(ctx, msg, "❌ That date is in the future.")
		return
	}

	res, err := h.summaries.Post(ctx, topic.ID, grain, date)
	if err != nil {
		h.logger.Error("Failed to get summary", "topic_id", topic.ID, "grain", grain, "error", err)
		h.sendMessage(ctx, msg, "❌ "+apperr.UserMessage(err))
		return
	}

	if res.Summary != nil {
		h.sendMessage(ctx, msg, summary.Format(res.Summary))
		return
	}
	h.sendMessage(ctx, msg, fmt.Sprintf("⏳ Generating the summary for the %s (%s). I will post it here when it is ready.",
		summary.Label(grain), res.Period.Key))
}
