// Package tools exposes reminders, summaries and topic history to the
// model as function tools. Every call returns a {success, result, error}
// envelope; failures never escape as Go errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/reminder"
	"github.com/hray3182/topicmate/internal/repository"
	"github.com/hray3182/topicmate/internal/rrule"
	"github.com/hray3182/topicmate/internal/summary"
)

const (
	defaultContextLimit = 20
	maxContextLimit     = 100
)

type Reminders interface {
	Create(ctx context.Context, in reminder.CreateInput) (*models.Reminder, error)
	List(ctx context.Context, topicID string, from, to *time.Time) ([]*models.Reminder, error)
	Cancel(ctx context.Context, id string) (*models.Reminder, error)
}

type Summaries interface {
	Get(ctx context.Context, topicID string, grain models.Grain, date time.Time) (*summary.Result, error)
}

// Result is the envelope returned to the model.
type Result struct {
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error,omitempty"`
}

// Invocation identifies who called a tool and from which topic.
type Invocation struct {
	TopicID  string
	ChatID   int64
	ThreadID int
	UserID   int64
	Username string
}

type Dispatcher struct {
	reminders Reminders
	summaries Summaries
	topics    repository.Topics
	messages  repository.Messages
	now       func() time.Time
	logger    *slog.Logger
}

func NewDispatcher(reminders Reminders, summaries Summaries, topics repository.Topics, messages repository.Messages, now func() time.Time, logger *slog.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		reminders: reminders,
		summaries: summaries,
		topics:    topics,
		messages:  messages,
		now:       now,
		logger:    logutil.OrDiscard(logger).With("component", "tools"),
	}
}

func (d *Dispatcher) Definitions() []llm.ToolDefinition {
	return Definitions()
}

// Execute runs one tool call.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall, inv Invocation) Result {
	logger := d.logger.With("tool", call.Name, "topic_id", inv.TopicID)

	args := strings.TrimSpace(call.Arguments)
	if args == "" {
		args = "{}"
	}
	raw := json.RawMessage(args)
	if !json.Valid(raw) {
		logger.Warn("Invalid tool arguments", "arguments", call.Arguments)
		return failure(apperr.Validation("invalid tool arguments format"))
	}

	var (
		result any
		err    error
	)
	switch call.Name {
	case CreateReminder:
		result, err = d.createReminder(ctx, raw, inv)
	case ListReminders:
		result, err = d.listReminders(ctx, raw, inv)
	case CancelReminder:
		result, err = d.cancelReminder(ctx, raw)
	case GetSummary:
		result, err = d.getSummary(ctx, raw, inv)
	case AppendNote:
		result, err = d.appendNote(ctx, raw, inv)
	case GetContextWindow:
		result, err = d.getContextWindow(ctx, raw, inv)
	default:
		err = apperr.Validation("unknown tool: %s", call.Name)
	}

	if err != nil {
		if apperr.Is(err, apperr.CodeValidation) || apperr.Is(err, apperr.CodeNotFound) || apperr.Is(err, apperr.CodeUnsupported) {
			logger.Info("Tool call rejected", "error", err)
		} else {
			logger.Error("Tool call failed", "error", err)
		}
		return failure(err)
	}
	logger.Info("Tool call executed")
	return Result{Success: true, Result: result}
}

// ExecuteAll runs calls in order and returns one tool message per call.
func (d *Dispatcher) ExecuteAll(ctx context.Context, calls []llm.ToolCall, inv Invocation) []llm.Message {
	out := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		res := d.Execute(ctx, call, inv)
		content, err := json.Marshal(res)
		if err != nil {
			content = []byte(`{"success":false,"result":null,"error":"failed to encode tool result"}`)
		}
		out = append(out, llm.Message{
			Role:       models.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    string(content),
		})
	}
	return out
}

func failure(err error) Result {
	return Result{Success: false, Result: nil, Error: apperr.UserMessage(err)}
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Validation("invalid tool arguments: %s", err.Error())
	}
	return nil
}

func topicOr(id string, inv Invocation) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return inv.TopicID
}

// parseTime accepts RFC 3339 or a local date-time without offset, which is
// read in loc.
func parseTime(field, value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("%s %q is not a valid ISO 8601 date-time", field, value)
}

type repeatArgs struct {
	Freq     string   `json:"freq"`
	Interval int      `json:"interval"`
	ByDay    []string `json:"byDay"`
	Cron     string   `json:"cron"`
	Until    string   `json:"until"`
	Count    int      `json:"count"`
}

type createReminderArgs struct {
	Title       string      `json:"title"`
	Due         string      `json:"due"`
	TopicID     string      `json:"topicId"`
	Repeat      *repeatArgs `json:"repeat"`
	Description string      `json:"description"`
	Timezone    string      `json:"timezone"`
}

// ReminderView is the tool-facing shape of a reminder.
type ReminderView struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueAt       time.Time  `json:"dueAt"`
	NextRunAt   *time.Time `json:"nextRunAt,omitempty"`
	Timezone    string     `json:"timezone"`
	Status      string     `json:"status"`
	Schedule    string     `json:"schedule"`
	RunCount    int        `json:"runCount"`
}

func viewOf(r *models.Reminder) ReminderView {
	return ReminderView{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		DueAt:       r.DueAt,
		NextRunAt:   r.NextRunAt,
		Timezone:    r.Timezone,
		Status:      string(r.Status),
		Schedule:    rrule.Describe(r.Repeat),
		RunCount:    r.RunCount,
	}
}

func (d *Dispatcher) topicLocation(ctx context.Context, topicID, tz string) (*time.Location, error) {
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, apperr.Validation("unknown timezone %q", tz)
		}
		return loc, nil
	}
	topic, err := d.topics.Get(ctx, topicID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("topic", topicID)
		}
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}
	return topic.Location(), nil
}

func (d *Dispatcher) createReminder(ctx context.Context, raw json.RawMessage, inv Invocation) (any, error) {
	var args createReminderArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Due) == "" {
		return nil, apperr.Validation("due is required")
	}
	topicID := topicOr(args.TopicID, inv)

	loc, err := d.topicLocation(ctx, topicID, args.Timezone)
	if err != nil {
		return nil, err
	}
	due, err := parseTime("due", args.Due, loc)
	if err != nil {
		return nil, err
	}

	in := reminder.CreateInput{
		TopicID:     topicID,
		UserID:      inv.UserID,
		Title:       args.Title,
		Description: args.Description,
		DueAt:       due,
		Timezone:    args.Timezone,
		CreatedBy:   inv.Username,
	}
	if args.Repeat != nil {
		rule := &models.RepeatRule{
			Freq:     models.Frequency(strings.ToUpper(args.Repeat.Freq)),
			Interval: args.Repeat.Interval,
			Cron:     args.Repeat.Cron,
			Count:    args.Repeat.Count,
		}
		for _, day := range args.Repeat.ByDay {
			rule.ByDay = append(rule.ByDay, strings.ToUpper(day))
		}
		if args.Repeat.Until != "" {
			until, err := parseTime("until", args.Repeat.Until, loc)
			if err != nil {
				return nil, err
			}
			rule.Until = &until
		}
		in.Repeat = rule
	}

	r, err := d.reminders.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"reminder": viewOf(r),
		"message":  fmt.Sprintf("Reminder %q set for %s (%s).", r.Title, r.DueAt.In(r.Location()).Format("2006-01-02 15:04 MST"), rrule.Describe(r.Repeat)),
	}, nil
}

type listRemindersArgs struct {
	TopicID string `json:"topicId"`
	Range   *struct {
		FromISO string `json:"fromISO"`
		ToISO   string `json:"toISO"`
	} `json:"range"`
}

func (d *Dispatcher) listReminders(ctx context.Context, raw json.RawMessage, inv Invocation) (any, error) {
	var args listRemindersArgs
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	topicID := topicOr(args.TopicID, inv)

	var from, to *time.Time
	if args.Range != nil && (args.Range.FromISO != "" || args.Range.ToISO != "") {
		loc, err := d.topicLocation(ctx, topicID, "")
		if err != nil {
			return nil, err
		}
		if args.Range.FromISO != "" {
			t, err := parseTime("fromISO", args.Range.FromISO, loc)
			if err != nil {
				return nil, err
			}
			from = &t
		}
		if args.Range.ToISO != "" {
			t, err := parseTime("toISO", args.Range.ToISO, loc)
			if err != nil {
				return nil, err
			}
			to = &t
		}
	}

	reminders, err := d.reminders.List(ctx, topicID, from, to)
	if err != nil {
		return nil, err
	}
	views := make([]ReminderView, 0, len(reminders))
	for _, r := range reminders {
		views = append(views, viewOf(r))
	}
	return map[string]any{
		"reminders": views,
		"count":     len(views),
	}, nil
}

func (d *Dispatcher) cancelReminder(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ReminderID string `json:"reminderId"`
	}
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.ReminderID) == "" {
		return nil, apperr.Validation("reminderId is required")
	}

	r, err := d.reminders.Cancel(ctx, strings.TrimSpace(args.ReminderID))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"reminder": viewOf(r),
		"message":  fmt.Sprintf("Reminder %q cancelled.", r.Title),
	}, nil
}

func (d *Dispatcher) getSummary(ctx context.Context, raw json.RawMessage, inv Invocation) (any, error) {
	var args struct {
		TopicID string `json:"topicId"`
		Grain   string `json:"grain"`
		Date    string `json:"date"`
	}
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	grain, err := models.ParseGrain(args.Grain)
	if err != nil {
		return nil, apperr.Validation("%s, use day, week, month or year", err.Error())
	}
	topicID := topicOr(args.TopicID, inv)

	var date time.Time
	if args.Date != "" {
		loc, err := d.topicLocation(ctx, topicID, "")
		if err != nil {
			return nil, err
		}
		if date, err = parseTime("date", args.Date, loc); err != nil {
			return nil, err
		}
	}

	res, err := d.summaries.Get(ctx, topicID, grain, date)
	if err != nil {
		return nil, err
	}
	if res.Generating {
		return map[string]any{
			"summary":    nil,
			"generating": true,
			"periodKey":  res.Period.Key,
			"message":    fmt.Sprintf("Generating the %s summary for %s. Ask again in a minute.", summary.Label(grain), res.Period.Key),
		}, nil
	}
	s := res.Summary
	return map[string]any{
		"summary": map[string]any{
			"id":           s.ID,
			"grain":        s.Grain,
			"periodKey":    s.PeriodKey,
			"text":         s.Text,
			"messageCount": s.MessageCount,
			"createdAt":    s.CreatedAt,
			"model":        s.Model,
			"provider":     s.Provider,
		},
		"message": summary.Format(s),
	}, nil
}

func (d *Dispatcher) appendNote(ctx context.Context, raw json.RawMessage, inv Invocation) (any, error) {
	var args struct {
		TopicID string   `json:"topicId"`
		Text    string   `json:"text"`
		Tags    []string `json:"tags"`
	}
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Text) == "" {
		return nil, apperr.Validation("note text is required")
	}
	topicID := topicOr(args.TopicID, inv)

	topic, err := d.topics.Get(ctx, topicID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("topic", topicID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}

	content := "📝 Note: " + strings.TrimSpace(args.Text)
	if len(args.Tags) > 0 {
		content += "\n\nTags: " + strings.Join(args.Tags, ", ")
	}
	now := d.now()
	note := &models.Message{
		ID:        repository.NewID(),
		TopicID:   topic.ID,
		ChatID:    topic.ChatID,
		ThreadID:  topic.ThreadID,
		UserID:    inv.UserID,
		Role:      models.RoleSystem,
		Content:   content,
		CreatedAt: now,
	}
	if err := d.messages.Create(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to save note: %w", err)
	}
	if err := d.topics.RecordMessage(ctx, topic.ID, now); err != nil {
		d.logger.Warn("Failed to update topic stats", "topic_id", topic.ID, "error", err)
	}

	return map[string]any{
		"noteId":  note.ID,
		"text":    strings.TrimSpace(args.Text),
		"tags":    args.Tags,
		"message": "📝 **Note saved**\n\n" + strings.TrimSpace(args.Text),
	}, nil
}

type contextMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	UserID    int64     `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (d *Dispatcher) getContextWindow(ctx context.Context, raw json.RawMessage, inv Invocation) (any, error) {
	var args struct {
		TopicID string `json:"topicId"`
		Limit   int    `json:"limit"`
	}
	if err := decode(raw, &args); err != nil {
		return nil, err
	}
	limit := args.Limit
	switch {
	case limit == 0:
		limit = defaultContextLimit
	case limit < 0 || limit > maxContextLimit:
		return nil, apperr.Validation("limit must be between 1 and %d", maxContextLimit)
	}
	topicID := topicOr(args.TopicID, inv)

	topic, err := d.topics.Get(ctx, topicID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("topic", topicID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load topic: %w", err)
	}

	msgs, err := d.messages.Recent(ctx, topic.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	out := make([]contextMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleTool {
			continue
		}
		out = append(out, contextMessage{ID: m.ID, Role: string(m.Role), Content: m.Content, UserID: m.UserID, CreatedAt: m.CreatedAt})
	}
	return map[string]any{
		"topicId":      topic.ID,
		"topicTitle":   topic.Title,
		"messageCount": len(out),
		"messages":     out,
	}, nil
}
