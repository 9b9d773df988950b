package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/queue"
	"github.com/hray3182/topicmate/internal/reminder"
	"github.com/hray3182/topicmate/internal/repository/memory"
	"github.com/hray3182/topicmate/internal/summary"
)

type env struct {
	now        time.Time
	dispatcher *Dispatcher
	queue      *queue.Queue
	messages   *memory.MessageRepository
	summaries  *memory.SummaryRepository
	topic      *models.Topic
	inv        Invocation
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{now: time.Date(2025, 5, 17, 10, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }

	topics := memory.NewTopicRepository()
	e.messages = memory.NewMessageRepository()
	e.summaries = memory.NewSummaryRepository()
	e.queue = queue.New(queue.NewMemoryStore(), queue.Options{Now: clock})

	reminders := reminder.NewService(memory.NewReminderRepository(), topics, e.queue, clock, nil)
	summaries := summary.NewService(topics, e.summaries, e.queue, clock, nil)
	e.dispatcher = NewDispatcher(reminders, summaries, topics, e.messages, clock, nil)

	topic, err := topics.Ensure(context.Background(), models.NewTopic(-500, 3, "Home", "Europe/Berlin"))
	require.NoError(t, err)
	e.topic = topic
	e.inv = Invocation{TopicID: topic.ID, ChatID: -500, ThreadID: 3, UserID: 9, Username: "alex"}
	return e
}

func (e *env) call(t *testing.T, name string, args any) Result {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return e.dispatcher.Execute(context.Background(), llm.ToolCall{ID: "call-1", Name: name, Arguments: string(raw)}, e.inv)
}

// resultMap round-trips the result through JSON the way the model sees it.
func resultMap(t *testing.T, r Result) map[string]any {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	var out struct {
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out.Result
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
		assert.Equal(t, "object", d.Parameters["type"])
		assert.NotEmpty(t, d.Description)
	}
	assert.Equal(t, []string{CreateReminder, ListReminders, CancelReminder, GetSummary, AppendNote, GetContextWindow}, names)
}

func TestCreateReminder(t *testing.T) {
	e := newEnv(t)

	res := e.call(t, CreateReminder, map[string]any{
		"title":  "Take out the bins",
		"due":    "2025-05-18T08:00:00",
		"repeat": map[string]any{"freq": "weekly", "byDay": []string{"su"}},
	})
	require.True(t, res.Success, res.Error)

	got := resultMap(t, res)["reminder"].(map[string]any)
	assert.Equal(t, "scheduled", got["status"])
	assert.Equal(t, "Europe/Berlin", got["timezone"])
	// 08:00 Berlin summer time.
	due, err := time.Parse(time.RFC3339, got["dueAt"].(string))
	require.NoError(t, err)
	assert.True(t, due.Equal(time.Date(2025, 5, 18, 6, 0, 0, 0, time.UTC)), "due %s", due)
	assert.Equal(t, "every week on Sun", got["schedule"])

	stats, err := e.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats[reminder.JobKind].Pending)
}

func TestCreateReminder_Rejections(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"past", map[string]any{"title": "x", "due": "2025-05-01T10:00:00Z"}, "in the past"},
		{"missing due", map[string]any{"title": "x"}, "due is required"},
		{"bad due", map[string]any{"title": "x", "due": "tomorrow"}, "not a valid ISO 8601"},
		{"cron", map[string]any{"title": "x", "due": "2025-06-01T10:00:00Z", "repeat": map[string]any{"freq": "CRON", "cron": "0 9 * * 1"}}, "cron repeat rules are not supported"},
		{"bad timezone", map[string]any{"title": "x", "due": "2025-06-01T10:00:00", "timezone": "Nowhere/City"}, "unknown timezone"},
		{"wrong type", map[string]any{"title": 42, "due": "2025-06-01T10:00:00Z"}, "invalid tool arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.call(t, CreateReminder, tt.args)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.want)
			assert.Nil(t, res.Result)
		})
	}

	stats, err := e.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats[reminder.JobKind].Pending)
}

func TestExecute_MalformedAndUnknown(t *testing.T) {
	e := newEnv(t)

	res := e.dispatcher.Execute(context.Background(), llm.ToolCall{Name: CreateReminder, Arguments: `{"title": "x",`}, e.inv)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid tool arguments format", res.Error)

	res = e.call(t, "delete_everything", map[string]any{})
	assert.False(t, res.Success)
	assert.Equal(t, "unknown tool: delete_everything", res.Error)
}

func TestListAndCancelReminders(t *testing.T) {
	e := newEnv(t)
	for _, due := range []string{"2025-05-20T09:00:00Z", "2025-05-18T09:00:00Z"} {
		require.True(t, e.call(t, CreateReminder, map[string]any{"title": "t " + due, "due": due}).Success)
	}

	list := resultMap(t, e.call(t, ListReminders, map[string]any{}))
	assert.EqualValues(t, 2, list["count"])
	items := list["reminders"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, "t 2025-05-18T09:00:00Z", first["title"])

	ranged := resultMap(t, e.call(t, ListReminders, map[string]any{"range": map[string]any{"fromISO": "2025-05-19T00:00:00Z"}}))
	assert.EqualValues(t, 1, ranged["count"])

	res := e.call(t, CancelReminder, map[string]any{"reminderId": first["id"]})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "cancelled", resultMap(t, res)["reminder"].(map[string]any)["status"])

	res = e.call(t, CancelReminder, map[string]any{"reminderId": "nope"})
	assert.False(t, res.Success)
	assert.Equal(t, "reminder nope not found", res.Error)

	after := resultMap(t, e.call(t, ListReminders, map[string]any{"topicId": e.topic.ID}))
	assert.EqualValues(t, 1, after["count"])
}

func TestGetSummary(t *testing.T) {
	e := newEnv(t)

	res := e.call(t, GetSummary, map[string]any{"grain": "week", "date": "2025-05-14"})
	require.True(t, res.Success, res.Error)
	got := resultMap(t, res)
	assert.Equal(t, true, got["generating"])
	assert.Equal(t, "2025-W20", got["periodKey"])

	require.NoError(t, e.summaries.Create(context.Background(), &models.Summary{
		TopicID: e.topic.ID, Grain: models.GrainWeek, PeriodKey: "2025-W20", Text: "Fixed the sink.", MessageCount: 4,
	}))
	got = resultMap(t, e.call(t, GetSummary, map[string]any{"grain": "week", "date": "2025-05-14"}))
	s := got["summary"].(map[string]any)
	assert.Equal(t, "Fixed the sink.", s["text"])
	assert.Contains(t, got["message"], "Summary for the week")

	res = e.call(t, GetSummary, map[string]any{"grain": "fortnight"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown grain")
}

func TestAppendNoteAndContextWindow(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.messages.Create(context.Background(), &models.Message{
		TopicID: e.topic.ID, Role: models.RoleUser, Content: "the boiler is making noise", CreatedAt: e.now.Add(-time.Hour),
	}))

	res := e.call(t, AppendNote, map[string]any{"text": "Boiler service booked for Friday", "tags": []string{"boiler"}})
	require.True(t, res.Success, res.Error)

	window := resultMap(t, e.call(t, GetContextWindow, map[string]any{"limit": 5}))
	assert.EqualValues(t, 2, window["messageCount"])
	msgs := window["messages"].([]any)
	note := msgs[1].(map[string]any)
	assert.Equal(t, "system", note["role"])
	assert.Equal(t, "📝 Note: Boiler service booked for Friday\n\nTags: boiler", note["content"])

	res = e.call(t, GetContextWindow, map[string]any{"limit": 101})
	assert.False(t, res.Success)
	assert.Equal(t, "limit must be between 1 and 100", res.Error)

	res = e.call(t, AppendNote, map[string]any{"text": "  "})
	assert.False(t, res.Success)
}

func TestExecuteAll(t *testing.T) {
	e := newEnv(t)

	out := e.dispatcher.ExecuteAll(context.Background(), []llm.ToolCall{
		{ID: "a", Name: ListReminders, Arguments: `{}`},
		{ID: "b", Name: "nope", Arguments: ``},
	}, e.inv)

	require.Len(t, out, 2)
	assert.Equal(t, models.RoleTool, out[0].Role)
	assert.Equal(t, "a", out[0].ToolCallID)
	assert.Equal(t, ListReminders, out[0].Name)
	assert.JSONEq(t, `{"success":true,"result":{"reminders":[],"count":0}}`, out[0].Content)
	assert.JSONEq(t, `{"success":false,"result":null,"error":"unknown tool: nope"}`, out[1].Content)
}
