package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/repository"
	"github.com/hray3182/topicmate/internal/summary"
	"github.com/hray3182/topicmate/internal/telegram"
	"github.com/hray3182/topicmate/internal/tools"
)

const defaultContextMessages = 10

// Transport is the outbound side of the Telegram client.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, threadID int, text string) (int, error)
	SendTyping(ctx context.Context, chatID int64, threadID int)
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// Chatter is the part of the provider router the handlers use.
type Chatter interface {
	Chat(ctx context.Context, provider string, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error)
	Vision(ctx context.Context, provider string, messages []llm.Message) (*llm.Response, error)
	Transcribe(ctx context.Context, provider string, audio []byte, format string) (string, error)
	Providers() []string
	Default() string
	Has(name string) bool
}

type ToolRunner interface {
	Definitions() []llm.ToolDefinition
	ExecuteAll(ctx context.Context, calls []llm.ToolCall, inv tools.Invocation) []llm.Message
}

type Reminders interface {
	Get(ctx context.Context, id string) (*models.Reminder, error)
	List(ctx context.Context, topicID string, from, to *time.Time) ([]*models.Reminder, error)
	Cancel(ctx context.Context, id string) (*models.Reminder, error)
}

type Summaries interface {
	Post(ctx context.Context, topicID string, grain models.Grain, date time.Time) (*summary.Result, error)
}

type Deps struct {
	Transport Transport
	Topics    repository.Topics
	Messages  repository.Messages
	Reminders Reminders
	Summaries Summaries
	LLM       Chatter
	Tools     ToolRunner

	DefaultTimezone string
	ContextMessages int
	Now             func() time.Time
	Logger          *slog.Logger
}

type Handlers struct {
	transport Transport
	topics    repository.Topics
	messages  repository.Messages
	reminders Reminders
	summaries Summaries
	llm       Chatter
	tools     ToolRunner

	timezone        string
	contextMessages int
	now             func() time.Time
	logger          *slog.Logger
}

func New(d Deps) *Handlers {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ContextMessages <= 0 {
		d.ContextMessages = defaultContextMessages
	}
	return &Handlers{
		transport:       d.Transport,
		topics:          d.Topics,
		messages:        d.Messages,
		reminders:       d.Reminders,
		summaries:       d.Summaries,
		llm:             d.LLM,
		tools:           d.Tools,
		timezone:        d.DefaultTimezone,
		contextMessages: d.ContextMessages,
		now:             d.Now,
		logger:          logutil.OrDiscard(d.Logger).With("component", "handlers"),
	}
}

// Handle routes one incoming message. Messages from bots are ignored.
func (h *Handlers) Handle(ctx context.Context, msg *telegram.Message) {
	if msg == nil || msg.Chat == nil || msg.From == nil || msg.From.IsBot {
		return
	}

	topic, err := h.ensureTopic(ctx, msg)
	if err != nil {
		h.logger.Error("Failed to ensure topic", "chat_id", msg.Chat.ID, "thread_id", msg.ThreadID(), "error", err)
		h.sendMessage(ctx, msg, "❌ Something went wrong. Please try again later.")
		return
	}

	switch {
	case msg.IsCommand():
		h.HandleCommand(ctx, msg, topic)
	case msg.Voice != nil:
		h.handleVoice(ctx, msg, topic)
	case len(msg.Photo) > 0:
		h.handlePhoto(ctx, msg, topic)
	case msg.Text != "":
		h.handleAIMessage(ctx, msg, topic, msg.Text, nil)
	}
}

func (h *Handlers) HandleCommand(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	switch msg.Command() {
	case "start":
		h.handleStart(ctx, msg, topic)
	case "help":
		h.handleHelp(ctx, msg)
	case "reminders":
		h.handleReminderList(ctx, msg, topic)
	case "cancel":
		h.handleReminderCancel(ctx, msg, topic)
	case "summary":
		h.handleSummary(ctx, msg, topic)
	case "model":
		h.handleModel(ctx, msg, topic)
	case "topic":
		h.handleTopic(ctx, msg, topic)
	default:
		h.sendMessage(ctx, msg, "Unknown command. Use /help to see what I can do.")
	}
}

// ensureTopic returns the topic of the message thread, creating it on first contact.
func (h *Handlers) ensureTopic(ctx context.Context, msg *telegram.Message) (*models.Topic, error) {
	threadID := msg.ThreadID()
	title := msg.TopicTitle()
	if title == "" {
		switch {
		case threadID != 0:
			title = fmt.Sprintf("Topic %d", threadID)
		case msg.Chat.Title != "":
			title = msg.Chat.Title
		default:
			title = "General"
		}
	}

	topic, err := h.topics.Ensure(ctx, models.NewTopic(msg.Chat.ID, threadID, title, h.timezone))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure topic: %w", err)
	}
	return topic, nil
}

func (h *Handlers) sendMessage(ctx context.Context, msg *telegram.Message, text string) int {
	id, err := h.transport.SendMessage(ctx, msg.Chat.ID, msg.ThreadID(), text)
	if err != nil {
		h.logger.Error("Failed to send message", "chat_id", msg.Chat.ID, "thread_id", msg.ThreadID(), "error", err)
	}
	return id
}

func (h *Handlers) handleStart(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	text := fmt.Sprintf(`👋 Hi %s!

This topic is now active: **%s**

Every forum topic is a separate context with its own memory. In here I can:
• answer questions about what was discussed
• create reminders, including repeating ones
• summarize the day, week, month or year
• transcribe voice messages and describe photos

Try: "Remind me tomorrow at 10:00 to call the client"

Use /help to see all commands.`, msg.From.FirstName, topic.Title)
	h.sendMessage(ctx, msg, text)
}

func (h *Handlers) handleHelp(ctx context.Context, msg *telegram.Message) {
	text := `📖 **Commands**

/start - Activate this topic
/help - Show this help
/topic - Topic settings
/model [provider] - Show or pick the AI provider for this topic

**Reminders**
/reminders - List scheduled reminders
/cancel <id> - Cancel a reminder

**Summaries**
/summary [day|week|month|year] [YYYY-MM-DD] - Summary of a period

💡 You can also just write what you need, e.g. "remind me every Monday at 9:00 about the standup".`
	h.sendMessage(ctx, msg, text)
}
