// Package summary builds per-topic summaries of a day, ISO week, month or
// year. Generation runs as an idempotent queue job keyed by
// (topic, grain, period).
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/logutil"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/queue"
	"github.com/hray3182/topicmate/internal/repository"
)

// JobKind is the queue kind for summary generation.
const JobKind = "summary"

const maxPromptChars = 24000

// Payload asks for the summary of the period containing Date (YYYY-MM-DD
// in the topic timezone). Deliver posts the text to the topic once created.
type Payload struct {
	TopicID string       `json:"topicId"`
	Grain   models.Grain `json:"grain"`
	Date    string       `json:"date"`
	Deliver bool         `json:"deliver,omitempty"`
}

// Chatter is the part of the provider router the generator uses.
type Chatter interface {
	Chat(ctx context.Context, provider string, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error)
}

type Sender interface {
	SendMessage(ctx context.Context, chatID int64, threadID int, text string) (int, error)
}

type Generator struct {
	topics    repository.Topics
	messages  repository.Messages
	summaries repository.Summaries
	llm       Chatter
	sender    Sender
	logger    *slog.Logger
}

// NewGenerator returns the queue handler for JobKind. sender may be nil, in
// which case Deliver is ignored.
func NewGenerator(topics repository.Topics, messages repository.Messages, summaries repository.Summaries, chatter Chatter, sender Sender, logger *slog.Logger) *Generator {
	return &Generator{
		topics:    topics,
		messages:  messages,
		summaries: summaries,
		llm:       chatter,
		sender:    sender,
		logger:    logutil.OrDiscard(logger).With("component", "summary"),
	}
}

func (g *Generator) Handle(ctx context.Context, job *queue.Job) error {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return queue.Permanent(err)
	}

	topic, err := g.topics.Get(ctx, p.TopicID)
	if errors.Is(err, repository.ErrNotFound) {
		return queue.Permanent(apperr.NotFound("topic", p.TopicID))
	}
	if err != nil {
		return fmt.Errorf("failed to load topic: %w", err)
	}

	loc := topic.Location()
	date, err := time.ParseInLocation("2006-01-02", p.Date, loc)
	if err != nil {
		return queue.Permanent(apperr.Validation("invalid summary date %q", p.Date))
	}
	period, err := PeriodFor(p.Grain, date, loc)
	if err != nil {
		return queue.Permanent(err)
	}
	logger := g.logger.With("topic_id", topic.ID, "grain", p.Grain, "period", period.Key)

	if existing, err := g.summaries.Get(ctx, topic.ID, p.Grain, period.Key); err == nil {
		logger.Debug("Summary already exists")
		if p.Deliver {
			g.deliver(ctx, topic, existing, logger)
		}
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to check summary: %w", err)
	}

	msgs, err := g.messages.ListInWindow(ctx, topic.ID, period.Start, period.End, []models.Role{models.RoleUser, models.RoleAssistant})
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	if len(msgs) == 0 {
		logger.Info("No messages in period, skipping summary")
		return nil
	}

	s := &models.Summary{
		ID:           repository.NewID(),
		TopicID:      topic.ID,
		ChatID:       topic.ChatID,
		ThreadID:     topic.ThreadID,
		Grain:        p.Grain,
		PeriodKey:    period.Key,
		MessageCount: len(msgs),
		PeriodStart:  period.Start,
		PeriodEnd:    period.End,
	}

	resp, err := g.llm.Chat(ctx, topic.Provider, buildPrompt(topic, period, msgs), nil)
	if llm.IsRetryable(err) && job.Attempts < job.MaxAttempts {
		return fmt.Errorf("failed to generate summary: %w", err)
	}
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		logger.Warn("Failed to generate summary with provider, using fallback", "error", err)
		s.Text = FallbackText(topic.Title, period, msgs)
		s.Provider = "fallback"
	} else {
		s.Text = strings.TrimSpace(resp.Content)
		s.Provider = resp.Provider
		s.Model = resp.Model
	}

	if err := g.summaries.Create(ctx, s); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("failed to save summary: %w", err)
		}
		logger.Info("Summary created concurrently")
		if !p.Deliver {
			return nil
		}
		if s, err = g.summaries.Get(ctx, topic.ID, p.Grain, period.Key); err != nil {
			return fmt.Errorf("failed to load summary: %w", err)
		}
	} else {
		logger.Info("Summary created", "messages", len(msgs), "provider", s.Provider)
	}

	if p.Deliver {
		g.deliver(ctx, topic, s, logger)
	}
	return nil
}

// deliver posts s to its topic. Failures are logged; the summary stays stored.
func (g *Generator) deliver(ctx context.Context, topic *models.Topic, s *models.Summary, logger *slog.Logger) {
	if g.sender == nil {
		return
	}
	if _, err := g.sender.SendMessage(ctx, topic.ChatID, topic.ThreadID, Format(s)); err != nil {
		logger.Error("Failed to deliver summary", "error", err)
	}
}

func buildPrompt(topic *models.Topic, period Period, msgs []*models.Message) []llm.Message {
	var transcript strings.Builder
	for _, m := range msgs {
		line := fmt.Sprintf("[%s] %s: %s\n", m.CreatedAt.In(period.Start.Location()).Format("2006-01-02 15:04"), m.Role, m.Content)
		if transcript.Len()+len(line) > maxPromptChars {
			transcript.WriteString("[...]\n")
			break
		}
		transcript.WriteString(line)
	}

	system := "You summarize a chat topic. Write a concise summary of the conversation below: " +
		"the main subjects, decisions, open questions and follow-ups. Use short Markdown bullet points " +
		"and answer in the language most of the conversation uses."
	user := fmt.Sprintf("Topic: %s\nPeriod: %s %s (%d messages)\n\n%s",
		topic.Title, Label(period.Grain), period.Key, len(msgs), transcript.String())

	return []llm.Message{
		{Role: models.RoleSystem, Content: system},
		{Role: models.RoleUser, Content: user},
	}
}

// FallbackText is the deterministic summary used when no provider answers.
func FallbackText(title string, period Period, msgs []*models.Message) string {
	var users, assistants int
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.Role == models.RoleUser {
			users++
		} else {
			assistants++
		}
		for _, w := range strings.FieldsFunc(strings.ToLower(m.Content), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		}) {
			if len([]rune(w)) > 3 {
				counts[w]++
			}
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > 5 {
		words = words[:5]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Topic:** %s\n", title)
	fmt.Fprintf(&b, "**Messages:** %d (%d from users, %d from the assistant)\n", len(msgs), users, assistants)
	if len(words) > 0 {
		fmt.Fprintf(&b, "**Key words:** %s\n", strings.Join(words, ", "))
	}
	fmt.Fprintf(&b, "**Period:** %s to %s", period.Start.Format("2006-01-02"), period.End.AddDate(0, 0, -1).Format("2006-01-02"))
	return b.String()
}

// Format renders a summary for chat.
func Format(s *models.Summary) string {
	return fmt.Sprintf("📊 **Summary for the %s** (%s)\n\n%s", Label(s.Grain), s.PeriodKey, s.Text)
}
