package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/repository"
	"github.com/hray3182/topicmate/internal/telegram"
	"github.com/hray3182/topicmate/internal/tools"
)

// maxToolRounds bounds how many times one reply may go back to the model
// with tool results. The call after the last round is made without tools.
const maxToolRounds = 3

const emptyReply = "✅ Done."

func (h *Handlers) handleAIMessage(ctx context.Context, msg *telegram.Message, topic *models.Topic, text string, images []llm.ImagePart) {
	h.transport.SendTyping(ctx, msg.Chat.ID, msg.ThreadID())

	if err := h.saveMessage(ctx, topic, &models.Message{
		TelegramMessageID: msg.MessageID,
		UserID:            msg.From.ID,
		Role:              models.RoleUser,
		Content:           text,
	}); err != nil {
		h.logger.Error("Failed to save user message", "topic_id", topic.ID, "error", err)
	}

	inv := tools.Invocation{
		TopicID:  topic.ID,
		ChatID:   topic.ChatID,
		ThreadID: topic.ThreadID,
		UserID:   msg.From.ID,
		Username: msg.From.UserName,
	}
	resp, err := h.converse(ctx, topic, inv, images)
	if err != nil {
		h.logger.Error("Failed to get AI response", "topic_id", topic.ID, "provider", topic.Provider, "error", err)
		h.sendMessage(ctx, msg, "❌ Sorry, I could not process your message. Please try again.")
		return
	}

	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		reply = emptyReply
	}
	h.logger.Info("AI reply",
		"topic_id", topic.ID,
		"provider", resp.Provider,
		"model", resp.Model,
		"tokens", resp.Usage.TotalTokens,
		"latency", resp.Latency)

	sentID := h.sendMessage(ctx, msg, reply)
	if err := h.saveMessage(ctx, topic, &models.Message{
		TelegramMessageID: sentID,
		Role:              models.RoleAssistant,
		Content:           reply,
		Provider:          resp.Provider,
		Model:             resp.Model,
		TokensUsed:        resp.Usage.TotalTokens,
	}); err != nil {
		h.logger.Error("Failed to save assistant message", "topic_id", topic.ID, "error", err)
	}
}

// converse runs the chat loop for the latest message of topic. Tool calls
// are executed and fed back for at most maxToolRounds rounds. With images
// the request goes to the vision endpoint and tools are not offered.
func (h *Handlers) converse(ctx context.Context, topic *models.Topic, inv tools.Invocation, images []llm.ImagePart) (*llm.Response, error) {
	msgs, err := h.buildContext(ctx, topic)
	if err != nil {
		return nil, err
	}

	if len(images) > 0 {
		attachImages(msgs, images)
		return h.llm.Vision(ctx, topic.Provider, msgs)
	}

	defs := h.tools.Definitions()
	var usage llm.Usage
	for round := 0; ; round++ {
		offered := defs
		if round == maxToolRounds {
			offered = nil
		}
		resp, err := h.llm.Chat(ctx, topic.Provider, msgs, offered)
		if err != nil {
			return nil, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.ToolCalls) == 0 || round == maxToolRounds {
			resp.Usage = usage
			return resp, nil
		}

		h.logger.Debug("Executing tool calls", "topic_id", topic.ID, "round", round+1, "count", len(resp.ToolCalls))
		msgs = append(msgs, llm.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		msgs = append(msgs, h.tools.ExecuteAll(ctx, resp.ToolCalls, inv)...)
	}
}

// buildContext returns the system prompt followed by the recent history of
// topic, oldest first.
func (h *Handlers) buildContext(ctx context.Context, topic *models.Topic) ([]llm.Message, error) {
	history, err := h.messages.Recent(ctx, topic.ID, h.contextLimit(topic))
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{Role: models.RoleSystem, Content: h.systemPrompt(topic)})
	for _, m := range history {
		if m.Role == models.RoleTool {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return msgs, nil
}

func (h *Handlers) contextLimit(topic *models.Topic) int {
	limit := h.contextMessages
	if topic.MaxContextWindow > 0 && topic.MaxContextWindow < limit {
		limit = topic.MaxContextWindow
	}
	return limit
}

func (h *Handlers) systemPrompt(topic *models.Topic) string {
	now := h.now().In(topic.Location())
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are an assistant in the Telegram forum topic %q.\n", topic.Title)
	fmt.Fprintf(&sb, "Current time: %s (%s).\n", now.Format("Monday, 2006-01-02 15:04"), topic.Timezone)
	sb.WriteString("Answer briefly in the language of the user. Use the tools to create, list and cancel reminders, ")
	sb.WriteString("to fetch summaries and to save notes for this topic. Times without an offset are in the topic timezone.")
	if p := strings.TrimSpace(topic.SystemPrompt); p != "" {
		sb.WriteString("\n\n")
		sb.WriteString(p)
	}
	return sb.String()
}

// attachImages puts images on the last user message of msgs.
func attachImages(msgs []llm.Message, images []llm.ImagePart) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			msgs[i].Images = images
			return
		}
	}
}

func (h *Handlers) saveMessage(ctx context.Context, topic *models.Topic, m *models.Message) error {
	now := h.now()
	m.ID = repository.NewID()
	m.TopicID = topic.ID
	m.ChatID = topic.ChatID
	m.ThreadID = topic.ThreadID
	m.CreatedAt = now
	if err := h.messages.Create(ctx, m); err != nil {
		return err
	}
	if err := h.topics.RecordMessage(ctx, topic.ID, now); err != nil {
		h.logger.Warn("Failed to update topic stats", "topic_id", topic.ID, "error", err)
	}
	return nil
}
