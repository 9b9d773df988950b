package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/telegram"
)

// handleModel shows or changes the provider used by the topic.
// "/model default" goes back to the router default.
func (h *Handlers) handleModel(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	arg := strings.ToLower(strings.TrimSpace(msg.CommandArguments()))
	if arg == "" {
		h.sendMessage(ctx, msg, h.buildModelText(topic))
		return
	}

	if arg == "default" {
		arg = ""
	} else if !h.llm.Has(arg) {
		h.sendMessage(ctx, msg, fmt.Sprintf("❌ Unknown provider %q. Available: %s", arg, strings.Join(h.llm.Providers(), ", ")))
		return
	}

	topic.Provider = arg
	if err := h.topics.Update(ctx, topic); err != nil {
		h.logger.Error("Failed to update topic provider", "topic_id", topic.ID, "error", err)
		h.sendMessage(ctx, msg, "❌ Failed to save the setting. Please try again.")
		return
	}

	name := arg
	if name == "" {
		name = h.llm.Default() + " (default)"
	}
	h.logger.Info("Topic provider changed", "topic_id", topic.ID, "provider", name)
	h.sendMessage(ctx, msg, fmt.Sprintf("✅ This topic now uses **%s**.", name))
}

func (h *Handlers) buildModelText(topic *models.Topic) string {
	current := topic.Provider
	if current == "" {
		current = h.llm.Default()
	}

	var sb strings.Builder
	sb.WriteString("🤖 **AI providers**\n\n")
	for _, name := range h.llm.Providers() {
		sb.WriteString("• ")
		sb.WriteString(name)
		if name == h.llm.Default() {
			sb.WriteString(" (default)")
		}
		if name == current {
			sb.WriteString(" ✅")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nChange it with /model <provider>")
	return sb.String()
}

// handleTopic shows the topic settings or changes one of them:
// timezone <IANA name>, summary on|off, prompt <text>|clear.
func (h *Handlers) handleTopic(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		h.sendMessage(ctx, msg, buildTopicText(topic))
		return
	}

	key, value, _ := strings.Cut(args, " ")
	value = strings.TrimSpace(value)

	var confirm string
	switch strings.ToLower(key) {
	case "timezone", "tz":
		if value == "" {
			h.sendMessage(ctx, msg, "Usage: /topic timezone <name>, e.g. Europe/Berlin")
			return
		}
		if _, err := time.LoadLocation(value); err != nil {
			h.sendMessage(ctx, msg, fmt.Sprintf("❌ Unknown timezone %q", value))
			return
		}
		topic.Timezone = value
		confirm = "🌍 Timezone set to **" + value + "**"
	case "summary":
		switch strings.ToLower(value) {
		case "on":
			topic.AutoSummaryEnabled = true
			confirm = "📊 Automatic summaries are **on**"
		case "off":
			topic.AutoSummaryEnabled = false
			confirm = "📊 Automatic summaries are **off**"
		default:
			h.sendMessage(ctx, msg, "Usage: /topic summary on|off")
			return
		}
	case "prompt":
		switch {
		case value == "":
			h.sendMessage(ctx, msg, "Usage: /topic prompt <instructions> or /topic prompt clear")
			return
		case strings.EqualFold(value, "clear"):
			topic.SystemPrompt = ""
			confirm = "🧹 Topic instructions cleared"
		default:
			topic.SystemPrompt = value
			confirm = "📝 Topic instructions saved"
		}
	default:
		h.sendMessage(ctx, msg, "Usage: /topic [timezone <name> | summary on|off | prompt <text>|clear]")
		return
	}

	if err := h.topics.Update(ctx, topic); err != nil {
		h.logger.Error("Failed to update topic", "topic_id", topic.ID, "error", err)
		h.sendMessage(ctx, msg, "❌ Failed to save the setting. Please try again.")
		return
	}
	h.sendMessage(ctx, msg, confirm)
}

func buildTopicText(topic *models.Topic) string {
	provider := topic.Provider
	if provider == "" {
		provider = "default"
	}
	autoSummary := "off"
	if topic.AutoSummaryEnabled {
		autoSummary = "on"
	}

	var sb strings.Builder
	sb.WriteString("🎯 **Topic**\n\n")
	fmt.Fprintf(&sb, "**Title:** %s\n", topic.Title)
	fmt.Fprintf(&sb, "**Messages:** %d\n", topic.MessageCount)
	fmt.Fprintf(&sb, "**Timezone:** %s\n", topic.Timezone)
	fmt.Fprintf(&sb, "**Provider:** %s\n", provider)
	fmt.Fprintf(&sb, "**Auto summaries:** %s\n", autoSummary)
	fmt.Fprintf(&sb, "**Context window:** %d messages\n", topic.MaxContextWindow)
	if topic.SystemPrompt != "" {
		fmt.Fprintf(&sb, "**Instructions:** %s\n", topic.SystemPrompt)
	}
	fmt.Fprintf(&sb, "\n🆔 `%s`", topic.ID)
	return sb.String()
}
