package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
	"github.com/hray3182/topicmate/internal/telegram"
)

const defaultPhotoPrompt = "Describe this image."

func (h *Handlers) handleVoice(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	h.transport.SendTyping(ctx, msg.Chat.ID, msg.ThreadID())

	audio, err := h.transport.Download(ctx, msg.Voice.FileID)
	if err != nil {
		h.logger.Error("Failed to download voice message", "topic_id", topic.ID, "error", err)
		h.sendMessage(ctx, msg, "❌ Could not download the voice message.")
		return
	}

	text, err := h.llm.Transcribe(ctx, topic.Provider, audio, audioFormat(msg.Voice.MimeType))
	if err != nil {
		h.logger.Error("Failed to transcribe voice message", "topic_id", topic.ID, "error", err)
		if errors.Is(err, llm.ErrUnsupported) {
			h.sendMessage(ctx, msg, "❌ Voice messages are not supported by the configured providers.")
			return
		}
		h.sendMessage(ctx, msg, "❌ Could not transcribe the voice message.")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		h.sendMessage(ctx, msg, "🎙 I could not hear anything in that message.")
		return
	}

	h.sendMessage(ctx, msg, "🎙 _"+text+"_")
	h.handleAIMessage(ctx, msg, topic, text, nil)
}

func (h *Handlers) handlePhoto(ctx context.Context, msg *telegram.Message, topic *models.Topic) {
	// Telegram lists sizes ascending; the last one is the original.
	photo := msg.Photo[len(msg.Photo)-1]
	data, err := h.transport.Download(ctx, photo.FileID)
	if err != nil {
		h.logger.Error("Failed to download photo", "topic_id", topic.ID, "error", err)
		h.sendMessage(ctx, msg, "❌ Could not download the photo.")
		return
	}

	prompt := strings.TrimSpace(msg.Caption)
	if prompt == "" {
		prompt = defaultPhotoPrompt
	}
	images := []llm.ImagePart{{Data: data, MIMEType: "image/jpeg"}}
	h.handleAIMessage(ctx, msg, topic, "🖼 "+prompt, images)
}

// audioFormat maps a MIME type to the file extension transcription APIs expect.
func audioFormat(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/webm":
		return "webm"
	default:
		return "ogg"
	}
}
