package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
)

type OpenAIConfig struct {
	Name        string // "openai" or "deepseek"
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string // empty disables Vision
	Speech      bool   // enables Whisper transcription
}

// OpenAIProvider talks to OpenAI and to OpenAI-compatible endpoints such as DeepSeek.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s api key not set", cfg.Name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s model not set", cfg.Name)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.cfg.Name }

func (p *OpenAIProvider) IsAvailable() bool { return p.client != nil }

func (p *OpenAIProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.cfg.Model,
		Messages: toOpenAIMessages(messages),
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return p.complete(ctx, req)
}

func (p *OpenAIProvider) Vision(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	if p.cfg.VisionModel == "" {
		return nil, llm.Unsupported(p.cfg.Name, "vision")
	}
	return p.complete(ctx, openai.ChatCompletionRequest{
		Model:    p.cfg.VisionModel,
		Messages: toOpenAIMessages(messages),
	})
}

func (p *OpenAIProvider) complete(ctx context.Context, req openai.ChatCompletionRequest) (*llm.Response, error) {
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.ProviderError{Provider: p.cfg.Name, Message: "no response from AI"}
	}

	msg := resp.Choices[0].Message
	out := &llm.Response{
		Content:  msg.Content,
		Model:    resp.Model,
		Provider: p.cfg.Name,
		Latency:  time.Since(start),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	return out, nil
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if !p.cfg.Speech {
		return "", llm.Unsupported(p.cfg.Name, "transcription")
	}
	if format == "" {
		format = "ogg"
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "audio." + strings.TrimPrefix(format, "."),
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", p.wrapError(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: p.cfg.Name, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.ProviderError{Provider: p.cfg.Name, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return llm.WrapError(p.cfg.Name, 0, err)
}

func toOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == models.RoleTool {
			// The name field is not accepted on tool messages.
			msg.Name = ""
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}

		if len(m.Images) == 0 {
			msg.Content = m.Content
		} else {
			if m.Content != "" {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, img := range m.Images {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: imageURL(img), Detail: openai.ImageURLDetailAuto},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// imageURL returns the image URL, or a data URL for inline bytes.
func imageURL(img llm.ImagePart) string {
	if len(img.Data) == 0 {
		return img.URL
	}
	return "data:" + mimeType(img) + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func mimeType(img llm.ImagePart) string {
	if img.MIMEType != "" {
		return img.MIMEType
	}
	return "image/jpeg"
}
