package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
)

const claudeMaxTokens = 2048

type ClaudeConfig struct {
	APIKey string
	Model  string
}

type ClaudeProvider struct {
	client anthropic.Client
	cfg    ClaudeConfig
}

func NewClaudeProvider(cfg ClaudeConfig, opts ...option.RequestOption) (*ClaudeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	return &ClaudeProvider{client: anthropic.NewClient(opts...), cfg: cfg}, nil
}

func (p *ClaudeProvider) Name() string { return "claude" }

func (p *ClaudeProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

func (p *ClaudeProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	params := p.params(messages)
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]}
		if req, ok := t.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: schema,
		}})
	}
	return p.send(ctx, params)
}

func (p *ClaudeProvider) Vision(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return p.send(ctx, p.params(messages))
}

func (p *ClaudeProvider) Transcribe(context.Context, []byte, string) (string, error) {
	return "", llm.Unsupported(p.Name(), "transcription")
}

func (p *ClaudeProvider) params(messages []llm.Message) anthropic.MessageNewParams {
	system, converted := toClaudeMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: claudeMaxTokens,
		Messages:  converted,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func (p *ClaudeProvider) send(ctx context.Context, params anthropic.MessageNewParams) (*llm.Response, error) {
	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	out := &llm.Response{
		Model:    string(msg.Model),
		Provider: p.Name(),
		Latency:  time.Since(start),
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" || args == "null" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}
	out.Content = text.String()
	return out, nil
}

func (p *ClaudeProvider) wrapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &llm.ProviderError{Provider: p.Name(), StatusCode: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
	}
	return llm.WrapError(p.Name(), 0, err)
}

// toClaudeMessages lifts system turns into the system prompt and merges
// consecutive tool results into one user turn.
func toClaudeMessages(messages []llm.Message) (string, []anthropic.MessageParam) {
	var system []string
	var out []anthropic.MessageParam

	appendUser := func(blocks ...anthropic.ContentBlockParamUnion) {
		if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleUser {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}

	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = json.RawMessage("{}")
				if tc.Arguments != "" {
					input = json.RawMessage(tc.Arguments)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			appendUser(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		default:
			var blocks []anthropic.ContentBlockParamUnion
			for _, img := range m.Images {
				if len(img.Data) > 0 {
					blocks = append(blocks, anthropic.NewImageBlockBase64(mimeType(img), base64.StdEncoding.EncodeToString(img.Data)))
				} else if img.URL != "" {
					blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: img.URL}))
				}
			}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			if len(blocks) > 0 {
				appendUser(blocks...)
			}
		}
	}
	return strings.Join(system, "\n\n"), out
}
