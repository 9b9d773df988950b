package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cohere "github.com/cohere-ai/cohere-go"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
)

const cohereMaxTokens uint = 1024

type CohereConfig struct {
	APIKey      string
	Model       string
	Temperature float64
}

// cohereGenerator is the part of *cohere.Client we call.
type cohereGenerator interface {
	Generate(opts cohere.GenerateOptions) (*cohere.GenerateResponse, error)
}

// CohereProvider uses the single-prompt generate endpoint. Conversation
// turns and tool schemas are folded into the prompt, and a tool call is
// recognized when the reply is a {"tool_call": {...}} object.
type CohereProvider struct {
	client cohereGenerator
	cfg    CohereConfig
}

func NewCohereProvider(cfg CohereConfig) (*CohereProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cohere api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = "command"
	}
	client, err := cohere.CreateClient(cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cohere client: %w", err)
	}
	return &CohereProvider{client: client, cfg: cfg}, nil
}

func (p *CohereProvider) Name() string { return "cohere" }

func (p *CohereProvider) IsAvailable() bool { return p.client != nil }

func (p *CohereProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	prompt := coherePrompt(messages, tools)

	start := time.Now()
	text, err := p.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	out := &llm.Response{Model: p.cfg.Model, Provider: p.Name(), Latency: time.Since(start)}
	if call, ok := parseCohereToolCall(text); ok && len(tools) > 0 {
		out.ToolCalls = []llm.ToolCall{call}
		return out, nil
	}
	out.Content = strings.TrimSpace(text)
	return out, nil
}

func (p *CohereProvider) Vision(context.Context, []llm.Message) (*llm.Response, error) {
	return nil, llm.Unsupported(p.Name(), "vision")
}

func (p *CohereProvider) Transcribe(context.Context, []byte, string) (string, error) {
	return "", llm.Unsupported(p.Name(), "transcription")
}

// generate runs the blocking client call in a goroutine so ctx cancellation
// returns promptly.
func (p *CohereProvider) generate(ctx context.Context, prompt string) (string, error) {
	type result struct {
		resp *cohere.GenerateResponse
		err  error
	}
	done := make(chan result, 1)

	go func() {
		maxTokens := cohereMaxTokens
		temperature := p.cfg.Temperature
		resp, err := p.client.Generate(cohere.GenerateOptions{
			Model:       p.cfg.Model,
			Prompt:      prompt,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		})
		done <- result{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", llm.WrapError(p.Name(), 0, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", llm.WrapError(p.Name(), 0, r.err)
		}
		if r.resp == nil || len(r.resp.Generations) == 0 {
			return "", &llm.ProviderError{Provider: p.Name(), Message: "empty response"}
		}
		return r.resp.Generations[0].Text, nil
	}
}

func coherePrompt(messages []llm.Message, tools []llm.ToolDefinition) string {
	var b strings.Builder

	if len(tools) > 0 {
		b.WriteString("You can call one of these tools. To call a tool, reply with only a JSON object of the form ")
		b.WriteString(`{"tool_call": {"name": "<tool>", "arguments": {...}}}`)
		b.WriteString(" and nothing else.\n\nTools:\n")
		for _, t := range tools {
			params, _ := json.Marshal(t.Parameters)
			fmt.Fprintf(&b, "- %s: %s\n  parameters: %s\n", t.Name, t.Description, params)
		}
		b.WriteString("\n")
	}

	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			fmt.Fprintf(&b, "System: %s\n", m.Content)
		case models.RoleAssistant:
			if m.Content != "" {
				fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "Assistant called %s with %s\n", tc.Name, tc.Arguments)
			}
		case models.RoleTool:
			fmt.Fprintf(&b, "Tool %s returned: %s\n", m.Name, m.Content)
		default:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		}
	}
	b.WriteString("Assistant:")
	return b.String()
}

// parseCohereToolCall accepts the reply bare or wrapped in a code fence.
func parseCohereToolCall(text string) (llm.ToolCall, bool) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return llm.ToolCall{}, false
	}

	var envelope struct {
		ToolCall *struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"tool_call"`
	}
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || envelope.ToolCall == nil || envelope.ToolCall.Name == "" {
		return llm.ToolCall{}, false
	}

	args := string(envelope.ToolCall.Arguments)
	if args == "" || args == "null" {
		args = "{}"
	}
	return llm.ToolCall{ID: "cohere_" + envelope.ToolCall.Name, Name: envelope.ToolCall.Name, Arguments: args}, true
}
