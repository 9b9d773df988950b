package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
)

type OllamaConfig struct {
	BaseURL     string
	ChatModel   string
	VisionModel string
}

// OllamaProvider talks to a local Ollama server over its REST API.
type OllamaProvider struct {
	cfg    OllamaConfig
	client *http.Client
}

func NewOllamaProvider(cfg OllamaConfig, client *http.Client) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ollama base url not set")
	}
	if client == nil {
		client = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OllamaProvider{cfg: cfg, client: client}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) IsAvailable() bool { return p.cfg.BaseURL != "" }

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Images    []string         `json:"images,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function llm.ToolDefinition `json:"function"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	req := ollamaChatRequest{Model: p.cfg.ChatModel, Messages: toOllamaMessages(messages)}
	for _, t := range tools {
		req.Tools = append(req.Tools, ollamaTool{Type: "function", Function: t})
	}
	return p.chat(ctx, req)
}

func (p *OllamaProvider) Vision(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	if p.cfg.VisionModel == "" {
		return nil, llm.Unsupported(p.Name(), "vision")
	}
	return p.chat(ctx, ollamaChatRequest{Model: p.cfg.VisionModel, Messages: toOllamaMessages(messages)})
}

func (p *OllamaProvider) Transcribe(context.Context, []byte, string) (string, error) {
	return "", llm.Unsupported(p.Name(), "transcription")
}

func (p *OllamaProvider) chat(ctx context.Context, req ollamaChatRequest) (*llm.Response, error) {
	start := time.Now()
	var resp ollamaChatResponse
	if err := postJSON(ctx, p.client, p.Name(), p.cfg.BaseURL+"/api/chat", nil, req, &resp); err != nil {
		return nil, err
	}

	out := &llm.Response{
		Content:  resp.Message.Content,
		Model:    resp.Model,
		Provider: p.Name(),
		Latency:  time.Since(start),
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	for i, tc := range resp.Message.ToolCalls {
		args, _ := json.Marshal(tc.Function.Arguments)
		if tc.Function.Arguments == nil {
			args = []byte("{}")
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        fmt.Sprintf("%s_%d", tc.Function.Name, i),
			Name:      tc.Function.Name,
			Arguments: string(args),
		})
	}
	return out, nil
}

// CheckHealth lists the pulled models and reports missing ones.
func (p *OllamaProvider) CheckHealth(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := getJSON(ctx, p.client, p.Name(), p.cfg.BaseURL+"/api/tags", &tags); err != nil {
		return err
	}

	pulled := make(map[string]bool, len(tags.Models))
	for _, m := range tags.Models {
		pulled[m.Name] = true
		pulled[strings.TrimSuffix(m.Name, ":latest")] = true
	}

	var missing []string
	for _, model := range []string{p.cfg.ChatModel, p.cfg.VisionModel} {
		if model != "" && !pulled[model] {
			missing = append(missing, model)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("ollama models not pulled: %s", strings.Join(missing, ", "))
	}
	return nil
}

func toOllamaMessages(messages []llm.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == models.RoleTool && m.Name != "" {
			msg.Content = fmt.Sprintf("[%s] %s", m.Name, m.Content)
		}
		for _, img := range m.Images {
			if len(img.Data) > 0 {
				msg.Images = append(msg.Images, base64.StdEncoding.EncodeToString(img.Data))
			}
		}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Name
			call.Function.Arguments = decodeArgs(tc.Arguments)
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		out = append(out, msg)
	}
	return out
}
