package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
)

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GeminiProvider calls the generateContent REST endpoint.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *http.Client
}

func NewGeminiProvider(cfg GeminiConfig, client *http.Client) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if client == nil {
		client = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &GeminiProvider{cfg: cfg, client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) IsAvailable() bool { return p.cfg.APIKey != "" }

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiTool struct {
	FunctionDeclarations []llm.ToolDefinition `json:"functionDeclarations"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
	Tools    []geminiTool    `json:"tools,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (p *GeminiProvider) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (*llm.Response, error) {
	req := geminiRequest{Contents: toGeminiContents(messages)}
	if len(tools) > 0 {
		req.Tools = []geminiTool{{FunctionDeclarations: tools}}
	}
	return p.generate(ctx, req)
}

func (p *GeminiProvider) Vision(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	return p.generate(ctx, geminiRequest{Contents: toGeminiContents(messages)})
}

func (p *GeminiProvider) Transcribe(context.Context, []byte, string) (string, error) {
	return "", llm.Unsupported(p.Name(), "transcription")
}

func (p *GeminiProvider) generate(ctx context.Context, req geminiRequest) (*llm.Response, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.cfg.BaseURL, url.PathEscape(p.cfg.Model), url.QueryEscape(p.cfg.APIKey))

	start := time.Now()
	var resp geminiResponse
	if err := postJSON(ctx, p.client, p.Name(), endpoint, nil, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, &llm.ProviderError{Provider: p.Name(), Message: "no candidates in response"}
	}

	out := &llm.Response{
		Model:    p.cfg.Model,
		Provider: p.Name(),
		Latency:  time.Since(start),
		Usage: llm.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}

	var text strings.Builder
	for i, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			if part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        fmt.Sprintf("%s_%d", part.FunctionCall.Name, i),
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
			})
			continue
		}
		text.WriteString(part.Text)
	}
	out.Content = text.String()
	return out, nil
}

// toGeminiContents maps roles onto Gemini's user/model pair. System text
// becomes a "System:" user turn and tool results become functionResponse
// parts. Consecutive turns with the same role are merged.
func toGeminiContents(messages []llm.Message) []geminiContent {
	var out []geminiContent
	add := func(role string, parts ...geminiPart) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			return
		}
		out = append(out, geminiContent{Role: role, Parts: parts})
	}

	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			add("user", geminiPart{Text: "System: " + m.Content})
		case models.RoleAssistant:
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: tc.Name, Args: decodeArgs(tc.Arguments)}})
			}
			if len(parts) > 0 {
				add("model", parts...)
			}
		case models.RoleTool:
			add("user", geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     m.Name,
				Response: map[string]any{"content": decodeResult(m.Content)},
			}})
		default:
			parts := []geminiPart{}
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, img := range m.Images {
				if len(img.Data) > 0 {
					parts = append(parts, geminiPart{InlineData: &geminiInlineData{
						MimeType: mimeType(img),
						Data:     base64.StdEncoding.EncodeToString(img.Data),
					}})
				} else if img.URL != "" {
					parts = append(parts, geminiPart{Text: "Image: " + img.URL})
				}
			}
			if len(parts) > 0 {
				add("user", parts...)
			}
		}
	}
	return out
}

func decodeArgs(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	_ = json.Unmarshal([]byte(raw), &args)
	return args
}

// decodeResult keeps JSON tool output structured and wraps anything else as text.
func decodeResult(content string) any {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		return v
	}
	return content
}
