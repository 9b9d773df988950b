package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
)

func TestToGeminiContents(t *testing.T) {
	contents := toGeminiContents([]llm.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "remind me"},
		{Role: models.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "create_reminder", Arguments: `{"title":"tea"}`}}},
		{Role: models.RoleTool, Name: "create_reminder", ToolCallID: "c1", Content: `{"success":true}`},
	})

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "System: be brief", contents[0].Parts[0].Text)

	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "tea", contents[1].Parts[0].FunctionCall.Args["title"])

	require.NotNil(t, contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "create_reminder", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, map[string]any{"success": true}, contents[2].Parts[0].FunctionResponse.Response["content"])
}

func TestGeminiProvider_Chat(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [
				{"text": "Sure. "},
				{"functionCall": {"name": "list_reminders", "args": {"topicId": "t1"}}}
			]}}],
			"usageMetadata": {"promptTokenCount": 7, "candidatesTokenCount": 3, "totalTokenCount": 10}
		}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(GeminiConfig{APIKey: "g-key", BaseURL: srv.URL, Model: "gemini-test"}, srv.Client())
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(),
		[]llm.Message{{Role: models.RoleUser, Content: "what's scheduled?"}},
		[]llm.ToolDefinition{{Name: "list_reminders", Parameters: map[string]any{"type": "object"}}})
	require.NoError(t, err)

	require.Len(t, got.Tools, 1)
	assert.Equal(t, "list_reminders", got.Tools[0].FunctionDeclarations[0].Name)

	assert.Equal(t, "Sure. ", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.JSONEq(t, `{"topicId":"t1"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 10, resp.Usage.TotalTokens)
	assert.Equal(t, "gemini-test", resp.Model)
}

func TestGeminiProvider_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "API key not valid"}}`))
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(GeminiConfig{APIKey: "bad", BaseURL: srv.URL, Model: "gemini-test"}, srv.Client())
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), []llm.Message{{Role: models.RoleUser, Content: "hi"}}, nil)
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, "API key not valid", pe.Message)
}
