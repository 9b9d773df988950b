package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/models"
)

func TestCoherePrompt(t *testing.T) {
	prompt := coherePrompt([]llm.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, Name: "list_reminders", Content: `{"success":true}`},
	}, []llm.ToolDefinition{{Name: "list_reminders", Description: "List reminders"}})

	assert.Contains(t, prompt, "- list_reminders: List reminders")
	assert.Contains(t, prompt, "System: be brief\nUser: hi\n")
	assert.Contains(t, prompt, `Tool list_reminders returned: {"success":true}`)
	assert.True(t, len(prompt) > 0 && prompt[len(prompt)-len("Assistant:"):] == "Assistant:")
}

func TestParseCohereToolCall(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		ok     bool
		tool   string
		params string
	}{
		{"bare", `{"tool_call": {"name": "cancel_reminder", "arguments": {"reminderId": "r1"}}}`, true, "cancel_reminder", `{"reminderId":"r1"}`},
		{"fenced", "```json\n{\"tool_call\": {\"name\": \"list_reminders\"}}\n```", true, "list_reminders", `{}`},
		{"plain text", "Sure, I can help.", false, "", ""},
		{"other json", `{"answer": 42}`, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := parseCohereToolCall(tt.text)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.tool, call.Name)
			assert.JSONEq(t, tt.params, call.Arguments)
		})
	}
}

func TestCohereProvider_Unsupported(t *testing.T) {
	p := &CohereProvider{cfg: CohereConfig{Model: "command"}}

	_, err := p.Vision(context.Background(), nil)
	assert.ErrorIs(t, err, llm.ErrUnsupported)
	_, err = p.Transcribe(context.Background(), nil, "ogg")
	assert.ErrorIs(t, err, llm.ErrUnsupported)
}
