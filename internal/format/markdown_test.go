package format

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		text     string
		entities []tgbotapi.MessageEntity
	}{
		{
			name: "bold then code",
			in:   "`id` is **abc**",
			text: "id is abc",
			entities: []tgbotapi.MessageEntity{
				{Type: "code", Offset: 0, Length: 2},
				{Type: "bold", Offset: 6, Length: 3},
			},
		},
		{
			name: "header and italic",
			in:   "# Plan\n*soon* _maybe_",
			text: "Plan\nsoon maybe",
			entities: []tgbotapi.MessageEntity{
				{Type: "bold", Offset: 0, Length: 4},
				{Type: "italic", Offset: 5, Length: 4},
				{Type: "italic", Offset: 10, Length: 5},
			},
		},
		{
			name: "emoji counts two units",
			in:   "⏰ **Reminder**\n\n🧹 **clean**",
			text: "⏰ Reminder\n\n🧹 clean",
			entities: []tgbotapi.MessageEntity{
				{Type: "bold", Offset: 2, Length: 8},
				{Type: "bold", Offset: 15, Length: 5},
			},
		},
		{
			name: "link",
			in:   "see [docs](https://example.com/a_b)",
			text: "see docs",
			entities: []tgbotapi.MessageEntity{
				{Type: "text_link", Offset: 4, Length: 4, URL: "https://example.com/a_b"},
			},
		},
		{
			name: "snake case and unclosed markers stay literal",
			in:   "call list_reminders with 2 * 3 and **open",
			text: "call list_reminders with 2 * 3 and **open",
		},
		{
			name: "fenced block",
			in:   "run:\n```\ngo test ./...\n```",
			text: "run:\ngo test ./...",
			entities: []tgbotapi.MessageEntity{
				{Type: "pre", Offset: 5, Length: 13},
			},
		},
		{
			name: "nested",
			in:   "**due `tomorrow`**",
			text: "due tomorrow",
			entities: []tgbotapi.MessageEntity{
				{Type: "bold", Offset: 0, Length: 12},
				{Type: "code", Offset: 4, Length: 8},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseMarkdown(tt.in)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.entities, got.Entities)
		})
	}
}

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 5, UTF16Len("hello"))
	assert.Equal(t, 2, UTF16Len("日本"))
	assert.Equal(t, 2, UTF16Len("🎉"))
}

func TestSplit(t *testing.T) {
	para := strings.Repeat("a", 30)
	text := para + "\n\n" + para + "\n\n" + para

	chunks := Split(text, 70)
	require.Len(t, chunks, 2)
	assert.Equal(t, para+"\n\n"+para, chunks[0])
	assert.Equal(t, para, chunks[1])

	assert.Equal(t, []string{"short"}, Split("short", 0))

	long := strings.Repeat("b", 25)
	chunks = Split(long, 10)
	assert.Equal(t, []string{"bbbbbbbbbb", "bbbbbbbbbb", "bbbbb"}, chunks)
}
