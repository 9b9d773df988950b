package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/apperr"
	"github.com/hray3182/topicmate/internal/models"
)

type fakeProvider struct {
	name       string
	available  bool
	chatErr    error
	speech     bool
	chatCalls  int
	transcribe int
}

func (f *fakeProvider) Name() string      { return f.name }
func (f *fakeProvider) IsAvailable() bool { return f.available }

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	f.chatCalls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &Response{Content: f.name + ": " + messages[len(messages)-1].Content}, nil
}

func (f *fakeProvider) Vision(ctx context.Context, messages []Message) (*Response, error) {
	return nil, Unsupported(f.name, "vision")
}

func (f *fakeProvider) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	f.transcribe++
	if !f.speech {
		return "", Unsupported(f.name, "transcription")
	}
	return f.name + " transcript", nil
}

func factoryFor(p *fakeProvider) Factory {
	return Factory{Name: p.name, New: func() (Provider, error) { return p, nil }}
}

func userMsg(text string) []Message {
	return []Message{{Role: models.RoleUser, Content: text}}
}

func TestNewRouter_NoProviders(t *testing.T) {
	_, err := NewRouter([]Factory{
		{Name: "openai", New: func() (Provider, error) { return nil, errors.New("api key not set") }},
		factoryFor(&fakeProvider{name: "ollama", available: false}),
	}, RouterOptions{})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeConfiguration))
}

func TestNewRouter_DefaultFallsBackToFirst(t *testing.T) {
	r, err := NewRouter([]Factory{
		factoryFor(&fakeProvider{name: "gemini", available: true}),
		factoryFor(&fakeProvider{name: "claude", available: true}),
	}, RouterOptions{DefaultProvider: "openai"})
	require.NoError(t, err)

	assert.Equal(t, "gemini", r.Default())
	assert.Equal(t, []string{"gemini", "claude"}, r.Providers())
	assert.True(t, r.Has("Claude"))
	assert.False(t, r.Has("openai"))
}

func TestRouter_ChatDefault(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", available: true}
	claude := &fakeProvider{name: "claude", available: true}
	r, err := NewRouter([]Factory{factoryFor(gemini), factoryFor(claude)}, RouterOptions{DefaultProvider: "claude"})
	require.NoError(t, err)

	resp, err := r.Chat(context.Background(), "", userMsg("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "claude: hi", resp.Content)
	assert.Equal(t, "claude", resp.Provider)
}

func TestRouter_ChatUnknownProviderUsesFirst(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", available: true}
	r, err := NewRouter([]Factory{factoryFor(gemini)}, RouterOptions{})
	require.NoError(t, err)

	resp, err := r.Chat(context.Background(), "cohere", userMsg("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)
}

func TestRouter_ChatExplicitFailureRetriesOnce(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", available: true}
	claude := &fakeProvider{name: "claude", available: true, chatErr: errors.New("overloaded")}
	r, err := NewRouter([]Factory{factoryFor(gemini), factoryFor(claude)}, RouterOptions{})
	require.NoError(t, err)

	resp, err := r.Chat(context.Background(), "claude", userMsg("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", resp.Provider)
	assert.Equal(t, 1, claude.chatCalls)
	assert.Equal(t, 1, gemini.chatCalls)
}

func TestRouter_ChatDefaultFailureDoesNotFallBack(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", available: true, chatErr: errors.New("boom")}
	claude := &fakeProvider{name: "claude", available: true}
	r, err := NewRouter([]Factory{factoryFor(gemini), factoryFor(claude)}, RouterOptions{})
	require.NoError(t, err)

	_, err = r.Chat(context.Background(), "", userMsg("hi"), nil)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "gemini", pe.Provider)
	assert.Equal(t, 0, claude.chatCalls)
}

func TestRouter_ChatBothFail(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", available: true, chatErr: errors.New("down")}
	claude := &fakeProvider{name: "claude", available: true, chatErr: errors.New("overloaded")}
	r, err := NewRouter([]Factory{factoryFor(gemini), factoryFor(claude)}, RouterOptions{})
	require.NoError(t, err)

	_, err = r.Chat(context.Background(), "claude", userMsg("hi"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat failed on claude and gemini")
	assert.Equal(t, 1, claude.chatCalls)
	assert.Equal(t, 1, gemini.chatCalls)
}

type slowProvider struct{ fakeProvider }

func (s *slowProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRouter_Timeout(t *testing.T) {
	slow := &slowProvider{fakeProvider{name: "ollama", available: true}}
	r, err := NewRouter([]Factory{{Name: "ollama", New: func() (Provider, error) { return slow, nil }}},
		RouterOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = r.Chat(context.Background(), "", userMsg("hi"), nil)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.Timeout())
}

func TestRouter_TranscribePrefersSpeechProvider(t *testing.T) {
	openai := &fakeProvider{name: "openai", available: true, speech: true}
	gemini := &fakeProvider{name: "gemini", available: true}
	r, err := NewRouter([]Factory{factoryFor(gemini), factoryFor(openai)}, RouterOptions{DefaultProvider: "gemini"})
	require.NoError(t, err)

	text, err := r.Transcribe(context.Background(), "gemini", []byte("ogg"), "ogg")
	require.NoError(t, err)
	assert.Equal(t, "openai transcript", text)
	assert.Equal(t, 0, gemini.transcribe)
}

func TestRouter_TranscribeWithoutSpeechProvider(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", available: true}
	r, err := NewRouter([]Factory{factoryFor(gemini)}, RouterOptions{})
	require.NoError(t, err)

	_, err = r.Transcribe(context.Background(), "", []byte("ogg"), "ogg")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 1, gemini.transcribe)
}

func TestRouter_SetDefault(t *testing.T) {
	r, err := NewRouter([]Factory{
		factoryFor(&fakeProvider{name: "gemini", available: true}),
		factoryFor(&fakeProvider{name: "claude", available: true}),
	}, RouterOptions{})
	require.NoError(t, err)

	require.NoError(t, r.SetDefault("CLAUDE"))
	assert.Equal(t, "claude", r.Default())

	err = r.SetDefault("cohere")
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	assert.Equal(t, "claude", r.Default())
}

type healthyProvider struct {
	fakeProvider
	err error
}

func (h *healthyProvider) CheckHealth(context.Context) error { return h.err }

func TestRouter_CheckHealth(t *testing.T) {
	ollama := &healthyProvider{fakeProvider: fakeProvider{name: "ollama", available: true}, err: errors.New("model missing")}
	r, err := NewRouter([]Factory{
		factoryFor(&fakeProvider{name: "gemini", available: true}),
		{Name: "ollama", New: func() (Provider, error) { return ollama, nil }},
	}, RouterOptions{})
	require.NoError(t, err)

	results := r.CheckHealth(context.Background())
	require.Len(t, results, 1)
	assert.EqualError(t, results["ollama"], "model missing")
}

func TestProviderError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", WrapError("gemini", 0, context.DeadlineExceeded), true},
		{"rate limited", &ProviderError{Provider: "openai", StatusCode: 429}, true},
		{"server error", &ProviderError{Provider: "openai", StatusCode: 503}, true},
		{"bad request", &ProviderError{Provider: "openai", StatusCode: 400}, false},
		{"unsupported", Unsupported("cohere", "vision"), false},
		{"wrapped timeout", fmt.Errorf("chat failed: %w", WrapError("ollama", 0, context.DeadlineExceeded)), true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
