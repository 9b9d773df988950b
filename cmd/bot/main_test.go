package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hray3182/topicmate/internal/config"
	"github.com/hray3182/topicmate/internal/llm"
)

func TestProviderFactories_SkipsUnconfigured(t *testing.T) {
	cfg := &config.Config{
		DefaultProvider: "claude",
		OpenAIAPIKey:    "sk-test",
		OpenAIModel:     "gpt-4o-mini",
		DeepSeekModel:   "deepseek-chat",
		OllamaBaseURL:   "http://localhost:11434/",
		OllamaChatModel: "qwen2.5:14b-instruct",
	}

	factories := providerFactories(cfg)
	names := make([]string, 0, len(factories))
	for _, f := range factories {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"openai", "deepseek", "gemini", "claude", "cohere", "ollama"}, names)

	router, err := llm.NewRouter(factories, llm.RouterOptions{DefaultProvider: cfg.DefaultProvider})
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "ollama"}, router.Providers())
	assert.Equal(t, "openai", router.Default())
}

func TestProviderFactories_NoneConfigured(t *testing.T) {
	_, err := llm.NewRouter(providerFactories(&config.Config{}), llm.RouterOptions{})
	assert.Error(t, err)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"topicmate"}, args...))
	return out.String(), err
}

func TestCLI_DeadLettersRequireRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	_, err := runCLI(t, "deadletters", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestCLI_RetryNeedsJobID(t *testing.T) {
	_, err := runCLI(t, "deadletters", "retry")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job id")
}

func TestCLI_MigrateRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URI", "")
	_, err := runCLI(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URI")
}

func TestCLI_RunRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("DATABASE_URI", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	_, err := runCLI(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_TOKEN")
}
