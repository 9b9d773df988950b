package main

import (
	"net/http"

	"github.com/hray3182/topicmate/internal/config"
	"github.com/hray3182/topicmate/internal/llm"
	"github.com/hray3182/topicmate/internal/llm/providers"
)

// providerFactories lists every adapter in fallback order. Providers
// without credentials drop out when the router builds them.
func providerFactories(cfg *config.Config) []llm.Factory {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	return []llm.Factory{
		{Name: "openai", New: func() (llm.Provider, error) {
			return providers.NewOpenAIProvider(providers.OpenAIConfig{
				Name:        "openai",
				APIKey:      cfg.OpenAIAPIKey,
				BaseURL:     cfg.OpenAIBaseURL,
				Model:       cfg.OpenAIModel,
				VisionModel: cfg.OpenAIVisionModel,
				Speech:      true,
			})
		}},
		{Name: "deepseek", New: func() (llm.Provider, error) {
			return providers.NewOpenAIProvider(providers.OpenAIConfig{
				Name:    "deepseek",
				APIKey:  cfg.DeepSeekAPIKey,
				BaseURL: cfg.DeepSeekBaseURL,
				Model:   cfg.DeepSeekModel,
			})
		}},
		{Name: "gemini", New: func() (llm.Provider, error) {
			return providers.NewGeminiProvider(providers.GeminiConfig{
				APIKey:  cfg.GeminiAPIKey,
				BaseURL: cfg.GeminiBaseURL,
				Model:   cfg.GeminiModel,
			}, httpClient)
		}},
		{Name: "claude", New: func() (llm.Provider, error) {
			return providers.NewClaudeProvider(providers.ClaudeConfig{
				APIKey: cfg.AnthropicAPIKey,
				Model:  cfg.AnthropicModel,
			})
		}},
		{Name: "cohere", New: func() (llm.Provider, error) {
			return providers.NewCohereProvider(providers.CohereConfig{
				APIKey: cfg.CohereAPIKey,
				Model:  cfg.CohereModel,
			})
		}},
		{Name: "ollama", New: func() (llm.Provider, error) {
			return providers.NewOllamaProvider(providers.OllamaConfig{
				BaseURL:     cfg.OllamaBaseURL,
				ChatModel:   cfg.OllamaChatModel,
				VisionModel: cfg.OllamaVisionModel,
			}, httpClient)
		}},
	}
}
