package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TelegramToken string
	DatabaseURI   string
	RedisURL      string
	HTTPAddr      string

	DefaultProvider string
	DefaultTimezone string
	ProviderTimeout time.Duration

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIVisionModel string

	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string

	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string

	AnthropicAPIKey string
	AnthropicModel  string

	CohereAPIKey string
	CohereModel  string

	OllamaBaseURL     string
	OllamaChatModel   string
	OllamaVisionModel string

	QueueConcurrency  int
	QueueMaxAttempts  int
	QueueBackoff      time.Duration
	QueuePollInterval time.Duration
	QueueLease        time.Duration

	SummaryAt       string // HH:MM, topic-local
	ContextMessages int

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	return &Config{
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		DatabaseURI:   os.Getenv("DATABASE_URI"),
		RedisURL:      os.Getenv("REDIS_URL"),
		HTTPAddr:      getEnvOrDefault("HTTP_ADDR", ":8080"),

		DefaultProvider: strings.ToLower(getEnvOrDefault("DEFAULT_PROVIDER", "openai")),
		DefaultTimezone: getEnvOrDefault("DEFAULT_TIMEZONE", "Europe/Berlin"),
		ProviderTimeout: getDurationOrDefault("PROVIDER_TIMEOUT", 60*time.Second),

		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:       getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIVisionModel: getEnvOrDefault("OPENAI_VISION_MODEL", "gpt-4o-mini"),

		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekBaseURL: getEnvOrDefault("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		DeepSeekModel:   getEnvOrDefault("DEEPSEEK_MODEL", "deepseek-chat"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL: getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:   getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  getEnvOrDefault("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),

		CohereAPIKey: os.Getenv("COHERE_API_KEY"),
		CohereModel:  getEnvOrDefault("COHERE_MODEL", "command"),

		OllamaBaseURL:     os.Getenv("OLLAMA_BASE_URL"),
		OllamaChatModel:   getEnvOrDefault("OLLAMA_CHAT_MODEL", "qwen2.5:14b-instruct"),
		OllamaVisionModel: getEnvOrDefault("OLLAMA_VISION_MODEL", "llava:7b"),

		QueueConcurrency:  getIntOrDefault("QUEUE_CONCURRENCY", 5),
		QueueMaxAttempts:  getIntOrDefault("QUEUE_MAX_ATTEMPTS", 3),
		QueueBackoff:      getDurationOrDefault("QUEUE_BACKOFF", 2*time.Second),
		QueuePollInterval: getDurationOrDefault("QUEUE_POLL_INTERVAL", time.Second),
		QueueLease:        getDurationOrDefault("QUEUE_LEASE", 5*time.Minute),

		SummaryAt:       getEnvOrDefault("SUMMARY_AT", "03:30"),
		ContextMessages: getIntOrDefault("CONTEXT_MESSAGES", 10),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
