// Package config loads runtime configuration from environment variables
// with explicit defaults: a flat env-var reader rather than a YAML-file
// loader, since this process has no multi-file agent/chain catalogue to
// justify a config document, just a short list of connection strings and
// keys.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// MongoURI is the Mongo connection string backing the Scenario/Agent
	// repository, Scheduled Task store, and Storage/RAG plugins.
	MongoURI string
	// MongoDatabase is the database name within the Mongo deployment.
	MongoDatabase string

	// RedisAddr is the Redis connection address backing the Event Stream
	// (Pulse).
	RedisAddr     string
	RedisPassword string

	// TelegramBotToken authenticates the Messaging plugin.
	TelegramBotToken string

	// AnthropicAPIKey and OpenAIAPIKey authenticate the LLM plugin's two
	// providers. At least one must be set for the LLM plugin to function.
	AnthropicAPIKey    string
	AnthropicModel     string
	OpenAIAPIKey       string
	OpenAIModel        string
	LLMMaxTokens       int
	LLMDefaultProvider string

	// HTTPAddr is the listen address for the HTTP API.
	HTTPAddr string

	// SchedulerTickInterval overrides the Scheduler's tick cadence, read
	// from SCHEDULER_TICK_INTERVAL as a Go duration; defaults to 60s.
	SchedulerTickInterval time.Duration

	// ServiceName identifies this process in logs/traces/metrics.
	ServiceName string

	// FixtureDir, if set, loads Scenario/Agent documents from local YAML
	// fixture files instead of Mongo, for tests and local dev seeding.
	// Empty disables fixture mode.
	FixtureDir string
}

// Load reads configuration from the process environment, applying the
// defaults given below. Returns an error if neither LLM
// provider key is set, since no scenario could run an llm_query step
// without one.
func Load() (Config, error) {
	cfg := Config{
		MongoURI:              getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:         getEnv("MONGO_DATABASE", "scenario_orchestrator"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:         getEnv("REDIS_PASSWORD", ""),
		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		AnthropicAPIKey:       getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:        getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:           getEnv("OPENAI_MODEL", "gpt-4o"),
		LLMMaxTokens:          getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMDefaultProvider:    getEnv("LLM_DEFAULT_PROVIDER", "anthropic"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		SchedulerTickInterval: getEnvDuration("SCHEDULER_TICK_INTERVAL", 60*time.Second),
		ServiceName:           getEnv("SERVICE_NAME", "scenario-orchestrator"),
		FixtureDir:            getEnv("FIXTURE_DIR", ""),
	}
	if cfg.AnthropicAPIKey == "" && cfg.OpenAIAPIKey == "" {
		return Config{}, errors.New("config: at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
