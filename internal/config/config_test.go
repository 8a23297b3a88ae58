package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	for _, k := range []string{"MONGO_URI", "MONGO_DATABASE", "REDIS_ADDR", "HTTP_ADDR", "SCHEDULER_TICK_INTERVAL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "scenario_orchestrator", cfg.MongoDatabase)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 60*time.Second, cfg.SchedulerTickInterval)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SCHEDULER_TICK_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.SchedulerTickInterval)
}

func TestLoadRequiresAnLLMProviderKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load()
	require.Error(t, err)
}
