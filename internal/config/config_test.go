package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresAnthropicKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := Load()
	assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 3, cfg.CriticWorkers)
	assert.Equal(t, 50, cfg.CriticQueueSize)
	assert.Equal(t, "storyforge", cfg.DBName)
}

func TestLoadOverridesAndDatabaseURL(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("CRITIC_WORKERS", "7")
	t.Setenv("EMBEDDING_QUEUE_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.CriticWorkers)
	assert.Equal(t, 100, cfg.EmbeddingQueueSize, "unparsable values fall back to the default")
	assert.Contains(t, cfg.DatabaseURL(), "host=db.internal")
	assert.Contains(t, cfg.DatabaseURL(), "password=secret")
}
