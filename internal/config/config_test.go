package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0:8090", cfg.Server.Addr())
	assert.Equal(t, "swarm_consensus", cfg.Database.Name)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Engine.JobTimeout)
	assert.Equal(t, 0.7, cfg.Engine.SimilarityGate)
	assert.True(t, cfg.Queue.Enabled)
	assert.Equal(t, 3, cfg.Queue.Workers)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 100*time.Millisecond, cfg.Gateway.BatchWindow)
	assert.Equal(t, 54*time.Second, cfg.Gateway.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.Gateway.PongWait)
	assert.Equal(t, 5*time.Minute, cfg.Gateway.StaleTTL)
	assert.Equal(t, []string{"*"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SWARM_PORT", "9000")
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("QUEUE_ENABLED", "false")
	t.Setenv("ENGINE_SIMILARITY_GATE", "0.85")
	t.Setenv("GATEWAY_BATCH_WINDOW", "250ms")
	t.Setenv("GATEWAY_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.False(t, cfg.Queue.Enabled)
	assert.Equal(t, 0.85, cfg.Engine.SimilarityGate)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateway.BatchWindow)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Gateway.AllowedOrigins)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "9100"
queue:
  workers: 5
engine:
  similarity_gate: 0.8
`), 0o600))

	t.Run("overlays the environment", func(t *testing.T) {
		t.Setenv("SWARM_PORT", "9000")
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "9100", cfg.Server.Port)
		assert.Equal(t, 5, cfg.Queue.Workers)
		assert.Equal(t, 0.8, cfg.Engine.SimilarityGate)
		// Untouched sections keep their defaults.
		assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	})

	t.Run("missing file fails", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("SWARM_CONFIG applies through Load", func(t *testing.T) {
		t.Setenv("SWARM_CONFIG", path)
		cfg := Load()
		assert.Equal(t, "9100", cfg.Server.Port)
	})
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "many")
	t.Setenv("ENGINE_SIMILARITY_GATE", "high")
	t.Setenv("GATEWAY_BATCH_WINDOW", "soon")

	cfg := Load()
	assert.Equal(t, 3, cfg.Queue.Workers)
	assert.Equal(t, 0.7, cfg.Engine.SimilarityGate)
	assert.Equal(t, 100*time.Millisecond, cfg.Gateway.BatchWindow)
}
