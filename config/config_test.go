package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"ADDR", "LOG_LEVEL", "WORKSPACE_ROOT", "AGENT_MANIFEST_PATH",
		"CHECKPOINT_BACKEND", "CHECKPOINT_PATH", "INTERRUPT_BEFORE_NODES",
		"NODE_TIMEOUT_MS", "TURN_TIMEOUT_MS", "MAX_FANOUT_TARGETS",
		"ENABLE_DYNAMIC_GRAPH", "OPENAI_API_KEY",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.CheckpointBackend)
	assert.Equal(t, "checkpoints.db", cfg.CheckpointPath)
	assert.Empty(t, cfg.InterruptBeforeNodes)
	assert.Equal(t, 60*time.Second, cfg.NodeTimeout)
	assert.Equal(t, 180*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 4, cfg.MaxFanoutTargets)
	assert.True(t, cfg.EnableDynamicGraph)
	assert.Empty(t, cfg.OpenAIAPIKey)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ADDR", ":9999")
	t.Setenv("CHECKPOINT_BACKEND", BackendMemory)
	t.Setenv("INTERRUPT_BEFORE_NODES", "human_gate, capi_datab ,")
	t.Setenv("NODE_TIMEOUT_MS", "2500")
	t.Setenv("MAX_FANOUT_TARGETS", "8")
	t.Setenv("ENABLE_DYNAMIC_GRAPH", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.CheckpointBackend)
	assert.Equal(t, []string{"human_gate", "capi_datab"}, cfg.InterruptBeforeNodes)
	assert.Equal(t, 2500*time.Millisecond, cfg.NodeTimeout)
	assert.Equal(t, 8, cfg.MaxFanoutTargets)
	assert.False(t, cfg.EnableDynamicGraph)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CHECKPOINT_BACKEND", "dynamodb")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dynamodb")
}

func TestLoadToleratesMalformedNumbers(t *testing.T) {
	t.Setenv("CHECKPOINT_BACKEND", BackendMemory)
	t.Setenv("NODE_TIMEOUT_MS", "soon")
	t.Setenv("TURN_TIMEOUT_MS", "-5")
	t.Setenv("MAX_FANOUT_TARGETS", "zero")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.NodeTimeout)
	assert.Equal(t, 180*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 4, cfg.MaxFanoutTargets)
}
