// Package config loads runtime configuration from the environment, with
// optional .env file support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/capiware/capi-orchestrator/log"
)

// Checkpoint backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds the runtime tunables of the orchestrator service.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string

	// WorkspaceRoot is the base directory for session artifacts and
	// manifests.
	WorkspaceRoot string
	// AgentManifestPath points at the YAML agent registry source. Empty
	// uses the built-in defaults.
	AgentManifestPath string

	// CheckpointBackend selects sqlite, memory or redis.
	CheckpointBackend string
	// CheckpointPath is the sqlite database file.
	CheckpointPath string
	// RedisCheckpointURL is the redis connection URL for the redis backend.
	RedisCheckpointURL string

	// InterruptBeforeNodes lists nodes to pause before, comma separated
	// in the environment.
	InterruptBeforeNodes []string

	NodeTimeout      time.Duration
	TurnTimeout      time.Duration
	MaxFanoutTargets int

	// EnableDynamicGraph turns on manifest watching and live rebuilds.
	EnableDynamicGraph bool

	// OpenAIAPIKey enables the LLM intent classifier and conversational
	// synthesis when set.
	OpenAIAPIKey string
	// OpenAIModel overrides the default chat model name.
	OpenAIModel string
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debugf("config: no .env file loaded: %v", err)
	}

	cfg := &Config{
		Addr:                 getenv("ADDR", ":8080"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		WorkspaceRoot:        getenv("WORKSPACE_ROOT", "."),
		AgentManifestPath:    os.Getenv("AGENT_MANIFEST_PATH"),
		CheckpointBackend:    getenv("CHECKPOINT_BACKEND", BackendSQLite),
		CheckpointPath:       getenv("CHECKPOINT_PATH", "checkpoints.db"),
		RedisCheckpointURL:   getenv("REDIS_CHECKPOINT_URL", "redis://127.0.0.1:6379/0"),
		InterruptBeforeNodes: splitList(os.Getenv("INTERRUPT_BEFORE_NODES")),
		NodeTimeout:          durationMS("NODE_TIMEOUT_MS", 60*time.Second),
		TurnTimeout:          durationMS("TURN_TIMEOUT_MS", 180*time.Second),
		MaxFanoutTargets:     intVal("MAX_FANOUT_TARGETS", 4),
		EnableDynamicGraph:   boolVal("ENABLE_DYNAMIC_GRAPH", true),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          os.Getenv("OPENAI_MODEL"),
	}

	switch cfg.CheckpointBackend {
	case BackendSQLite, BackendMemory, BackendRedis:
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationMS(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		log.Warnf("config: invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func intVal(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Warnf("config: invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

func boolVal(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warnf("config: invalid %s=%q, using %t", key, raw, fallback)
		return fallback
	}
	return b
}
