// Command capi-orchestrator runs the multi-agent financial assistant:
// graph runtime, agent registry, event gateway and HTTP/WebSocket API.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/capiware/capi-orchestrator/agent"
	"github.com/capiware/capi-orchestrator/agents"
	"github.com/capiware/capi-orchestrator/config"
	"github.com/capiware/capi-orchestrator/gateway"
	"github.com/capiware/capi-orchestrator/graph"
	"github.com/capiware/capi-orchestrator/graph/checkpoint/inmemory"
	checkpointredis "github.com/capiware/capi-orchestrator/graph/checkpoint/redis"
	checkpointsqlite "github.com/capiware/capi-orchestrator/graph/checkpoint/sqlite"
	"github.com/capiware/capi-orchestrator/intent"
	"github.com/capiware/capi-orchestrator/log"
	"github.com/capiware/capi-orchestrator/model"
	"github.com/capiware/capi-orchestrator/model/openai"
	"github.com/capiware/capi-orchestrator/orchestrator"
	"github.com/capiware/capi-orchestrator/server"
	"github.com/capiware/capi-orchestrator/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	saver, err := buildSaver(cfg)
	if err != nil {
		log.Fatalf("checkpoint backend: %v", err)
	}

	var llm model.Model
	if cfg.OpenAIAPIKey != "" {
		var opts []openai.Option
		if cfg.OpenAIModel != "" {
			opts = append(opts, openai.WithModelName(cfg.OpenAIModel))
		}
		llm = openai.New(cfg.OpenAIAPIKey, opts...)
	}

	var intents intent.Service = intent.NewHeuristicService()
	if llm != nil {
		intents = intent.NewLLMService(llm)
	}

	var runtime *orchestrator.Runtime
	registry, err := agent.NewRegistry(
		agent.WithManifestPath(cfg.AgentManifestPath),
		agent.WithDeps(agent.Deps{WorkspaceRoot: cfg.WorkspaceRoot, Model: llm}),
		agent.WithOnChange(func() {
			if runtime == nil {
				return
			}
			if err := runtime.RebuildGraph(); err != nil {
				log.Errorf("graph rebuild after registry change: %v", err)
			}
		}),
	)
	if err != nil {
		log.Fatalf("agent registry: %v", err)
	}
	agents.RegisterBuiltins(registry)

	gw := gateway.New()
	sessions := session.NewStore(filepath.Join(cfg.WorkspaceRoot, "data", "sessions"))

	runtime, err = orchestrator.NewRuntime(registry, intents,
		orchestrator.WithCheckpointSaver(saver),
		orchestrator.WithSessionStore(sessions),
		orchestrator.WithEmitter(gateway.NewEmitter(gw)),
		orchestrator.WithExecutorOptions(
			graph.WithInterruptBefore(cfg.InterruptBeforeNodes),
			graph.WithNodeTimeout(cfg.NodeTimeout),
			graph.WithTurnTimeout(cfg.TurnTimeout),
			graph.WithMaxFanout(cfg.MaxFanoutTargets),
		),
	)
	if err != nil {
		log.Fatalf("orchestrator runtime: %v", err)
	}
	defer runtime.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.EnableDynamicGraph && cfg.AgentManifestPath != "" {
		go func() {
			if err := registry.Watch(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("registry watch stopped: %v", err)
			}
		}()
	}

	srv := server.New(runtime, gw)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(cfg.Addr) }()

	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err := <-errCh:
		log.Fatalf("server: %v", err)
	}
}

func buildSaver(cfg *config.Config) (graph.CheckpointSaver, error) {
	switch cfg.CheckpointBackend {
	case config.BackendMemory:
		return inmemory.NewSaver(), nil
	case config.BackendRedis:
		return checkpointredis.NewSaver(checkpointredis.WithClientURL(cfg.RedisCheckpointURL))
	default:
		return checkpointsqlite.Open(cfg.CheckpointPath)
	}
}
