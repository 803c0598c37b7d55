// Command xagent-server serves one configured agent over HTTP.
//
//	xagent-server -config xagent.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/xagent"
	"github.com/hupe1980/xagent/agent"
	"github.com/hupe1980/xagent/config"
	"github.com/hupe1980/xagent/core"
	"github.com/hupe1980/xagent/logging"
	"github.com/hupe1980/xagent/memory"
	"github.com/hupe1980/xagent/model"
	"github.com/hupe1980/xagent/model/anthropic"
	"github.com/hupe1980/xagent/model/openai"
	"github.com/hupe1980/xagent/server"
	"github.com/hupe1980/xagent/session"
	sessionredis "github.com/hupe1980/xagent/session/redis"
	"github.com/hupe1980/xagent/tool"
	"github.com/hupe1980/xagent/tool/mcp"
	"github.com/hupe1980/xagent/toolkit"
)

func main() {
	path := flag.String("config", "xagent.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "xagent-server:", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := cfg.NewLogger()

	mesh, cleanup, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(mesh, func(o *server.Options) {
		o.DefaultAgent = cfg.Agent.Name
		o.ReadTimeout = cfg.Server.ReadTimeout
		o.WriteTimeout = cfg.Server.WriteTimeout
		o.Logger = logger
	})

	return srv.Run(ctx, cfg.Server.Addr())
}

// build wires the store, model, tools and agent described by cfg. cleanup
// closes the store and the MCP connections.
func build(cfg *config.Config, logger logging.Logger) (*xagent.Mesh, func(), error) {
	var closers []func() error

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("server.cleanup.error", "error", err.Error())
			}
		}
	}

	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	if c, ok := store.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	tools, err := toolkit.Resolve(cfg.Tools.Builtin...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	sources := make([]tool.Source, 0, len(cfg.Tools.MCPServers))

	for _, url := range cfg.Tools.MCPServers {
		src := mcp.NewSource(url, func(o *mcp.Options) { o.Logger = logger })
		sources = append(sources, src)
		closers = append(closers, src.Close)
	}

	var mem core.MemoryStore
	if cfg.Memory.Enabled {
		mem = memory.NewInMemoryStore()
		tools = append(tools, memory.NewTools(mem)...)
	}

	a, err := agent.New(cfg.Agent.Name, newModel(cfg, logger), func(o *agent.Options) {
		o.Description = cfg.Agent.Description
		if cfg.Agent.SystemPrompt != "" {
			o.Instruction = agent.NewInstructionFromText(cfg.Agent.SystemPrompt)
		}

		o.Tools = tools
		o.Sources = sources
		o.Memory = mem
		o.MemoryLimit = cfg.Memory.Limit
		o.HistoryCount = cfg.Agent.HistoryCount
		o.MaxIterations = cfg.Agent.MaxIterations
		o.MaxParallelTools = cfg.Agent.MaxParallelTools
		o.PoolSize = cfg.Tools.PoolSize
		o.Location = cfg.Location()
		o.Logger = logger
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	mesh := xagent.New(func(o *xagent.Options) {
		o.Store = store
		o.Logger = logger
	})

	if err := mesh.RegisterAgent(a); err != nil {
		cleanup()
		return nil, nil, err
	}

	return mesh, cleanup, nil
}

func newStore(cfg *config.Config, logger logging.Logger) (core.MessageStore, error) {
	if cfg.Session.Backend == "redis" {
		return sessionredis.NewFromURL(cfg.Session.RedisURL, func(o *sessionredis.Options) {
			o.TTL = cfg.Session.TTL
			o.KeyPrefix = cfg.Session.KeyPrefix
			o.MaxMessages = cfg.Session.MaxMessages
			o.Logger = logger
		})
	}

	return session.NewInMemoryStore(func(o *session.Options) {
		o.MaxMessages = cfg.Session.MaxMessages
		o.Logger = logger
	}), nil
}

func newModel(cfg *config.Config, logger logging.Logger) model.Model {
	var llm model.Model

	switch cfg.Model.Provider {
	case "anthropic":
		llm = anthropic.NewModel(func(o *anthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Model.ID)
			o.Temperature = cfg.Model.Temperature
			o.MaxTokens = cfg.Model.MaxTokens
			o.APIKey = cfg.Model.APIKey
			o.BaseURL = cfg.Model.BaseURL
			o.Logger = logger
		})
	default:
		llm = openai.NewModel(func(o *openai.Options) {
			o.Model = cfg.Model.ID
			o.Temperature = cfg.Model.Temperature
			o.MaxCompletionTokens = cfg.Model.MaxTokens
			o.APIKey = cfg.Model.APIKey
			o.BaseURL = cfg.Model.BaseURL
			o.Logger = logger
		})
	}

	if cfg.Model.Breaker.Enabled {
		llm = model.WithCircuitBreaker(llm, func(o *model.BreakerOptions) {
			o.MaxFailures = cfg.Model.Breaker.MaxFailures
			o.Timeout = cfg.Model.Breaker.Timeout
			o.Logger = logger
		})
	}

	return model.WithRateLimit(llm, cfg.Model.RateLimit.RPS, cfg.Model.RateLimit.Burst)
}
