package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/user/shopline/internal/chat"
	"github.com/user/shopline/internal/config"
	"github.com/user/shopline/internal/gateway"
	"github.com/user/shopline/internal/metrics"
	"github.com/user/shopline/internal/prompt"
	"github.com/user/shopline/internal/runtime"
	"github.com/user/shopline/internal/runtime/tools"
	"github.com/user/shopline/internal/state"
	"github.com/user/shopline/internal/store"
	"github.com/user/shopline/pkg/llm"
	"github.com/user/shopline/pkg/llm/canned"
	"github.com/user/shopline/pkg/llm/openai"
)

// app holds the wired components shared by serve and chat.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	engine   llm.Engine
	gateway  *gateway.Gateway
	chat     *chat.Service
	registry *prometheus.Registry
}

// buildApp opens the catalog store and wires engine, runtime and gateway.
func buildApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.Open(cfg.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pe := buildPromptEngine(cfg)

	registry := runtime.NewRegistry(tools.Commerce(db)...)
	dispatcher := runtime.NewDispatcher(registry,
		runtime.WithToolTimeout(cfg.Gateway.ToolTimeout.Std()),
		runtime.WithTruncator(pe),
		runtime.WithDispatchMetrics(m),
	)
	rt := runtime.New(engine, dispatcher, runtimeOptions(cfg))
	gw := gateway.New(engine, rt, gatewayConfig(cfg),
		gateway.WithMetrics(m),
		gateway.WithInstructions(pe),
	)
	sessions := state.NewSessionStore(cfg.DataDir)

	return &app{
		cfg:      cfg,
		store:    db,
		engine:   engine,
		gateway:  gw,
		chat:     chat.New(gw, sessions, nil),
		registry: reg,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// buildEngine returns the Assistants client, or the canned engine when no
// API key is configured. A key without an assistant id is an error.
func buildEngine(cfg *config.Config) (llm.Engine, error) {
	if cfg.LLM.APIKey == "" {
		slog.Warn("no engine credentials configured, replying with canned messages")
		return canned.New(), nil
	}
	client, err := openai.New(&llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		AssistantID:  cfg.LLM.AssistantID,
		Instructions: cfg.LLM.Instructions,
	})
	if errors.Is(err, openai.ErrMissingAssistant) {
		return nil, fmt.Errorf("%w (set llm.assistant_id or OPENAI_ASSISTANT_ID)", err)
	}
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return client, nil
}

// buildPromptEngine prefers a tiktoken tokenizer and falls back to the
// byte estimate when the encoding cannot be loaded.
func buildPromptEngine(cfg *config.Config) *prompt.Engine {
	pe, err := prompt.New(cfg.LLM.Model, cfg.LLM.MaxToolTokens, cfg.LLM.TemplatePath)
	if err == nil {
		return pe
	}
	slog.Warn("prompt engine fallback", "error", err)
	pe, err = prompt.NewWithTokenizer(nil, cfg.LLM.MaxToolTokens, prompt.DefaultInstructions)
	if err != nil {
		panic(err)
	}
	return pe
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	g := cfg.Gateway
	return gateway.Config{
		MaxConnections: g.MaxConnections,
		CacheTTL:       g.CacheTTL.Std(),
		CacheCapacity:  g.CacheCapacity,
		Breaker: gateway.BreakerConfig{
			Threshold:      g.BreakerThreshold,
			OpenTimeout:    g.BreakerOpenTimeout.Std(),
			HalfOpenTrials: g.BreakerHalfOpenTrials,
		},
		MaxAttempts:    g.MaxAttempts,
		RetryBaseDelay: g.RetryBaseDelay.Std(),
		TurnTimeout:    g.TurnTimeout.Std(),
	}
}

func runtimeOptions(cfg *config.Config) runtime.Options {
	return runtime.Options{
		PollInterval:  cfg.Gateway.PollInterval.Std(),
		MaxPolls:      cfg.Gateway.MaxPolls,
		MaxToolRounds: cfg.Gateway.MaxToolRounds,
	}
}
