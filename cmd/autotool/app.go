package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"autotool/internal/config"
	"autotool/internal/events"
	"autotool/internal/llm"
	"autotool/internal/memory"
	"autotool/internal/orchestrator"
	"autotool/internal/registry"
	"autotool/internal/resilience"
	"autotool/internal/sandbox"
	"autotool/internal/store"
)

// app holds the components a command needs. Fields stay nil when the
// command did not ask for them.
type app struct {
	cfg      *config.Config
	client   llm.Client
	bus      *events.Bus
	executor *sandbox.Executor
	registry *registry.Registry
	db       *sql.DB
	runs     *store.RunStore
	memory   *memory.Index
	orch     *orchestrator.Orchestrator
}

type appOptions struct {
	model  bool // require a model client
	memory bool
	runs   bool
	orch   bool
}

// openApp wires the components selected by opts.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, bus: events.NewBus(256)}
	a.executor = sandbox.New(sandbox.Config{
		Timeout:       cfg.GetSandboxTimeout(),
		ExtraPackages: cfg.Sandbox.ExtraPackages,
	})

	if opts.model || opts.orch {
		if err := cfg.RequireAPIKey(); err != nil {
			return nil, err
		}
	}
	if cfg.LLM.APIKey != "" {
		gc, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.GetLLMTimeout(),
			Temperature: cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}
		a.client = llm.Traced(gc, cfg.LLM.Provider)
	}

	retrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts: cfg.Resilience.MaxAttempts,
		BaseDelay:   cfg.GetBaseDelay(),
	}, resilience.NewCounter(cfg.Resilience.GlobalRetryLimit))

	reg, err := registry.New(registry.Options{
		Dir:          cfg.DataDir,
		RegistryFile: cfg.Registry.RegistryFile,
		MetricsFile:  cfg.Registry.MetricsFile,
		Author:       cfg.Registry.Author,
		Standardize:  cfg.Registry.Standardize,
		Client:       a.client,
		Executor:     a.executor,
		Retrier:      retrier,
		Emitter:      a.bus,
	})
	if err != nil {
		return nil, err
	}
	a.registry = reg

	if opts.runs || opts.memory || opts.orch {
		if err := a.openStore(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.memory || opts.orch {
		if err := a.openMemory(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.orch {
		a.orch, err = orchestrator.New(orchestrator.Options{
			Client:            a.client,
			Capabilities:      a.registry,
			Executor:          a.executor,
			Memory:            a.memory,
			Runs:              a.runs,
			Emitter:           a.bus,
			Config:            cfg.Orchestrator,
			MaxRepairAttempts: cfg.Resilience.RepairMaxAttempts,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore() error {
	db, err := store.Open(cfg.ResolvePath(cfg.Store.Path), cfg.Store.Driver)
	if err != nil {
		return err
	}
	a.db = db
	a.runs, err = store.NewRunStore(db)
	return err
}

func (a *app) openMemory(ctx context.Context) error {
	var embedder llm.Embedder
	if cfg.Memory.Embedding.Provider == "genai" {
		if err := cfg.RequireAPIKey(); err != nil {
			return err
		}
		e, err := llm.NewGenAIEmbedder(ctx, cfg.LLM.APIKey, cfg.Memory.Embedding.Model,
			cfg.Memory.Embedding.TaskType, cfg.Memory.Embedding.Dimensions)
		if err != nil {
			return err
		}
		embedder = e
	}

	var backend memory.Backend
	switch cfg.Memory.Backend {
	case "qdrant":
		b, err := memory.DialQdrant(ctx, cfg.Memory.QdrantAddr, cfg.Memory.QdrantCollection, embedder)
		if err != nil {
			return err
		}
		backend = b
	default:
		path := cfg.MemoryDatabasePath()
		if a.db != nil && path == cfg.ResolvePath(cfg.Store.Path) {
			b, err := memory.NewSQLiteBackend(a.db, embedder)
			if err != nil {
				return err
			}
			backend = b
		} else {
			b, err := memory.OpenSQLiteBackend(path, cfg.Store.Driver, embedder)
			if err != nil {
				return err
			}
			backend = b
		}
	}
	a.memory = memory.NewIndex(backend, memory.IndexConfig{
		Threshold: cfg.Orchestrator.MemoryThreshold,
		Baseline:  cfg.Orchestrator.BaselineConfidence,
	})
	return nil
}

// Close releases everything openApp created.
func (a *app) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.memory != nil {
		a.memory.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	a.bus.Close()
}

// commandContext is cancelled by the global timeout or SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}
