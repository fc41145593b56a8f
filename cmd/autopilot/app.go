package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"autopilot/internal/agent"
	"autopilot/internal/bus"
	"autopilot/internal/channel"
	"autopilot/internal/config"
	"autopilot/internal/domain"
	"autopilot/internal/instance"
	"autopilot/internal/memory"
	"autopilot/internal/metrics"
	"autopilot/internal/provider"
	"autopilot/internal/search"
)

const shutdownTimeout = 10 * time.Second

// app holds the running agent and everything it owns.
type app struct {
	cfgPath string
	current atomic.Pointer[config.Config]
	logger  *slog.Logger

	db        *memory.SQLiteStore
	lease     *instance.Lease
	bus       *bus.InMemoryBus
	events    *bus.EventBus
	router    *channel.Router
	store     *memory.Store
	cascade   *memory.Cascade
	persister *memory.Persister
	engine    *agent.Engine
	scheduler *agent.Scheduler
}

// openApp takes the instance lease, restores memory and wires the engine.
// Transports are registered by the caller before start.
func openApp(ctx context.Context, cfgPath string, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfgPath: cfgPath, logger: logger}

	db, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	a.db = db

	registry := instance.NewRegistry(instance.RegistryConfig{Store: db, Logger: logger})
	lease, err := registry.Acquire(ctx, leaseOwner(cfg))
	if err != nil {
		db.Close()
		return nil, err
	}
	a.lease = lease

	applyStoredOverrides(ctx, db, cfg, logger)
	a.current.Store(cfg)

	factory := provider.NewFactory(cfg, logger)
	chat, err := factory.Chat()
	if err != nil {
		logger.Warn("no chat provider, replies fall back to static text", "err", err)
	}
	embedder := factory.Embedder()
	searcher := search.New(search.Config{
		Provider:        cfg.Search.Provider,
		PerplexityToken: cfg.Search.PerplexityToken,
		PerplexityModel: cfg.Search.PerplexityModel,
		PerplexityBase:  cfg.Search.PerplexityBase,
		Logger:          logger,
	})

	a.bus = bus.New(100, logger)
	a.events = bus.NewEventBus(logger)
	if cfg.Metrics.Enabled {
		metrics.Attach(a.events)
	}
	a.router = channel.NewRouter(a.bus, logger)

	a.store = memory.NewStore(memory.StoreConfig{
		ImportantLimit: cfg.General.ImportantMemoryLimit,
		Logger:         logger,
	})
	a.persister = memory.NewPersister(a.store, db, cfg.General.OwnerID, cfg.Memory.UseGlobalConfig)
	if ok, err := a.persister.Load(ctx); err != nil {
		logger.Warn("memory snapshot unreadable, starting empty", "err", err)
	} else if ok {
		logger.Info("memory restored", "tiers", a.store.Stats())
	}
	if cfg.Metrics.Enabled {
		tiers := make([]string, len(memory.Tiers))
		for i, t := range memory.Tiers {
			tiers[i] = string(t)
		}
		metrics.TrackMemory(tiers, func() map[string]int {
			out := make(map[string]int)
			for t, n := range a.store.Stats() {
				out[string(t)] = n
			}
			return out
		})
	}

	a.cascade = memory.NewCascade(memory.CascadeConfig{
		Store:    a.store,
		Provider: chat,
		Embedder: embedder,
		Settings: a.memorySettings,
		OnPass:   agent.PassReporter(a.events, a.persister, logger),
		Logger:   logger,
	})
	retriever := memory.NewRetriever(memory.RetrieverConfig{
		Store:    a.store,
		Provider: chat,
		Embedder: embedder,
		Settings: a.memorySettings,
		Logger:   logger,
	})

	engine, err := agent.NewEngine(agent.EngineConfig{
		Bus:       a.bus,
		Sender:    a.router,
		Typer:     a.router,
		Lookup:    a.router,
		Provider:  chat,
		Searcher:  searcher,
		Store:     a.store,
		Cascade:   a.cascade,
		Retriever: retriever,
		Persister: a.persister,
		Events:    a.events,
		Settings:  a.agentSettings,
		Memory:    a.memorySettings,
		Logger:    logger,
	})
	if err != nil {
		a.release()
		return nil, fmt.Errorf("engine: %w", err)
	}
	a.engine = engine
	a.scheduler = agent.NewScheduler(logger)
	return a, nil
}

func leaseOwner(cfg *config.Config) string {
	switch {
	case cfg.General.InstanceID != "":
		return cfg.General.InstanceID
	case cfg.General.OwnerID != "":
		return cfg.General.OwnerID
	default:
		return "default"
	}
}

// applyStoredOverrides overlays the runtime settings snapshot. A bad overlay
// is logged and the file config is kept.
func applyStoredOverrides(ctx context.Context, db domain.SnapshotStore, cfg *config.Config, logger *slog.Logger) {
	overrides, err := config.LoadOverrides(ctx, db, cfg.SettingsKey())
	if err != nil {
		logger.Warn("stored settings unreadable", "err", err)
		return
	}
	if len(overrides) == 0 {
		return
	}
	if err := overrides.Apply(cfg); err != nil {
		logger.Warn("stored settings rejected", "err", err)
		return
	}
	logger.Info("stored settings applied", "count", len(overrides))
}

func (a *app) agentSettings() agent.Settings   { return a.current.Load().AgentSettings() }
func (a *app) memorySettings() memory.Settings { return a.current.Load().MemorySettings() }

// reload re-reads the config file and the stored overrides and swaps them in.
// Transports and providers keep their startup configuration.
func (a *app) reload(ctx context.Context) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	applyStoredOverrides(ctx, a.db, cfg, a.logger)
	a.current.Store(cfg)
	a.store.SetImportantLimit(cfg.General.ImportantMemoryLimit)
	a.logger.Info("settings reloaded", "path", a.cfgPath)
	return nil
}

// setIdentity is the OnReady hook of the chat transports.
func (a *app) setIdentity(id, name string) {
	a.logger.Info("connected", "id", id, "name", name)
	a.engine.SetIdentity(id, name)
}

// adoptIdentity speaks as ch's account when the transport knows it up front.
func (a *app) adoptIdentity(ch domain.Channel) {
	if ident, ok := ch.(domain.Identity); ok {
		a.setIdentity(ident.Self())
	}
}

// start launches every registered transport and the engine. The returned
// channel receives the result of each transport whose Start returns.
func (a *app) start(ctx context.Context) <-chan error {
	errc := make(chan error, len(a.router.Channels())+1)
	a.cascade.Attach(ctx)

	for _, ch := range a.router.Channels() {
		go func(ch domain.Channel) {
			err := ch.Start(ctx, a.router.Bus())
			if err != nil {
				err = fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			errc <- err
		}(ch)
		a.logger.Info("channel started", "channel", ch.Name())
	}

	cfg := a.current.Load()
	if err := a.engine.Schedule(ctx, a.scheduler, cfg.Proactive.Schedule, cfg.Memory.BackfillSchedule); err != nil {
		a.logger.Warn("periodic jobs disabled", "err", err)
	} else {
		a.scheduler.Start()
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Warn("metrics endpoint failed", "addr", cfg.Metrics.Addr, "err", err)
			}
		}()
	}

	go a.engine.Run(ctx)
	return errc
}

// shutdown stops transports and jobs, drains in-flight work and saves the
// memory snapshot, giving up after shutdownTimeout.
func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range a.router.Channels() {
			if err := ch.Stop(); err != nil {
				a.logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		a.scheduler.Stop(ctx)
		a.engine.Wait()
		a.cascade.Wait()
		a.engine.Persist(ctx)
		a.bus.Close()
	}()

	var err error
	select {
	case <-done:
		a.logger.Info("shutdown complete")
	case <-ctx.Done():
		a.logger.Warn("shutdown timed out, forcing exit")
		err = errors.New("shutdown timed out")
	}
	a.engine.Close()
	a.release()
	return err
}

func (a *app) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if a.lease != nil {
		if err := a.lease.Release(ctx); err != nil {
			a.logger.Warn("instance lease not released", "err", err)
		}
	}
	a.db.Close()
}
