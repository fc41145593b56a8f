package main

import (
	"errors"
	"fmt"

	"autopilot/internal/config"
	"autopilot/internal/instance"
	"autopilot/internal/memory"
	"autopilot/internal/provider"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, instance and memory status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			logger.Info("agent",
				"enabled", cfg.General.Enabled,
				"owner", cfg.General.OwnerID,
				"mode", cfg.Respond.Mode,
				"whitelist", len(cfg.General.Whitelist),
				"proactive", len(cfg.Proactive.Channels))
			logger.Info("transports",
				"discord", cfg.Channels.Discord.Enabled,
				"telegram", cfg.Channels.Telegram.Enabled)

			factory := provider.NewFactory(cfg, logger)
			if chat, err := factory.Chat(); err != nil {
				logger.Info("provider", "ready", false, "err", err)
			} else {
				logger.Info("provider", "name", chat.Name(), "models", chat.Models(), "embeddings", factory.Embedder() != nil)
			}
			logger.Info("search", "provider", cfg.Search.Provider, "token", cfg.Search.PerplexityToken != "")

			db, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				logger.Info("database", "path", cfg.Memory.DBPath, "ok", false, "err", err)
				return nil
			}
			defer db.Close()

			registry := instance.NewRegistry(instance.RegistryConfig{Store: db, Logger: logger})
			lease, err := registry.Acquire(ctx, leaseOwner(cfg))
			switch {
			case errors.Is(err, instance.ErrAlreadyRunning):
				logger.Info("instance", "owner", leaseOwner(cfg), "running", true)
			case err != nil:
				logger.Info("instance", "owner", leaseOwner(cfg), "err", err)
			default:
				lease.Release(ctx)
				logger.Info("instance", "owner", leaseOwner(cfg), "running", false)
			}

			store := memory.NewStore(memory.StoreConfig{Logger: logger})
			persister := memory.NewPersister(store, db, cfg.General.OwnerID, cfg.Memory.UseGlobalConfig)
			if ok, err := persister.Load(ctx); err != nil {
				logger.Info("memory", "ok", false, "err", err)
			} else {
				stats := store.Stats()
				logger.Info("memory", "snapshot", ok,
					"medium", stats[memory.TierMedium],
					"long", stats[memory.TierLong],
					"global", stats[memory.TierGlobal],
					"personality", stats[memory.TierPersonality],
					"important", stats[memory.TierImportant])
			}
			fmt.Println("version", version)
			return nil
		},
	}
}
