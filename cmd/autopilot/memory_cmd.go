package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"autopilot/internal/agent"
	"autopilot/internal/config"
	"autopilot/internal/instance"
	"autopilot/internal/memory"
	"autopilot/internal/provider"

	"github.com/spf13/cobra"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the stored memory",
		Long: "Reads and edits the persisted memory tiers. Commands that change memory take the\n" +
			"instance lease, so stop a running agent first.",
	}
	cmd.AddCommand(memoryStatsCmd())
	cmd.AddCommand(memoryExportCmd())
	cmd.AddCommand(memoryImportCmd())
	cmd.AddCommand(memoryPushCmd("push-mtm", "Summarize a conversation's short-term memory into medium-term", true))
	cmd.AddCommand(memoryPushCmd("push-ltm", "Summarize a conversation's medium-term memory into long-term", false))
	cmd.AddCommand(memoryClearCmd())
	return cmd
}

// offlineMemory is a restored memory store outside the running agent.
type offlineMemory struct {
	cfg       *config.Config
	db        *memory.SQLiteStore
	store     *memory.Store
	persister *memory.Persister
	lease     *instance.Lease
}

// openMemory restores the snapshot. With exclusive set it also takes the
// instance lease so the running agent cannot overwrite the result.
func openMemory(ctx context.Context, exclusive bool) (*offlineMemory, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	m := &offlineMemory{cfg: cfg, db: db}

	if exclusive {
		registry := instance.NewRegistry(instance.RegistryConfig{Store: db, Logger: logger})
		lease, err := registry.Acquire(ctx, leaseOwner(cfg))
		if errors.Is(err, instance.ErrAlreadyRunning) {
			db.Close()
			return nil, errors.New("autopilot is running; stop it before changing memory")
		}
		if err != nil {
			db.Close()
			return nil, err
		}
		m.lease = lease
	}

	applyStoredOverrides(ctx, db, cfg, logger)
	m.store = memory.NewStore(memory.StoreConfig{ImportantLimit: cfg.General.ImportantMemoryLimit, Logger: logger})
	m.persister = memory.NewPersister(m.store, db, cfg.General.OwnerID, cfg.Memory.UseGlobalConfig)
	if _, err := m.persister.Load(ctx); err != nil {
		m.Close(ctx)
		return nil, err
	}
	return m, nil
}

func (m *offlineMemory) Close(ctx context.Context) {
	if m.lease != nil {
		m.lease.Release(ctx)
	}
	m.db.Close()
}

func memoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the entry count of every tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := openMemory(ctx, false)
			if err != nil {
				return err
			}
			defer m.Close(ctx)

			stats := m.store.Stats()
			for _, t := range memory.Tiers {
				if t == memory.TierShort {
					continue
				}
				fmt.Printf("%-12s %d\n", t, stats[t])
			}
			return nil
		},
	}
}

func memoryExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the memory snapshot as JSON (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := openMemory(ctx, false)
			if err != nil {
				return err
			}
			defer m.Close(ctx)

			data, err := json.MarshalIndent(m.store.Snapshot(), "", "  ")
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			logger.Info("memory exported", "file", args[0])
			return nil
		},
	}
}

func memoryImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored memory with a JSON snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var snap memory.Snapshot
			if err := json.Unmarshal(data, &snap); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			m, err := openMemory(ctx, true)
			if err != nil {
				return err
			}
			defer m.Close(ctx)

			m.store.Restore(snap)
			if err := m.persister.Save(ctx); err != nil {
				return err
			}
			logger.Info("memory imported", "file", args[0], "tiers", m.store.Stats())
			return nil
		},
	}
}

// memoryPushCmd forces one cascade stage for a conversation, like the
// owner's !pushtomtm and !pushtoltm commands.
func memoryPushCmd(use, short string, shortTerm bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <conversation>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := openMemory(ctx, true)
			if err != nil {
				return err
			}
			defer m.Close(ctx)

			conversationID := args[0]
			if shortTerm && m.store.Count(memory.TierShort, conversationID) == 0 {
				fmt.Printf("Short-term memory lives in the running agent. Send !%s in %s instead.\n", agent.CmdPushToMTM, conversationID)
				return nil
			}

			factory := provider.NewFactory(m.cfg, logger)
			chat, err := factory.Chat()
			if err != nil {
				return fmt.Errorf("chat provider: %w", err)
			}
			cascade := memory.NewCascade(memory.CascadeConfig{
				Store:    m.store,
				Provider: chat,
				Embedder: factory.Embedder(),
				Settings: memory.StaticSettings(m.cfg.MemorySettings()),
				Logger:   logger,
			})

			before := m.store.Stats()
			if shortTerm {
				err = cascade.PromoteShort(ctx, conversationID, true)
			} else {
				err = cascade.PromoteMedium(ctx, conversationID, true)
			}
			if err != nil {
				return err
			}
			if err := m.persister.Save(ctx); err != nil {
				return err
			}
			after := m.store.Stats()
			logger.Info("memory pushed", "conversation", conversationID,
				"medium", fmt.Sprintf("%d->%d", before[memory.TierMedium], after[memory.TierMedium]),
				"long", fmt.Sprintf("%d->%d", before[memory.TierLong], after[memory.TierLong]))
			return nil
		},
	}
}

func memoryClearCmd() *cobra.Command {
	var tier, conversationID string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stored memory entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tiers []memory.Tier
			if tier == "" || tier == "all" {
				tiers = memory.Tiers
			} else {
				t := memory.Tier(tier)
				if !slices.Contains(memory.Tiers, t) {
					return fmt.Errorf("unknown tier %q", tier)
				}
				tiers = []memory.Tier{t}
			}

			ctx := cmd.Context()
			m, err := openMemory(ctx, true)
			if err != nil {
				return err
			}
			defer m.Close(ctx)

			removed := 0
			for _, t := range tiers {
				removed += m.store.Clear(t, conversationID)
			}
			if err := m.persister.Save(ctx); err != nil {
				return err
			}
			logger.Info("memory cleared", "entries", removed, "tier", tier, "conversation", conversationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "all", "tier to clear (medium, long, global, personality, important, all)")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "only clear entries of this conversation")
	return cmd
}
