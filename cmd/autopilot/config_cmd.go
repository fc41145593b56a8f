package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"autopilot/internal/config"
	"autopilot/internal/memory"

	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long: "Get, set, and list configuration values. Changes are saved to the config file,\n" +
			"or with --store to the runtime settings in the database, which win over the file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. respond.respondMode)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	var toStore bool
	set := &cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. respond.respondMode attentive)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if toStore {
				return storeSetting(cmd, cfg, args[0], args[1])
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	}
	set.Flags().BoolVar(&toStore, "store", false, "save as a runtime setting in the database instead of the file")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			values := config.ListPaths(config.Sanitize(cfg))
			paths := make([]string, 0, len(values))
			for p := range values {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				fmt.Printf("%s = %v\n", p, values[p])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// storeSetting validates the override against the current config and adds it
// to the stored runtime settings. A running agent picks it up on SIGHUP.
func storeSetting(cmd *cobra.Command, cfg *config.Config, path, value string) error {
	ctx := cmd.Context()
	db, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	defer db.Close()

	key := cfg.SettingsKey()
	overrides, err := config.LoadOverrides(ctx, db, key)
	if err != nil {
		return err
	}
	overrides[path] = value
	if err := overrides.Apply(config.Clone(cfg)); err != nil {
		return err
	}
	if err := config.SaveOverrides(ctx, db, key, overrides); err != nil {
		return err
	}
	logger.Info("runtime setting stored", "path", path, "key", key)
	return nil
}
