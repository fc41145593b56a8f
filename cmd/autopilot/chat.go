package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"autopilot/internal/channel"
	"autopilot/internal/config"
	"autopilot/internal/instance"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent in the terminal",
		Long:  "Runs the agent against a local console conversation with the same memory and settings as run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cli := channel.NewCLI(channel.CLIConfig{UserID: cfg.Channels.CLI.UserID, Logger: logger})
			cfg.General.Enabled = true
			if !slices.Contains(cfg.General.Whitelist, cli.ConversationID()) {
				cfg.General.Whitelist = append(cfg.General.Whitelist, cli.ConversationID())
			}
			if mode != "" {
				cfg.Respond.Mode = mode
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			a, err := openApp(ctx, resolveConfigPath(), cfg, logger)
			if errors.Is(err, instance.ErrAlreadyRunning) {
				return fmt.Errorf("another autopilot is already running for %q; stop it first", leaseOwner(cfg))
			}
			if err != nil {
				return err
			}
			a.router.Register(cli)
			a.adoptIdentity(cli)

			// The console's Start returns on /quit or end of input.
			errc := a.start(ctx)
			select {
			case <-ctx.Done():
			case err := <-errc:
				if err != nil {
					logger.Warn("console input failed", "err", err)
				}
			}
			stop()
			return a.shutdown()
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "always", "respond mode for the console (always, mention, random, attentive, human)")
	return cmd
}
