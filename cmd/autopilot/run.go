package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"autopilot/internal/channel"
	"autopilot/internal/config"
	"autopilot/internal/instance"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent on every enabled transport",
		Long: "Connects the enabled transports (Discord, Telegram), restores memory and runs the\n" +
			"agent until SIGINT or SIGTERM. SIGHUP reloads settings.",
		RunE: runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, resolveConfigPath(), cfg, logger)
	if errors.Is(err, instance.ErrAlreadyRunning) {
		return fmt.Errorf("another autopilot is already running for %q", leaseOwner(cfg))
	}
	if err != nil {
		return err
	}

	if registerTransports(a, cfg) == 0 {
		a.shutdown()
		return errors.New("no transport enabled (channels.discord or channels.telegram)")
	}

	errc := a.start(ctx)
	go watchReload(ctx, a)

	logger.Info("autopilot started. Press Ctrl+C to stop.", "version", version, "enabled", cfg.General.Enabled)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		if runErr != nil {
			logger.Error("transport failed", "err", runErr)
		}
		stop()
	}
	logger.Info("shutting down...")
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// registerTransports adds the enabled chat transports to the router and
// returns how many were added.
func registerTransports(a *app, cfg *config.Config) int {
	n := 0
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		a.router.Register(channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			OnReady: a.setIdentity,
			Logger:  logger,
		}))
		n++
	} else {
		logger.Info("discord channel disabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		a.router.Register(channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			OnReady:   a.setIdentity,
			Logger:    logger,
		}))
		n++
	} else {
		logger.Info("telegram channel disabled")
	}
	return n
}

// watchReload reloads settings on SIGHUP until ctx ends.
func watchReload(ctx context.Context, a *app) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.reload(ctx); err != nil {
				logger.Warn("reload failed, keeping current settings", "err", err)
			}
		}
	}
}
