package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"autopilot/internal/config"
	"autopilot/internal/memory"

	"github.com/spf13/cobra"
)

// checks counts doctor results.
type checks struct {
	passed, warned, failed int
}

func (c *checks) pass(check, detail string) {
	c.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (c *checks) fail(check, detail string) {
	c.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (c *checks) warn(check, detail string) {
	c.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your autopilot setup",
		Long: `Verifies that the configuration, providers, transports and database are
correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("autopilot doctor v%s\n\n", version)

			var c checks
			if _, err := os.Stat(cfgPath); err != nil {
				c.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'autopilot init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			c.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			c.pass("Config validation", "valid")

			if cfg.General.OwnerID == "" {
				c.warn("Owner", "general.ownerId is empty; owner commands are disabled")
			} else {
				c.pass("Owner", cfg.General.OwnerID)
			}
			if len(cfg.General.Whitelist) == 0 {
				c.warn("Whitelist", "no conversations whitelisted; the agent will stay silent")
			} else {
				c.pass("Whitelist", fmt.Sprintf("%d conversation(s)", len(cfg.General.Whitelist)))
			}

			if err := checkDatabase(cmd.Context(), cfg.Memory.DBPath); err != nil {
				c.fail("Database", err.Error())
			} else {
				c.pass("Database", cfg.Memory.DBPath)
			}

			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if p.APIKey == "" {
					c.warn("Provider: "+name, "enabled but no API key configured")
				} else {
					c.pass("Provider: "+name, "configured")
				}
			}
			if providerCount == 0 {
				c.fail("Providers", "no providers enabled")
			}

			transports := 0
			if cfg.Channels.Discord.Enabled {
				transports++
				if cfg.Channels.Discord.Token == "" {
					c.fail("Discord", "enabled but no token")
				} else {
					c.pass("Discord", "token set")
				}
			}
			if cfg.Channels.Telegram.Enabled {
				transports++
				if cfg.Channels.Telegram.Token == "" {
					c.fail("Telegram", "enabled but no token")
				} else {
					c.pass("Telegram", "token set")
				}
			}
			if transports == 0 {
				c.warn("Transports", "none enabled; only 'autopilot chat' will work")
			}

			if cfg.Search.Provider == "perplexity" && cfg.Search.PerplexityToken == "" {
				c.warn("Search", "no Perplexity token; falling back to DuckDuckGo")
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					c.warn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					c.pass("Metrics", cfg.Metrics.Addr+" available")
				}
			}

			if cfg.Logging.File != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
					c.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					c.pass("Log file", cfg.Logging.File)
				}
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
			if c.failed > 0 {
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			return nil
		},
	}
}

// checkDatabase opens the store, which runs migrations, and tries a write.
func checkDatabase(ctx context.Context, dbPath string) error {
	db, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.DB().ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.DB().ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
