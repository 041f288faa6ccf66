package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"minibridge/internal/runtime"
	"minibridge/internal/session"
	"minibridge/internal/state"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local setup: config, workspace, state db, gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		failures := 0

		cfg, err := loadConfig()
		if err != nil {
			printFail("config", err.Error())
			return fmt.Errorf("%d check(s) failed", 1)
		}
		printPass("config", configPath)

		if info, err := os.Stat(cfg.General.Workspace); err != nil {
			printWarn("workspace", fmt.Sprintf("%s does not exist yet (created on first run)", cfg.General.Workspace))
		} else if !info.IsDir() {
			printFail("workspace", cfg.General.Workspace+" is not a directory")
			failures++
		} else {
			printPass("workspace", cfg.General.Workspace)
		}

		if store, err := state.Open(cfg.State.DBPath); err != nil {
			printFail("state db", err.Error())
			failures++
		} else {
			store.Close()
			printPass("state db", cfg.State.DBPath)
		}

		enabled := 0
		for _, acct := range cfg.Accounts {
			if !acct.Enabled {
				continue
			}
			enabled++
			if acct.APIKey == "" {
				printFail("account "+acct.ID, "no api key")
				failures++
			} else {
				printPass("account "+acct.ID, fmt.Sprintf("poll every %dms", acct.PollIntervalOrDefault()))
			}
			if acct.SessionKey != "" && !session.IsValidKey(acct.SessionKey) {
				printWarn("account "+acct.ID, fmt.Sprintf("invalid session key %q, will use %s", acct.SessionKey, session.DefaultSessionKey))
			}
		}
		if enabled == 0 {
			printWarn("accounts", "no enabled accounts")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gw := runtime.New(cfg.Gateway.BaseURL, cfg.Gateway.Token, slog.Default())
		if err := gw.Ping(ctx); err != nil {
			printWarn("gateway", fmt.Sprintf("%s unreachable: %v", cfg.Gateway.BaseURL, err))
		} else {
			printPass("gateway", cfg.Gateway.BaseURL)
		}

		if failures > 0 {
			return fmt.Errorf("%d check(s) failed", failures)
		}
		fmt.Println("\nAll checks passed.")
		return nil
	},
}

func printPass(name, detail string) {
	fmt.Printf("  ✓ %-14s %s\n", name, detail)
}

func printWarn(name, detail string) {
	fmt.Printf("  ! %-14s %s\n", name, detail)
}

func printFail(name, detail string) {
	fmt.Printf("  ✗ %-14s %s\n", name, detail)
}
