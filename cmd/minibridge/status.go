package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"minibridge/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured accounts and their poll cursors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := state.Open(cfg.State.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tENABLED\tINTERVAL\tCURSOR")
		for _, acct := range cfg.Accounts {
			offset, err := store.Cursor(ctx, acct.ID)
			cursor := fmt.Sprintf("%d", offset)
			if err != nil {
				cursor = "error"
			}
			fmt.Fprintf(w, "%s\t%v\t%dms\t%s\n", acct.ID, acct.Enabled, acct.PollIntervalOrDefault(), cursor)
		}
		return w.Flush()
	},
}
