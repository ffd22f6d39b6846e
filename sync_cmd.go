package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stevetools/calsync/internal/config"
	"github.com/stevetools/calsync/internal/engine"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [account]",
		Short: "Run one sync cycle against the remote calendar server(s)",
		Long: `Run a one-shot bidirectional sync: pull remote changes into the local
store, then push locally created or modified events. With no argument, every
configured account is synced.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			d := engine.NewDispatcher(st, logger)

			accounts := cfg.Accounts
			if len(args) == 1 {
				acct, ok := cfg.Accounts[args[0]]
				if !ok {
					return fmt.Errorf("unknown account %q", args[0])
				}

				acct.Name = args[0]
				accounts = map[string]config.Account{args[0]: acct}
			}

			if len(accounts) == 0 {
				return fmt.Errorf("%w: no accounts in config", config.ErrNotConfigured)
			}

			summaries := d.SyncAll(cmd.Context(), accounts)

			return printSummaries(summaries)
		},
	}
}

func printSummaries(summaries []*engine.RunSummary) error {
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(summaries)
	}

	var failed bool

	for _, s := range summaries {
		if s.Error != "" {
			failed = true
			fmt.Printf("%s: %s: %s\n", s.Account, s.Message, s.Error)

			continue
		}

		fmt.Printf("%s: %s\n", s.Account, s.Message)

		for _, e := range s.Errors {
			fmt.Printf("  warning: %s\n", e)
		}
	}

	if failed {
		return fmt.Errorf("one or more accounts failed to sync")
	}

	return nil
}
