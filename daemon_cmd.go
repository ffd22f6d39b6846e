package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stevetools/calsync/internal/engine"
	"github.com/stevetools/calsync/internal/importer"
)

func newDaemonCmd() *cobra.Command {
	var flagSchedule string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled syncs until interrupted",
		Long: `Daemon syncs all configured accounts on a schedule and, when an import
directory is configured, watches it for dropped .ics files. It runs
until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(cfg.Accounts) == 0 {
				return fmt.Errorf("no accounts configured")
			}

			schedule := cfg.Daemon.Schedule
			if flagSchedule != "" {
				schedule = flagSchedule
			}

			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dispatcher := engine.NewDispatcher(st, logger)

			runAll := func() {
				summaries := dispatcher.SyncAll(ctx, cfg.Accounts)
				for _, s := range summaries {
					if s.Error != "" {
						logger.Error("sync failed", "account", s.Account, "error", s.Error)
					} else {
						logger.Info("sync finished", "account", s.Account,
							"pulled", s.Pulled, "updated", s.Updated, "removed", s.Removed,
							"pushed", s.Pushed, "deleted", s.Deleted)
					}
				}
			}

			sched := cron.New()
			if _, err := sched.AddFunc(schedule, runAll); err != nil {
				return fmt.Errorf("invalid schedule %q: %w", schedule, err)
			}

			group, ctx := errgroup.WithContext(ctx)

			group.Go(func() error {
				sched.Start()
				<-ctx.Done()
				<-sched.Stop().Done()

				return nil
			})

			if cfg.Import.Dir != "" {
				imp := importer.New(st, cfg.Import.Dir, logger)
				group.Go(func() error {
					return imp.Watch(ctx)
				})
			}

			logger.Info("daemon started", "schedule", schedule, "accounts", len(cfg.Accounts))

			// Sync once at startup so a fresh daemon is useful immediately.
			runAll()

			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			logger.Info("daemon stopped")

			return nil
		},
	}

	cmd.Flags().StringVar(&flagSchedule, "schedule", "", "cron expression overriding the configured schedule")

	return cmd
}
