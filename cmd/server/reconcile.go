package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/meetup-schedule/internal/config"
)

// reconcileCommand runs one reconciliation pass: overdue schedules are
// finalized and their notifications flushed, then the process exits.
// Future deadlines are left for the serving instances.
func reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Finalize every schedule whose voting deadline has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := commonRun(cfg)
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			a.dispatcher.Start()
			report, err := a.scheduler.Start(ctx, a.svc)
			a.scheduler.Stop()
			a.dispatcher.Stop()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "finalized=%d skipped=%d failed=%d pending=%d\n",
				report.Finalized, report.Skipped, report.Failed, report.Armed)
			if report.Failed > 0 {
				return fmt.Errorf("%d schedules could not be finalized", report.Failed)
			}
			return nil
		},
	}
}
