package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk/internal/worker"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Promote due scheduled tickets once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg := worker.SweepWorkerConfig{
				Sweeper:  rt.scheduling,
				Metrics:  rt.metrics,
				Logger:   rt.logger,
				Interval: rt.cfg.Scheduler.Interval(),
			}
			if lock := rt.sweepLock(); lock != nil {
				cfg.Lock = lock
			}
			w, err := worker.NewSweepWorker(cfg)
			if err != nil {
				return err
			}
			defer w.Shutdown() //nolint:errcheck

			promoted, err := w.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted %d scheduled tickets\n", promoted)
			return nil
		},
	}
}
