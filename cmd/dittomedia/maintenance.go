package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass now",
		Long: `Sweep reclaims expired upload sessions, deletes the bytes of files no
longer referenced and retries deletions that failed earlier. It runs the
same pass as the background scheduler, bounded by gc.timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRuntime(rt)

			ctx, cancel := context.WithTimeout(cmd.Context(), rt.Config.GC.Timeout)
			defer cancel()

			stats, err := rt.Collector.RunNow(ctx)
			if stats != nil {
				fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
			}
			return err
		},
	}
}
