package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func (a *app) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove every testbed resource on the engine",
		Long: `Removes all containers, networks and volumes carrying the testbed label,
whichever session created them, including sessions that were never
recorded. Recorded sessions are forgotten afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			eng, err := a.openEngine(a.cfg, "")
			if err != nil {
				return fmt.Errorf("failed to connect to engine: %w", err)
			}
			defer eng.Close()

			report, err := eng.Prune(ctx, "")
			renderPrune(out, report)
			if err != nil {
				return fmt.Errorf("prune failed: %w", err)
			}

			store, err := a.store(ctx)
			if err != nil {
				return err
			}
			sessions, err := store.List(ctx)
			if err != nil {
				return err
			}
			var errs error
			for _, s := range sessions {
				errs = multierr.Append(errs, store.Remove(ctx, s.ID))
			}
			return errs
		},
	}
}
