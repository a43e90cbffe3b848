package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/testbed/internal/state"
)

func (a *app) downCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Remove the resources of a session",
		Long: `Removes every container, network and volume labelled with the session ID
and forgets the session. Without --session the most recent session is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			store, err := a.store(ctx)
			if err != nil {
				return err
			}

			sess, err := store.Get(ctx, sessionID)
			if errors.Is(err, state.ErrNoSession) && sessionID == "" {
				fmt.Fprintln(out, "No sessions recorded.")
				return nil
			}
			if err != nil {
				return err
			}

			eng, err := a.openEngine(a.cfg, sess.ID)
			if err != nil {
				return fmt.Errorf("failed to connect to engine: %w", err)
			}
			defer eng.Close()

			report, err := eng.Prune(ctx, sess.ID)
			renderPrune(out, report)
			if err != nil {
				return fmt.Errorf("down failed, session %s kept: %w", sess.ID, err)
			}
			if err := store.Remove(ctx, sess.ID); err != nil {
				return err
			}
			fmt.Fprintf(out, "Session %s removed.\n", sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to remove (default: most recent)")
	return cmd
}
