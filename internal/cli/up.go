package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/internal/stack"
	"github.com/picklr-io/testbed/pkg/session"
)

func (a *app) upCmd() *cobra.Command {
	var (
		props     map[string]string
		sessionID string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "up [manifest]",
		Short: "Create the resources of a manifest",
		Long: `Evaluates the manifest (testbed.pkl by default), creates its networks and
volumes, then starts its containers in order and waits for each to become
ready. If anything fails, the resources created so far are removed again.

On success the resources keep running and the session is recorded so that
"testbed down" can remove them later.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			dir, entry, err := resolveManifest(args)
			if err != nil {
				return err
			}

			fmt.Fprint(out, "Loading manifest... ")
			m, err := a.loadManifest(ctx, dir, entry, props)
			if err != nil {
				fmt.Fprintln(out, "FAILED")
				return fmt.Errorf("failed to load manifest: %w", err)
			}
			fmt.Fprintln(out, "OK")

			if sessionID == "" {
				sessionID = session.NewID()
			}
			eng, err := a.openEngine(a.cfg, sessionID)
			if err != nil {
				return fmt.Errorf("failed to connect to engine: %w", err)
			}
			defer eng.Close()

			p := newProgress(out)
			st, err := stack.Build(m, stack.Options{
				SessionID:   sessionID,
				Engine:      eng,
				Parallelism: a.cfg.Parallelism,
				Timeout:     timeout,
				StopTimeout: a.cfg.StopTimeout,
				Logger:      logging.Component("stack"),
				Callback:    p.event,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\nStarting session %s\n", bold(sessionID))
			if err := st.Up(ctx); err != nil {
				return fmt.Errorf("up failed: %w", err)
			}

			store, err := a.store(ctx)
			if err == nil {
				err = store.Record(ctx, st.Session(filepath.Join(dir, entry), time.Now().UTC()))
			}
			if err != nil {
				return fmt.Errorf("resources are running but the session was not recorded, remove them with \"testbed prune\": %w", err)
			}

			fmt.Fprintf(out, "\nUp complete! %d resource(s) in session %s.\n", p.completed(), sessionID)
			renderEndpoints(out, st.Containers())
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&props, "prop", "D", nil, "Set external properties (format: key=value)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to label resources with (default: generated)")
	cmd.Flags().DurationVar(&timeout, "timeout", stack.DefaultTimeout, "Time limit for each resource, including image pull and readiness")
	return cmd
}
