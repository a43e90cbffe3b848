package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/internal/stack"
)

func (a *app) validateCmd() *cobra.Command {
	var props map[string]string
	cmd := &cobra.Command{
		Use:   "validate [manifest]",
		Short: "Check a manifest without creating anything",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir, entry, err := resolveManifest(args)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Checking %s... ", entry)
			m, err := a.loadManifest(cmd.Context(), dir, entry, props)
			if err != nil {
				fmt.Fprintln(out, "FAILED")
				return fmt.Errorf("validation failed: %w", err)
			}

			// Building needs an engine handle but makes no calls on it.
			eng, err := a.openEngine(a.cfg, "")
			if err != nil {
				fmt.Fprintln(out, "FAILED")
				return fmt.Errorf("failed to connect to engine: %w", err)
			}
			defer eng.Close()
			if _, err := stack.Build(m, stack.Options{Engine: eng, Logger: logging.Discard()}); err != nil {
				fmt.Fprintln(out, "FAILED")
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintln(out, "OK")

			fmt.Fprintf(out, "\n%d network(s), %d volume(s), %d container(s).\n",
				len(m.Networks), len(m.Volumes), len(m.Containers))
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&props, "prop", "D", nil, "Set external properties (format: key=value)")
	return cmd
}
