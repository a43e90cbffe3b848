package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/picklr-io/testbed/pkl"
)

const starterManifest = `// Testbed environment. Run "testbed up" to create it.
amends "Testbed.pkl"

networks {
  new { name = "backend" }
}

containers {
  new {
    name = "cache"
    image = "redis:7"
    ports { "6379" }
    networks { "backend" }
    wait = new Wait { port = "6379" }
  }
}
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a starter manifest",
		Long: `Writes the Testbed.pkl schema and a starter testbed.pkl into dir (default
the working directory). Existing files other than the schema are left alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}

			// The schema is always refreshed so manifests track the binary.
			schema := filepath.Join(dir, pkl.SchemaFile)
			if err := os.WriteFile(schema, pkl.Schema, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", schema, err)
			}
			fmt.Fprintf(out, "Wrote %s\n", schema)

			manifest := filepath.Join(dir, "testbed.pkl")
			if _, err := os.Stat(manifest); errors.Is(err, fs.ErrNotExist) {
				if err := os.WriteFile(manifest, []byte(starterManifest), 0o644); err != nil {
					return fmt.Errorf("failed to create %s: %w", manifest, err)
				}
				fmt.Fprintf(out, "Created %s\n", manifest)
			}

			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, "  1. Edit testbed.pkl to describe your environment")
			fmt.Fprintln(out, "  2. Run 'testbed validate' to check it")
			fmt.Fprintln(out, "  3. Run 'testbed up' to create it")
			return nil
		},
	}
}
