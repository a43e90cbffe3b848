// Package cli implements the testbed command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/picklr-io/testbed/internal/config"
	"github.com/picklr-io/testbed/internal/eval"
	"github.com/picklr-io/testbed/internal/ir"
	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/internal/metrics"
	"github.com/picklr-io/testbed/internal/state"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/providers/docker"
)

// Engine is the engine surface the commands need: the lifecycle calls plus
// label-based cleanup.
type Engine interface {
	engine.Engine
	Prune(ctx context.Context, sessionID string) (docker.PruneReport, error)
}

type app struct {
	v           *viper.Viper
	cfg         *config.Config
	cfgFile     string
	noColor     bool
	metricsFile string
	registry    *prometheus.Registry

	openEngine   func(cfg *config.Config, sessionID string) (Engine, error)
	loadManifest func(ctx context.Context, dir, entry string, props map[string]string) (*ir.Manifest, error)
}

func newApp() *app {
	return &app{
		v:        config.New(),
		registry: prometheus.NewRegistry(),
		openEngine: func(cfg *config.Config, sessionID string) (Engine, error) {
			return docker.New(cfg.Endpoint, sessionID)
		},
		loadManifest: func(ctx context.Context, dir, entry string, props map[string]string) (*ir.Manifest, error) {
			return eval.NewEvaluator(dir).LoadManifest(ctx, filepath.Join(dir, entry), props)
		},
	}
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newApp().rootCmd().ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testbed",
		Short: "Disposable container environments for integration tests",
		Long: `Testbed creates the networks, volumes and containers described by a PKL
manifest, labels them with a session ID and removes them again when the
session ends.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.metricsFile == "" {
				return nil
			}
			if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
				return fmt.Errorf("failed to write metrics: %w", err)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "Config file (default is .testbed.yaml in the working or home directory)")
	flags.String("host", "", "Engine API address (default from DOCKER_HOST)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.String("state-dir", "", "Directory holding the session records")
	flags.String("state-store", "", "Where sessions are recorded (file, s3)")
	flags.Int("parallelism", 0, "Maximum concurrent network and volume operations")
	flags.Duration("stop-timeout", 0, "Grace period before a stopping container is killed")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")

	for key, name := range map[string]string{
		config.KeyHost:        "host",
		config.KeyLogLevel:    "log-level",
		config.KeyLogFormat:   "log-format",
		config.KeyStateDir:    "state-dir",
		config.KeyStateStore:  "state-store",
		config.KeyParallelism: "parallelism",
		config.KeyStopTimeout: "stop-timeout",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	cmd.AddCommand(
		initCmd(),
		a.validateCmd(),
		a.upCmd(),
		a.downCmd(),
		a.pruneCmd(),
		a.sessionsCmd(),
		versionCmd(),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	if used := a.v.ConfigFileUsed(); used != "" {
		logging.Component("cli").Debug("using config file", "path", used)
	}

	if a.noColor || !isTerminal(cmd.OutOrStdout()) {
		color.NoColor = true
	}
	return metrics.Register(a.registry)
}

// store opens the configured session store.
func (a *app) store(ctx context.Context) (*state.Store, error) {
	if a.cfg.StateStore == "s3" {
		return state.NewS3Store(ctx, a.cfg.S3)
	}
	return state.NewStore(a.cfg.StateDir), nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	return err == nil && stat.Mode()&os.ModeCharDevice != 0
}

// resolveManifest splits a manifest argument into the project directory and
// the entry module. A directory argument uses its testbed.pkl.
func resolveManifest(args []string) (dir, entry string, err error) {
	dir, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entry = "testbed.pkl"
	if len(args) == 0 {
		return dir, entry, nil
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
	}
	if info.IsDir() {
		return absPath, entry, nil
	}
	return filepath.Dir(absPath), filepath.Base(absPath), nil
}
