// Package cli implements the kvl command-line tool.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/heysubinoy/kvlite/pkg/config"
)

// Version is set at build time.
var Version = "dev"

// Exit codes.
const (
	ExitOK       = 0
	ExitNotFound = 1
	ExitError    = 2
)

// errNotFound makes get exit with ExitNotFound.
var errNotFound = errors.New("key not found")

var errNoCommand = errors.New("no command given")

type options struct {
	cfgFile     string
	root        string
	logLevel    string
	metricsFile string
}

// NewRootCommand builds the kvl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "kvl",
		Short: "kvl is a key-value store backed by the local file system",
		Long: `kvl is a key-value store backed by the local file system.

Each key is stored as one file under the store's root directory.

Configuration (in order of priority):
  1. Command-line flags (--root, --log-level, --metrics-file)
  2. Environment variables (KVL_ROOT, KVL_LOG_LEVEL, KVL_METRICS_FILE, ...)
  3. Config file (--config)

Examples:
  $ kvl set greeting hello
  $ kvl get greeting
  $ kvl del greeting`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errNoCommand
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.root, "root", "", "store directory (default "+config.DefaultRoot+", or KVL_ROOT)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn, error or off (or KVL_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command (or KVL_METRICS_FILE)")

	rootCmd.AddCommand(
		newSetCmd(opts),
		newGetCmd(opts),
		newDelCmd(opts),
		newKeysCmd(opts),
		newSweepCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command line in args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errNotFound):
		fmt.Fprintf(stderr, "%v\n", err)
		return ExitNotFound
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
}

// loadConfig resolves configuration from the config file, the environment and
// finally the command-line flags.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.root != "" {
		cfg.Root = o.root
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.metricsFile != "" {
		cfg.MetricsFile = o.metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) hclog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "kvl",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		Output:     w,
		JSONFormat: cfg.LogJSON,
	})
}
