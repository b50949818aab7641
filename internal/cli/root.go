// Package cli implements the barrage command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/barrage/internal/logging"
	"github.com/wesleyorama2/barrage/internal/output"
)

// Set at build time with -ldflags "-X github.com/wesleyorama2/barrage/internal/cli.version=..."
var version = "0.1.0"

// defaultEnvFile is loaded when present and --env-file is not given.
const defaultEnvFile = ".env"

type globalOptions struct {
	logLevel string
	logFile  string
	noColor  bool
	envFile  string

	logger   *slog.Logger
	closeLog func() error
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:     "barrage",
		Short:   "Retrying HTTP client and load generator",
		Version: version,
		Long: `Barrage sends HTTP requests with automatic retries and exponential
backoff, and drives constant-VU load tests from YAML test configurations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if g.closeLog != nil {
				return g.closeLog()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.logLevel, "log-level", "info", "Console log level (debug, info, warn, error)")
	flags.StringVar(&g.logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	flags.BoolVar(&g.noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&g.envFile, "env-file", "", "Load environment variables from this file (default .env when present)")

	for _, m := range requestMethods {
		root.AddCommand(newRequestCmd(g, m))
	}
	root.AddCommand(newRunCmd(g))
	root.AddCommand(newVersionCmd())

	return root
}

// setup loads the env file and builds the logger. Variables already set in
// the process environment are never overwritten.
func (g *globalOptions) setup(cmd *cobra.Command) error {
	if err := loadEnvFile(g.envFile); err != nil {
		return err
	}

	g.logger, g.closeLog = logging.New(logging.Options{
		Level:   g.logLevel,
		File:    g.logFile,
		NoColor: !output.UseColor(g.noColor, os.Stderr),
		Writer:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(g.logger)
	return nil
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
		return nil
	}

	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", defaultEnvFile, err)
	}
	return nil
}

// colorsDisabled reports whether stdout output should be plain.
func (g *globalOptions) colorsDisabled() bool {
	return !output.UseColor(g.noColor, os.Stdout)
}

func (g *globalOptions) log() *slog.Logger {
	if g.logger == nil {
		return slog.Default()
	}
	return g.logger
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the barrage version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "barrage %s\n", version)
		},
	}
}
