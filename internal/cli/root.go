package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/wins/internal/config"
	"github.com/roach88/wins/internal/logging"
	"github.com/roach88/wins/internal/metrics"
)

// RootOptions holds global flags for all commands, resolved against the
// config file and environment before any subcommand runs.
type RootOptions struct {
	Verbose     bool
	Format      string // "text" | "json" | "yaml"
	Database    string
	ConfigFile  string
	ShowMetrics bool

	// Filled from config; subcommand tests may set them directly.
	Category string
	Config   config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the wins CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "wins",
		Short: "wins - log your small victories",
		Long:  "A local-first logger for micro-achievements, stored in a single SQLite file.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.ShowMetrics {
				return nil
			}
			return writeMetrics(cmd.ErrOrStderr(), opts.Metrics)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config, else wins.db)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "wins.yaml", "path to YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.ShowMetrics, "metrics", false, "write prometheus metrics to stderr after the command")

	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// resolve merges config (file, .env, environment) with explicit flags.
// Flags win over config.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	flags := cmd.Flags()

	cfg, err := config.Load(config.Options{
		File:     o.ConfigFile,
		Required: flags.Changed("config"),
		DotEnv:   ".env",
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if flags.Changed("db") {
		cfg.DBPath = o.Database
	}
	if flags.Changed("format") {
		cfg.Format = o.Format
	}
	if flags.Changed("verbose") {
		cfg.Verbose = o.Verbose
	}
	if !isValidFormat(cfg.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", cfg.Format, ValidFormats))
	}

	o.Config = cfg
	o.Database = cfg.DBPath
	o.Format = cfg.Format
	o.Verbose = cfg.Verbose
	o.Category = cfg.Category

	logger, err := logging.New(cfg.Format, cfg.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	o.Logger = logger
	o.Metrics = metrics.New("wins")
	return nil
}

func (o *RootOptions) logger() *zap.Logger {
	return logging.OrNop(o.Logger)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
