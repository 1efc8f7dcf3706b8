package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wins/internal/migrate"
	"github.com/roach88/wins/internal/store"
)

// StatusResult is the structured output of the status command.
type StatusResult struct {
	Database string   `json:"database" yaml:"database"`
	Version  int      `json:"version" yaml:"version"`
	Latest   int      `json:"latest" yaml:"latest"`
	Pending  []string `json:"pending" yaml:"pending"`
	Wins     int      `json:"wins" yaml:"wins"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show schema version and win count",
		Long: `Show the database's schema version, any migrations this build would
apply, and how many wins are stored. Never creates or migrates the
database; a missing file is reported as version 0.

Examples:
  wins status --db ./wins.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts)
		},
	}

	return cmd
}

func runStatus(cmd *cobra.Command, opts *RootOptions) error {
	ctx := commandContext(cmd)
	reg := migrate.Default()

	// Opening creates the file, so a missing database is reported as is.
	if opts.Database != ":memory:" {
		if _, err := os.Stat(opts.Database); errors.Is(err, fs.ErrNotExist) {
			return writeStatus(cmd, opts, StatusResult{
				Database: opts.Database,
				Latest:   reg.Latest(),
				Pending:  stepNames(reg.Steps()),
			})
		}
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	version, err := reg.Version(ctx, st.DB())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}

	pending, err := reg.Pending(ctx, st.DB())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read migrations", err)
	}

	result := StatusResult{
		Database: opts.Database,
		Version:  version,
		Latest:   reg.Latest(),
		Pending:  stepNames(pending),
	}

	// The wins table exists from step 1 on.
	if version > 0 {
		result.Wins, err = st.Count(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count wins", err)
		}
	}

	return writeStatus(cmd, opts, result)
}

func writeStatus(cmd *cobra.Command, opts *RootOptions, result StatusResult) error {
	var text strings.Builder
	fmt.Fprintf(&text, "Database: %s\n", result.Database)
	fmt.Fprintf(&text, "Schema:   version %d of %d\n", result.Version, result.Latest)
	if len(result.Pending) > 0 {
		fmt.Fprintf(&text, "Pending:  %s\n", strings.Join(result.Pending, ", "))
	}
	fmt.Fprintf(&text, "Wins:     %d", result.Wins)

	return opts.formatter(cmd).Success(result, text.String())
}

func stepNames(steps []migrate.Step) []string {
	names := make([]string, 0, len(steps))
	for _, step := range steps {
		names = append(names, fmt.Sprintf("%04d_%s", step.Seq, step.Name))
	}
	return names
}
