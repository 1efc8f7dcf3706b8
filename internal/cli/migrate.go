package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/wins/internal/migrate"
	"github.com/roach88/wins/internal/store"
)

// MigrateResult is the structured output of the migrate command.
type MigrateResult struct {
	Applied int `json:"applied" yaml:"applied"`
	Version int `json:"version" yaml:"version"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every schema migration the database has not seen yet.

Other commands migrate automatically; this command does it explicitly and
reports how many steps ran. Running it twice applies nothing the second time.

Examples:
  wins migrate --db ./wins.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, rootOpts)
		},
	}

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *RootOptions) error {
	ctx := commandContext(cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	reg := migrate.Default()
	applied, err := reg.ApplyPending(ctx, st.DB())
	if err != nil {
		return WrapExitError(ExitCommandError, "migration failed", err)
	}

	opts.Metrics.Migrated(applied)

	version, err := reg.Version(ctx, st.DB())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read schema version", err)
	}

	opts.logger().Sugar().Debugw("migrations applied", "applied", applied, "version", version)

	result := MigrateResult{Applied: applied, Version: version}
	return opts.formatter(cmd).Success(result,
		fmt.Sprintf("Applied %d migration(s); schema at version %d", applied, version))
}
