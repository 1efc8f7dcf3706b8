package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wins/internal/app"
	"github.com/roach88/wins/internal/migrate"
	"github.com/roach88/wins/internal/store"
	"github.com/roach88/wins/internal/win"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Category string
	Wait     time.Duration
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <title...>",
		Short: "Log a win",
		Long: `Log a win. All arguments are joined into the title.

The database is created and migrated on first use. The command waits for
the win to be saved and exits non-zero if it was not.

Examples:
  wins add shipped the release
  wins add --category health "ran 5k"
  wins add --db ./wins.db --format json "called mom"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&opts.Category, "category", "c", "", "category (default from config, else general)")
	cmd.Flags().DurationVar(&opts.Wait, "wait", 30*time.Second, "how long to wait for the win to be saved")

	return cmd
}

func runAdd(cmd *cobra.Command, opts *AddOptions, title string) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	category := opts.Category
	if category == "" {
		category = opts.RootOptions.Category
	}

	a, err := startApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}

	pending, err := a.Layer().AppendCategory(ctx, title, category)
	if err != nil {
		closeApp(a, opts.Wait)
		if store.IsConstraint(err) {
			return WrapExitError(ExitFailure, "win rejected", err)
		}
		return WrapExitError(ExitCommandError, "failed to add win", err)
	}

	layer := a.Layer()
	if err := closeApp(a, opts.Wait); err != nil {
		return WrapExitError(ExitFailure, "win not confirmed", err)
	}

	if state, _ := layer.State(pending.TempID); state != win.StateReconciled {
		for _, f := range layer.Failures() {
			if f.TempID == pending.TempID {
				return WrapExitError(ExitFailure, "win not saved", f.Err)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("win not saved (state %s)", state))
	}

	rec, ok := layer.Record(pending.TempID)
	if !ok {
		return NewExitError(ExitFailure, "win saved but missing from view")
	}

	return out.Success(rec, fmt.Sprintf("Saved win #%d [%s]: %s", rec.ID, rec.Category, rec.Title))
}

// startApp opens, migrates and loads the database named by opts.
func startApp(ctx context.Context, opts *RootOptions) (*app.App, error) {
	a := app.New(app.Options{
		DBPath:         opts.Database,
		PersistTimeout: opts.Config.PersistTimeout,
		Logger:         opts.logger(),
		Metrics:        opts.Metrics,
	})

	if err := a.Start(ctx); err != nil {
		if migrate.IsMigrationError(err) {
			return nil, WrapExitError(ExitCommandError, "migration failed", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return a, nil
}

func closeApp(a *app.App, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return a.Close(ctx)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
