package cli

import (
	"bytes"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/wins/internal/view"
	"github.com/roach88/wins/internal/win"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show every win, newest first",
		Long: `Show every logged win, newest first.

Examples:
  wins list
  wins list --format yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, rootOpts)
		},
	}

	return cmd
}

func runList(cmd *cobra.Command, opts *RootOptions) error {
	a, err := startApp(commandContext(cmd), opts)
	if err != nil {
		return err
	}
	entries := a.Layer().View()
	if err := closeApp(a, 5*time.Second); err != nil {
		opts.logger().Sugar().Warnw("close failed", "error", err)
	}

	var buf bytes.Buffer
	if err := view.Render(&buf, entries); err != nil {
		return WrapExitError(ExitFailure, "failed to render wins", err)
	}

	records := make([]win.Record, 0, len(entries))
	for _, e := range entries {
		if d, ok := e.(win.Durable); ok {
			records = append(records, d.Record)
		}
	}

	return opts.formatter(cmd).Success(records, strings.TrimSuffix(buf.String(), "\n"))
}
