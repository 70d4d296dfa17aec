package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/timelock/internal/api"
)

// ExecuteOptions holds flags for the execute and execute-fast commands.
type ExecuteOptions struct {
	*RootOptions
	Caller string
	Fast   bool
}

// NewExecuteCommand creates the execute command.
func NewExecuteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecuteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "Execute a request after its delay",
		Long: `Execute a pending request on the normal path. Anyone may call it once
the current delay has elapsed since the request was created.

Example:
  timelock execute 3 --caller dave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Caller, "caller", "", "calling identity")

	return cmd
}

// NewExecuteFastCommand creates the execute-fast command.
func NewExecuteFastCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecuteOptions{RootOptions: rootOpts, Fast: true}

	cmd := &cobra.Command{
		Use:   "execute-fast <id>",
		Short: "Execute a request immediately",
		Long: `Execute a pending request without waiting for the delay.
Requires FAST_EXECUTE.

Example:
  timelock execute-fast 3 --caller bob`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Caller, "caller", "", "calling identity")

	return cmd
}

func runExecute(opts *ExecuteOptions, rawID string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	id, err := parseRequestID(rawID)
	if err != nil {
		return err
	}

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	run := s.engine.Execute
	if opts.Fast {
		run = s.engine.ExecuteFast
	}
	out, err := run(cmd.Context(), opts.Caller, id)
	if err != nil {
		return f.operationError("execute failed", err)
	}

	view := api.NewOutcomeView(id, out.Results, out.FailureMap)
	return f.Render(view, func(w io.Writer) {
		printOutcome(w, view)
	})
}

func printOutcome(w io.Writer, v api.OutcomeView) {
	fmt.Fprintf(w, "Executed request %d (failure map %s)\n", v.ID, v.FailureMap)
	for i, r := range v.Results {
		fmt.Fprintf(w, "  [%d] %s\n", i, r)
	}
}

func parseRequestID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, fmt.Sprintf("invalid request id %q", s), err)
	}
	return id, nil
}

