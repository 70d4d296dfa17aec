package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/timelock/internal/api"
)

// SetDelayOptions holds flags for the set-delay command.
type SetDelayOptions struct {
	*RootOptions
	Caller string
}

// NewSetDelayCommand creates the set-delay command.
func NewSetDelayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetDelayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set-delay <duration>",
		Short: "Change the execution delay",
		Long: `Change the delay applied to normal execution. Requires CONFIGURATOR.
The new value applies to every pending request, including ones created
before the change.

Example:
  timelock set-delay 72h --caller carol`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetDelay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Caller, "caller", "", "calling identity")

	return cmd
}

func runSetDelay(opts *SetDelayOptions, raw string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	delay, err := time.ParseDuration(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid delay %q", raw), err)
	}

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	if err := s.engine.SetDelay(cmd.Context(), opts.Caller, delay); err != nil {
		return f.operationError("set-delay failed", err)
	}

	delay, err = s.engine.Delay(cmd.Context())
	if err != nil {
		return f.operationError("read delay", err)
	}
	view := api.NewDelayView(delay, s.engine.MaxDelay())
	return f.Render(view, func(w io.Writer) {
		fmt.Fprintf(w, "Delay set to %s\n", delay)
	})
}
