package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Delay time.Duration
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the registry",
		Long: `Initialize the registry with its initial delay.

The delay comes from --delay or, when that flag is absent, from the
manifest. A registry can be initialized once.

Examples:
  timelock init --manifest deploy.cue
  timelock init --delay 48h --db ./timelock.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "initial delay (overrides the manifest)")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	delay := opts.Delay
	if !cmd.Flags().Changed("delay") {
		if s.manifest == nil {
			return NewExitError(ExitCommandError, "init requires --delay or a manifest")
		}
		delay = s.manifest.Delay
	}

	if err := s.engine.Initialize(cmd.Context(), delay); err != nil {
		return f.operationError("initialize failed", err)
	}

	delay, err = s.engine.Delay(cmd.Context())
	if err != nil {
		return f.operationError("read delay", err)
	}
	return f.Render(map[string]any{"delay_seconds": int64(delay / time.Second)}, func(w io.Writer) {
		fmt.Fprintf(w, "Initialized %s with delay %s\n", opts.Database, delay)
	})
}
