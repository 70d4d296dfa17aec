package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/timelock/internal/harness"
	"github.com/roach88/timelock/internal/ir"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	Caller       string
	ActionsFile  string
	AllowFailure string
	Metadata     string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store a new execution request",
		Long: `Store a new execution request. Requires PROPOSER.

The actions file is a YAML list:

  - target: echo
    data: "0x6869"
  - target: transfer
    value: 10

Examples:
  timelock create --caller alice --actions batch.yaml
  timelock create --caller alice --actions batch.yaml --allow-failure 0x2 --metadata 0x6869`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Caller, "caller", "", "calling identity")
	cmd.Flags().StringVar(&opts.ActionsFile, "actions", "", "YAML file listing the actions (required)")
	cmd.Flags().StringVar(&opts.AllowFailure, "allow-failure", "0", "bitmap of actions allowed to fail (decimal, 0x or 0b)")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "0x-prefixed hex metadata published with the request")
	_ = cmd.MarkFlagRequired("actions")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	actions, err := harness.LoadActions(opts.ActionsFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid actions", err)
	}
	mask, err := ir.ParseBitmap(opts.AllowFailure)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --allow-failure", err)
	}
	metadata, err := ir.DecodeData(opts.Metadata)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --metadata", err)
	}
	f.VerboseLog("creating request with %d actions, allow-failure %s", len(actions), mask)

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	id, err := s.engine.Create(cmd.Context(), opts.Caller, metadata, actions, mask)
	if err != nil {
		return f.operationError("create failed", err)
	}

	return f.Render(map[string]any{"id": id}, func(w io.Writer) {
		fmt.Fprintf(w, "Created request %d\n", id)
	})
}
