package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/timelock/internal/api"
)

// PageOptions holds paging flags shared by list and events.
type PageOptions struct {
	*RootOptions
	After int64
	Limit int
}

func (o *PageOptions) bind(cmd *cobra.Command, afterUsage string) {
	cmd.Flags().Int64Var(&o.After, "after", -1, afterUsage)
	cmd.Flags().IntVar(&o.Limit, "limit", 0, "maximum number of entries (0 for all)")
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
}

func runShow(opts *RootOptions, rawID string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	id, err := parseRequestID(rawID)
	if err != nil {
		return err
	}

	s, err := openSession(opts)
	if err != nil {
		return err
	}
	defer s.close(opts)

	req, err := s.engine.Request(cmd.Context(), id)
	if err != nil {
		return f.operationError("show failed", err)
	}
	delay, err := s.engine.Delay(cmd.Context())
	if err != nil {
		return f.operationError("show failed", err)
	}

	view := api.NewRequestView(req, delay)
	return f.Render(view, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "ID:\t%d\n", view.ID)
		fmt.Fprintf(tw, "State:\t%s\n", view.State)
		fmt.Fprintf(tw, "Created:\t%s\n", view.CreatedAt)
		fmt.Fprintf(tw, "Eligible:\t%s\n", view.EligibleAt)
		if view.ExecutedAt != "" {
			fmt.Fprintf(tw, "Executed:\t%s\n", view.ExecutedAt)
			fmt.Fprintf(tw, "Failure map:\t%s\n", view.FailureMap)
		}
		fmt.Fprintf(tw, "Allow failure:\t%s\n", view.AllowFailureMap)
		fmt.Fprintf(tw, "Actions hash:\t%s\n", view.ActionsHash)
		_ = tw.Flush()
		for i, a := range view.Actions {
			fmt.Fprintf(w, "  [%d] %s value=%d data=%s\n", i, a.Target, a.Value, a.Data)
		}
	})
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests in id order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}
	opts.bind(cmd, "only list requests with a larger id")

	return cmd
}

func runList(opts *PageOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	reqs, err := s.engine.Requests(cmd.Context(), opts.After, opts.Limit)
	if err != nil {
		return f.operationError("list failed", err)
	}
	delay, err := s.engine.Delay(cmd.Context())
	if err != nil {
		return f.operationError("list failed", err)
	}

	views := make([]api.RequestView, len(reqs))
	for i, req := range reqs {
		views[i] = api.NewRequestView(req, delay)
	}
	return f.Render(views, func(w io.Writer) {
		if len(views) == 0 {
			fmt.Fprintln(w, "No requests")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATE\tACTIONS\tELIGIBLE")
		for _, v := range views {
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", v.ID, v.State, len(v.Actions), v.EligibleAt)
		}
		_ = tw.Flush()
	})
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}
	opts.bind(cmd, "only print events with a larger sequence number")

	return cmd
}

func runEvents(opts *PageOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	events, err := s.engine.Events(cmd.Context(), opts.After, opts.Limit)
	if err != nil {
		return f.operationError("events failed", err)
	}

	views := make([]api.EventView, len(events))
	for i, ev := range events {
		v, err := api.NewEventView(ev)
		if err != nil {
			return WrapExitError(ExitCommandError, "events failed", err)
		}
		views[i] = v
	}
	return f.Render(views, func(w io.Writer) {
		for _, v := range views {
			fmt.Fprintf(w, "%d\t%s\t%s", v.Seq, v.Kind, v.FlowToken)
			if id, ok := v.Payload["request_id"]; ok {
				fmt.Fprintf(w, "\trequest=%v", id)
			}
			if d, ok := v.Payload["delay_seconds"]; ok {
				fmt.Fprintf(w, "\tdelay=%vs", d)
			}
			fmt.Fprintln(w)
		}
	})
}
