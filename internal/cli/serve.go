package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/timelock/internal/api"
	"github.com/roach88/timelock/internal/engine"
	"github.com/roach88/timelock/internal/ir"
	"github.com/roach88/timelock/internal/metrics"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry over HTTP",
		Long: `Serve the registry's HTTP API and Prometheus metrics.

The caller identity of each request is read from the X-Caller header.
When the database is not yet initialized and a manifest is given, the
registry is initialized with the manifest's delay first.

Examples:
  timelock serve --manifest deploy.cue
  timelock serve --addr 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default $TIMELOCK_HTTP_ADDR or :8080)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	log := opts.Logger

	addr := opts.Addr
	if addr == "" {
		addr = opts.Config.HTTPAddr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	s, err := openSession(opts.RootOptions, engine.WithMetrics(collector))
	if err != nil {
		return err
	}
	defer s.close(opts.RootOptions)

	if err := prepareRegistry(ctx, s, collector); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           api.NewServer(s.engine, reg, log).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()
	log.Info("serving",
		"addr", listener.Addr().String(),
		"db", opts.Database,
		"version", ir.EngineVersion,
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", listener.Addr())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitCommandError, "server failed", err)
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", opts.Config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.Config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitCommandError, "shutdown failed", err)
	}
	return nil
}

// prepareRegistry initializes an empty database from the manifest and
// seeds the delay gauge.
func prepareRegistry(ctx context.Context, s *session, collector *metrics.Collector) error {
	initialized, err := s.engine.Initialized(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read database", err)
	}
	if !initialized {
		if s.manifest == nil {
			return NewExitError(ExitCommandError, "database is not initialized: run timelock init or pass --manifest")
		}
		if err := s.engine.Initialize(ctx, s.manifest.Delay); err != nil {
			return WrapExitError(ExitCommandError, "failed to initialize", err)
		}
	}

	delay, err := s.engine.Delay(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read delay", err)
	}
	collector.DelayChanged(delay)
	return nil
}
