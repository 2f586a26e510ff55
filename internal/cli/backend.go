package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/kitchensync/internal/backend"
	"github.com/roach88/kitchensync/internal/config"
)

// BackendServeOptions holds flags for the backend serve command.
type BackendServeOptions struct {
	*RootOptions
	Addr string
}

// NewBackendCommand creates the backend command group.
func NewBackendCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Reference backend tools",
	}
	cmd.AddCommand(newBackendServeCommand(rootOpts))
	return cmd
}

func newBackendServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackendServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory reference backend",
		Long: `Serve an in-memory backend speaking the delivery protocol:

  GET  /healthz
  POST /actions         (idempotent by Idempotency-Key)
  GET  /entities
  GET  /entities/{id}
  PUT  /entities/{id}   (simulate an edit made at another station)

State is lost on exit.

Example:
  kitchensync backend serve --addr :8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := backend.NewServer(backend.NewMemory(), logger)
			logger.Info("backend listening", "addr", opts.Addr)
			fmt.Fprintf(cmd.OutOrStdout(), "Backend listening on %s\n", opts.Addr)

			if err := serveHTTP(ctx, opts.Addr, srv.Handler()); err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "backend server error", err)
			}
			logger.Info("backend stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	return cmd
}
