package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Interval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync loop",
		Long: `Restore persisted state and keep syncing until interrupted.

The backend health endpoint is probed continuously. Pending actions are
delivered on every interval tick while online and as soon as connectivity
returns. State is saved on the configured autosave schedule and on exit.
Prometheus metrics are served on metrics.addr when set.

Example:
  kitchensync run --config kitchensync.yaml
  kitchensync run --interval 5s --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "sync interval (overrides sync.interval)")
	return cmd
}

func runLoop(opts *RunOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Error("error closing engine", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := a.cfg.Sync.Interval
	if opts.Interval > 0 {
		interval = opts.Interval
	}

	if spec := a.cfg.Persistence.Autosave; spec != "" {
		if err := a.engine.StartAutosave(ctx, spec); err != nil {
			return WrapExitError(ExitCommandError, "invalid autosave schedule", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(ctx) })
	g.Go(func() error { return a.engine.AutoSync(ctx, interval) })
	if addr := a.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error { return serveHTTP(ctx, addr, a.metrics.Handler()) })
		a.logger.Info("serving metrics", "addr", addr)
	}

	a.logger.Info("sync loop starting",
		"session", a.engine.Session(),
		"backend", a.cfg.Backend.URL,
		"interval", interval,
		"pending", len(a.engine.ListPendingActions()))
	fmt.Fprintln(cmd.OutOrStdout(), "Sync loop started. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync loop error", err)
	}
	a.logger.Info("sync loop stopped")
	return nil
}

// serveHTTP serves handler on addr until ctx is done, then shuts down.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", addr, err)
		}
		return ctx.Err()
	}
}
