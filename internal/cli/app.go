package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/kitchensync/internal/backend"
	"github.com/roach88/kitchensync/internal/config"
	"github.com/roach88/kitchensync/internal/engine"
	"github.com/roach88/kitchensync/internal/metrics"
	"github.com/roach88/kitchensync/internal/network"
	"github.com/roach88/kitchensync/internal/store"
	"github.com/roach88/kitchensync/internal/syncer"
	"github.com/roach88/kitchensync/internal/telemetry"
)

// app is a restored engine with everything it was wired to.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.Adapter
	monitor  *network.Prober
	metrics  *metrics.Collector
	engine   *engine.Engine
	shutdown func(context.Context) error
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newLogger(cfg config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openApp loads config, opens the store, builds the engine and restores its
// persisted state. Callers must Close the app.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	ctx := commandContext(cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	st, err := store.OpenAdapter(ctx, cfg.StoreOptions())
	if errors.Is(err, store.ErrLocked) {
		_ = shutdown(ctx)
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("session %q is in use by another kitchensync process (stop `kitchensync run` first)", cfg.Session), err)
	}
	if err != nil {
		_ = shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		monitor:  network.NewProber(cfg.ProbeURL(), cfg.Network.ProbeInterval, network.WithProbeLogger(logger)),
		metrics:  metrics.New(nil),
		shutdown: shutdown,
	}
	be := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)

	a.engine = engine.New(st, be, a.monitor,
		engine.WithLogger(logger),
		engine.WithSession(cfg.Session),
		engine.WithMaxHistory(cfg.History.MaxSize),
		engine.WithRetryPolicy(cfg.RetryPolicy()),
		engine.WithMaxSynced(cfg.Sync.MaxSynced),
		engine.WithMaxAge(cfg.Persistence.MaxAge),
		engine.WithMetrics(a.metrics),
		engine.WithTracer(telemetry.Tracer("kitchensync/syncer")),
		engine.WithSyncOptions(syncer.WithRateLimit(cfg.Sync.DeliveryRate, cfg.Sync.DeliveryBurst)),
	)

	if err := a.engine.Restore(ctx); err != nil {
		_ = a.closeStore(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to restore state", err)
	}
	logger.Debug("engine restored",
		"session", cfg.Session,
		"driver", cfg.Persistence.Driver,
		"pending", len(a.engine.ListPendingActions()))
	return a, nil
}

// Close saves the engine and releases the store and tracer.
func (a *app) Close(ctx context.Context) error {
	err := a.engine.Close(ctx)
	return errors.Join(err, a.closeStore(ctx))
}

func (a *app) closeStore(ctx context.Context) error {
	return errors.Join(a.store.Close(), a.shutdown(ctx))
}

// withApp opens the app, runs fn and closes it, reporting close failures.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	runErr := fn(ctx, a)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("failed to close engine", "error", err)
		if runErr == nil {
			runErr = WrapExitError(ExitFailure, "failed to save state", err)
		}
	}
	return runErr
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}
