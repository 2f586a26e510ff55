package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kitchensync/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Force     bool
	Reconcile bool
}

type syncView struct {
	syncer.Report
	Conflicts []syncer.Conflict `json:"conflicts,omitempty"`
	Pending   int               `json:"pending"`
}

func (v syncView) RenderText(w io.Writer) {
	if v.Offline {
		fmt.Fprintf(w, "Offline: %d actions pending.\n", v.Pending)
		return
	}
	for _, c := range v.Conflicts {
		fmt.Fprintf(w, "Conflict on %s: %s wins", c.EntityID, c.Winner)
		if len(c.Superseded) > 0 {
			fmt.Fprintf(w, ", superseded %s", strings.Join(c.Superseded, ", "))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Synced %d, failed %d, deferred %d, %d pending.\n",
		len(v.Succeeded), len(v.Failed), v.Deferred, v.Pending)
	for _, id := range v.Failed {
		fmt.Fprintf(w, "  failed: %s\n", id)
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver pending actions to the backend",
		Long: `Probe the backend, resolve conflicts for entities with pending changes
and deliver due actions in recording order.

Exit codes:
  0 - Nothing failed (including when offline)
  1 - One or more deliveries failed
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				a.monitor.Probe(ctx)

				var view syncView
				if opts.Reconcile {
					rep, err := a.engine.Reconcile(ctx)
					if err != nil {
						a.logger.Warn("reconcile failed", "error", err)
					}
					view.Conflicts = rep.Conflicts
				}

				pass := a.engine.Sync
				if opts.Force {
					pass = a.engine.ForceSync
				}
				rep, err := pass(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "sync failed", err)
				}
				view.Report = rep
				return reportSync(cmd, opts.RootOptions, a, view)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "ignore backoff delays")
	cmd.Flags().BoolVar(&opts.Reconcile, "reconcile", true, "resolve conflicts before delivering")
	return cmd
}

func reportSync(cmd *cobra.Command, opts *RootOptions, a *app, view syncView) error {
	view.Pending = len(a.engine.ListPendingActions())
	if err := formatter(cmd, opts).Success(view); err != nil {
		return err
	}
	if n := len(view.Failed); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d deliveries failed", n))
	}
	return nil
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset failed actions and sync immediately",
		Long: `Reset delivery failures and actions that exhausted their retries, then
force a sync. Actions superseded by a conflict are not retried; use
clear-errors to drop them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				a.monitor.Probe(ctx)
				rep, err := a.engine.RetrySync(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "retry failed", err)
				}
				return reportSync(cmd, rootOpts, a, syncView{Report: rep})
			})
		},
	}
}

// ClearErrorsOptions holds flags for the clear-errors command.
type ClearErrorsOptions struct {
	*RootOptions
	Yes bool
}

// NewClearErrorsCommand creates the clear-errors command.
func NewClearErrorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearErrorsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear-errors",
		Short: "Drop every failed action without delivering it",
		Long: `Drop every failed action from the pending queue. The dropped changes
are never delivered and stay applied locally. Requires --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return NewExitError(ExitCommandError, "clear-errors discards failed actions; pass --yes to confirm")
			}
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				dropped, err := a.engine.ClearErrors(ctx)
				if err != nil {
					return WrapExitError(ExitFailure, "clear-errors failed", err)
				}
				list := actionList{Actions: []actionRow{}, empty: "No failed actions."}
				for _, act := range dropped {
					row := newActionRow(act)
					row.Sync = &act.Sync
					list.Actions = append(list.Actions, row)
				}
				return formatter(cmd, opts.RootOptions).Success(list)
			})
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm discarding failed actions")
	return cmd
}
