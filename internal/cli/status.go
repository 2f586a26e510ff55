package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kitchensync/internal/engine"
	"github.com/roach88/kitchensync/internal/ir"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Probe bool
}

type statusView struct {
	engine.SyncStatus
	Session string `json:"session"`
	CanUndo bool   `json:"can_undo"`
	CanRedo bool   `json:"can_redo"`
}

func (v statusView) RenderText(w io.Writer) {
	conn := "offline"
	if v.Online {
		conn = "online"
	}
	fmt.Fprintf(w, "Session:  %s (%s)\n", v.Session, conn)
	fmt.Fprintf(w, "Pending:  %d\n", v.PendingCount)
	fmt.Fprintf(w, "Synced:   %d\n", v.SyncedCount)
	if !v.LastSyncAt.IsZero() {
		fmt.Fprintf(w, "Last sync: %s\n", v.LastSyncAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Undo: %t  Redo: %t\n", v.CanUndo, v.CanRedo)
	if len(v.Errors) == 0 {
		return
	}
	fmt.Fprintf(w, "Errors:   %d\n", len(v.Errors))
	for _, e := range v.Errors {
		fmt.Fprintf(w, "  %s %s [%s] %s (retries: %d)\n", e.ActionID, e.Kind, e.Code, e.LastError, e.RetryCount)
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Show connectivity, pending and synced counts and failed actions.

Example:
  kitchensync status
  kitchensync status --probe=false --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				if opts.Probe {
					a.monitor.Probe(ctx)
				}
				return formatter(cmd, opts.RootOptions).Success(statusView{
					SyncStatus: a.engine.GetSyncStatus(),
					Session:    a.engine.Session(),
					CanUndo:    a.engine.CanUndo(),
					CanRedo:    a.engine.CanRedo(),
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Probe, "probe", true, "probe the backend before reporting connectivity")
	return cmd
}

type actionRow struct {
	ID          string        `json:"id"`
	Kind        ir.Kind       `json:"kind"`
	Description string        `json:"description,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	Ref         string        `json:"ref,omitempty"`
	Entities    []string      `json:"entity_ids,omitempty"`
	Sync        *ir.SyncState `json:"sync,omitempty"`
	Current     bool          `json:"current,omitempty"`
}

func newActionRow(a ir.Action) actionRow {
	return actionRow{
		ID:          a.ID,
		Kind:        a.Kind,
		Description: a.Description,
		CreatedAt:   a.CreatedAt,
		Ref:         a.Ref,
		Entities:    a.EntityIDs(),
	}
}

type actionList struct {
	Actions []actionRow `json:"actions"`
	Cursor  *int        `json:"cursor,omitempty"`
	empty   string
}

func (l actionList) RenderText(w io.Writer) {
	if len(l.Actions) == 0 {
		fmt.Fprintln(w, l.empty)
		return
	}
	for _, a := range l.Actions {
		marker := " "
		if a.Current {
			marker = ">"
		}
		line := fmt.Sprintf("%s %s  %-13s %s", marker, a.ID, a.Kind, a.Description)
		if len(a.Entities) > 0 {
			line += "  [" + strings.Join(a.Entities, ",") + "]"
		}
		if a.Sync != nil && a.Sync.Status == ir.SyncFailed {
			line += fmt.Sprintf("  failed: %s (%s)", a.Sync.Reason, a.Sync.LastError)
		}
		fmt.Fprintln(w, line)
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List actions waiting for delivery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				list := actionList{Actions: []actionRow{}, empty: "No pending actions."}
				for _, act := range a.engine.ListPendingActions() {
					row := newActionRow(act)
					row.Sync = &act.Sync
					list.Actions = append(list.Actions, row)
				}
				return formatter(cmd, rootOpts).Success(list)
			})
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List the undo/redo history",
		Long: `List the undo/redo history, oldest first. The action at the cursor,
which undo would reverse, is marked with ">".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				cursor := a.engine.Cursor()
				list := actionList{Actions: []actionRow{}, Cursor: &cursor, empty: "History is empty."}
				for i, act := range a.engine.History() {
					row := newActionRow(act)
					row.Current = i == cursor
					list.Actions = append(list.Actions, row)
				}
				return formatter(cmd, rootOpts).Success(list)
			})
		},
	}
}
