package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Reverse the most recent action",
		Long: `Reverse the action at the history cursor. The reversal is itself
queued for delivery as an undo record.

An action whose entity was since replaced by a remote version may no longer
be reversible. Use --discard to drop it from history without applying
anything, which makes the actions before it undoable again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if discard {
				return discardUndo(cmd, rootOpts)
			}
			return stepHistory(cmd, rootOpts, "undo")
		},
	}
	cmd.Flags().BoolVar(&discard, "discard", false, "drop the action at the cursor instead of reversing it")
	return cmd
}

// NewRedoCommand creates the redo command.
func NewRedoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Reapply the most recently undone action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return stepHistory(cmd, rootOpts, "redo")
		},
	}
}

func stepHistory(cmd *cobra.Command, opts *RootOptions, op string) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		step := a.engine.Undo
		if op == "redo" {
			step = a.engine.Redo
		}

		rec, ok, err := step(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, op+" failed", err)
		}
		out := formatter(cmd, opts)
		if !ok {
			if opts.Format == "json" {
				return out.Success(map[string]any{"noop": true})
			}
			return out.Success(fmt.Sprintf("Nothing to %s.", op))
		}
		return out.Success(recordedView{Action: newActionRow(rec)})
	})
}

func discardUndo(cmd *cobra.Command, opts *RootOptions) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		dropped, ok, err := a.engine.DiscardUndo(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "discard failed", err)
		}
		out := formatter(cmd, opts)
		if !ok {
			if opts.Format == "json" {
				return out.Success(map[string]any{"noop": true})
			}
			return out.Success("Nothing to discard.")
		}
		if opts.Format == "json" {
			return out.Success(map[string]any{"discarded": newActionRow(dropped)})
		}
		return out.Success(fmt.Sprintf("Discarded %s %s from history.", dropped.Kind, dropped.ID))
	})
}
