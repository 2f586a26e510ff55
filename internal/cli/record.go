package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kitchensync/internal/engine"
	"github.com/roach88/kitchensync/internal/ir"
)

// RecordOptions holds flags shared by the record subcommands.
type RecordOptions struct {
	*RootOptions
	Resource    string
	Description string
	Status      string
	Fields      []string
}

type recordedView struct {
	Action actionRow `json:"action"`
}

func (v recordedView) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Recorded %s %s", v.Action.Kind, v.Action.ID)
	if v.Action.Ref != "" {
		fmt.Fprintf(w, " (ref %s)", v.Action.Ref)
	}
	fmt.Fprintln(w)
}

// NewRecordCommand creates the record command and its subcommands.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an action",
		Long: `Record an order item action. The change is applied locally, added to
the undo history and queued for delivery.

Examples:
  kitchensync record create 42 --field name="2x burger"
  kitchensync record status 42 PREPARING
  kitchensync record update 42 --field note="no onions"
  kitchensync record delete 42 43
  kitchensync record select 42`,
	}

	cmd.PersistentFlags().StringVar(&opts.Resource, "resource", "order_items", "backend resource for the descriptor")
	cmd.PersistentFlags().StringVarP(&opts.Description, "description", "d", "", "action description")

	create := &cobra.Command{
		Use:   "create <id>",
		Short: "Create an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordAction(cmd, opts, func(e *engine.Engine, now time.Time) (ir.Kind, ir.Effect, string, error) {
				fields, err := parseFields(opts.Fields)
				if err != nil {
					return "", nil, "", err
				}
				status := ir.Status(opts.Status)
				if status == "" {
					status = ir.StatusNew
				}
				ent := ir.Entity{ID: args[0], Status: status, UpdatedAt: now, Fields: fields}
				return ir.KindCreate, ir.CreateEffect{Entity: ent}, "create " + args[0], nil
			})
		},
	}
	create.Flags().StringVar(&opts.Status, "status", "", "initial status (default NEW)")
	create.Flags().StringArrayVarP(&opts.Fields, "field", "f", nil, "field as key=value (repeatable)")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace an entity's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordAction(cmd, opts, func(e *engine.Engine, now time.Time) (ir.Kind, ir.Effect, string, error) {
				before, ok := e.Entity(args[0])
				if !ok {
					return "", nil, "", fmt.Errorf("entity %s not found", args[0])
				}
				fields, err := parseFields(opts.Fields)
				if err != nil {
					return "", nil, "", err
				}
				after := before.Clone()
				if after.Fields == nil {
					after.Fields = ir.Object{}
				}
				maps.Copy(after.Fields, fields)
				if opts.Status != "" {
					after.Status = ir.Status(opts.Status)
				}
				after.UpdatedAt = now
				return ir.KindUpdate, ir.UpdateEffect{Before: before, After: after}, "update " + args[0], nil
			})
		},
	}
	update.Flags().StringVar(&opts.Status, "status", "", "new status")
	update.Flags().StringArrayVarP(&opts.Fields, "field", "f", nil, "field as key=value (repeatable)")

	status := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move an entity to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordAction(cmd, opts, func(e *engine.Engine, now time.Time) (ir.Kind, ir.Effect, string, error) {
				cur, ok := e.Entity(args[0])
				if !ok {
					return "", nil, "", fmt.Errorf("entity %s not found", args[0])
				}
				to := ir.Status(strings.ToUpper(args[1]))
				fwd := ir.StatusChangeEffect{
					ID:            cur.ID,
					From:          cur.Status,
					To:            to,
					FromUpdatedAt: cur.UpdatedAt,
					ToUpdatedAt:   now,
				}
				return ir.KindStatusChange, fwd, fmt.Sprintf("%s -> %s", cur.ID, to), nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete one or more entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordAction(cmd, opts, func(e *engine.Engine, now time.Time) (ir.Kind, ir.Effect, string, error) {
				ents := make([]ir.Entity, 0, len(args))
				for _, id := range args {
					ent, ok := e.Entity(id)
					if !ok {
						return "", nil, "", fmt.Errorf("entity %s not found", id)
					}
					ents = append(ents, ent)
				}
				if len(ents) == 1 {
					return ir.KindDelete, ir.DeleteEffect{Entity: ents[0]}, "delete " + args[0], nil
				}
				return ir.KindBatchDelete, ir.BatchDeleteEffect{Entities: ents}, fmt.Sprintf("delete %d items", len(ents)), nil
			})
		},
	}

	sel := &cobra.Command{
		Use:   "select [id]",
		Short: "Select an item (local only, never delivered)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordAction(cmd, opts, func(e *engine.Engine, now time.Time) (ir.Kind, ir.Effect, string, error) {
				to := ""
				if len(args) == 1 {
					to = args[0]
				}
				return ir.KindSelectItem, ir.SelectEffect{From: e.Selection(), To: to}, "select " + to, nil
			})
		},
	}

	cmd.AddCommand(create, update, status, del, sel)
	return cmd
}

type effectBuilder func(e *engine.Engine, now time.Time) (ir.Kind, ir.Effect, string, error)

func recordAction(cmd *cobra.Command, opts *RecordOptions, build effectBuilder) error {
	return withApp(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
		kind, fwd, label, err := build(a.engine, time.Now().UTC().Round(0))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid action", err)
		}
		if opts.Description != "" {
			label = opts.Description
		}

		var desc *ir.Descriptor
		if kind != ir.KindSelectItem {
			desc = ir.DescriptorFor(opts.Resource, fwd)
		}
		act, err := a.engine.RecordAction(ctx, kind, fwd, ir.InverseOf(fwd), desc, label)
		if err != nil {
			if engine.IsInvalidEffect(err) {
				return WrapExitError(ExitCommandError, "invalid action", err)
			}
			return WrapExitError(ExitFailure, "failed to record action", err)
		}
		return formatter(cmd, opts.RootOptions).Success(recordedView{Action: newActionRow(act)})
	})
}

// parseFields turns key=value pairs into an Object. Values are strings.
func parseFields(pairs []string) (ir.Object, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	obj := make(ir.Object, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", p)
		}
		obj[k] = ir.String(v)
	}
	return obj, nil
}
