package harness

import (
	"github.com/roach88/kitchensync/internal/ir"
)

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step     int    `json:"step"`
	Op       string `json:"op"`
	ActionID string `json:"action_id,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Error    string `json:"error,omitempty"`
	NoOp     bool   `json:"noop,omitempty"`

	// Sync passes.
	Report *SyncOutcome `json:"report,omitempty"`

	// clear_errors
	Cleared []string `json:"cleared,omitempty"`

	// reconcile
	Conflicts  int      `json:"conflicts,omitempty"`
	Skipped    bool     `json:"skipped,omitempty"`
	Superseded []string `json:"superseded,omitempty"`

	Pending int `json:"pending"`
	Cursor  int `json:"cursor"`
}

// SyncOutcome is the part of a syncer.Report kept in traces.
type SyncOutcome struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	Deferred  int      `json:"deferred"`
	Offline   bool     `json:"offline,omitempty"`
}

// FinalState is the engine state after the last step.
type FinalState struct {
	Entities  []ir.Entity `json:"entities"`
	Pending   []string    `json:"pending"`
	Errors    []string    `json:"errors"`
	Synced    []string    `json:"synced"`
	Applied   []string    `json:"applied"`
	Selection string      `json:"selection,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Final  FinalState   `json:"final"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func stringArray(ids []string) ir.Array {
	arr := make(ir.Array, len(ids))
	for i, id := range ids {
		arr[i] = ir.String(id)
	}
	return arr
}

// Object renders the event for canonical JSON. Sync reports always carry
// their succeeded/failed/deferred fields so an empty pass is visible.
func (e TraceEvent) Object() ir.Object {
	obj := ir.Object{
		"step":    ir.Int(e.Step),
		"op":      ir.String(e.Op),
		"pending": ir.Int(e.Pending),
		"cursor":  ir.Int(e.Cursor),
	}
	if e.ActionID != "" {
		obj["action_id"] = ir.String(e.ActionID)
	}
	if e.Kind != "" {
		obj["kind"] = ir.String(e.Kind)
	}
	if e.Ref != "" {
		obj["ref"] = ir.String(e.Ref)
	}
	if e.Error != "" {
		obj["error"] = ir.String(e.Error)
	}
	if e.NoOp {
		obj["noop"] = ir.Bool(true)
	}
	if e.Report != nil {
		rep := ir.Object{
			"succeeded": stringArray(e.Report.Succeeded),
			"failed":    stringArray(e.Report.Failed),
			"deferred":  ir.Int(e.Report.Deferred),
		}
		if e.Report.Offline {
			rep["offline"] = ir.Bool(true)
		}
		obj["report"] = rep
	}
	switch e.Op {
	case opClearErrors:
		obj["cleared"] = stringArray(e.Cleared)
	case opReconcile:
		obj["conflicts"] = ir.Int(e.Conflicts)
		obj["superseded"] = stringArray(e.Superseded)
		if e.Skipped {
			obj["skipped"] = ir.Bool(true)
		}
	}
	return obj
}

// Object renders the final state with entity ids and statuses only.
func (f FinalState) Object() ir.Object {
	ents := make(ir.Array, len(f.Entities))
	for i, e := range f.Entities {
		ents[i] = ir.Object{"id": ir.String(e.ID), "status": ir.String(e.Status)}
	}
	obj := ir.Object{
		"entities": ents,
		"pending":  stringArray(f.Pending),
		"errors":   stringArray(f.Errors),
		"synced":   stringArray(f.Synced),
		"applied":  stringArray(f.Applied),
	}
	if f.Selection != "" {
		obj["selection"] = ir.String(f.Selection)
	}
	return obj
}
