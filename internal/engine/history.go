package engine

import (
	"slices"

	"github.com/roach88/kitchensync/internal/ir"
)

// DefaultMaxHistory bounds History when no size is configured.
const DefaultMaxHistory = 100

// History is the linear undo/redo log.
//
// INVARIANTS:
//   - -1 <= cursor <= len(entries)-1
//   - entries after cursor are redoable
//   - len(entries) <= max
//
// History is not safe for concurrent use; the Engine guards it.
type History struct {
	entries []ir.Action
	cursor  int
	max     int
}

// NewHistory creates an empty history holding at most max entries.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	return &History{cursor: -1, max: max}
}

// Record discards the redo tail, appends a, evicting the oldest entry if
// full, and moves the cursor to a. It returns the evicted action, if any.
func (h *History) Record(a ir.Action) (evicted ir.Action, ok bool) {
	h.entries = append(h.entries[:h.cursor+1], a)
	if len(h.entries) > h.max {
		evicted, ok = h.entries[0], true
		h.entries = slices.Delete(h.entries, 0, 1)
	}
	h.cursor = len(h.entries) - 1
	return evicted, ok
}

// Current returns the action at the cursor.
func (h *History) Current() (ir.Action, bool) {
	if h.cursor < 0 {
		return ir.Action{}, false
	}
	return h.entries[h.cursor], true
}

// Next returns the action Redo would reapply.
func (h *History) Next() (ir.Action, bool) {
	if h.cursor+1 >= len(h.entries) {
		return ir.Action{}, false
	}
	return h.entries[h.cursor+1], true
}

// Discard removes the action at the cursor together with the redo tail,
// which was recorded on top of it, and moves the cursor back one entry.
func (h *History) Discard() (ir.Action, bool) {
	if h.cursor < 0 {
		return ir.Action{}, false
	}
	a := h.entries[h.cursor]
	h.entries = h.entries[:h.cursor]
	h.cursor--
	return a, true
}

// StepBack moves the cursor one entry back.
func (h *History) StepBack() {
	if h.cursor >= 0 {
		h.cursor--
	}
}

// StepForward moves the cursor one entry forward.
func (h *History) StepForward() {
	if h.cursor+1 < len(h.entries) {
		h.cursor++
	}
}

// CanUndo reports whether cursor > -1.
func (h *History) CanUndo() bool { return h.cursor >= 0 }

// CanRedo reports whether cursor < len-1.
func (h *History) CanRedo() bool { return h.cursor < len(h.entries)-1 }

// Cursor returns the index of the last applied action.
func (h *History) Cursor() int { return h.cursor }

// Len returns the number of entries.
func (h *History) Len() int { return len(h.entries) }

// Max returns the capacity.
func (h *History) Max() int { return h.max }

// Entries returns a copy of the log.
func (h *History) Entries() []ir.Action {
	out := make([]ir.Action, len(h.entries))
	for i, a := range h.entries {
		out[i] = a.Clone()
	}
	return out
}

// Restore replaces the log. If entries exceed the capacity the oldest are
// dropped and the cursor shifted to match, clamped at -1.
func (h *History) Restore(entries []ir.Action, cursor int) {
	h.entries = slices.Clone(entries)
	h.cursor = cursor
	if over := len(h.entries) - h.max; over > 0 {
		h.entries = slices.Delete(h.entries, 0, over)
		h.cursor -= over
	}
	h.cursor = max(-1, min(h.cursor, len(h.entries)-1))
}
