package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kitchensync/internal/ir"
)

func act(id string) ir.Action { return ir.Action{ID: id} }

func TestHistory_Empty(t *testing.T) {
	h := NewHistory(3)
	assert.Equal(t, -1, h.Cursor())
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())

	_, ok := h.Current()
	assert.False(t, ok)
	_, ok = h.Next()
	assert.False(t, ok)
}

func TestHistory_RecordTruncatesRedoTail(t *testing.T) {
	h := NewHistory(10)
	h.Record(act("a"))
	h.Record(act("b"))
	h.Record(act("c"))
	h.StepBack()
	h.StepBack()
	assert.True(t, h.CanRedo())

	h.Record(act("d"))
	assert.False(t, h.CanRedo())
	assert.Equal(t, []string{"a", "d"}, pendingIDs(h.Entries()))
	assert.Equal(t, 1, h.Cursor())
}

func TestHistory_DiscardDropsCurrentAndRedoTail(t *testing.T) {
	h := NewHistory(10)
	h.Record(act("a"))
	h.Record(act("b"))
	h.Record(act("c"))
	h.StepBack()

	got, ok := h.Discard()
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
	assert.Equal(t, []string{"a"}, pendingIDs(h.Entries()))
	assert.Equal(t, 0, h.Cursor())
	assert.False(t, h.CanRedo())

	h.Discard()
	_, ok = h.Discard()
	assert.False(t, ok)
	assert.Equal(t, -1, h.Cursor())
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for _, id := range []string{"a", "b", "c"} {
		_, evicted := h.Record(act(id))
		assert.False(t, evicted)
	}

	old, evicted := h.Record(act("d"))
	assert.True(t, evicted)
	assert.Equal(t, "a", old.ID)
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 2, h.Cursor())
	assert.Equal(t, []string{"b", "c", "d"}, pendingIDs(h.Entries()))
}

func TestHistory_StepsAreBounded(t *testing.T) {
	h := NewHistory(3)
	h.Record(act("a"))

	h.StepBack()
	h.StepBack()
	assert.Equal(t, -1, h.Cursor())

	h.StepForward()
	h.StepForward()
	assert.Equal(t, 0, h.Cursor())
}

func TestHistory_RestoreClamps(t *testing.T) {
	h := NewHistory(2)
	h.Restore([]ir.Action{act("a"), act("b"), act("c")}, 0)
	assert.Equal(t, []string{"b", "c"}, pendingIDs(h.Entries()))
	assert.Equal(t, -1, h.Cursor())

	h.Restore([]ir.Action{act("a")}, 7)
	assert.Equal(t, 0, h.Cursor())
}

func TestNewHistory_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultMaxHistory, NewHistory(0).Max())
}
