package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kitchensync/internal/ir"
	"github.com/roach88/kitchensync/internal/testutil"
)

func TestEntitySet_ApplyPreconditions(t *testing.T) {
	t0 := testutil.Epoch
	one := ticket("1", ir.StatusNew, t0)

	tests := []struct {
		name   string
		seed   []ir.Entity
		effect ir.Effect
	}{
		{"create existing", []ir.Entity{one}, ir.CreateEffect{Entity: one}},
		{"update missing", nil, ir.UpdateEffect{Before: one, After: one}},
		{"delete missing", nil, ir.DeleteEffect{Entity: one}},
		{"batch delete partly missing", []ir.Entity{one}, ir.BatchDeleteEffect{Entities: []ir.Entity{one, ticket("2", ir.StatusNew, t0)}}},
		{"restore existing", []ir.Entity{one}, ir.RestoreEffect{Entities: []ir.Entity{one}}},
		{"status missing", nil, ir.StatusChangeEffect{ID: "1", From: ir.StatusNew, To: ir.StatusReady}},
		{"select missing", nil, ir.SelectEffect{To: "1"}},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newEntitySet()
			for _, e := range tt.seed {
				s.entities[e.ID] = e
			}
			before := s.sorted()

			err := s.apply(tt.effect)
			assert.ErrorIs(t, err, ir.ErrInvalidEffect)
			assert.Equal(t, before, s.sorted(), "failed apply must not mutate")
		})
	}
}

func TestEntitySet_BatchDeleteIsAtomic(t *testing.T) {
	s := newEntitySet()
	s.entities["1"] = ticket("1", ir.StatusNew, testutil.Epoch)

	err := s.apply(ir.BatchDeleteEffect{Entities: []ir.Entity{
		ticket("1", ir.StatusNew, testutil.Epoch),
		ticket("9", ir.StatusNew, testutil.Epoch),
	}})
	require.Error(t, err)
	_, ok := s.entities["1"]
	assert.True(t, ok)
}

func TestEntitySet_StatusChange(t *testing.T) {
	s := newEntitySet()
	s.entities["1"] = ticket("1", ir.StatusNew, testutil.Epoch)
	later := testutil.Epoch.Add(time.Minute)

	require.NoError(t, s.apply(ir.StatusChangeEffect{ID: "1", From: ir.StatusNew, To: ir.StatusReady, ToUpdatedAt: later}))
	assert.Equal(t, ir.StatusReady, s.entities["1"].Status)
	assert.Equal(t, later, s.entities["1"].UpdatedAt)

	// A zero target timestamp leaves updated_at alone.
	require.NoError(t, s.apply(ir.StatusChangeEffect{ID: "1", From: ir.StatusReady, To: ir.StatusServed}))
	assert.Equal(t, later, s.entities["1"].UpdatedAt)
}

func TestEntitySet_SelectNone(t *testing.T) {
	s := newEntitySet()
	s.selection = "gone"
	require.NoError(t, s.apply(ir.SelectEffect{From: "gone", To: ""}))
	assert.Equal(t, "", s.selection)
}

func TestEntitySet_CloneIsIndependent(t *testing.T) {
	s := newEntitySet()
	s.entities["1"] = ticket("1", ir.StatusNew, testutil.Epoch)

	c := s.clone()
	require.NoError(t, c.apply(ir.DeleteEffect{Entity: s.entities["1"]}))
	assert.Len(t, s.entities, 1)
	assert.Empty(t, c.entities)
}
