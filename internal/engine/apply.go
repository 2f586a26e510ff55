package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/kitchensync/internal/ir"
)

// entitySet is the managed entity collection plus the local selection.
// apply is all-or-nothing: every precondition is checked before anything
// is written.
type entitySet struct {
	entities  map[string]ir.Entity
	selection string
}

func newEntitySet() *entitySet {
	return &entitySet{entities: make(map[string]ir.Entity)}
}

func (s *entitySet) clone() *entitySet {
	out := &entitySet{
		entities:  make(map[string]ir.Entity, len(s.entities)),
		selection: s.selection,
	}
	for id, e := range s.entities {
		out.entities[id] = e.Clone()
	}
	return out
}

func (s *entitySet) sorted() []ir.Entity {
	out := make([]ir.Entity, 0, len(s.entities))
	for _, id := range slices.Sorted(maps.Keys(s.entities)) {
		out = append(out, s.entities[id].Clone())
	}
	return out
}

func (s *entitySet) requirePresent(ids ...string) error {
	for _, id := range ids {
		if _, ok := s.entities[id]; !ok {
			return fmt.Errorf("%w: entity %s does not exist", ir.ErrInvalidEffect, id)
		}
	}
	return nil
}

func (s *entitySet) requireAbsent(ids ...string) error {
	for _, id := range ids {
		if _, ok := s.entities[id]; ok {
			return fmt.Errorf("%w: entity %s already exists", ir.ErrInvalidEffect, id)
		}
	}
	return nil
}

// apply mutates s by e. Errors wrap ir.ErrInvalidEffect and leave s as it was.
func (s *entitySet) apply(e ir.Effect) error {
	switch v := e.(type) {
	case ir.CreateEffect:
		if err := s.requireAbsent(v.Entity.ID); err != nil {
			return err
		}
		s.entities[v.Entity.ID] = v.Entity.Clone()

	case ir.UpdateEffect:
		if err := s.requirePresent(v.Before.ID); err != nil {
			return err
		}
		s.entities[v.After.ID] = v.After.Clone()

	case ir.DeleteEffect:
		if err := s.requirePresent(v.Entity.ID); err != nil {
			return err
		}
		delete(s.entities, v.Entity.ID)

	case ir.BatchDeleteEffect:
		if err := s.requirePresent(v.EntityIDs()...); err != nil {
			return err
		}
		for _, ent := range v.Entities {
			delete(s.entities, ent.ID)
		}

	case ir.RestoreEffect:
		if err := s.requireAbsent(v.EntityIDs()...); err != nil {
			return err
		}
		for _, ent := range v.Entities {
			s.entities[ent.ID] = ent.Clone()
		}

	case ir.StatusChangeEffect:
		if err := s.requirePresent(v.ID); err != nil {
			return err
		}
		ent := s.entities[v.ID]
		ent.Status = v.To
		if !v.ToUpdatedAt.IsZero() {
			ent.UpdatedAt = v.ToUpdatedAt
		}
		s.entities[v.ID] = ent

	case ir.SelectEffect:
		if v.To != "" {
			if err := s.requirePresent(v.To); err != nil {
				return err
			}
		}
		s.selection = v.To

	case nil:
		return fmt.Errorf("%w: nil effect", ir.ErrInvalidEffect)

	default:
		return fmt.Errorf("%w: unsupported effect %T", ir.ErrInvalidEffect, e)
	}
	return nil
}
