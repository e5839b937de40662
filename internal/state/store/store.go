// Package store holds the single authoritative collection of loaded entities.
//
// Store is the only component allowed to change canonical state. Every
// mutating call advances Version by exactly one, including calls that turn
// out to be logical no-ops (Update or Remove of an absent id). Caches compare
// against Version, so an extra bump costs at most one recomputation.
//
// Store has no internal locking. It is owned by the executor's mutation loop;
// other goroutines read it through that loop.
package store

import (
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Store is the versioned entity collection.
type Store struct {
	collections map[types.Kind]map[string]types.Entity
	version     uint64
}

// New creates an empty store at version 0.
func New() *Store {
	s := &Store{collections: make(map[types.Kind]map[string]types.Entity, len(types.Kinds))}
	for _, k := range types.Kinds {
		s.collections[k] = make(map[string]types.Entity)
	}
	return s
}

// Version returns the mutation counter.
func (s *Store) Version() uint64 {
	return s.version
}

// Add inserts e, replacing any entity already stored under its id.
func (s *Store) Add(e types.Entity) {
	s.collections[e.Kind()][e.EntityID()] = e
	s.version++
}

// Update replaces the entity stored under e's id. It returns false and leaves
// the collection untouched when the id is absent.
func (s *Store) Update(e types.Entity) bool {
	s.version++
	coll := s.collections[e.Kind()]
	if _, ok := coll[e.EntityID()]; !ok {
		return false
	}
	coll[e.EntityID()] = e
	return true
}

// Remove deletes the entity and returns it. Removing an absent id is a no-op
// that still advances the version.
func (s *Store) Remove(kind types.Kind, id string) (types.Entity, bool) {
	s.version++
	coll := s.collections[kind]
	e, ok := coll[id]
	if ok {
		delete(coll, id)
	}
	return e, ok
}

// Replace removes oldID and stores e in a single step, so no reader can see
// both the temporary entity and its reconciled replacement.
// It returns false if oldID was absent, in which case nothing is stored.
func (s *Store) Replace(kind types.Kind, oldID string, e types.Entity) bool {
	s.version++
	coll := s.collections[kind]
	if _, ok := coll[oldID]; !ok {
		return false
	}
	delete(coll, oldID)
	coll[e.EntityID()] = e
	return true
}

// Load replaces every collection with the snapshot contents in one version step.
func (s *Store) Load(entities []types.Entity) {
	for _, k := range types.Kinds {
		s.collections[k] = make(map[string]types.Entity)
	}
	for _, e := range entities {
		s.collections[e.Kind()][e.EntityID()] = e
	}
	s.version++
}

// Get returns the entity stored under id.
func (s *Store) Get(kind types.Kind, id string) (types.Entity, bool) {
	e, ok := s.collections[kind][id]
	return e, ok
}

// Contains reports whether id is present.
func (s *Store) Contains(kind types.Kind, id string) bool {
	_, ok := s.collections[kind][id]
	return ok
}

// Len returns the size of one collection.
func (s *Store) Len(kind types.Kind) int {
	return len(s.collections[kind])
}

// All returns the entities of one kind in unspecified order.
func (s *Store) All(kind types.Kind) []types.Entity {
	coll := s.collections[kind]
	out := make([]types.Entity, 0, len(coll))
	for _, e := range coll {
		out = append(out, e)
	}
	return out
}

// Task returns the task stored under id.
func (s *Store) Task(id string) (*types.Task, bool) {
	e, ok := s.collections[types.KindTask][id]
	if !ok {
		return nil, false
	}
	return e.(*types.Task), true
}

// Tasks returns all tasks in unspecified order.
func (s *Store) Tasks() []*types.Task {
	return typed[*types.Task](s.collections[types.KindTask])
}

// Projects returns all projects in unspecified order.
func (s *Store) Projects() []*types.Project {
	return typed[*types.Project](s.collections[types.KindProject])
}

// Sections returns all sections in unspecified order.
func (s *Store) Sections() []*types.Section {
	return typed[*types.Section](s.collections[types.KindSection])
}

// Labels returns all labels in unspecified order.
func (s *Store) Labels() []*types.Label {
	return typed[*types.Label](s.collections[types.KindLabel])
}

func typed[T types.Entity](coll map[string]types.Entity) []T {
	out := make([]T, 0, len(coll))
	for _, e := range coll {
		out = append(out, e.(T))
	}
	return out
}
