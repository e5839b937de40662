// Package persist defines the contract between the state core and a durable
// store.
//
// Backends are called from detached goroutines, one call per persistence
// intent, and must be safe for concurrent use. A backend returns canonical
// values: Insert assigns the real id, Update normalizes server-owned fields
// such as UpdatedAt and CompletedAt. Batch calls are all-or-nothing.
package persist

import (
	"context"
	"time"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// Backend is a durable entity store.
type Backend interface {
	// Insert stores e under a newly assigned canonical id and returns the stored value.
	Insert(ctx context.Context, e types.Entity) (types.Entity, error)
	// Update replaces the stored value with the same id. Absent ids yield ErrNotFound.
	Update(ctx context.Context, e types.Entity) (types.Entity, error)
	// Delete removes an entity. Absent ids yield ErrNotFound.
	Delete(ctx context.Context, kind types.Kind, id string) error

	// InsertMany inserts es in one call; results are returned in input order.
	InsertMany(ctx context.Context, es []types.Entity) ([]types.Entity, error)
	// UpdateMany updates es in one call; results are returned in input order.
	UpdateMany(ctx context.Context, es []types.Entity) ([]types.Entity, error)
	// DeleteMany removes every referenced entity. Absent ids are skipped.
	DeleteMany(ctx context.Context, refs []types.Ref) error
	// ToggleCompleteMany sets Checked on every listed task and returns the stored tasks.
	ToggleCompleteMany(ctx context.Context, ids []string, checked bool, at time.Time) ([]*types.Task, error)

	// Load returns every stored entity.
	Load(ctx context.Context) (*Snapshot, error)
	// Close releases backend resources.
	Close() error
}

// Snapshot is the full backend contents used to hydrate the store.
type Snapshot struct {
	Tasks    []*types.Task
	Projects []*types.Project
	Sections []*types.Section
	Labels   []*types.Label
}

// Entities flattens the snapshot.
func (s *Snapshot) Entities() []types.Entity {
	out := make([]types.Entity, 0, s.Len())
	for _, p := range s.Projects {
		out = append(out, p)
	}
	for _, sec := range s.Sections {
		out = append(out, sec)
	}
	for _, l := range s.Labels {
		out = append(out, l)
	}
	for _, t := range s.Tasks {
		out = append(out, t)
	}
	return out
}

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Tasks) + len(s.Projects) + len(s.Sections) + len(s.Labels)
}

// Add appends e to the matching collection.
func (s *Snapshot) Add(e types.Entity) {
	switch v := e.(type) {
	case *types.Task:
		s.Tasks = append(s.Tasks, v)
	case *types.Project:
		s.Projects = append(s.Projects, v)
	case *types.Section:
		s.Sections = append(s.Sections, v)
	case *types.Label:
		s.Labels = append(s.Labels, v)
	}
}

// Normalize returns the canonical form of e as a backend stores it: task
// timestamps are filled and CompletedAt agrees with Checked. Other kinds are
// returned unchanged.
func Normalize(e types.Entity, now time.Time) types.Entity {
	t, ok := e.(*types.Task)
	if !ok {
		return e
	}
	c := t.Clone()
	if c.AddedAt.IsZero() {
		c.AddedAt = now
	}
	c.UpdatedAt = now
	switch {
	case c.Checked && c.CompletedAt == nil:
		c.CompletedAt = &now
	case !c.Checked:
		c.CompletedAt = nil
	}
	if c.Labels == nil {
		c.Labels = []string{}
	}
	return c
}
