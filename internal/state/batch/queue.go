// Package batch accumulates mutations and flushes them as grouped
// persistence calls: one call per non-empty group instead of one per entity.
//
// Entries carry the optimistic value the caller installed in the store.
// FlushResult.Apply only touches an entity whose stored pointer is still that
// value, so a result never overwrites a newer local change.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/state/store"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Group names one grouped persistence call.
type Group string

const (
	GroupAdd        Group = "add"
	GroupUpdate     Group = "update"
	GroupDelete     Group = "delete"
	GroupComplete   Group = "complete"
	GroupUncomplete Group = "uncomplete"
)

// Groups lists every group in flush order.
var Groups = []Group{GroupAdd, GroupUpdate, GroupDelete, GroupComplete, GroupUncomplete}

type toggleKey struct {
	id      string
	checked bool
}

type toggle struct {
	key       toggleKey
	installed *types.Task
}

// Queue holds pending operations. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	adds    []types.Entity
	updates []types.Entity
	deletes []types.Ref
	toggles []toggle
	seen    map[toggleKey]int // index into toggles
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{seen: make(map[toggleKey]int)}
}

// EnqueueAdd queues e, which carries a temporary id.
func (q *Queue) EnqueueAdd(e types.Entity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.adds = append(q.adds, e)
}

// EnqueueUpdate queues e as the new value for its id.
func (q *Queue) EnqueueUpdate(e types.Entity) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.updates = append(q.updates, e)
}

// EnqueueDelete queues the removal of id.
func (q *Queue) EnqueueDelete(kind types.Kind, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deletes = append(q.deletes, types.Ref{Kind: kind, ID: id})
}

// EnqueueComplete queues setting t.Checked on t.ID. A repeated id and flag
// replaces the earlier entry.
func (q *Queue) EnqueueComplete(t *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := toggleKey{id: t.ID, checked: t.Checked}
	if i, ok := q.seen[key]; ok {
		q.toggles[i].installed = t
		return
	}
	q.seen[key] = len(q.toggles)
	q.toggles = append(q.toggles, toggle{key: key, installed: t})
}

// IsEmpty reports whether nothing is queued.
func (q *Queue) IsEmpty() bool {
	return q.TotalOperations() == 0
}

// TotalOperations returns the number of queued entries across all groups.
func (q *Queue) TotalOperations() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.adds) + len(q.updates) + len(q.deletes) + len(q.toggles)
}

// GroupResult is the outcome of one grouped call.
type GroupResult struct {
	Group Group
	Err   error

	// Installed are the optimistic values sent, in call order. Empty for deletes.
	Installed []types.Entity
	// Stored are the canonical values returned, aligned with Installed.
	Stored []types.Entity
	// Deleted lists the refs sent in a delete group.
	Deleted []types.Ref
}

// Count returns the number of entities in the group.
func (g *GroupResult) Count() int {
	if g.Group == GroupDelete {
		return len(g.Deleted)
	}
	return len(g.Installed)
}

// FlushResult collects the outcome of every non-empty group.
type FlushResult struct {
	Groups []*GroupResult
}

// Err joins the errors of all failed groups.
func (r *FlushResult) Err() error {
	var errs []error
	for _, g := range r.Groups {
		if g.Err != nil {
			errs = append(errs, g.Err)
		}
	}
	return errors.Join(errs...)
}

// Failed returns the groups whose call failed.
func (r *FlushResult) Failed() []*GroupResult {
	var out []*GroupResult
	for _, g := range r.Groups {
		if g.Err != nil {
			out = append(out, g)
		}
	}
	return out
}

// Calls returns the number of grouped calls issued.
func (r *FlushResult) Calls() int {
	return len(r.Groups)
}

// Flush drains the queue and issues one call per non-empty group. Groups run
// concurrently and fail independently. The queue is empty afterwards whatever
// the outcome; failed groups are not retried.
func (q *Queue) Flush(ctx context.Context, backend persist.Backend, at time.Time) *FlushResult {
	q.mu.Lock()
	adds, updates, deletes, toggles := q.adds, q.updates, q.deletes, q.toggles
	q.adds, q.updates, q.deletes, q.toggles = nil, nil, nil, nil
	q.seen = make(map[toggleKey]int)
	q.mu.Unlock()

	var complete, uncomplete []*types.Task
	for _, t := range toggles {
		if t.key.checked {
			complete = append(complete, t.installed)
		} else {
			uncomplete = append(uncomplete, t.installed)
		}
	}

	res := &FlushResult{}
	var g errgroup.Group

	if len(adds) > 0 {
		gr := &GroupResult{Group: GroupAdd, Installed: adds}
		res.Groups = append(res.Groups, gr)
		g.Go(func() error {
			gr.Stored, gr.Err = backend.InsertMany(ctx, adds)
			return nil
		})
	}
	if len(updates) > 0 {
		gr := &GroupResult{Group: GroupUpdate, Installed: updates}
		res.Groups = append(res.Groups, gr)
		g.Go(func() error {
			gr.Stored, gr.Err = backend.UpdateMany(ctx, updates)
			return nil
		})
	}
	if len(deletes) > 0 {
		gr := &GroupResult{Group: GroupDelete, Deleted: deletes}
		res.Groups = append(res.Groups, gr)
		g.Go(func() error {
			gr.Err = backend.DeleteMany(ctx, deletes)
			return nil
		})
	}
	for _, part := range []struct {
		group   Group
		tasks   []*types.Task
		checked bool
	}{
		{GroupComplete, complete, true},
		{GroupUncomplete, uncomplete, false},
	} {
		if len(part.tasks) == 0 {
			continue
		}
		gr := &GroupResult{Group: part.group}
		ids := make([]string, len(part.tasks))
		for i, t := range part.tasks {
			ids[i] = t.ID
			gr.Installed = append(gr.Installed, t)
		}
		res.Groups = append(res.Groups, gr)
		g.Go(func() error {
			stored, err := backend.ToggleCompleteMany(ctx, ids, part.checked, at)
			gr.Err = err
			for _, t := range stored {
				gr.Stored = append(gr.Stored, t)
			}
			return nil
		})
	}

	_ = g.Wait()
	return res
}

// Apply writes the results of successful groups to s in one pass and returns
// the changes made. Adds replace their temporary entity; updates and toggles
// overwrite the optimistic value. Entries whose optimistic value is no longer
// the stored one are skipped. Deletes were already applied optimistically.
func (r *FlushResult) Apply(s *store.Store) []views.Change {
	var changes []views.Change
	for _, g := range r.Groups {
		if g.Err != nil || g.Group == GroupDelete {
			continue
		}
		for i, installed := range g.Installed {
			if i >= len(g.Stored) {
				break
			}
			stored := g.Stored[i]
			current, ok := s.Get(installed.Kind(), installed.EntityID())
			if !ok || current != installed {
				continue
			}
			if g.Group == GroupAdd {
				s.Replace(installed.Kind(), installed.EntityID(), stored)
			} else {
				s.Update(stored)
			}
			changes = append(changes, views.Updated(installed, stored))
		}
	}
	return changes
}
