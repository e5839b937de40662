package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/state/batch"
	"github.com/mschirtzinger/tasksync/internal/state/bus"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Batch actions apply every change in one store step and persist them as
// grouped calls: one per group, not one per task. While the calls run the
// batch holds its ids: single-entity writes to them wait in their chains and
// start once the batch settles. A result is only written back while the
// value it was computed from is still the stored one.

// BatchAdd applies tasks under temporary ids and persists them in one call.
// Nothing is applied if any task is invalid.
func (e *Executor) BatchAdd(ctx context.Context, tasks []*types.Task) ([]string, error) {
	var ids []string
	err := e.run(ctx, func() error {
		placed := make([]*types.Task, 0, len(tasks))
		for i, t := range tasks {
			t = t.Clone()
			t.SetDefaults()
			if err := t.Validate(); err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			if err := e.checkTaskRefs(t); err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			placed = append(placed, t.WithID(types.NewTempID()).(*types.Task))
		}
		if len(placed) == 0 {
			return nil
		}

		q := batch.New()
		e.mutate(views.BulkUpdate(), func() {
			for _, t := range placed {
				e.store.Add(t)
			}
		})
		for _, t := range placed {
			ids = append(ids, t.ID)
			q.EnqueueAdd(t)
			e.publish(bus.ActionCreated, bus.PhaseOptimistic, t, "")
		}
		e.flushBatch("batch_add", plural("Adding", len(placed)), q, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BatchUpdate applies edit to each listed task. Absent ids are skipped.
func (e *Executor) BatchUpdate(ctx context.Context, ids []string, edit func(*types.Task)) error {
	return e.batchEdit(ctx, "batch_update", "Updating", ids, e.editTask(edit), func(q *batch.Queue, t *types.Task) {
		q.EnqueueUpdate(t)
	})
}

// BatchComplete checks or unchecks each listed task with one grouped call.
func (e *Executor) BatchComplete(ctx context.Context, ids []string, checked bool) error {
	name, verb := "batch_complete", "Completing"
	if !checked {
		name, verb = "batch_uncomplete", "Reopening"
	}
	edit := e.editTask(func(t *types.Task) { t.Checked = checked })
	return e.batchEdit(ctx, name, verb, ids, edit, func(q *batch.Queue, t *types.Task) {
		q.EnqueueComplete(t)
	})
}

// BatchDelete removes each listed task. Absent ids are skipped.
func (e *Executor) BatchDelete(ctx context.Context, ids []string) error {
	return e.run(ctx, func() error {
		found, err := e.batchTargets(ids)
		if err != nil || len(found) == 0 {
			return err
		}

		q := batch.New()
		prev := make(map[types.Ref]types.Entity, len(found))
		e.mutate(views.BulkUpdate(), func() {
			for _, t := range found {
				e.store.Remove(types.KindTask, t.ID)
			}
		})
		for _, t := range found {
			prev[types.RefOf(t)] = t
			q.EnqueueDelete(types.KindTask, t.ID)
			e.publish(bus.ActionDeleted, bus.PhaseOptimistic, t, "")
		}
		e.flushBatch("batch_delete", plural("Deleting", len(found)), q, prev)
		return nil
	})
}

func (e *Executor) batchEdit(ctx context.Context, name, verb string, ids []string,
	edit func(types.Entity) (types.Entity, error), enqueue func(*batch.Queue, *types.Task)) error {
	return e.run(ctx, func() error {
		found, err := e.batchTargets(ids)
		if err != nil || len(found) == 0 {
			return err
		}

		next := make([]*types.Task, len(found))
		for i, t := range found {
			ent, err := edit(t)
			if err != nil {
				return fmt.Errorf("task %s: %w", t.ID, err)
			}
			if err := ent.Validate(); err != nil {
				return fmt.Errorf("task %s: %w", t.ID, err)
			}
			next[i] = ent.(*types.Task)
		}

		q := batch.New()
		prev := make(map[types.Ref]types.Entity, len(found))
		e.mutate(views.BulkUpdate(), func() {
			for _, t := range next {
				e.store.Update(t)
			}
		})
		for i, t := range next {
			prev[types.RefOf(t)] = found[i]
			enqueue(q, t)
			e.publish(bus.ActionUpdated, bus.PhaseOptimistic, t, "")
		}
		e.flushBatch(name, plural(verb, len(next)), q, prev)
		return nil
	})
}

// batchTargets resolves ids to stored tasks, skipping absent ones. Temporary
// ids are refused because a batch cannot follow a create to its real id, and
// ids with a write in flight because the batch call would race it.
func (e *Executor) batchTargets(ids []string) ([]*types.Task, error) {
	var found []*types.Task
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		ref := types.Ref{Kind: types.KindTask, ID: id}
		if types.IsTempID(id) || len(e.chains[ref]) > 0 || e.held[ref] {
			return nil, &types.ValidationError{Field: "id", Reason: fmt.Sprintf("%s is still being saved; try again shortly", id)}
		}
		t, ok := e.store.Task(id)
		if !ok {
			e.logger.Debug("batch target not found", "id", id)
			continue
		}
		found = append(found, t)
	}
	if len(found) == 0 && len(ids) > 0 {
		e.store.Remove(types.KindTask, ids[0])
		return nil, fmt.Errorf("batch: %w", ErrNotFound)
	}
	return found, nil
}

// flushBatch tracks the batch as one pending operation and flushes q on a
// detached goroutine. Loop only.
func (e *Executor) flushBatch(name, desc string, q *batch.Queue, prev map[types.Ref]types.Entity) {
	if q.IsEmpty() {
		return
	}
	for ref := range prev {
		e.held[ref] = true
	}
	e.tracker.StartTask(desc)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
		defer cancel()

		start := time.Now()
		res := q.Flush(ctx, e.backend, e.config.Now())
		e.metrics.duration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		if !e.loop.Submit(func() { e.settleBatch(name, desc, res, prev) }) {
			// Writes queued behind the hold are abandoned with the loop.
			e.tracker.EndTask(desc)
			e.logger.Warn("batch result dropped after shutdown", "op", name, "error", res.Err())
		}
	}()
}

// settleBatch writes back successful groups, undoes failed ones and ends the
// pending operation. Loop only.
func (e *Executor) settleBatch(name, desc string, res *batch.FlushResult, prev map[types.Ref]types.Entity) {
	defer e.tracker.EndTask(desc)

	var events []bus.Event
	now := e.config.Now()
	e.mutate(views.BulkUpdate(), func() {
		for _, c := range res.Apply(e.store) {
			prevID := ""
			if c.Old.EntityID() != c.New.EntityID() {
				prevID = c.Old.EntityID()
			}
			events = append(events, entityEvent(bus.ActionUpdated, bus.PhaseReconciled, c.New, prevID, now))
		}
		for _, g := range res.Groups {
			if g.Err == nil {
				e.metrics.commits.WithLabelValues("batch_" + string(g.Group)).Add(float64(g.Count()))
				if g.Group == batch.GroupDelete {
					for _, ref := range g.Deleted {
						events = append(events, entityEvent(bus.ActionDeleted, bus.PhaseReconciled, prev[ref], "", now))
					}
				}
				continue
			}
			events = append(events, e.rollbackGroup(g, prev, now)...)
		}
	})
	for _, ev := range events {
		e.events.Publish(ev)
	}
	e.release(res, prev)

	failed := res.Failed()
	for _, g := range failed {
		e.fail("batch_"+string(g.Group), desc, g.Err)
	}
	if len(failed) == 0 {
		e.tracker.ClearError()
	}
	e.logger.Debug("batch settled", "op", name, "groups", res.Calls(), "failed", len(failed))
}

// release drops the batch's holds and starts the single writes queued behind
// them. Each restores, on failure, to what the backend now holds: the stored
// value if the group succeeded, the pre-batch value otherwise. Loop only.
func (e *Executor) release(res *batch.FlushResult, prev map[types.Ref]types.Entity) {
	persisted := make(map[types.Ref]types.Entity, len(prev))
	for ref, old := range prev {
		persisted[ref] = old
	}
	for _, g := range res.Groups {
		if g.Err != nil || g.Group == batch.GroupDelete {
			continue
		}
		for i, installed := range g.Installed {
			if i < len(g.Stored) {
				persisted[types.RefOf(installed)] = g.Stored[i]
			}
		}
	}
	for ref := range prev {
		delete(e.held, ref)
		chain := e.chains[ref]
		if len(chain) == 0 {
			continue
		}
		chain[0].prev = persisted[ref]
		e.launch(chain[0])
	}
}

// rollbackGroup undoes the optimistic changes of one failed group where they
// are still visible, and returns the compensating events.
func (e *Executor) rollbackGroup(g *batch.GroupResult, prev map[types.Ref]types.Entity, now time.Time) []bus.Event {
	var events []bus.Event
	switch g.Group {
	case batch.GroupAdd:
		for _, installed := range g.Installed {
			ref := types.RefOf(installed)
			if current, ok := e.store.Get(ref.Kind, ref.ID); ok && current == installed {
				e.store.Remove(ref.Kind, ref.ID)
				events = append(events, entityEvent(bus.ActionDeleted, bus.PhaseRolledBack, installed, "", now))
			}
		}
	case batch.GroupDelete:
		for _, ref := range g.Deleted {
			old := prev[ref]
			if old == nil || e.store.Contains(ref.Kind, ref.ID) {
				continue
			}
			e.store.Add(old)
			events = append(events, entityEvent(bus.ActionCreated, bus.PhaseRolledBack, old, "", now))
		}
	default:
		for _, installed := range g.Installed {
			ref := types.RefOf(installed)
			old := prev[ref]
			if current, ok := e.store.Get(ref.Kind, ref.ID); !ok || current != installed || old == nil {
				continue
			}
			e.store.Update(old)
			events = append(events, entityEvent(bus.ActionUpdated, bus.PhaseRolledBack, old, "", now))
		}
	}
	return events
}

func entityEvent(action bus.Action, phase bus.Phase, ent types.Entity, prevID string, at time.Time) bus.Event {
	return bus.Event{
		Action: action,
		Phase:  phase,
		Kind:   ent.Kind(),
		ID:     ent.EntityID(),
		PrevID: prevID,
		Entity: ent,
		At:     at,
	}
}

func plural(verb string, n int) string {
	if n == 1 {
		return verb + " 1 task"
	}
	return fmt.Sprintf("%s %d tasks", verb, n)
}
