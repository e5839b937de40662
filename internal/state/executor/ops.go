package executor

import (
	"context"
	"errors"
	"time"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/state/bus"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

// op is one persistence intent for a single entity.
type op struct {
	kind   opKind
	ref    types.Ref
	name   string // action name for reports and metrics
	desc   string // tracker description
	prev   types.Entity // value to restore on failure; nil for creates
	placed types.Entity // value this op installed in the store; nil for deletes
	// payload is sent to the backend. Its id follows ref when a preceding
	// create is reconciled.
	payload types.Entity
}

// schedule registers o with the tracker and starts its persistence call, or
// queues it behind the call already in flight for the same id. Loop only.
func (e *Executor) schedule(o *op) {
	e.tracker.StartTask(o.desc)
	chain := append(e.chains[o.ref], o)
	e.chains[o.ref] = chain
	if len(chain) == 1 && !e.held[o.ref] {
		e.launch(o)
	}
}

// launch starts the backend call for o on a detached goroutine. The result
// re-enters the loop through Submit.
func (e *Executor) launch(o *op) {
	ref, payload := o.ref, o.payload
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.Timeout)
		defer cancel()

		start := time.Now()
		var res types.Entity
		var err error
		switch o.kind {
		case opCreate:
			res, err = e.backend.Insert(ctx, payload)
		case opUpdate:
			res, err = e.backend.Update(ctx, payload)
		case opDelete:
			err = e.backend.Delete(ctx, ref.Kind, ref.ID)
		}
		e.metrics.duration.WithLabelValues(o.name).Observe(time.Since(start).Seconds())

		if !e.loop.Submit(func() { e.settle(o, res, err) }) {
			// The loop is gone; keep the tracker balanced for WaitIdle callers.
			e.tracker.EndTask(o.desc)
			e.logger.Warn("persistence result dropped after shutdown", "op", o.name, "id", ref.ID, "error", err)
		}
	}()
}

// settle applies the outcome of the head of o's chain, ends its pending
// operation and starts the next queued intent. Loop only.
func (e *Executor) settle(o *op, res types.Entity, err error) {
	chain := e.chains[o.ref]
	if len(chain) == 0 || chain[0] != o {
		e.logger.Error("settled operation is not at the head of its chain", "op", o.name, "id", o.ref.ID)
		e.tracker.EndTask(o.desc)
		return
	}
	rest := chain[1:]
	delete(e.chains, o.ref)

	if o.kind == opDelete && errors.Is(err, persist.ErrNotFound) {
		e.logger.Debug("delete target already gone", "id", o.ref.ID)
		err = nil
	}

	if err != nil {
		rest = e.rollback(o, rest, err)
	} else {
		rest = e.reconcile(o, rest, res)
	}
	e.tracker.EndTask(o.desc)

	// A reconciled create moves the chain to the real id.
	if len(rest) == 0 {
		return
	}
	e.chains[rest[0].ref] = rest
	e.launch(rest[0])
}

// reconcile accepts the backend's canonical value and returns the queued
// successors, re-keyed to the real id when o was a create.
func (e *Executor) reconcile(o *op, rest []*op, res types.Entity) []*op {
	e.metrics.commits.WithLabelValues(o.name).Inc()
	e.tracker.ClearError()

	switch o.kind {
	case opCreate:
		return e.reconcileCreate(o, rest, res)

	case opUpdate:
		if len(rest) > 0 {
			// The successor now restores to the persisted value on failure.
			// The store keeps the successor's value; the event reports it.
			rest[0].prev = res
			if current, ok := e.store.Get(o.ref.Kind, o.ref.ID); ok {
				e.publish(bus.ActionUpdated, bus.PhaseReconciled, current, "")
			}
			return rest
		}
		current, ok := e.store.Get(o.ref.Kind, o.ref.ID)
		if !ok || current != o.placed {
			return nil
		}
		e.mutate(views.Updated(o.placed, res), func() { e.store.Update(res) })
		e.publish(bus.ActionUpdated, bus.PhaseReconciled, res, "")

	case opDelete:
		if len(rest) > 0 {
			rest[0].prev = nil
		}
		e.events.Publish(bus.Event{
			Action: bus.ActionDeleted,
			Phase:  bus.PhaseReconciled,
			Kind:   o.ref.Kind,
			ID:     o.ref.ID,
			Entity: o.prev,
			At:     e.config.Now(),
		})
	}
	return rest
}

func (e *Executor) reconcileCreate(o *op, rest []*op, res types.Entity) []*op {
	tempID := o.ref.ID
	realRef := types.RefOf(res)
	current, ok := e.store.Get(o.ref.Kind, tempID)

	if len(rest) == 0 {
		if ok {
			e.mutate(views.Updated(current, res), func() { e.store.Replace(o.ref.Kind, tempID, res) })
			e.publish(bus.ActionUpdated, bus.PhaseReconciled, res, tempID)
		}
		return nil
	}

	// A later local change is visible: keep it, under the real id.
	if ok {
		rekeyed := current.WithID(realRef.ID)
		e.mutate(views.Updated(current, rekeyed), func() { e.store.Replace(o.ref.Kind, tempID, rekeyed) })
		e.publish(bus.ActionUpdated, bus.PhaseReconciled, rekeyed, tempID)
		for _, s := range rest {
			if s.placed == current {
				s.placed = rekeyed
			}
		}
	}
	for _, s := range rest {
		s.ref = realRef
		if s.payload != nil {
			s.payload = s.payload.WithID(realRef.ID)
		}
		if s.prev != nil && s.prev.EntityID() == tempID {
			s.prev = s.prev.WithID(realRef.ID)
		}
	}
	rest[0].prev = res
	return rest
}

// rollback undoes o's optimistic change unless a later change has replaced
// it, reports the failure, and returns the successors that may still run.
func (e *Executor) rollback(o *op, rest []*op, err error) []*op {
	e.fail(o.name, o.desc, err)

	switch o.kind {
	case opCreate:
		if current, ok := e.store.Get(o.ref.Kind, o.ref.ID); ok {
			e.mutate(views.Deleted(current), func() { e.store.Remove(o.ref.Kind, o.ref.ID) })
			e.publish(bus.ActionDeleted, bus.PhaseRolledBack, current, "")
		}
		for _, s := range rest {
			e.tracker.EndTask(s.desc)
			e.metrics.discarded.Inc()
			r := discardReport(s.name, s.desc, err, e.config.Now())
			e.reports.Publish(r)
			e.logger.Info("queued operation discarded", "op", s.name, "id", s.ref.ID)
		}
		// Nothing queued behind a failed create may run.
		return nil

	case opUpdate:
		if len(rest) > 0 {
			rest[0].prev = o.prev
			return rest
		}
		current, ok := e.store.Get(o.ref.Kind, o.ref.ID)
		if !ok || current != o.placed {
			return nil
		}
		e.mutate(views.Updated(o.placed, o.prev), func() { e.store.Update(o.prev) })
		e.publish(bus.ActionUpdated, bus.PhaseRolledBack, o.prev, "")

	case opDelete:
		if len(rest) > 0 {
			rest[0].prev = o.prev
			return rest
		}
		if e.store.Contains(o.ref.Kind, o.ref.ID) {
			return nil
		}
		e.mutate(views.Added(o.prev), func() { e.store.Add(o.prev) })
		e.publish(bus.ActionCreated, bus.PhaseRolledBack, o.prev, "")
	}
	return nil
}
