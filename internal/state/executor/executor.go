// Package executor implements the optimistic mutation protocol.
//
// Every action validates, then applies its change to the store, the query
// cache, the dirty flags and the event bus before returning. The matching
// backend call runs on a detached goroutine. Its outcome comes back to the
// mutation loop, which reconciles (real id, canonical fields) or rolls back,
// and only then ends the pending operation.
//
// Writes to one id are sequenced: a second persistence call for an id starts
// after the first one settles. The optimistic apply is never delayed.
// Operations queued behind a create follow it to the real id, and are
// discarded if the create fails. A batch holds its ids until it settles;
// single writes queue behind the hold, and a batch refuses ids that already
// have a write in flight.
//
// State owned by the loop (store, cache, dirty flags, chains) has no locks.
// Touch it only from closures passed to Loop().Do or Loop().Submit.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/state/bus"
	"github.com/mschirtzinger/tasksync/internal/state/pending"
	"github.com/mschirtzinger/tasksync/internal/state/querycache"
	"github.com/mschirtzinger/tasksync/internal/state/store"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Config holds configuration for the executor.
type Config struct {
	// Backend receives every persistence call. Required.
	Backend persist.Backend

	// Timeout bounds each backend call
	Timeout time.Duration

	// Now is the clock for timestamps and date-relative views
	Now func() time.Time

	// Registerer receives executor and tracker metrics; nil disables registration
	Registerer prometheus.Registerer

	// EventBuffer is the per-subscriber buffer of each bus
	EventBuffer int

	// LoopBuffer is the number of closures the mutation loop queues before Submit blocks
	LoopBuffer int

	// Logger for executor activity
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults. Backend must still be set.
func DefaultConfig() *Config {
	return &Config{
		Timeout:     30 * time.Second,
		Now:         time.Now,
		EventBuffer: bus.DefaultBuffer,
		LoopBuffer:  256,
		Logger:      slog.Default().With("component", "executor"),
	}
}

// DirtyNotice announces views whose data changed since they were last read.
type DirtyNotice struct {
	Views   []views.View
	All     bool // every view, including parameterized ones not listed
	Version uint64
}

// Executor applies mutations optimistically and persists them asynchronously.
type Executor struct {
	config  *Config
	backend persist.Backend
	logger  *slog.Logger
	metrics *metrics

	loop    *Loop
	tracker *pending.Tracker

	events  *bus.Bus[bus.Event]
	dirtyCh *bus.Bus[DirtyNotice]
	reports *bus.Bus[Report]

	// Owned by the loop.
	store  *store.Store
	cache  *querycache.Cache
	dirty  *views.DirtyTracker
	chains map[types.Ref][]*op
	// held marks ids with a batch call in flight. Single writes to them
	// queue in their chain until the batch settles.
	held map[types.Ref]bool
	day  time.Time
}

// New creates an executor. Call Start before any action.
func New(config *Config) (*Executor, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaults.EventBuffer
	}
	if config.LoopBuffer <= 0 {
		config.LoopBuffer = defaults.LoopBuffer
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	s := store.New()
	return &Executor{
		config:  config,
		backend: config.Backend,
		logger:  config.Logger,
		metrics: newMetrics(config.Registerer),
		loop:    NewLoop(config.LoopBuffer),
		tracker: pending.New(config.Registerer),
		events:  bus.New[bus.Event](config.EventBuffer),
		dirtyCh: bus.New[DirtyNotice](config.EventBuffer),
		reports: bus.New[Report](config.EventBuffer),
		store:   s,
		cache:   querycache.New(s),
		dirty:   views.NewDirtyTracker(),
		chains:  make(map[types.Ref][]*op),
		held:    make(map[types.Ref]bool),
		day:     config.Now(),
	}, nil
}

// Start runs the mutation loop until ctx is done or Shutdown is called.
func (e *Executor) Start(ctx context.Context) {
	e.loop.Start(ctx)
}

// Load hydrates the store from the backend in one version step.
func (e *Executor) Load(ctx context.Context) error {
	snap, err := e.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	err = e.loop.Do(ctx, func() {
		e.mutate(views.BulkUpdate(), func() { e.store.Load(snap.Entities()) })
		e.events.Publish(bus.Event{Action: bus.ActionUpdated, Phase: bus.PhaseLoaded, At: e.config.Now()})
	})
	if err != nil {
		return err
	}
	e.logger.Info("store loaded",
		"tasks", len(snap.Tasks),
		"projects", len(snap.Projects),
		"sections", len(snap.Sections),
		"labels", len(snap.Labels))
	return nil
}

// Loop returns the mutation loop. Reads of Store, View and CacheStats must
// run inside it.
func (e *Executor) Loop() *Loop { return e.loop }

// Tracker returns the pending-operation tracker. It is safe for concurrent use.
func (e *Executor) Tracker() *pending.Tracker { return e.tracker }

// Events returns the entity lifecycle bus.
func (e *Executor) Events() *bus.Bus[bus.Event] { return e.events }

// DirtyViews returns the bus of dirty-view notices.
func (e *Executor) DirtyViews() *bus.Bus[DirtyNotice] { return e.dirtyCh }

// Reports returns the bus of failure reports.
func (e *Executor) Reports() *bus.Bus[Report] { return e.reports }

// Store returns the store. Loop only.
func (e *Executor) Store() *store.Store { return e.store }

// CacheStats returns query cache counters. Loop only.
func (e *Executor) CacheStats() querycache.Stats { return e.cache.Stats() }

// IsDirty reports whether v changed since it was last read. Loop only.
func (e *Executor) IsDirty(v views.View) bool { return e.dirty.IsDirty(v) }

// View returns the tasks of v, from the cache when valid, and clears its
// dirty flag. Loop only.
func (e *Executor) View(v views.View) []*types.Task {
	now := e.config.Now()
	if !sameDay(now, e.day) {
		// Today, Overdue and Scheduled shift at midnight without a store change.
		e.day = now
		e.cache.InvalidateAll()
		e.dirty.MarkAll()
	}

	tasks, ok := e.cache.Get(v)
	if !ok {
		tasks = views.Compute(v, e.store.Tasks(), now)
		e.cache.Set(v, tasks)
	}
	e.dirty.Clear(v)
	return tasks
}

// Shutdown waits for pending persistence to finish, then stops the loop and
// closes the buses. If ctx expires first, the loop is stopped anyway and the
// descriptions of unfinished operations are returned in the error.
func (e *Executor) Shutdown(ctx context.Context) error {
	waitErr := e.tracker.WaitIdle(ctx)
	if waitErr != nil {
		pendingOps := e.tracker.Descriptions()
		e.logger.Warn("shutting down with unsaved changes", "pending", pendingOps, "error", waitErr)
		waitErr = fmt.Errorf("%d operations still pending %v: %w", len(pendingOps), pendingOps, waitErr)
	}

	e.loop.Stop()
	e.events.Close()
	e.dirtyCh.Close()
	e.reports.Close()
	return waitErr
}

// mutate runs fn, which changes the store, then invalidates the cache and
// flags dirty views for change. Loop only.
func (e *Executor) mutate(change views.Change, fn func()) {
	from := e.store.Version()
	fn()

	today := e.config.Now()
	if change.Kind == views.ChangeBulkUpdate {
		e.cache.InvalidateAll()
	} else {
		e.cache.Advance(from, func(v views.View) bool { return views.Affects(change, v, today) })
	}

	marked := e.dirty.MarkChange(change, today)
	e.dirtyCh.Publish(DirtyNotice{
		Views:   marked,
		All:     change.Kind == views.ChangeBulkUpdate,
		Version: e.store.Version(),
	})
}

func (e *Executor) publish(action bus.Action, phase bus.Phase, ent types.Entity, prevID string) {
	e.events.Publish(entityEvent(action, phase, ent, prevID, e.config.Now()))
}

// fail records a persistence failure on the tracker, the report bus and the log.
func (e *Executor) fail(op, desc string, err error) Report {
	r := newReport(op, desc, err, e.config.Now())
	e.tracker.SetError(err)
	e.reports.Publish(r)
	e.metrics.rollbacks.WithLabelValues(op, r.Severity.String()).Inc()

	level := slog.LevelError
	if r.Severity == SeverityWarning {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "persistence failed",
		"op", op, "severity", r.Severity.String(), "error", err)
	return r
}

// run executes fn on the loop and returns the error fn produced.
func (e *Executor) run(ctx context.Context, fn func() error) error {
	var result error
	if err := e.loop.Do(ctx, func() { result = fn() }); err != nil {
		return err
	}
	return result
}

// IsBenign reports whether err needs no user action.
func IsBenign(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
