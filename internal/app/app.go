// Package app is the surface a rendering layer talks to.
//
// It owns a persistence backend and a mutation executor, hydrates the store at
// startup and exposes view reads, subscriptions, actions and the shutdown
// gate. Every method is safe to call from any goroutine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/state/bus"
	"github.com/mschirtzinger/tasksync/internal/state/executor"
	"github.com/mschirtzinger/tasksync/internal/state/pending"
	"github.com/mschirtzinger/tasksync/internal/state/querycache"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Config holds configuration for an App.
type Config struct {
	// Backend stores entities durably. Required; the App closes it on Shutdown.
	Backend persist.Backend

	// Timeout bounds each backend call
	Timeout time.Duration

	// Now is the clock for timestamps and date-relative views
	Now func() time.Time

	// EventBuffer is the per-subscriber buffer of each bus
	EventBuffer int

	// LoopBuffer is the queue length of the mutation loop
	LoopBuffer int

	// Registerer receives metrics; nil disables registration
	Registerer prometheus.Registerer

	// Logger for app activity
	Logger *slog.Logger
}

// App is a running state core.
type App struct {
	exec    *executor.Executor
	backend persist.Backend
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// Open starts the mutation loop and loads the backend's snapshot into the
// store. The returned App must be shut down.
func Open(ctx context.Context, config *Config) (*App, error) {
	if config == nil || config.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	exec, err := executor.New(&executor.Config{
		Backend:     config.Backend,
		Timeout:     config.Timeout,
		Now:         config.Now,
		Registerer:  config.Registerer,
		EventBuffer: config.EventBuffer,
		LoopBuffer:  config.LoopBuffer,
		Logger:      logger.With("component", "executor"),
	})
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	exec.Start(loopCtx)

	if err := exec.Load(ctx); err != nil {
		cancel()
		_ = exec.Shutdown(context.Background())
		return nil, err
	}

	return &App{
		exec:    exec,
		backend: config.Backend,
		logger:  logger.With("component", "app"),
		cancel:  cancel,
	}, nil
}

// View returns the tasks of v. Results are shared read-only handles.
func (a *App) View(ctx context.Context, v views.View) ([]*types.Task, error) {
	var tasks []*types.Task
	err := a.exec.Loop().Do(ctx, func() { tasks = a.exec.View(v) })
	return tasks, err
}

// IsDirty reports whether v changed since it was last read.
func (a *App) IsDirty(ctx context.Context, v views.View) (bool, error) {
	var dirty bool
	err := a.exec.Loop().Do(ctx, func() { dirty = a.exec.IsDirty(v) })
	return dirty, err
}

// Get returns one entity from the store.
func (a *App) Get(ctx context.Context, kind types.Kind, id string) (types.Entity, bool, error) {
	var e types.Entity
	var ok bool
	err := a.exec.Loop().Do(ctx, func() { e, ok = a.exec.Store().Get(kind, id) })
	return e, ok, err
}

// Snapshot copies the current store contents.
func (a *App) Snapshot(ctx context.Context) (*persist.Snapshot, error) {
	snap := &persist.Snapshot{}
	err := a.exec.Loop().Do(ctx, func() {
		s := a.exec.Store()
		snap.Tasks = s.Tasks()
		snap.Projects = s.Projects()
		snap.Sections = s.Sections()
		snap.Labels = s.Labels()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Version returns the store version.
func (a *App) Version(ctx context.Context) (uint64, error) {
	var v uint64
	err := a.exec.Loop().Do(ctx, func() { v = a.exec.Store().Version() })
	return v, err
}

// CacheStats returns query cache counters.
func (a *App) CacheStats(ctx context.Context) (querycache.Stats, error) {
	var st querycache.Stats
	err := a.exec.Loop().Do(ctx, func() { st = a.exec.CacheStats() })
	return st, err
}

// SubscribeDirty delivers a notice whenever views change. Call Unsubscribe when done.
func (a *App) SubscribeDirty() *bus.Subscription[executor.DirtyNotice] {
	return a.exec.DirtyViews().Subscribe()
}

// SubscribeEvents delivers entity lifecycle events.
func (a *App) SubscribeEvents() *bus.Subscription[bus.Event] {
	return a.exec.Events().Subscribe()
}

// SubscribeErrors delivers failure reports.
func (a *App) SubscribeErrors() *bus.Subscription[executor.Report] {
	return a.exec.Reports().Subscribe()
}

// SaveStatus summarizes persistence progress.
func (a *App) SaveStatus() pending.SaveStatus { return a.exec.Tracker().SaveStatus() }

// PendingCount returns the number of unfinished persistence operations.
func (a *App) PendingCount() int { return a.exec.Tracker().PendingCount() }

// PendingDescriptions lists unfinished operations, one entry per operation.
func (a *App) PendingDescriptions() []string { return a.exec.Tracker().Descriptions() }

// LastError returns the failure behind an Error save status.
func (a *App) LastError() error { return a.exec.Tracker().Err() }

// DismissError resets the save status after the user acknowledged a failure.
func (a *App) DismissError() { a.exec.Tracker().ClearError() }

// WaitIdle blocks until no persistence operation is pending.
func (a *App) WaitIdle(ctx context.Context) error { return a.exec.Tracker().WaitIdle(ctx) }

// Shutdown lets pending saves finish, stops the loop and closes the backend.
// Unfinished operations are named in the error when ctx expires first.
func (a *App) Shutdown(ctx context.Context) error {
	start := time.Now()
	shutdownErr := a.exec.Shutdown(ctx)
	a.cancel()

	closeErr := a.backend.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("failed to close backend: %w", closeErr)
	}
	a.logger.Info("shutdown complete", "duration", time.Since(start), "clean", shutdownErr == nil)
	return errors.Join(shutdownErr, closeErr)
}
