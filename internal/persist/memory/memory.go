// Package memory is an in-process persist.Backend. It backs `tsync --memory`
// and stands in for the database in tests, with hooks for latency and
// failure injection.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// FailFunc decides whether a call fails. ref.ID is empty for batch calls.
type FailFunc func(op persist.Op, ref types.Ref) error

// Call records one backend invocation.
type Call struct {
	Op    persist.Op
	Kind  types.Kind
	Count int // entities in the call
}

// Backend keeps entities in maps guarded by a mutex.
type Backend struct {
	mu      sync.Mutex
	data    map[types.Kind]map[string]types.Entity
	order   map[types.Kind][]string
	seq     int
	closed  bool
	calls   []Call
	fail    FailFunc
	latency time.Duration
	now     func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithLatency delays every call by d, or until the context is done.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) { b.latency = d }
}

// WithNextID makes the first assigned id end in n.
func WithNextID(n int) Option {
	return func(b *Backend) { b.seq = n - 1 }
}

// WithFailure installs a failure hook.
func WithFailure(fn FailFunc) Option {
	return func(b *Backend) { b.fail = fn }
}

// WithClock overrides the clock used for normalized timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithSnapshot preloads entities. Their ids are kept.
func WithSnapshot(es ...types.Entity) Option {
	return func(b *Backend) {
		for _, e := range es {
			b.put(e)
		}
	}
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		data:  make(map[types.Kind]map[string]types.Entity),
		order: make(map[types.Kind][]string),
		now:   time.Now,
	}
	for _, k := range types.Kinds {
		b.data[k] = make(map[string]types.Entity)
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetFailure replaces the failure hook; nil disables injection.
func (b *Backend) SetFailure(fn FailFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = fn
}

// FailOn makes every call of op fail with err until SetFailure(nil).
func (b *Backend) FailOn(op persist.Op, err error) {
	b.SetFailure(func(o persist.Op, _ types.Ref) error {
		if o == op {
			return err
		}
		return nil
	})
}

// Calls returns the recorded invocations in order.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// CallCount returns how many times op was invoked.
func (b *Backend) CallCount(op persist.Op) int {
	n := 0
	for _, c := range b.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Get returns the stored entity.
func (b *Backend) Get(kind types.Kind, id string) (types.Entity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[kind][id]
	return e, ok
}

// Len returns the number of stored entities of kind.
func (b *Backend) Len(kind types.Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data[kind])
}

// Insert implements persist.Backend.
func (b *Backend) Insert(ctx context.Context, e types.Entity) (types.Entity, error) {
	ref := types.RefOf(e)
	if err := b.begin(ctx, persist.OpInsert, ref, 1); err != nil {
		return nil, persist.Wrap(persist.OpInsert, ref.Kind, ref.ID, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.insertLocked(e), nil
}

// Update implements persist.Backend.
func (b *Backend) Update(ctx context.Context, e types.Entity) (types.Entity, error) {
	ref := types.RefOf(e)
	if err := b.begin(ctx, persist.OpUpdate, ref, 1); err != nil {
		return nil, persist.Wrap(persist.OpUpdate, ref.Kind, ref.ID, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[ref.Kind][ref.ID]; !ok {
		return nil, persist.Wrap(persist.OpUpdate, ref.Kind, ref.ID, persist.ErrNotFound)
	}
	return b.updateLocked(e), nil
}

// Delete implements persist.Backend.
func (b *Backend) Delete(ctx context.Context, kind types.Kind, id string) error {
	ref := types.Ref{Kind: kind, ID: id}
	if err := b.begin(ctx, persist.OpDelete, ref, 1); err != nil {
		return persist.Wrap(persist.OpDelete, kind, id, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.deleteLocked(ref) {
		return persist.Wrap(persist.OpDelete, kind, id, persist.ErrNotFound)
	}
	return nil
}

// InsertMany implements persist.Backend.
func (b *Backend) InsertMany(ctx context.Context, es []types.Entity) ([]types.Entity, error) {
	kind := kindOf(es)
	if err := b.begin(ctx, persist.OpInsertMany, types.Ref{Kind: kind}, len(es)); err != nil {
		return nil, persist.Wrap(persist.OpInsertMany, kind, "", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Entity, len(es))
	for i, e := range es {
		out[i] = b.insertLocked(e)
	}
	return out, nil
}

// UpdateMany implements persist.Backend.
func (b *Backend) UpdateMany(ctx context.Context, es []types.Entity) ([]types.Entity, error) {
	kind := kindOf(es)
	if err := b.begin(ctx, persist.OpUpdateMany, types.Ref{Kind: kind}, len(es)); err != nil {
		return nil, persist.Wrap(persist.OpUpdateMany, kind, "", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range es {
		if _, ok := b.data[e.Kind()][e.EntityID()]; !ok {
			return nil, persist.Wrap(persist.OpUpdateMany, e.Kind(), e.EntityID(), persist.ErrNotFound)
		}
	}
	out := make([]types.Entity, len(es))
	for i, e := range es {
		out[i] = b.updateLocked(e)
	}
	return out, nil
}

// DeleteMany implements persist.Backend.
func (b *Backend) DeleteMany(ctx context.Context, refs []types.Ref) error {
	var kind types.Kind
	if len(refs) > 0 {
		kind = refs[0].Kind
	}
	if err := b.begin(ctx, persist.OpDeleteMany, types.Ref{Kind: kind}, len(refs)); err != nil {
		return persist.Wrap(persist.OpDeleteMany, kind, "", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ref := range refs {
		b.deleteLocked(ref)
	}
	return nil
}

// ToggleCompleteMany implements persist.Backend.
func (b *Backend) ToggleCompleteMany(ctx context.Context, ids []string, checked bool, at time.Time) ([]*types.Task, error) {
	if err := b.begin(ctx, persist.OpToggleCompleteMany, types.Ref{Kind: types.KindTask}, len(ids)); err != nil {
		return nil, persist.Wrap(persist.OpToggleCompleteMany, types.KindTask, "", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks := b.data[types.KindTask]
	for _, id := range ids {
		if _, ok := tasks[id]; !ok {
			return nil, persist.Wrap(persist.OpToggleCompleteMany, types.KindTask, id, persist.ErrNotFound)
		}
	}
	out := make([]*types.Task, len(ids))
	for i, id := range ids {
		t := tasks[id].(*types.Task).WithChecked(checked, at)
		tasks[id] = t
		out[i] = t
	}
	return out, nil
}

// Load implements persist.Backend. Entities are returned in insertion order.
func (b *Backend) Load(ctx context.Context) (*persist.Snapshot, error) {
	if err := b.begin(ctx, persist.OpLoad, types.Ref{}, 0); err != nil {
		return nil, persist.Wrap(persist.OpLoad, types.KindTask, "", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := &persist.Snapshot{}
	for _, k := range types.Kinds {
		for _, id := range b.order[k] {
			if e, ok := b.data[k][id]; ok {
				snap.Add(e)
			}
		}
	}
	return snap, nil
}

// Close implements persist.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// begin records the call, waits out the configured latency and consults the
// failure hook.
func (b *Backend) begin(ctx context.Context, op persist.Op, ref types.Ref, n int) error {
	b.mu.Lock()
	b.calls = append(b.calls, Call{Op: op, Kind: ref.Kind, Count: n})
	closed, latency, fail := b.closed, b.latency, b.fail
	b.mu.Unlock()

	if closed {
		return persist.ErrClosed
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if fail != nil {
		return fail(op, ref)
	}
	return nil
}

func (b *Backend) insertLocked(e types.Entity) types.Entity {
	b.seq++
	id := fmt.Sprintf("%s%d", e.Kind().IDPrefix(), b.seq)
	stored := persist.Normalize(e.WithID(id), b.now())
	b.put(stored)
	return stored
}

func (b *Backend) updateLocked(e types.Entity) types.Entity {
	stored := persist.Normalize(e, b.now())
	if t, ok := stored.(*types.Task); ok {
		if prev, ok := b.data[types.KindTask][t.ID].(*types.Task); ok {
			t.AddedAt = prev.AddedAt
		}
	}
	b.data[stored.Kind()][stored.EntityID()] = stored
	return stored
}

func (b *Backend) deleteLocked(ref types.Ref) bool {
	if _, ok := b.data[ref.Kind][ref.ID]; !ok {
		return false
	}
	delete(b.data[ref.Kind], ref.ID)
	b.order[ref.Kind] = slices.DeleteFunc(b.order[ref.Kind], func(id string) bool { return id == ref.ID })
	return true
}

func (b *Backend) put(e types.Entity) {
	k := e.Kind()
	if _, ok := b.data[k][e.EntityID()]; !ok {
		b.order[k] = append(b.order[k], e.EntityID())
	}
	b.data[k][e.EntityID()] = e
}

func kindOf(es []types.Entity) types.Kind {
	if len(es) == 0 {
		return types.KindTask
	}
	return es[0].Kind()
}

var _ persist.Backend = (*Backend)(nil)
