package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/types"
)

var fixed = time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

func newBackend(t *testing.T, opts ...Option) *Backend {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	b := New(opts...)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInsertAssignsCanonicalID(t *testing.T) {
	b := newBackend(t, WithNextID(42))
	ctx := context.Background()

	temp := &types.Task{ID: types.NewTempID(), Content: "Buy milk", Priority: 1}
	got, err := b.Insert(ctx, temp)
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	task := got.(*types.Task)
	if task.ID != "item_42" {
		t.Errorf("ID = %q, want item_42", task.ID)
	}
	if !task.UpdatedAt.Equal(fixed) || !task.AddedAt.Equal(fixed) {
		t.Errorf("timestamps not normalized: added %v updated %v", task.AddedAt, task.UpdatedAt)
	}
	if temp.ID == task.ID {
		t.Error("Insert modified the caller's value")
	}

	p, err := b.Insert(ctx, &types.Project{ID: types.NewTempID(), Name: "Home"})
	if err != nil {
		t.Fatalf("Insert(project) failed: %v", err)
	}
	if p.EntityID() != "project_43" {
		t.Errorf("project ID = %q, want project_43", p.EntityID())
	}
}

func TestUpdateAndDeleteNotFound(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	_, err := b.Update(ctx, &types.Task{ID: "item_9", Content: "x", Priority: 1})
	if !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("Update(absent) = %v, want ErrNotFound", err)
	}
	var pe *persist.Error
	if !errors.As(err, &pe) || pe.Op != persist.OpUpdate {
		t.Errorf("Update(absent) error = %#v, want *persist.Error with OpUpdate", err)
	}

	if err := b.Delete(ctx, types.KindTask, "item_9"); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("Delete(absent) = %v, want ErrNotFound", err)
	}
}

func TestUpdateNormalizesCompletion(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	stored, _ := b.Insert(ctx, &types.Task{Content: "x", Priority: 1})
	next := stored.(*types.Task).Clone()
	next.Checked = true

	got, err := b.Update(ctx, next)
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	task := got.(*types.Task)
	if task.CompletedAt == nil || !task.CompletedAt.Equal(fixed) {
		t.Errorf("CompletedAt = %v, want %v", task.CompletedAt, fixed)
	}
}

func TestToggleCompleteMany(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		e, _ := b.Insert(ctx, &types.Task{Content: "t", Priority: 1})
		ids = append(ids, e.EntityID())
	}

	got, err := b.ToggleCompleteMany(ctx, ids, true, fixed)
	if err != nil {
		t.Fatalf("ToggleCompleteMany() failed: %v", err)
	}
	for _, task := range got {
		if !task.Checked || task.CompletedAt == nil {
			t.Errorf("task %s not completed: %+v", task.ID, task)
		}
	}
	if n := b.CallCount(persist.OpToggleCompleteMany); n != 1 {
		t.Errorf("grouped calls = %d, want 1", n)
	}

	if _, err := b.ToggleCompleteMany(ctx, []string{ids[0], "missing"}, false, fixed); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("ToggleCompleteMany(missing) = %v, want ErrNotFound", err)
	}
	if e, _ := b.Get(types.KindTask, ids[0]); !e.(*types.Task).Checked {
		t.Error("failed batch must not apply partially")
	}
}

func TestFailureInjection(t *testing.T) {
	boom := errors.New("boom")
	b := newBackend(t)
	b.FailOn(persist.OpUpdate, boom)
	ctx := context.Background()

	e, err := b.Insert(ctx, &types.Task{Content: "x", Priority: 1})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := b.Update(ctx, e); !errors.Is(err, boom) {
		t.Errorf("Update() = %v, want injected error", err)
	}

	b.SetFailure(nil)
	if _, err := b.Update(ctx, e); err != nil {
		t.Errorf("Update() after clearing failure = %v", err)
	}
}

func TestLatencyRespectsContext(t *testing.T) {
	b := newBackend(t, WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.Insert(ctx, &types.Task{Content: "x", Priority: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Insert() = %v, want deadline exceeded", err)
	}
	if b.Len(types.KindTask) != 0 {
		t.Error("timed out insert was stored")
	}
}

func TestLoadAndClose(t *testing.T) {
	seed := []types.Entity{
		&types.Project{ID: "project_1", Name: "Home"},
		&types.Task{ID: "item_2", Content: "a", Priority: 1, ProjectID: "project_1"},
		&types.Task{ID: "item_3", Content: "b", Priority: 1},
	}
	b := newBackend(t, WithSnapshot(seed...))
	ctx := context.Background()

	if err := b.Delete(ctx, types.KindTask, "item_2"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	snap, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(snap.Projects) != 1 || len(snap.Tasks) != 1 || snap.Tasks[0].ID != "item_3" {
		t.Errorf("Load() = %+v", snap)
	}

	_ = b.Close()
	if _, err := b.Load(ctx); !errors.Is(err, persist.ErrClosed) {
		t.Errorf("Load() after Close = %v, want ErrClosed", err)
	}
}
