package querycache

import (
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/state/store"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

func TestGetMissThenHit(t *testing.T) {
	s := store.New()
	c := New(s)

	if _, ok := c.Get(views.Inbox); ok {
		t.Fatal("empty cache returned a hit")
	}

	want := []*types.Task{{ID: "a", Content: "a", Priority: 1}}
	c.Set(views.Inbox, want)

	got, ok := c.Get(views.Inbox)
	if !ok || len(got) != 1 || got[0] != want[0] {
		t.Fatalf("Get after Set = %v, %v", got, ok)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit 1 miss", st)
	}
}

func TestNeverStaleAfterMutation(t *testing.T) {
	s := store.New()
	c := New(s)
	now := time.Now()

	recompute := func(v views.View) []*types.Task {
		if got, ok := c.Get(v); ok {
			return got
		}
		res := views.Compute(v, s.Tasks(), now)
		c.Set(v, res)
		return res
	}

	mutations := []func(){
		func() { s.Add(&types.Task{ID: "a", Content: "a", Priority: 1}) },
		func() { s.Add(&types.Task{ID: "b", Content: "b", Priority: 1, Checked: true}) },
		func() { s.Remove(types.KindTask, "a") },
		func() { s.Update(&types.Task{ID: "missing", Content: "m", Priority: 1}) },
	}

	for i, mutate := range mutations {
		for _, v := range views.Fixed() {
			recompute(v)
		}
		mutate()
		for _, v := range views.Fixed() {
			if got, ok := c.Get(v); ok {
				t.Errorf("mutation %d: Get(%s) returned stale %d tasks", i, v, len(got))
			}
		}
	}

	if c.Stats().Stale == 0 {
		t.Error("expected stale misses to be counted")
	}
}

func TestInvalidate(t *testing.T) {
	s := store.New()
	c := New(s)
	c.Set(views.Inbox, nil)
	c.Set(views.Today, nil)
	c.Set(views.Project("p1"), nil)
	c.Set(views.Project("p2"), nil)

	c.Invalidate(views.Inbox)
	if _, ok := c.Get(views.Inbox); ok {
		t.Error("Invalidate left entry")
	}

	c.InvalidateMatching(func(v views.View) bool { return v.Kind == views.ViewProject })
	if c.Len() != 1 {
		t.Errorf("Len after InvalidateMatching = %d, want 1", c.Len())
	}

	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("Len after InvalidateAll = %d, want 0", c.Len())
	}
	if inv := c.Stats().Invalidations; inv != 4 {
		t.Errorf("Invalidations = %d, want 4", inv)
	}
}

func TestAdvanceKeepsUnaffectedViews(t *testing.T) {
	s := store.New()
	c := New(s)
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.Local)

	c.Set(views.Inbox, nil)
	c.Set(views.Pinned, nil)
	c.Set(views.Project("p1"), nil)

	from := s.Version()
	task := &types.Task{ID: "t", Content: "x", Priority: 1, ProjectID: "p1"}
	s.Add(task)
	change := views.Added(task)
	c.Advance(from, func(v views.View) bool { return views.Affects(change, v, now) })

	if _, ok := c.Get(views.Project("p1")); ok {
		t.Error("affected view survived Advance")
	}
	if _, ok := c.Get(views.Inbox); !ok {
		t.Error("unaffected Inbox was dropped")
	}
	if _, ok := c.Get(views.Pinned); !ok {
		t.Error("unaffected Pinned was dropped")
	}

	// An entry that missed a mutation must not be carried forward.
	s.Add(&types.Task{ID: "u", Content: "y", Priority: 1, Pinned: true})
	later := s.Version()
	s.Remove(types.KindTask, "u")
	c.Advance(later, func(views.View) bool { return false })
	if c.Len() != 0 {
		t.Errorf("Len() = %d, stale entries carried forward", c.Len())
	}
}
