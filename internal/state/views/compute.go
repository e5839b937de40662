package views

import (
	"cmp"
	"slices"
	"time"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// Compute filters tasks down to the members of v and orders them the way the
// view is displayed. The returned slice shares task handles with the input.
func Compute(v View, tasks []*types.Task, today time.Time) []*types.Task {
	out := make([]*types.Task, 0)
	for _, t := range tasks {
		if Matches(t, v, today) {
			out = append(out, t)
		}
	}
	slices.SortStableFunc(out, comparator(v.Kind))
	return out
}

func comparator(k ViewKind) func(a, b *types.Task) int {
	switch k {
	case ViewToday, ViewOverdue, ViewScheduled:
		return byDue
	case ViewCompleted:
		return byCompletedDesc
	case ViewPinned:
		return byPriority
	default:
		return byOrder
	}
}

func byOrder(a, b *types.Task) int {
	return cmp.Or(
		cmp.Compare(a.ChildOrder, b.ChildOrder),
		a.AddedAt.Compare(b.AddedAt),
		cmp.Compare(a.ID, b.ID),
	)
}

func byDue(a, b *types.Task) int {
	return cmp.Or(
		a.Due.Date.Compare(b.Due.Date),
		cmp.Compare(b.Priority, a.Priority),
		byOrder(a, b),
	)
}

func byCompletedDesc(a, b *types.Task) int {
	return cmp.Or(
		compareTimePtr(b.CompletedAt, a.CompletedAt),
		byOrder(a, b),
	)
}

func byPriority(a, b *types.Task) int {
	return cmp.Or(
		cmp.Compare(b.Priority, a.Priority),
		byOrder(a, b),
	)
}

// compareTimePtr orders nil before any time.
func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}
