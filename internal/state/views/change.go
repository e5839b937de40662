package views

import (
	"time"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// ChangeKind tags the variants of Change.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeDeleted
	ChangeBulkUpdate
)

// Change describes one mutation without exposing store internals.
// Added and Deleted use Entity; Updated uses Old and New; BulkUpdate uses neither.
type Change struct {
	Kind   ChangeKind
	Entity types.Entity
	Old    types.Entity
	New    types.Entity
}

// Added describes an entity that appeared.
func Added(e types.Entity) Change { return Change{Kind: ChangeAdded, Entity: e} }

// Updated describes an entity replaced by a newer value.
func Updated(old, new types.Entity) Change { return Change{Kind: ChangeUpdated, Old: old, New: new} }

// Deleted describes an entity that disappeared.
func Deleted(e types.Entity) Change { return Change{Kind: ChangeDeleted, Entity: e} }

// BulkUpdate describes a change too broad to classify; it affects every view.
func BulkUpdate() Change { return Change{Kind: ChangeBulkUpdate} }

// Affects reports whether change may alter the contents of view. today fixes
// the calendar day used by the Today and Overdue predicates.
func Affects(c Change, v View, today time.Time) bool {
	switch c.Kind {
	case ChangeAdded, ChangeDeleted:
		return Touches(c.Entity, v, today)
	case ChangeUpdated:
		return Touches(c.Old, v, today) || Touches(c.New, v, today)
	case ChangeBulkUpdate:
		return true
	default:
		return true
	}
}

// Touches reports whether e, considered on its own, belongs to or shapes view.
func Touches(e types.Entity, v View, today time.Time) bool {
	switch e := e.(type) {
	case *types.Task:
		return e != nil && Matches(e, v, today)
	case *types.Project:
		return e != nil && v.Kind == ViewProject && v.ID == e.ID
	case *types.Section:
		if e == nil {
			return false
		}
		return (v.Kind == ViewSection && v.ID == e.ID) || (v.Kind == ViewProject && v.ID == e.ProjectID)
	case *types.Label:
		return e != nil && v.Kind == ViewLabel && v.ID == e.Name
	default:
		return false
	}
}

// Matches is the membership predicate of each view for a task.
func Matches(t *types.Task, v View, today time.Time) bool {
	switch v.Kind {
	case ViewInbox:
		return !t.Checked && t.ProjectID == ""
	case ViewToday:
		return !t.Checked && t.DueOn(today)
	case ViewScheduled:
		return !t.Checked && t.HasDue()
	case ViewCompleted:
		return t.Checked
	case ViewPinned:
		return !t.Checked && t.Pinned
	case ViewOverdue:
		return !t.Checked && t.DueBefore(today)
	case ViewProject:
		return t.ProjectID == v.ID
	case ViewSection:
		return t.SectionID == v.ID
	case ViewLabel:
		return t.HasLabel(v.ID)
	default:
		return false
	}
}

// Candidates lists the views a change could touch: every fixed view plus the
// parameterized views named by the entities involved.
func Candidates(c Change) []View {
	out := Fixed()
	add := func(e types.Entity) {
		out = append(out, related(e)...)
	}
	switch c.Kind {
	case ChangeAdded, ChangeDeleted:
		add(c.Entity)
	case ChangeUpdated:
		add(c.Old)
		add(c.New)
	}
	return out
}

// Classify returns the views affected by c, without duplicates. For BulkUpdate
// it returns the fixed views; callers should treat it as affecting everything.
func Classify(c Change, today time.Time) []View {
	seen := make(map[View]bool)
	var out []View
	for _, v := range Candidates(c) {
		if seen[v] || !Affects(c, v, today) {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func related(e types.Entity) []View {
	switch e := e.(type) {
	case *types.Task:
		if e == nil {
			return nil
		}
		var out []View
		if e.ProjectID != "" {
			out = append(out, Project(e.ProjectID))
		}
		if e.SectionID != "" {
			out = append(out, Section(e.SectionID))
		}
		for _, l := range e.Labels {
			out = append(out, Label(l))
		}
		return out
	case *types.Project:
		if e == nil {
			return nil
		}
		return []View{Project(e.ID)}
	case *types.Section:
		if e == nil {
			return nil
		}
		return []View{Section(e.ID), Project(e.ProjectID)}
	case *types.Label:
		if e == nil {
			return nil
		}
		return []View{Label(e.Name)}
	default:
		return nil
	}
}
