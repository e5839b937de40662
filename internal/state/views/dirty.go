package views

import (
	"cmp"
	"slices"
	"time"
)

// DirtyTracker is a set of views whose rendered output may be outdated.
// It is independent of the query cache: a consumer may watch either signal.
// Like the store, it is owned by the mutation loop and not locked.
type DirtyTracker struct {
	set map[View]struct{}
	all bool
	// clean holds views cleared since the last MarkAll.
	clean map[View]struct{}
}

// NewDirtyTracker creates a tracker with nothing dirty.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{
		set:   make(map[View]struct{}),
		clean: make(map[View]struct{}),
	}
}

// Mark flags views as dirty.
func (d *DirtyTracker) Mark(vs ...View) {
	for _, v := range vs {
		d.set[v] = struct{}{}
		delete(d.clean, v)
	}
}

// MarkAll flags every view, including parameterized views not yet seen.
func (d *DirtyTracker) MarkAll() {
	d.all = true
	clear(d.clean)
}

// MarkChange classifies c and marks what it affects. It returns the views
// marked; for a bulk update it returns nil and marks everything.
func (d *DirtyTracker) MarkChange(c Change, today time.Time) []View {
	if c.Kind == ChangeBulkUpdate {
		d.MarkAll()
		return nil
	}
	affected := Classify(c, today)
	d.Mark(affected...)
	return affected
}

// IsDirty reports whether v is flagged.
func (d *DirtyTracker) IsDirty(v View) bool {
	if _, ok := d.set[v]; ok {
		return true
	}
	if !d.all {
		return false
	}
	_, cleaned := d.clean[v]
	return !cleaned
}

// AllDirty reports whether MarkAll was called since the last ClearAll.
func (d *DirtyTracker) AllDirty() bool {
	return d.all
}

// Clear unflags v. After MarkAll the other views stay dirty.
func (d *DirtyTracker) Clear(v View) {
	delete(d.set, v)
	if d.all {
		d.clean[v] = struct{}{}
	}
}

// ClearAll unflags everything.
func (d *DirtyTracker) ClearAll() {
	d.all = false
	clear(d.set)
	clear(d.clean)
}

// Dirty returns the explicitly flagged views sorted by key.
func (d *DirtyTracker) Dirty() []View {
	out := make([]View, 0, len(d.set))
	for v := range d.set {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b View) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	return out
}
