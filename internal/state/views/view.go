// Package views defines the named projections of the task collection, decides
// which of them a change touches, and tracks which ones are dirty.
package views

import (
	"fmt"
	"strings"
)

// ViewKind enumerates the view families.
type ViewKind int

const (
	ViewInbox ViewKind = iota
	ViewToday
	ViewScheduled
	ViewCompleted
	ViewPinned
	ViewOverdue
	ViewProject
	ViewSection
	ViewLabel
)

var kindNames = map[ViewKind]string{
	ViewInbox:     "inbox",
	ViewToday:     "today",
	ViewScheduled: "scheduled",
	ViewCompleted: "completed",
	ViewPinned:    "pinned",
	ViewOverdue:   "overdue",
	ViewProject:   "project",
	ViewSection:   "section",
	ViewLabel:     "label",
}

// String returns the view family name.
func (k ViewKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Parameterized reports whether views of this kind carry an id.
func (k ViewKind) Parameterized() bool {
	return k == ViewProject || k == ViewSection || k == ViewLabel
}

// View names one projection. Project and Section views carry an entity id;
// Label views carry the label name. View is comparable and used as a map key.
type View struct {
	Kind ViewKind
	ID   string
}

// Fixed views.
var (
	Inbox     = View{Kind: ViewInbox}
	Today     = View{Kind: ViewToday}
	Scheduled = View{Kind: ViewScheduled}
	Completed = View{Kind: ViewCompleted}
	Pinned    = View{Kind: ViewPinned}
	Overdue   = View{Kind: ViewOverdue}
)

// Project returns the view of one project.
func Project(id string) View { return View{Kind: ViewProject, ID: id} }

// Section returns the view of one section.
func Section(id string) View { return View{Kind: ViewSection, ID: id} }

// Label returns the view of tasks carrying the named label.
func Label(name string) View { return View{Kind: ViewLabel, ID: name} }

// Fixed returns every non-parameterized view.
func Fixed() []View {
	return []View{Inbox, Today, Scheduled, Completed, Pinned, Overdue}
}

// Key is the cache and wire name of the view, e.g. "today" or "project:project_3".
func (v View) Key() string {
	if v.Kind.Parameterized() {
		return v.Kind.String() + ":" + v.ID
	}
	return v.Kind.String()
}

func (v View) String() string { return v.Key() }

// Parse converts a Key back into a View.
func Parse(key string) (View, error) {
	name, id, hasID := strings.Cut(key, ":")
	for k, s := range kindNames {
		if s != name {
			continue
		}
		if k.Parameterized() != hasID || (hasID && id == "") {
			return View{}, fmt.Errorf("view %q: %s views %s an id", key, name, requiresID(k))
		}
		return View{Kind: k, ID: id}, nil
	}
	return View{}, fmt.Errorf("unknown view %q", key)
}

func requiresID(k ViewKind) string {
	if k.Parameterized() {
		return "require"
	}
	return "do not take"
}
