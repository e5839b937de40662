// Package types provides the domain records shared by every layer of tasksync.
//
// Records are published as pointers and never edited afterwards. Code that
// needs a changed record calls Clone, modifies the copy and publishes the copy
// in place of the original. Views and caches therefore share handles freely.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// Kind identifies one of the four entity collections.
type Kind int

const (
	// KindTask is a task (Todoist "item").
	KindTask Kind = iota
	// KindProject is a project.
	KindProject
	// KindSection is a section inside a project.
	KindSection
	// KindLabel is a label.
	KindLabel
)

// Kinds lists every entity kind in a stable order.
var Kinds = []Kind{KindTask, KindProject, KindSection, KindLabel}

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindProject:
		return "project"
	case KindSection:
		return "section"
	case KindLabel:
		return "label"
	default:
		return "unknown"
	}
}

// IDPrefix is the prefix the backends use for canonical ids of this kind.
func (k Kind) IDPrefix() string {
	switch k {
	case KindTask:
		return "item_"
	case KindProject:
		return "project_"
	case KindSection:
		return "section_"
	case KindLabel:
		return "label_"
	default:
		return "entity_"
	}
}

// Entity is implemented by *Task, *Project, *Section and *Label.
type Entity interface {
	EntityID() string
	Kind() Kind
	// WithID returns a copy of the entity carrying id.
	WithID(id string) Entity
	// Validate checks user-editable fields.
	Validate() error
}

// TempIDPrefix marks ids assigned locally before the backend has confirmed a create.
const TempIDPrefix = "temp_"

// NewTempID returns a fresh temporary id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Ref identifies an entity without holding it.
type Ref struct {
	Kind Kind
	ID   string
}

// RefOf returns the Ref for e.
func RefOf(e Entity) Ref {
	return Ref{Kind: e.Kind(), ID: e.EntityID()}
}

func (r Ref) String() string {
	return r.Kind.String() + ":" + r.ID
}
