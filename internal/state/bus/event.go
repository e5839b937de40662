package bus

import (
	"time"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// Action is the coarse lifecycle step an Event reports.
type Action int

const (
	// ActionCreated indicates an entity appeared.
	ActionCreated Action = iota
	// ActionUpdated indicates an entity was replaced by a newer value.
	ActionUpdated
	// ActionDeleted indicates an entity disappeared.
	ActionDeleted
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Phase records where in the mutation protocol an Event was published.
type Phase int

const (
	// PhaseOptimistic is published when a change is first applied locally.
	PhaseOptimistic Phase = iota
	// PhaseReconciled is published after the backend confirmed the change.
	PhaseReconciled
	// PhaseRolledBack is the compensating event after the backend refused the change.
	PhaseRolledBack
	// PhaseLoaded is published after the store is hydrated from the backend.
	PhaseLoaded
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseOptimistic:
		return "optimistic"
	case PhaseReconciled:
		return "reconciled"
	case PhaseRolledBack:
		return "rolled_back"
	case PhaseLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification for one entity.
type Event struct {
	Action Action
	Phase  Phase
	Kind   types.Kind
	ID     string
	// PrevID is set when reconciliation replaced a temporary id.
	PrevID string
	// Entity is the value now visible, or the removed value for deletes.
	Entity types.Entity
	At     time.Time
}
