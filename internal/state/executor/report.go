package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/types"
)

var (
	// ErrNotFound means the mutation target is not in the store. It is
	// benign: nothing was applied and nothing was scheduled.
	ErrNotFound = errors.New("target not found")

	// ErrConcurrency is reserved for conflicting writes to the same id.
	// Conflicts are not detected: the last reconcile wins.
	ErrConcurrency = errors.New("concurrent modification")
)

// Severity ranks a Report.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns a human-readable representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Report describes a failed or discarded persistence attempt for display.
type Report struct {
	Severity    Severity
	Op          string // action name, e.g. "add_task" or "batch_complete"
	Message     string
	Err         error
	Suggestions []string
	At          time.Time
}

func (r Report) String() string {
	return fmt.Sprintf("[%s] %s", r.Severity, r.Message)
}

// newReport classifies err and attaches recovery suggestions.
func newReport(op, desc string, err error, at time.Time) Report {
	r := Report{
		Op:      op,
		Message: fmt.Sprintf("%s failed: %v", desc, err),
		Err:     err,
		At:      at,
	}

	var verr *types.ValidationError
	switch {
	case errors.Is(err, persist.ErrClosed), errors.Is(err, sql.ErrConnDone):
		r.Severity = SeverityCritical
		r.Suggestions = []string{
			"Restart tsync; changes made after this point are not being saved",
			"Check that the database file is still readable",
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, persist.ErrBusy):
		r.Severity = SeverityWarning
		r.Suggestions = []string{
			"Another process may hold the database lock; close it and retry",
			"Increase persist.timeout if saves are slow",
		}
	case errors.Is(err, persist.ErrNotFound):
		r.Severity = SeverityWarning
		r.Suggestions = []string{"The item no longer exists in storage; reload to refresh your views"}
	case errors.As(err, &verr):
		r.Severity = SeverityError
		r.Suggestions = []string{"Correct the " + verr.Field + " and try again"}
	default:
		r.Severity = SeverityError
		r.Suggestions = []string{
			"Retry the action",
			"Run 'tsync status' to see pending saves",
		}
	}
	return r
}

// discardReport describes an operation dropped because the create it
// depended on was rolled back.
func discardReport(op, desc string, cause error, at time.Time) Report {
	return Report{
		Severity:    SeverityInfo,
		Op:          op,
		Message:     desc + " discarded: the item it changed was never saved",
		Err:         cause,
		Suggestions: []string{"Re-create the item and repeat the change"},
		At:          at,
	}
}
