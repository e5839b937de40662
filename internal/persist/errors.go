package persist

import (
	"errors"
	"fmt"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// Op names a backend call.
type Op string

const (
	OpInsert             Op = "insert"
	OpUpdate             Op = "update"
	OpDelete             Op = "delete"
	OpInsertMany         Op = "insert_many"
	OpUpdateMany         Op = "update_many"
	OpDeleteMany         Op = "delete_many"
	OpToggleCompleteMany Op = "toggle_complete_many"
	OpLoad               Op = "load"
)

var (
	// ErrNotFound is returned when the target row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("backend closed")
	// ErrBusy marks a call that lost a lock race and may succeed on retry.
	ErrBusy = errors.New("backend busy")
)

// Error describes a failed backend call.
type Error struct {
	Op   Op
	Kind types.Kind
	ID   string // empty for batch calls
	Err  error
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("persist %s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("persist %s %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *Error. An err that is
// already an *Error is returned unchanged.
func Wrap(op Op, kind types.Kind, id string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Kind: kind, ID: id, Err: err}
}
