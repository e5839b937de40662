package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/types"
)

func TestNewReportSeverity(t *testing.T) {
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"closed backend", persist.Wrap(persist.OpInsert, types.KindTask, "", persist.ErrClosed), SeverityCritical},
		{"connection gone", fmt.Errorf("exec: %w", sql.ErrConnDone), SeverityCritical},
		{"timeout", context.DeadlineExceeded, SeverityWarning},
		{"busy", fmt.Errorf("%w: database is locked", persist.ErrBusy), SeverityWarning},
		{"not found", persist.Wrap(persist.OpUpdate, types.KindTask, "item_1", persist.ErrNotFound), SeverityWarning},
		{"validation", &types.ValidationError{Field: "content", Reason: "is required"}, SeverityError},
		{"other", errors.New("disk full"), SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReport("add_task", "Adding task", tt.err, at)
			if r.Severity != tt.want {
				t.Errorf("Severity = %v, want %v", r.Severity, tt.want)
			}
			if len(r.Suggestions) == 0 {
				t.Error("expected at least one suggestion")
			}
			if !strings.HasPrefix(r.Message, "Adding task failed") {
				t.Errorf("Message = %q", r.Message)
			}
			if !errors.Is(r.Err, tt.err) {
				t.Errorf("Err = %v, want %v", r.Err, tt.err)
			}
		})
	}
}

func TestDiscardReportIsInfo(t *testing.T) {
	r := discardReport("update_task", "Updating task", errors.New("boom"), time.Now())
	if r.Severity != SeverityInfo {
		t.Errorf("Severity = %v, want info", r.Severity)
	}
	if got := r.String(); !strings.Contains(got, "[info]") {
		t.Errorf("String() = %q", got)
	}
}
