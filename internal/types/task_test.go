package types

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid task",
			task:    Task{ID: "item_1", Content: "Buy milk", Priority: 1},
			wantErr: false,
		},
		{
			name:    "empty content",
			task:    Task{ID: "item_1", Content: "", Priority: 1},
			wantErr: true,
			errMsg:  "invalid content: is required",
		},
		{
			name:    "whitespace content",
			task:    Task{ID: "item_1", Content: "   ", Priority: 1},
			wantErr: true,
			errMsg:  "invalid content: is required",
		},
		{
			name:    "content too long",
			task:    Task{ID: "item_1", Content: strings.Repeat("a", MaxContentLength+1), Priority: 1},
			wantErr: true,
			errMsg:  "must be 500 characters or less",
		},
		{
			name:    "content with control character",
			task:    Task{ID: "item_1", Content: "Buy\x00milk", Priority: 1},
			wantErr: true,
			errMsg:  "control character",
		},
		{
			name:    "newline allowed in description",
			task:    Task{ID: "item_1", Content: "Buy milk", Description: "two\nlines", Priority: 1},
			wantErr: false,
		},
		{
			name:    "priority out of range",
			task:    Task{ID: "item_1", Content: "Buy milk", Priority: 5},
			wantErr: true,
			errMsg:  "must be between 1 and 4",
		},
		{
			name:    "empty label name",
			task:    Task{ID: "item_1", Content: "Buy milk", Priority: 1, Labels: []string{""}},
			wantErr: true,
			errMsg:  "invalid labels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Validate() error type = %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	done := time.Now()
	orig := &Task{
		ID:          "item_1",
		Content:     "Buy milk",
		Labels:      []string{"errand"},
		Due:         &Due{Date: done, String: "today"},
		CompletedAt: &done,
	}

	c := orig.Clone()
	c.Labels[0] = "changed"
	c.Due.String = "tomorrow"
	later := done.Add(time.Hour)
	*c.CompletedAt = later

	if orig.Labels[0] != "errand" {
		t.Errorf("labels shared with clone: %v", orig.Labels)
	}
	if orig.Due.String != "today" {
		t.Errorf("due shared with clone: %q", orig.Due.String)
	}
	if !orig.CompletedAt.Equal(done) {
		t.Errorf("completed_at shared with clone")
	}
}

func TestTask_WithChecked(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	task := &Task{ID: "item_1", Content: "x", Priority: 1}

	checked := task.WithChecked(true, now)
	if !checked.Checked || checked.CompletedAt == nil || !checked.CompletedAt.Equal(now) {
		t.Fatalf("WithChecked(true) = %+v", checked)
	}
	if task.Checked {
		t.Error("WithChecked modified the receiver")
	}

	unchecked := checked.WithChecked(false, now.Add(time.Minute))
	if unchecked.Checked || unchecked.CompletedAt != nil {
		t.Errorf("WithChecked(false) = %+v", unchecked)
	}
}

func TestTask_DueHelpers(t *testing.T) {
	today := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)
	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)
	yesterday := today.AddDate(0, 0, -1)

	task := &Task{Due: &Due{Date: morning}}
	if !task.DueOn(today) {
		t.Error("DueOn(today) = false for a task due this morning")
	}
	if task.DueBefore(today) {
		t.Error("DueBefore(today) = true for a task due today")
	}

	late := &Task{Due: &Due{Date: yesterday}}
	if !late.DueBefore(today) {
		t.Error("DueBefore(today) = false for a task due yesterday")
	}

	none := &Task{}
	if none.HasDue() || none.DueOn(today) || none.DueBefore(today) {
		t.Error("task without due date reports a due date")
	}
}

func TestTempID(t *testing.T) {
	id := NewTempID()
	if !IsTempID(id) {
		t.Errorf("IsTempID(%q) = false", id)
	}
	if IsTempID("item_42") {
		t.Error("IsTempID(item_42) = true")
	}
	if NewTempID() == id {
		t.Error("NewTempID returned a duplicate")
	}
}

func TestContainers_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entity  Entity
		wantErr bool
	}{
		{"valid project", &Project{Name: "Work"}, false},
		{"project without name", &Project{}, true},
		{"valid section", &Section{Name: "Backlog", ProjectID: "project_1"}, false},
		{"section without project", &Section{Name: "Backlog"}, true},
		{"valid label", &Label{Name: "errand"}, false},
		{"label name too long", &Label{Name: strings.Repeat("x", MaxNameLength+1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.entity.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithIDCopies(t *testing.T) {
	p := &Project{ID: "temp_1", Name: "Work"}
	q := p.WithID("project_7").(*Project)
	if p.ID != "temp_1" || q.ID != "project_7" || q.Name != "Work" {
		t.Errorf("WithID: orig=%+v copy=%+v", p, q)
	}
}
