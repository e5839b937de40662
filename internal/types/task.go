package types

import (
	"fmt"
	"slices"
	"time"
)

// Task represents a single to-do item.
type Task struct {
	// ===== Core Identification =====
	ID string `json:"id" toml:"id"`

	// ===== Task Content =====
	Content     string `json:"content" toml:"content"`
	Description string `json:"description,omitempty" toml:"description"`

	// ===== Placement =====
	ProjectID  string `json:"project_id,omitempty" toml:"project_id"` // empty = inbox
	SectionID  string `json:"section_id,omitempty" toml:"section_id"`
	ParentID   string `json:"parent_id,omitempty" toml:"parent_id"`
	ChildOrder int    `json:"child_order" toml:"child_order"`

	// ===== Classification =====
	Labels   []string `json:"labels,omitempty" toml:"labels"` // label names
	Priority int      `json:"priority" toml:"priority"`       // 1 (normal) .. 4 (urgent)

	// ===== State =====
	Checked     bool       `json:"checked" toml:"checked"`
	Pinned      bool       `json:"pinned" toml:"pinned"`
	CompletedAt *time.Time `json:"completed_at,omitempty" toml:"completed_at"`

	// ===== Scheduling =====
	Due *Due `json:"due,omitempty" toml:"due"`

	// ===== Timestamps =====
	AddedAt   time.Time `json:"added_at" toml:"added_at"`
	UpdatedAt time.Time `json:"updated_at" toml:"updated_at"`
}

// Due holds a task's due date. Date is interpreted in local time; only the
// calendar day matters for view membership.
type Due struct {
	Date        time.Time `json:"date" toml:"date"`
	String      string    `json:"string,omitempty" toml:"string"` // what the user typed
	IsRecurring bool      `json:"is_recurring,omitempty" toml:"is_recurring"`
}

// EntityID implements Entity.
func (t *Task) EntityID() string { return t.ID }

// Kind implements Entity.
func (t *Task) Kind() Kind { return KindTask }

// WithID implements Entity.
func (t *Task) WithID(id string) Entity {
	c := t.Clone()
	c.ID = id
	return c
}

// Clone returns a deep copy that may be modified before publishing.
func (t *Task) Clone() *Task {
	c := *t
	c.Labels = slices.Clone(t.Labels)
	if t.Due != nil {
		d := *t.Due
		c.Due = &d
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if err := validateText("content", t.Content, MaxContentLength, true); err != nil {
		return err
	}
	if err := validateText("description", t.Description, MaxDescriptionLength, false); err != nil {
		return err
	}
	if t.Priority < 1 || t.Priority > 4 {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between 1 and 4 (got %d)", t.Priority)}
	}
	for _, l := range t.Labels {
		if err := validateText("labels", l, MaxNameLength, true); err != nil {
			return err
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Priority == 0 {
		t.Priority = 1
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	now := time.Now()
	if t.AddedAt.IsZero() {
		t.AddedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// HasDue reports whether the task carries a due date.
func (t *Task) HasDue() bool {
	return t.Due != nil && !t.Due.Date.IsZero()
}

// DueOn reports whether the task is due on the calendar day of day.
func (t *Task) DueOn(day time.Time) bool {
	if !t.HasDue() {
		return false
	}
	return sameDay(t.Due.Date, day)
}

// DueBefore reports whether the task is due on a calendar day before day.
func (t *Task) DueBefore(day time.Time) bool {
	if !t.HasDue() {
		return false
	}
	return startOfDay(t.Due.Date).Before(startOfDay(day))
}

// HasLabel reports whether name is among the task's labels.
func (t *Task) HasLabel(name string) bool {
	return slices.Contains(t.Labels, name)
}

// WithChecked returns a copy with Checked set and CompletedAt maintained.
func (t *Task) WithChecked(checked bool, at time.Time) *Task {
	c := t.Clone()
	c.Checked = checked
	if checked {
		if c.CompletedAt == nil {
			c.CompletedAt = &at
		}
	} else {
		c.CompletedAt = nil
	}
	c.UpdatedAt = at
	return c
}

func startOfDay(t time.Time) time.Time {
	t = t.Local()
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func sameDay(a, b time.Time) bool {
	return startOfDay(a).Equal(startOfDay(b))
}
