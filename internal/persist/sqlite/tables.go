package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// table maps one entity kind to its SQL table. columns excludes seq and id,
// values returns arguments in column order, and scan reads "id, columns...".
type table struct {
	name    string
	columns []string
	values  func(types.Entity) ([]any, error)
	scan    func(scanner) (types.Entity, error)
}

func tableFor(kind types.Kind) (*table, error) {
	switch kind {
	case types.KindTask:
		return taskTable, nil
	case types.KindProject:
		return projectTable, nil
	case types.KindSection:
		return sectionTable, nil
	case types.KindLabel:
		return labelTable, nil
	default:
		return nil, fmt.Errorf("no table for kind %s", kind)
	}
}

var taskTable = &table{
	name: "tasks",
	columns: []string{
		"content", "description", "project_id", "section_id", "parent_id",
		"child_order", "labels", "priority", "checked", "pinned",
		"completed_at", "due_date", "due_string", "due_recurring",
		"added_at", "updated_at",
	},
	values: func(e types.Entity) ([]any, error) {
		t := e.(*types.Task)
		labelsJSON, err := json.Marshal(t.Labels)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal labels: %w", err)
		}
		if t.Labels == nil {
			labelsJSON = []byte("[]")
		}

		var dueDate sql.NullString
		var dueString string
		var recurring bool
		if t.Due != nil {
			dueDate = timeToNullString(&t.Due.Date)
			dueString = t.Due.String
			recurring = t.Due.IsRecurring
		}

		return []any{
			t.Content,
			t.Description,
			t.ProjectID,
			t.SectionID,
			t.ParentID,
			t.ChildOrder,
			string(labelsJSON),
			t.Priority,
			t.Checked,
			t.Pinned,
			timeToNullString(t.CompletedAt),
			dueDate,
			dueString,
			recurring,
			formatTime(t.AddedAt),
			formatTime(t.UpdatedAt),
		}, nil
	},
	scan: func(row scanner) (types.Entity, error) {
		var t types.Task
		var labelsJSON string
		var completedAt, dueDate sql.NullString
		var dueString string
		var recurring bool
		var addedAt, updatedAt string

		err := row.Scan(
			&t.ID,
			&t.Content,
			&t.Description,
			&t.ProjectID,
			&t.SectionID,
			&t.ParentID,
			&t.ChildOrder,
			&labelsJSON,
			&t.Priority,
			&t.Checked,
			&t.Pinned,
			&completedAt,
			&dueDate,
			&dueString,
			&recurring,
			&addedAt,
			&updatedAt,
		)
		if err != nil {
			return nil, err
		}

		if labelsJSON != "" && labelsJSON != "null" {
			if err := json.Unmarshal([]byte(labelsJSON), &t.Labels); err != nil {
				return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
			}
		}
		if t.Labels == nil {
			t.Labels = []string{}
		}

		t.CompletedAt = nullStringToTime(completedAt)
		if d := nullStringToTime(dueDate); d != nil {
			t.Due = &types.Due{Date: *d, String: dueString, IsRecurring: recurring}
		}
		t.AddedAt = parseTime(addedAt)
		t.UpdatedAt = parseTime(updatedAt)
		return &t, nil
	},
}

var projectTable = &table{
	name:    "projects",
	columns: []string{"name", "color", "is_favorite", "child_order"},
	values: func(e types.Entity) ([]any, error) {
		p := e.(*types.Project)
		return []any{p.Name, p.Color, p.IsFavorite, p.ChildOrder}, nil
	},
	scan: func(row scanner) (types.Entity, error) {
		var p types.Project
		if err := row.Scan(&p.ID, &p.Name, &p.Color, &p.IsFavorite, &p.ChildOrder); err != nil {
			return nil, err
		}
		return &p, nil
	},
}

var sectionTable = &table{
	name:    "sections",
	columns: []string{"project_id", "name", "section_order"},
	values: func(e types.Entity) ([]any, error) {
		s := e.(*types.Section)
		return []any{s.ProjectID, s.Name, s.SectionOrder}, nil
	},
	scan: func(row scanner) (types.Entity, error) {
		var s types.Section
		if err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &s.SectionOrder); err != nil {
			return nil, err
		}
		return &s, nil
	},
}

var labelTable = &table{
	name:    "labels",
	columns: []string{"name", "color", "item_order"},
	values: func(e types.Entity) ([]any, error) {
		l := e.(*types.Label)
		return []any{l.Name, l.Color, l.ItemOrder}, nil
	},
	scan: func(row scanner) (types.Entity, error) {
		var l types.Label
		if err := row.Scan(&l.ID, &l.Name, &l.Color, &l.ItemOrder); err != nil {
			return nil, err
		}
		return &l, nil
	},
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
