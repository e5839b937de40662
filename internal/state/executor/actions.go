package executor

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/tasksync/internal/state/bus"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// AddTask applies t under a temporary id and returns that id. The real id
// replaces it once the backend confirms.
func (e *Executor) AddTask(ctx context.Context, t *types.Task) (string, error) {
	t = t.Clone()
	t.SetDefaults()
	return e.create(ctx, "add_task", "Adding task", t, func() error {
		return e.checkTaskRefs(t)
	})
}

// UpdateTask applies edit to a copy of the task and persists the result.
func (e *Executor) UpdateTask(ctx context.Context, id string, edit func(*types.Task)) error {
	return e.update(ctx, "update_task", "Updating task", taskRef(id), e.editTask(edit))
}

// DeleteTask removes the task.
func (e *Executor) DeleteTask(ctx context.Context, id string) error {
	return e.remove(ctx, "delete_task", "Deleting task", taskRef(id))
}

// CompleteTask checks or unchecks the task.
func (e *Executor) CompleteTask(ctx context.Context, id string, checked bool) error {
	name, desc := "complete_task", "Completing task"
	if !checked {
		name, desc = "uncomplete_task", "Reopening task"
	}
	return e.update(ctx, name, desc, taskRef(id), e.editTask(func(t *types.Task) {
		t.Checked = checked
	}))
}

// PinTask pins or unpins the task.
func (e *Executor) PinTask(ctx context.Context, id string, pinned bool) error {
	desc := "Pinning task"
	if !pinned {
		desc = "Unpinning task"
	}
	return e.update(ctx, "pin_task", desc, taskRef(id), e.editTask(func(t *types.Task) {
		t.Pinned = pinned
	}))
}

// MoveTask places the task in a project and section. Empty projectID with a
// section takes the section's project; both empty moves it to the inbox.
func (e *Executor) MoveTask(ctx context.Context, id, projectID, sectionID string) error {
	return e.update(ctx, "move_task", "Moving task", taskRef(id), e.editTask(func(t *types.Task) {
		t.ProjectID = projectID
		t.SectionID = sectionID
	}))
}

// AddProject applies p under a temporary id and returns that id.
func (e *Executor) AddProject(ctx context.Context, p *types.Project) (string, error) {
	return e.create(ctx, "add_project", "Adding project", p.Clone(), nil)
}

// UpdateProject applies edit to a copy of the project.
func (e *Executor) UpdateProject(ctx context.Context, id string, edit func(*types.Project)) error {
	ref := types.Ref{Kind: types.KindProject, ID: id}
	return e.update(ctx, "update_project", "Updating project", ref, func(cur types.Entity) (types.Entity, error) {
		next := cur.(*types.Project).Clone()
		edit(next)
		return next, nil
	})
}

// DeleteProject removes an empty project.
func (e *Executor) DeleteProject(ctx context.Context, id string) error {
	ref := types.Ref{Kind: types.KindProject, ID: id}
	return e.removeChecked(ctx, "delete_project", "Deleting project", ref, func() error {
		n := 0
		for _, t := range e.store.Tasks() {
			if t.ProjectID == id {
				n++
			}
		}
		for _, s := range e.store.Sections() {
			if s.ProjectID == id {
				n++
			}
		}
		if n > 0 {
			return &types.ValidationError{Field: "project", Reason: fmt.Sprintf("still contains %d items; move or delete them first", n)}
		}
		return nil
	})
}

// AddSection applies s under a temporary id and returns that id.
func (e *Executor) AddSection(ctx context.Context, s *types.Section) (string, error) {
	s = s.Clone()
	return e.create(ctx, "add_section", "Adding section", s, func() error {
		return e.checkRef("project_id", types.KindProject, s.ProjectID)
	})
}

// UpdateSection applies edit to a copy of the section.
func (e *Executor) UpdateSection(ctx context.Context, id string, edit func(*types.Section)) error {
	ref := types.Ref{Kind: types.KindSection, ID: id}
	return e.update(ctx, "update_section", "Updating section", ref, func(cur types.Entity) (types.Entity, error) {
		next := cur.(*types.Section).Clone()
		edit(next)
		if err := e.checkRef("project_id", types.KindProject, next.ProjectID); err != nil {
			return nil, err
		}
		return next, nil
	})
}

// DeleteSection removes a section that holds no tasks.
func (e *Executor) DeleteSection(ctx context.Context, id string) error {
	ref := types.Ref{Kind: types.KindSection, ID: id}
	return e.removeChecked(ctx, "delete_section", "Deleting section", ref, func() error {
		for _, t := range e.store.Tasks() {
			if t.SectionID == id {
				return &types.ValidationError{Field: "section", Reason: "still contains tasks; move or delete them first"}
			}
		}
		return nil
	})
}

// AddLabel applies l under a temporary id and returns that id.
func (e *Executor) AddLabel(ctx context.Context, l *types.Label) (string, error) {
	l = l.Clone()
	return e.create(ctx, "add_label", "Adding label", l, func() error {
		for _, existing := range e.store.Labels() {
			if existing.Name == l.Name {
				return &types.ValidationError{Field: "name", Reason: fmt.Sprintf("label %q already exists", l.Name)}
			}
		}
		return nil
	})
}

// UpdateLabel applies edit to a copy of the label. Tasks keep the label
// names they already carry.
func (e *Executor) UpdateLabel(ctx context.Context, id string, edit func(*types.Label)) error {
	ref := types.Ref{Kind: types.KindLabel, ID: id}
	return e.update(ctx, "update_label", "Updating label", ref, func(cur types.Entity) (types.Entity, error) {
		next := cur.(*types.Label).Clone()
		edit(next)
		return next, nil
	})
}

// DeleteLabel removes the label.
func (e *Executor) DeleteLabel(ctx context.Context, id string) error {
	return e.remove(ctx, "delete_label", "Deleting label", types.Ref{Kind: types.KindLabel, ID: id})
}

// create validates ent, installs it under a temporary id and schedules the insert.
func (e *Executor) create(ctx context.Context, name, desc string, ent types.Entity, check func() error) (string, error) {
	var tempID string
	err := e.run(ctx, func() error {
		if err := ent.Validate(); err != nil {
			return err
		}
		if check != nil {
			if err := check(); err != nil {
				return err
			}
		}

		placed := ent.WithID(types.NewTempID())
		tempID = placed.EntityID()
		e.mutate(views.Added(placed), func() { e.store.Add(placed) })
		e.publish(bus.ActionCreated, bus.PhaseOptimistic, placed, "")
		e.schedule(&op{
			kind:    opCreate,
			ref:     types.RefOf(placed),
			name:    name,
			desc:    desc,
			placed:  placed,
			payload: placed,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return tempID, nil
}

// update replaces the entity at ref with edit's result and schedules the write.
func (e *Executor) update(ctx context.Context, name, desc string, ref types.Ref, edit func(types.Entity) (types.Entity, error)) error {
	return e.run(ctx, func() error {
		cur, ok := e.store.Get(ref.Kind, ref.ID)
		if !ok {
			return e.notFound(name, ref)
		}
		if err := e.checkSettled(ref); err != nil {
			return err
		}

		next, err := edit(cur)
		if err != nil {
			return err
		}
		if next.EntityID() != ref.ID {
			return &types.ValidationError{Field: "id", Reason: "cannot be changed"}
		}
		if err := next.Validate(); err != nil {
			return err
		}

		e.mutate(views.Updated(cur, next), func() { e.store.Update(next) })
		e.publish(bus.ActionUpdated, bus.PhaseOptimistic, next, "")
		e.schedule(&op{
			kind:    opUpdate,
			ref:     ref,
			name:    name,
			desc:    desc,
			prev:    cur,
			placed:  next,
			payload: next,
		})
		return nil
	})
}

func (e *Executor) remove(ctx context.Context, name, desc string, ref types.Ref) error {
	return e.removeChecked(ctx, name, desc, ref, nil)
}

// removeChecked deletes the entity at ref after check passes.
func (e *Executor) removeChecked(ctx context.Context, name, desc string, ref types.Ref, check func() error) error {
	return e.run(ctx, func() error {
		cur, ok := e.store.Get(ref.Kind, ref.ID)
		if !ok {
			return e.notFound(name, ref)
		}
		if err := e.checkSettled(ref); err != nil {
			return err
		}
		if check != nil {
			if err := check(); err != nil {
				return err
			}
		}

		e.mutate(views.Deleted(cur), func() { e.store.Remove(ref.Kind, ref.ID) })
		e.publish(bus.ActionDeleted, bus.PhaseOptimistic, cur, "")
		e.schedule(&op{
			kind: opDelete,
			ref:  ref,
			name: name,
			desc: desc,
			prev: cur,
		})
		return nil
	})
}

// notFound handles a mutation whose target is absent: the store sees a
// no-op write, nothing is scheduled, and ErrNotFound is returned.
func (e *Executor) notFound(name string, ref types.Ref) error {
	e.store.Remove(ref.Kind, ref.ID)
	e.logger.Debug("mutation target not found", "op", name, "ref", ref.String())
	return fmt.Errorf("%s %s: %w", name, ref, ErrNotFound)
}

// checkSettled rejects writes to a temporary id whose create is not tracked
// by a chain, such as an entity from a batch add still in flight.
func (e *Executor) checkSettled(ref types.Ref) error {
	if types.IsTempID(ref.ID) && len(e.chains[ref]) == 0 {
		return &types.ValidationError{Field: "id", Reason: "is still being saved; try again shortly"}
	}
	return nil
}

// checkRef verifies that a reference field names a stored, saved entity.
func (e *Executor) checkRef(field string, kind types.Kind, id string) error {
	if id == "" {
		return nil
	}
	if types.IsTempID(id) {
		return &types.ValidationError{Field: field, Reason: fmt.Sprintf("refers to a %s that is still being saved", kind)}
	}
	if !e.store.Contains(kind, id) {
		return &types.ValidationError{Field: field, Reason: fmt.Sprintf("refers to unknown %s %q", kind, id)}
	}
	return nil
}

// checkTaskRefs validates a task's placement and fills ProjectID from its
// section when only the section is given.
func (e *Executor) checkTaskRefs(t *types.Task) error {
	if err := e.checkRef("section_id", types.KindSection, t.SectionID); err != nil {
		return err
	}
	if t.SectionID != "" {
		sec, _ := e.store.Get(types.KindSection, t.SectionID)
		owner := sec.(*types.Section).ProjectID
		if t.ProjectID == "" {
			t.ProjectID = owner
		} else if t.ProjectID != owner {
			return &types.ValidationError{Field: "section_id", Reason: "belongs to a different project"}
		}
	}
	if err := e.checkRef("project_id", types.KindProject, t.ProjectID); err != nil {
		return err
	}
	return e.checkRef("parent_id", types.KindTask, t.ParentID)
}

// editTask adapts a task edit to update: it works on a clone, stamps
// UpdatedAt, keeps CompletedAt consistent and validates references.
func (e *Executor) editTask(edit func(*types.Task)) func(types.Entity) (types.Entity, error) {
	return func(cur types.Entity) (types.Entity, error) {
		old := cur.(*types.Task)
		next := old.Clone()
		edit(next)

		now := e.config.Now()
		next.UpdatedAt = now
		if next.Checked != old.Checked {
			next = next.WithChecked(next.Checked, now)
		}
		if next.ProjectID != old.ProjectID || next.SectionID != old.SectionID || next.ParentID != old.ParentID {
			if err := e.checkTaskRefs(next); err != nil {
				return nil, err
			}
		}
		return next, nil
	}
}

func taskRef(id string) types.Ref {
	return types.Ref{Kind: types.KindTask, ID: id}
}
