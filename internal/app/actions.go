package app

import (
	"context"

	"github.com/mschirtzinger/tasksync/internal/types"
)

// AddTask adds t and returns its temporary id.
func (a *App) AddTask(ctx context.Context, t *types.Task) (string, error) {
	return a.exec.AddTask(ctx, t)
}

// UpdateTask applies edit to a copy of the task.
func (a *App) UpdateTask(ctx context.Context, id string, edit func(*types.Task)) error {
	return a.exec.UpdateTask(ctx, id, edit)
}

// DeleteTask removes the task.
func (a *App) DeleteTask(ctx context.Context, id string) error {
	return a.exec.DeleteTask(ctx, id)
}

// CompleteTask checks or unchecks the task.
func (a *App) CompleteTask(ctx context.Context, id string, checked bool) error {
	return a.exec.CompleteTask(ctx, id, checked)
}

// PinTask pins or unpins the task.
func (a *App) PinTask(ctx context.Context, id string, pinned bool) error {
	return a.exec.PinTask(ctx, id, pinned)
}

// MoveTask places the task in a project and section.
func (a *App) MoveTask(ctx context.Context, id, projectID, sectionID string) error {
	return a.exec.MoveTask(ctx, id, projectID, sectionID)
}

// BatchAdd adds tasks with one grouped call and returns their temporary ids.
func (a *App) BatchAdd(ctx context.Context, tasks []*types.Task) ([]string, error) {
	return a.exec.BatchAdd(ctx, tasks)
}

// BatchUpdate applies edit to each listed task with one grouped call.
func (a *App) BatchUpdate(ctx context.Context, ids []string, edit func(*types.Task)) error {
	return a.exec.BatchUpdate(ctx, ids, edit)
}

// BatchDelete removes the listed tasks with one grouped call.
func (a *App) BatchDelete(ctx context.Context, ids []string) error {
	return a.exec.BatchDelete(ctx, ids)
}

// BatchComplete checks or unchecks the listed tasks with one grouped call.
func (a *App) BatchComplete(ctx context.Context, ids []string, checked bool) error {
	return a.exec.BatchComplete(ctx, ids, checked)
}

// AddProject adds p and returns its temporary id.
func (a *App) AddProject(ctx context.Context, p *types.Project) (string, error) {
	return a.exec.AddProject(ctx, p)
}

// UpdateProject applies edit to a copy of the project.
func (a *App) UpdateProject(ctx context.Context, id string, edit func(*types.Project)) error {
	return a.exec.UpdateProject(ctx, id, edit)
}

// DeleteProject removes an empty project.
func (a *App) DeleteProject(ctx context.Context, id string) error {
	return a.exec.DeleteProject(ctx, id)
}

// AddSection adds s and returns its temporary id.
func (a *App) AddSection(ctx context.Context, s *types.Section) (string, error) {
	return a.exec.AddSection(ctx, s)
}

// UpdateSection applies edit to a copy of the section.
func (a *App) UpdateSection(ctx context.Context, id string, edit func(*types.Section)) error {
	return a.exec.UpdateSection(ctx, id, edit)
}

// DeleteSection removes a section that holds no tasks.
func (a *App) DeleteSection(ctx context.Context, id string) error {
	return a.exec.DeleteSection(ctx, id)
}

// AddLabel adds l and returns its temporary id.
func (a *App) AddLabel(ctx context.Context, l *types.Label) (string, error) {
	return a.exec.AddLabel(ctx, l)
}

// UpdateLabel applies edit to a copy of the label.
func (a *App) UpdateLabel(ctx context.Context, id string, edit func(*types.Label)) error {
	return a.exec.UpdateLabel(ctx, id, edit)
}

// DeleteLabel removes the label.
func (a *App) DeleteLabel(ctx context.Context, id string) error {
	return a.exec.DeleteLabel(ctx, id)
}
