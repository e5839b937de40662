package migrate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun bool // Resolve and validate without writing
	Logger *slog.Logger
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Projects int
	Sections int
	Labels   int
	Tasks    int
	Skipped  int
	// IDs maps each imported entity's file id to the id the backend assigned.
	IDs    map[types.Ref]string
	Errors []string
}

// Total returns the number of entities written (or that would be written).
func (r *ImportResult) Total() int {
	return r.Projects + r.Sections + r.Labels + r.Tasks
}

type importer struct {
	backend  persist.Backend
	opts     ImportOptions
	result   *ImportResult
	existing map[types.Ref]bool
	labels   map[string]bool
}

// Import inserts snap into backend. File ids are replaced by backend ids and
// references are rewritten to match. References may also name entities that
// already exist in the backend. Entities that fail validation or reference
// something unknown are skipped and listed in Errors. Each kind is written
// with one InsertMany call, tasks in one call per nesting level.
func Import(ctx context.Context, backend persist.Backend, snap *persist.Snapshot, opts ImportOptions) (*ImportResult, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	current, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing entities: %w", err)
	}

	im := &importer{
		backend:  backend,
		opts:     opts,
		result:   &ImportResult{IDs: make(map[types.Ref]string)},
		existing: make(map[types.Ref]bool),
		labels:   make(map[string]bool),
	}
	for _, e := range current.Entities() {
		im.existing[types.RefOf(e)] = true
	}
	for _, l := range current.Labels {
		im.labels[l.Name] = true
	}

	if err := im.projects(ctx, snap.Projects); err != nil {
		return im.result, err
	}
	if err := im.sections(ctx, snap.Sections); err != nil {
		return im.result, err
	}
	if err := im.labelsOf(ctx, snap.Labels); err != nil {
		return im.result, err
	}
	if err := im.tasks(ctx, snap.Tasks); err != nil {
		return im.result, err
	}

	opts.Logger.Info("import complete",
		"projects", im.result.Projects, "sections", im.result.Sections,
		"labels", im.result.Labels, "tasks", im.result.Tasks,
		"skipped", im.result.Skipped, "dry_run", opts.DryRun)
	return im.result, nil
}

// resolve maps a file reference to a backend id. Empty references stay empty.
func (im *importer) resolve(kind types.Kind, id string) (string, bool) {
	if id == "" {
		return "", true
	}
	if mapped, ok := im.result.IDs[types.Ref{Kind: kind, ID: id}]; ok {
		return mapped, true
	}
	if im.existing[types.Ref{Kind: kind, ID: id}] {
		return id, true
	}
	return "", false
}

func (im *importer) skip(e types.Entity, format string, args ...any) {
	im.result.Skipped++
	msg := fmt.Sprintf("%s %q: %s", e.Kind(), e.EntityID(), fmt.Sprintf(format, args...))
	im.result.Errors = append(im.result.Errors, msg)
	im.opts.Logger.Warn("skipping entity", "kind", e.Kind(), "id", e.EntityID(), "reason", msg)
}

// insert writes es with one call and records the id mapping.
func (im *importer) insert(ctx context.Context, es []types.Entity) error {
	if len(es) == 0 {
		return nil
	}
	stored := es
	if !im.opts.DryRun {
		var err error
		stored, err = im.backend.InsertMany(ctx, es)
		if err != nil {
			return fmt.Errorf("failed to insert %d %ss: %w", len(es), es[0].Kind(), err)
		}
	}
	for i, e := range es {
		if e.EntityID() == "" {
			continue
		}
		im.result.IDs[types.RefOf(e)] = stored[i].EntityID()
	}
	return nil
}

func (im *importer) projects(ctx context.Context, ps []*types.Project) error {
	var batch []types.Entity
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			im.skip(p, "%v", err)
			continue
		}
		batch = append(batch, p)
	}
	im.result.Projects = len(batch)
	return im.insert(ctx, batch)
}

func (im *importer) sections(ctx context.Context, ss []*types.Section) error {
	var batch []types.Entity
	for _, s := range ss {
		projectID, ok := im.resolve(types.KindProject, s.ProjectID)
		if !ok {
			im.skip(s, "unknown project %q", s.ProjectID)
			continue
		}
		c := s.Clone()
		c.ProjectID = projectID
		if err := c.Validate(); err != nil {
			im.skip(s, "%v", err)
			continue
		}
		batch = append(batch, c)
	}
	im.result.Sections = len(batch)
	return im.insert(ctx, batch)
}

func (im *importer) labelsOf(ctx context.Context, ls []*types.Label) error {
	var batch []types.Entity
	for _, l := range ls {
		if err := l.Validate(); err != nil {
			im.skip(l, "%v", err)
			continue
		}
		if im.labels[l.Name] {
			im.skip(l, "label name %q already exists", l.Name)
			continue
		}
		im.labels[l.Name] = true
		batch = append(batch, l)
	}
	im.result.Labels = len(batch)
	return im.insert(ctx, batch)
}

// tasks inserts level by level so that every parent has its backend id
// before its subtasks are written.
func (im *importer) tasks(ctx context.Context, ts []*types.Task) error {
	remaining := make([]*types.Task, 0, len(ts))
	for _, t := range ts {
		c := t.Clone()
		c.SetDefaults()
		if err := c.Validate(); err != nil {
			im.skip(t, "%v", err)
			continue
		}
		remaining = append(remaining, c)
	}

	for len(remaining) > 0 {
		var level []types.Entity
		var next []*types.Task
		for _, t := range remaining {
			parentID, ok := im.resolve(types.KindTask, t.ParentID)
			if !ok {
				next = append(next, t)
				continue
			}
			projectID, ok := im.resolve(types.KindProject, t.ProjectID)
			if !ok {
				im.skip(t, "unknown project %q", t.ProjectID)
				continue
			}
			sectionID, ok := im.resolve(types.KindSection, t.SectionID)
			if !ok {
				im.skip(t, "unknown section %q", t.SectionID)
				continue
			}
			c := t.Clone()
			c.ParentID, c.ProjectID, c.SectionID = parentID, projectID, sectionID
			level = append(level, c)
		}
		if len(level) == 0 {
			for _, t := range next {
				im.skip(t, "unknown parent %q", t.ParentID)
			}
			return nil
		}
		if err := im.insert(ctx, level); err != nil {
			return err
		}
		im.result.Tasks += len(level)
		remaining = next
	}
	return nil
}
