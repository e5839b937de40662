package migrate

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/persist/memory"
	"github.com/mschirtzinger/tasksync/internal/types"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSnapshot() *persist.Snapshot {
	added := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &persist.Snapshot{
		Projects: []*types.Project{{ID: "project_1", Name: "Work"}},
		Sections: []*types.Section{{ID: "section_1", ProjectID: "project_1", Name: "Doing"}},
		Labels:   []*types.Label{{ID: "label_1", Name: "errand"}},
		Tasks: []*types.Task{
			{ID: "item_1", Content: "Write report", Priority: 2, ProjectID: "project_1", SectionID: "section_1", Labels: []string{}, AddedAt: added, UpdatedAt: added},
			{ID: "item_2", Content: "Outline", Priority: 1, ParentID: "item_1", ProjectID: "project_1", Labels: []string{"errand"}, AddedAt: added, UpdatedAt: added},
		},
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	snap := sampleSnapshot()

	var buf bytes.Buffer
	n, err := WriteJSONL(&buf, snap)
	if err != nil {
		t.Fatalf("WriteJSONL() failed: %v", err)
	}
	if n != snap.Len() {
		t.Errorf("WriteJSONL() wrote %d records, want %d", n, snap.Len())
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if !strings.Contains(lines[0], `"kind":"project"`) || !strings.Contains(lines[len(lines)-1], `"kind":"task"`) {
		t.Errorf("containers must precede tasks:\n%s", buf.String())
	}

	got, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatalf("ReadJSONL() failed: %v", err)
	}
	// Empty label lists are omitted on the wire.
	if diff := cmp.Diff(snap, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadJSONLErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		errMsg string
	}{
		{"bad json", "{\"kind\":\"task\"\n", "line 1"},
		{"unknown kind", `{"kind":"comment"}`, "unknown record kind"},
		{"missing body", "\n" + `{"kind":"task"}`, "line 2: task record has no task field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadJSONL(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("ReadJSONL() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want substring %q", err, tt.errMsg)
			}
		})
	}
}

func TestExportJSONLIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tasks.jsonl")
	if _, err := ExportJSONL(path, sampleSnapshot()); err != nil {
		t.Fatalf("ExportJSONL() failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if got.Len() != sampleSnapshot().Len() {
		t.Errorf("read %d entities, want %d", got.Len(), sampleSnapshot().Len())
	}
}

const fixture = `
[[project]]
id = "work"
name = "Work"

[[section]]
id = "doing"
project_id = "work"
name = "Doing"

[[task]]
id = "report"
content = "Write report"
project_id = "work"
section_id = "doing"
priority = 3

[[task]]
content = "Outline"
parent_id = "report"

[task.due]
date = 2026-03-04T00:00:00Z
string = "Mar 4"
`

func TestReadTOML(t *testing.T) {
	snap, err := ReadTOML(strings.NewReader(fixture))
	if err != nil {
		t.Fatalf("ReadTOML() failed: %v", err)
	}
	if len(snap.Projects) != 1 || len(snap.Sections) != 1 || len(snap.Tasks) != 2 {
		t.Fatalf("ReadTOML() = %d projects, %d sections, %d tasks", len(snap.Projects), len(snap.Sections), len(snap.Tasks))
	}
	due := snap.Tasks[1].Due
	if due == nil || due.String != "Mar 4" || due.Date.Day() != 4 {
		t.Errorf("second task due = %+v", due)
	}
}

func TestReadTOMLRejectsUnknownKeys(t *testing.T) {
	_, err := ReadTOML(strings.NewReader("[[task]]\ncontent = \"x\"\ntitle = \"typo\"\n"))
	if err == nil || !strings.Contains(err.Error(), "task.title") {
		t.Fatalf("ReadTOML() error = %v, want unknown key task.title", err)
	}
}

func TestReadTasksJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"object", `{"content":"one"}`, []string{"one"}, false},
		{"array", `[{"content":"one"},{"content":"two"}]`, []string{"one", "two"}, false},
		{"empty", "  ", nil, true},
		{"null entry", `[null]`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ReadTasksJSON(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadTasksJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var got []string
			for _, task := range snap.Tasks {
				got = append(got, task.Content)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("contents mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestImportRemapsReferences(t *testing.T) {
	ctx := context.Background()
	snap, err := ReadTOML(strings.NewReader(fixture))
	if err != nil {
		t.Fatal(err)
	}
	backend := memory.New()

	res, err := Import(ctx, backend, snap, ImportOptions{Logger: quiet()})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Total() != 4 || res.Skipped != 0 {
		t.Fatalf("Import() = %+v", res)
	}

	projectID := res.IDs[types.Ref{Kind: types.KindProject, ID: "work"}]
	sectionID := res.IDs[types.Ref{Kind: types.KindSection, ID: "doing"}]
	reportID := res.IDs[types.Ref{Kind: types.KindTask, ID: "report"}]
	if projectID == "" || sectionID == "" || reportID == "" {
		t.Fatalf("missing id mapping: %v", res.IDs)
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var report, outline *types.Task
	for _, task := range loaded.Tasks {
		switch task.Content {
		case "Write report":
			report = task
		case "Outline":
			outline = task
		}
	}
	if report == nil || outline == nil {
		t.Fatalf("loaded tasks = %v", loaded.Tasks)
	}
	if report.ProjectID != projectID || report.SectionID != sectionID {
		t.Errorf("report placed in %s/%s, want %s/%s", report.ProjectID, report.SectionID, projectID, sectionID)
	}
	if outline.ParentID != report.ID {
		t.Errorf("outline parent = %q, want %q", outline.ParentID, report.ID)
	}
	if outline.Priority != 1 {
		t.Errorf("outline priority = %d, want default 1", outline.Priority)
	}
	// Projects, sections and the two task levels are one call each.
	if got := backend.CallCount(persist.OpInsertMany); got != 4 {
		t.Errorf("InsertMany calls = %d, want 4", got)
	}
}

func TestImportSkipsInvalidEntities(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(memory.WithSnapshot(&types.Label{ID: "label_9", Name: "errand"}))
	snap := &persist.Snapshot{
		Labels: []*types.Label{{ID: "l1", Name: "errand"}},
		Sections: []*types.Section{
			{ID: "s1", ProjectID: "nowhere", Name: "Orphan"},
		},
		Tasks: []*types.Task{
			{ID: "t1", Content: ""},
			{ID: "t2", Content: "child", ParentID: "ghost"},
			{ID: "t3", Content: "ok"},
		},
	}

	res, err := Import(ctx, backend, snap, ImportOptions{Logger: quiet()})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Tasks != 1 || res.Labels != 0 || res.Sections != 0 {
		t.Errorf("Import() = %+v", res)
	}
	if res.Skipped != 4 || len(res.Errors) != 4 {
		t.Errorf("Skipped = %d, Errors = %v", res.Skipped, res.Errors)
	}
	if got := backend.Len(types.KindTask); got != 1 {
		t.Errorf("backend holds %d tasks, want 1", got)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	backend := memory.New()
	res, err := Import(context.Background(), backend, sampleSnapshot(), ImportOptions{DryRun: true, Logger: quiet()})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Total() != sampleSnapshot().Len() {
		t.Errorf("dry run counted %d, want %d", res.Total(), sampleSnapshot().Len())
	}
	if backend.CallCount(persist.OpInsertMany) != 0 {
		t.Error("dry run wrote to the backend")
	}
}

func TestSupported(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"a.json", true},
		{"a.JSONL", true},
		{"seed.toml", true},
		{"notes.txt", false},
		{"a.json.tmp", false},
	}
	for _, tt := range tests {
		if got := Supported(tt.path); got != tt.want {
			t.Errorf("Supported(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
