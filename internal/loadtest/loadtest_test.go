package loadtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/tasksync/internal/app"
	"github.com/mschirtzinger/tasksync/internal/persist/memory"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

func openLoaded(t *testing.T, ds *Dataset) *app.App {
	t.Helper()
	a, err := app.Open(context.Background(), &app.Config{
		Backend: memory.New(memory.WithSnapshot(ds.Entities()...), memory.WithLatency(time.Millisecond)),
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("app.Open() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() failed: %v", err)
		}
	})
	return a
}

// TestGenerate verifies that the dataset has the expected properties.
func TestGenerate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	ds := Generate(100, 4, now)

	if len(ds.TaskIDs) != 100 || len(ds.ProjectIDs) != 4 {
		t.Fatalf("Generate() = %d tasks, %d projects", len(ds.TaskIDs), len(ds.ProjectIDs))
	}

	counts := map[views.View]int{}
	for _, task := range ds.Snapshot.Tasks {
		if err := task.Validate(); err != nil {
			t.Fatalf("generated task %s is invalid: %v", task.ID, err)
		}
		for _, v := range views.Fixed() {
			if views.Matches(task, v, now) {
				counts[v]++
			}
		}
	}
	for _, v := range views.Fixed() {
		if counts[v] == 0 {
			t.Errorf("view %s is empty in generated data", v)
		}
	}
}

// TestRun_Small verifies basic concurrent read and write functionality.
func TestRun_Small(t *testing.T) {
	ds := Generate(200, 3, time.Now())
	a := openLoaded(t, ds)

	report, err := Run(context.Background(), a, ds, Options{
		Readers:         8,
		ReadsPerReader:  20,
		Writers:         2,
		WritesPerWriter: 25,
		Seed:            42,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if report.Reads.Operations != 160 {
		t.Errorf("Expected 160 reads, got %d", report.Reads.Operations)
	}
	if report.Writes.Operations != 50 {
		t.Errorf("Expected 50 writes, got %d", report.Writes.Operations)
	}
	if report.Reads.Errors > 0 || report.Writes.Errors > 0 {
		t.Errorf("Got %d read errors and %d write errors", report.Reads.Errors, report.Writes.Errors)
	}
	if report.Cache.Hits+report.Cache.Misses == 0 {
		t.Error("query cache recorded no lookups")
	}
	if report.Reads.P50 > report.Reads.Max || report.Reads.Min > report.Reads.P50 {
		t.Errorf("inconsistent percentiles: %+v", report.Reads)
	}

	var out bytes.Buffer
	report.Write(&out)
	if !strings.Contains(out.String(), "View reads") {
		t.Errorf("report output missing reads section:\n%s", out.String())
	}
	t.Log("\n" + out.String())
}

// TestVerifyAfterMutations checks that views stay consistent with their
// predicates after a burst of concurrent edits.
func TestVerifyAfterMutations(t *testing.T) {
	ds := Generate(120, 2, time.Now())
	a := openLoaded(t, ds)
	ctx := context.Background()

	if _, err := Run(ctx, a, ds, Options{Readers: 4, ReadsPerReader: 10, Writers: 4, WritesPerWriter: 30, Seed: 7}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	vs := append(views.Fixed(), views.Project(ds.ProjectIDs[0]), views.Label("home"))
	if err := Verify(ctx, a, vs, time.Now()); err != nil {
		t.Errorf("Verify() failed: %v", err)
	}
}

func TestRunRequiresTasks(t *testing.T) {
	ds := Generate(0, 1, time.Now())
	a := openLoaded(t, ds)
	if _, err := Run(context.Background(), a, ds, Options{Readers: 1, ReadsPerReader: 1}); err == nil {
		t.Error("Run() on an empty dataset succeeded")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(ds)

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"min", s.Min, time.Millisecond},
		{"max", s.Max, 100 * time.Millisecond},
		{"p50", s.P50, 51 * time.Millisecond},
		{"p99", s.P99, 100 * time.Millisecond},
		{"mean", s.Mean, 50500 * time.Microsecond},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if empty := computeLatencyStats(nil); empty.Operations != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}

func TestRemap(t *testing.T) {
	ds := &Dataset{TaskIDs: []string{"item_1", "item_2"}, ProjectIDs: []string{"project_1"}}
	got := ds.Remap(map[types.Ref]string{
		{Kind: types.KindTask, ID: "item_1"}:       "item_10",
		{Kind: types.KindProject, ID: "project_1"}: "project_7",
	})
	if diff := cmp.Diff([]string{"item_10"}, got.TaskIDs); diff != "" {
		t.Errorf("TaskIDs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"project_7"}, got.ProjectIDs); diff != "" {
		t.Errorf("ProjectIDs mismatch (-want +got):\n%s", diff)
	}
}
