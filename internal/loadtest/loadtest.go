// Package loadtest measures view read latency while mutations stream through
// the state core.
//
// Readers and writers run concurrently against one App. Reads go through the
// mutation loop and the query cache, so their latency shows how much a
// steady stream of optimistic edits slows down rendering.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/state/querycache"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

// Target is the state core under load. *app.App implements it.
type Target interface {
	View(ctx context.Context, v views.View) ([]*types.Task, error)
	UpdateTask(ctx context.Context, id string, edit func(*types.Task)) error
	CompleteTask(ctx context.Context, id string, checked bool) error
	PinTask(ctx context.Context, id string, pinned bool) error
	WaitIdle(ctx context.Context) error
	CacheStats(ctx context.Context) (querycache.Stats, error)
}

// Dataset is a generated snapshot plus the ids it contains.
type Dataset struct {
	Snapshot   *persist.Snapshot
	TaskIDs    []string
	ProjectIDs []string
}

// Options controls a run.
type Options struct {
	Readers         int
	ReadsPerReader  int
	Writers         int
	WritesPerWriter int
	// Views are read round-robin; nil reads every fixed view plus each project.
	Views []views.View
	Seed  uint64
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
}

// Report is the outcome of a run.
type Report struct {
	Reads    *LatencyStats
	Writes   *LatencyStats
	Cache    querycache.Stats
	Duration time.Duration
}

// Generate builds a dataset of numTasks tasks spread over numProjects
// projects (plus the inbox).
//
// Tasks get realistic variety:
//   - Priorities weighted toward normal
//   - About a fifth due today or overdue, a fifth scheduled later
//   - A few pinned, a few completed
//   - Two rotating labels
func Generate(numTasks, numProjects int, now time.Time) *Dataset {
	ds := &Dataset{Snapshot: &persist.Snapshot{}}
	for i := 0; i < numProjects; i++ {
		p := &types.Project{ID: fmt.Sprintf("project_%d", i+1), Name: fmt.Sprintf("Project %d", i+1), ChildOrder: i}
		ds.Snapshot.Projects = append(ds.Snapshot.Projects, p)
		ds.ProjectIDs = append(ds.ProjectIDs, p.ID)
	}
	labels := []string{"home", "work"}
	for i, name := range labels {
		ds.Snapshot.Labels = append(ds.Snapshot.Labels, &types.Label{ID: fmt.Sprintf("label_%d", i+1), Name: name, ItemOrder: i})
	}

	priorities := []int{1, 1, 1, 1, 1, 2, 2, 3, 3, 4}
	base := now.Add(-30 * 24 * time.Hour)
	for i := 0; i < numTasks; i++ {
		added := base.Add(time.Duration(i) * time.Minute)
		t := &types.Task{
			ID:         fmt.Sprintf("item_%d", i+1),
			Content:    fmt.Sprintf("Task %d", i+1),
			Priority:   priorities[i%len(priorities)],
			ChildOrder: i,
			Labels:     []string{labels[i%len(labels)]},
			AddedAt:    added,
			UpdatedAt:  added,
		}
		if numProjects > 0 && i%4 != 0 {
			t.ProjectID = ds.ProjectIDs[i%numProjects]
		}
		switch i % 10 {
		case 0:
			t.Due = &types.Due{Date: now, String: "today"}
		case 1:
			t.Due = &types.Due{Date: now.AddDate(0, 0, -2), String: "2 days ago"}
		case 2, 3:
			t.Due = &types.Due{Date: now.AddDate(0, 0, 3+i%7), String: "later"}
		}
		if i%25 == 0 {
			t.Pinned = true
		}
		if i%15 == 0 {
			t.Checked = true
			at := added.Add(time.Hour)
			t.CompletedAt = &at
		}
		ds.Snapshot.Tasks = append(ds.Snapshot.Tasks, t)
		ds.TaskIDs = append(ds.TaskIDs, t.ID)
	}
	return ds
}

// Entities flattens the dataset for memory.WithSnapshot.
func (ds *Dataset) Entities() []types.Entity { return ds.Snapshot.Entities() }

// Remap returns the dataset's ids translated through ids, as returned by an
// import that assigned new ones. Ids missing from the map are dropped.
func (ds *Dataset) Remap(ids map[types.Ref]string) *Dataset {
	out := &Dataset{Snapshot: ds.Snapshot}
	for _, id := range ds.TaskIDs {
		if nid, ok := ids[types.Ref{Kind: types.KindTask, ID: id}]; ok {
			out.TaskIDs = append(out.TaskIDs, nid)
		}
	}
	for _, id := range ds.ProjectIDs {
		if nid, ok := ids[types.Ref{Kind: types.KindProject, ID: id}]; ok {
			out.ProjectIDs = append(out.ProjectIDs, nid)
		}
	}
	return out
}

// Run reads and mutates target concurrently, then waits for persistence to
// settle. ds supplies the task ids writers edit.
func Run(ctx context.Context, target Target, ds *Dataset, opts Options) (*Report, error) {
	if len(ds.TaskIDs) == 0 {
		return nil, fmt.Errorf("dataset has no tasks")
	}
	vs := opts.Views
	if len(vs) == 0 {
		vs = views.Fixed()
		for _, id := range ds.ProjectIDs {
			vs = append(vs, views.Project(id))
		}
	}

	var (
		mu        sync.Mutex
		reads     []time.Duration
		writes    []time.Duration
		readErrs  int
		writeErrs int
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)

	for r := 0; r < opts.Readers; r++ {
		g.Go(func() error {
			local := make([]time.Duration, 0, opts.ReadsPerReader)
			errs := 0
			for j := 0; j < opts.ReadsPerReader; j++ {
				v := vs[(r+j)%len(vs)]
				t0 := time.Now()
				_, err := target.View(gctx, v)
				local = append(local, time.Since(t0))
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					errs++
				}
			}
			mu.Lock()
			reads = append(reads, local...)
			readErrs += errs
			mu.Unlock()
			return nil
		})
	}

	for w := 0; w < opts.Writers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(w)))
			local := make([]time.Duration, 0, opts.WritesPerWriter)
			errs := 0
			for j := 0; j < opts.WritesPerWriter; j++ {
				id := ds.TaskIDs[rng.IntN(len(ds.TaskIDs))]
				t0 := time.Now()
				err := mutate(gctx, target, id, rng)
				local = append(local, time.Since(t0))
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					errs++
				}
			}
			mu.Lock()
			writes = append(writes, local...)
			writeErrs += errs
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load run aborted: %w", err)
	}
	if err := target.WaitIdle(ctx); err != nil {
		return nil, fmt.Errorf("failed waiting for saves: %w", err)
	}

	cache, err := target.CacheStats(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{
		Reads:    computeLatencyStats(reads),
		Writes:   computeLatencyStats(writes),
		Cache:    cache,
		Duration: time.Since(start),
	}
	report.Reads.Errors = readErrs
	report.Writes.Errors = writeErrs
	return report, nil
}

// mutate applies one random edit of the kinds a user makes most often.
func mutate(ctx context.Context, target Target, id string, rng *rand.Rand) error {
	switch rng.IntN(4) {
	case 0:
		return target.CompleteTask(ctx, id, rng.IntN(2) == 0)
	case 1:
		return target.PinTask(ctx, id, rng.IntN(2) == 0)
	case 2:
		p := 1 + rng.IntN(4)
		return target.UpdateTask(ctx, id, func(t *types.Task) { t.Priority = p })
	default:
		n := rng.IntN(1000)
		return target.UpdateTask(ctx, id, func(t *types.Task) { t.Content = fmt.Sprintf("Edited %d", n) })
	}
}

// Verify checks that every task returned for each view belongs to it.
func Verify(ctx context.Context, target Target, vs []views.View, today time.Time) error {
	for _, v := range vs {
		tasks, err := target.View(ctx, v)
		if err != nil {
			return fmt.Errorf("read %s: %w", v, err)
		}
		for _, t := range tasks {
			if t.ID == "" {
				return fmt.Errorf("view %s holds a task with empty ID", v)
			}
			if !views.Matches(t, v, today) {
				return fmt.Errorf("view %s holds non-matching task %s", v, t.ID)
			}
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
	}
}

// WriteStats formats latency statistics.
func (s *LatencyStats) WriteStats(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// Write formats the whole report.
func (r *Report) Write(w io.Writer) {
	r.Reads.WriteStats(w, "View reads")
	r.Writes.WriteStats(w, "Mutations")
	fmt.Fprintf(w, "Query cache:\n  Hits: %d  Misses: %d  Stale: %d  Entries: %d\n",
		r.Cache.Hits, r.Cache.Misses, r.Cache.Stale, r.Cache.Entries)
	fmt.Fprintf(w, "Duration: %v\n", r.Duration)
}
