package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/app"
	"github.com/mschirtzinger/tasksync/internal/loadtest"
	"github.com/mschirtzinger/tasksync/internal/migrate"
	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/persist/memory"
	"github.com/mschirtzinger/tasksync/internal/persist/sqlite"
	"github.com/mschirtzinger/tasksync/internal/state/views"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Measure view latency while mutations stream through the state core",
	Long: `Generate a dataset in memory, then run concurrent view readers and
mutation writers against it. With the memory backend, latency is simulated
with --latency so the effect of slow saves on optimistic reads can be
observed. The sqlite backend runs against a throwaway database.

Examples:
  tsync loadtest
  tsync loadtest --tasks 10000 --writers 8 --latency 20ms
  tsync loadtest --backend sqlite --tasks 5000
  tsync loadtest --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		numTasks, _ := flags.GetInt("tasks")
		numProjects, _ := flags.GetInt("projects")
		readers, _ := flags.GetInt("readers")
		reads, _ := flags.GetInt("reads")
		writers, _ := flags.GetInt("writers")
		writes, _ := flags.GetInt("writes")
		latency, _ := flags.GetDuration("latency")
		seed, _ := flags.GetUint64("seed")

		if numTasks <= 0 {
			return fmt.Errorf("--tasks must be positive")
		}
		if readers < 0 || writers < 0 || reads < 0 || writes < 0 {
			return fmt.Errorf("reader and writer counts cannot be negative")
		}

		backendName, _ := flags.GetString("backend")

		now := time.Now()
		ds := loadtest.Generate(numTasks, numProjects, now)
		ctx := cmd.Context()

		var backend persist.Backend
		switch backendName {
		case "memory":
			backend = memory.New(memory.WithSnapshot(ds.Entities()...), memory.WithLatency(latency))
		case "sqlite":
			db, seeded, err := seedSQLite(ctx, ds)
			if err != nil {
				return err
			}
			backend, ds = db, seeded
		default:
			return fmt.Errorf("--backend must be memory or sqlite (got %q)", backendName)
		}

		a, err := app.Open(ctx, &app.Config{
			Backend:     backend,
			Timeout:     settings.PersistTimeout,
			EventBuffer: settings.EventBuffer,
			LoopBuffer:  settings.LoopBuffer,
			Logger:      logger,
		})
		if err != nil {
			_ = backend.Close()
			return err
		}
		defer func() { _ = closeApp(a) }()

		if !settings.JSON {
			fmt.Fprintf(cmd.OutOrStdout(), "Load test (%s): %d tasks, %d projects, %d readers x %d, %d writers x %d, latency %s\n\n",
				backendName, numTasks, numProjects, readers, reads, writers, writes, latency)
		}

		report, err := loadtest.Run(ctx, a, ds, loadtest.Options{
			Readers:         readers,
			ReadsPerReader:  reads,
			Writers:         writers,
			WritesPerWriter: writes,
			Seed:            seed,
		})
		if err != nil {
			return err
		}

		vs := views.Fixed()
		for _, id := range ds.ProjectIDs {
			vs = append(vs, views.Project(id))
		}
		verifyErr := loadtest.Verify(ctx, a, vs, now)

		if settings.JSON {
			out := map[string]any{
				"reads":    report.Reads,
				"writes":   report.Writes,
				"cache":    report.Cache,
				"duration": report.Duration.String(),
				"verified": verifyErr == nil,
			}
			if verifyErr != nil {
				out["verify_error"] = verifyErr.Error()
			}
			if err := outputJSON(cmd, out); err != nil {
				return err
			}
		} else {
			report.Write(cmd.OutOrStdout())
		}
		if verifyErr != nil {
			return fmt.Errorf("views inconsistent after load: %w", verifyErr)
		}
		if !settings.JSON {
			printer(cmd).Success("All views consistent")
		}
		return nil
	},
}

// seedSQLite writes ds into a throwaway database and returns the dataset
// with the ids the database assigned.
func seedSQLite(ctx context.Context, ds *loadtest.Dataset) (persist.Backend, *loadtest.Dataset, error) {
	dir, err := os.MkdirTemp("", "tsync-loadtest-")
	if err != nil {
		return nil, nil, err
	}
	db, err := sqlite.Open(filepath.Join(dir, "load.db"), sqlite.WithLogger(logger.With("component", "sqlite")))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, nil, err
	}
	result, err := migrate.Import(ctx, db, ds.Snapshot, migrate.ImportOptions{Logger: logger})
	if err != nil {
		_ = db.Close()
		_ = os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to seed database: %w", err)
	}
	return &tempBackend{Backend: db, dir: dir}, ds.Remap(result.IDs), nil
}

// tempBackend removes its directory on Close.
type tempBackend struct {
	persist.Backend
	dir string
}

func (b *tempBackend) Close() error {
	err := b.Backend.Close()
	if rerr := os.RemoveAll(b.dir); err == nil {
		err = rerr
	}
	return err
}

func init() {
	loadtestCmd.Flags().String("backend", "memory", "Backend under test: memory or sqlite")
	loadtestCmd.Flags().Int("tasks", 1000, "Number of generated tasks")
	loadtestCmd.Flags().Int("projects", 10, "Number of generated projects")
	loadtestCmd.Flags().Int("readers", 8, "Concurrent view readers")
	loadtestCmd.Flags().Int("reads", 200, "Reads per reader")
	loadtestCmd.Flags().Int("writers", 4, "Concurrent writers")
	loadtestCmd.Flags().Int("writes", 50, "Mutations per writer")
	loadtestCmd.Flags().Duration("latency", 5*time.Millisecond, "Simulated backend latency per call")
	loadtestCmd.Flags().Uint64("seed", 1, "Random seed for mutation choice")
	rootCmd.AddCommand(loadtestCmd)
}
