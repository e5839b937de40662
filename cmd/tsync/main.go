// Command tsync is a local task manager built on the tasksync state core.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mschirtzinger/tasksync/internal/app"
	"github.com/mschirtzinger/tasksync/internal/config"
	"github.com/mschirtzinger/tasksync/internal/logging"
	"github.com/mschirtzinger/tasksync/internal/persist"
	"github.com/mschirtzinger/tasksync/internal/persist/memory"
	"github.com/mschirtzinger/tasksync/internal/persist/sqlite"
	"github.com/mschirtzinger/tasksync/internal/ui"
)

// configKeyAnnotation marks flags that override a config key.
const configKeyAnnotation = "tsync.config-key"

var (
	settings  config.Settings
	logger    = logging.Discard()
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "tsync",
	Short: "Local-first task manager",
	Long: `tsync manages tasks, projects, sections and labels in a local database.

Every change is applied immediately and saved in the background. The serve
command keeps the state core running, pushes changes to WebSocket clients and
imports task files dropped into a watched directory.

Configuration is read from .tsync/config.yaml (searched upward from the current
directory), then ~/.config/tsync/config.yaml, then TSYNC_* environment
variables. Flags override all of them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if keys := f.Annotations[configKeyAnnotation]; len(keys) == 1 && bindErr == nil {
				bindErr = config.BindFlag(keys[0], f)
			}
		})
		if bindErr != nil {
			return bindErr
		}

		settings = config.Load()
		if err := settings.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		l, closer, err := logging.New(logging.Options{
			Level:      settings.Log.Level,
			Format:     settings.Log.Format,
			File:       settings.Log.File,
			MaxSizeMB:  settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			MaxAgeDays: settings.Log.MaxAgeDays,
		})
		if err != nil {
			return err
		}
		logger, logCloser = l, closer
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// bindFlag registers name as the command-line override of a config key.
func bindFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, configKeyAnnotation, []string{key})
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "data", Title: "Import and Export:"},
		&cobra.Group{ID: "server", Title: "Server Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("db", "", "Path to the SQLite database (default .tsync/tasks.db)")
	flags.Bool("memory", false, "Keep everything in memory; nothing is saved")
	flags.Bool("json", false, "Output JSON")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-file", "", "Write logs to a rotating file instead of stderr")
	bindFlag(flags, "db", "db")
	bindFlag(flags, "memory", "memory")
	bindFlag(flags, "json", "json")
	bindFlag(flags, "log-level", "log.level")
	bindFlag(flags, "log-file", "log.file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openBackend opens the configured backend.
func openBackend() (persist.Backend, error) {
	if settings.Memory {
		return memory.New(), nil
	}
	db, err := sqlite.Open(settings.DB, sqlite.WithLogger(logger.With("component", "sqlite")))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", settings.DB, err)
	}
	return db, nil
}

// openApp opens the backend and starts the state core on it.
func openApp(ctx context.Context, reg prometheus.Registerer) (*app.App, error) {
	backend, err := openBackend()
	if err != nil {
		return nil, err
	}
	a, err := app.Open(ctx, &app.Config{
		Backend:     backend,
		Timeout:     settings.PersistTimeout,
		EventBuffer: settings.EventBuffer,
		LoopBuffer:  settings.LoopBuffer,
		Registerer:  reg,
		Logger:      logger,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return a, nil
}

// closeApp waits for pending saves within the shutdown timeout.
func closeApp(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// withApp runs fn against a freshly opened App and shuts it down afterwards,
// reporting save failures that happened while fn ran.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	errs := a.SubscribeErrors()

	runErr := fn(ctx, a)
	if runErr == nil {
		runErr = a.WaitIdle(ctx)
	}
	errs.Unsubscribe()
	var failed []string
	for r := range errs.C {
		failed = append(failed, r.String())
	}

	if err := closeApp(a); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil && len(failed) > 0 {
		p := printer(cmd)
		for _, f := range failed {
			p.Error(f)
		}
		runErr = fmt.Errorf("%d change(s) could not be saved", len(failed))
	}
	return runErr
}

func printer(cmd *cobra.Command) *ui.Printer {
	return ui.New(cmd.OutOrStdout(), false)
}

func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
