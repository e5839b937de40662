package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mschirtzinger/tasksync/internal/dashboard"
	"github.com/mschirtzinger/tasksync/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Run the state core with the live dashboard and drop-directory importer",
	Long: `Run the state core until interrupted.

The dashboard serves:
  /ws           WebSocket stream of dirty views, entity events, save status and errors
  /views/<key>  current contents of a view as JSON
  /health       client count and save status
  /metrics      Prometheus metrics

Task files (.jsonl, .json, .toml) dropped into the watch directory are added
to the store and moved to processed/ or failed/.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noWatch, _ := cmd.Flags().GetBool("no-watch")
		poll, _ := cmd.Flags().GetDuration("status-poll")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		a, err := openApp(ctx, reg)
		if err != nil {
			return err
		}

		srv := dashboard.NewServer(a, &dashboard.Config{
			Addr:     settings.Dashboard,
			Gatherer: reg,
			Logger:   logger.With("component", "dashboard"),
		})
		if err := srv.Start(); err != nil {
			_ = closeApp(a)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dashboard on http://%s\n", srv.GetAddr())

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			srv.Run(gctx, poll)
			return nil
		})

		if !noWatch {
			w, err := watcher.New(a, settings.Watch.Dir, &watcher.Config{
				Debounce: settings.Watch.Debounce,
				Logger:   logger.With("component", "watcher"),
				OnResult: func(r watcher.Result) {
					if r.Err != nil {
						logger.Warn("import failed", "file", r.Path, "error", r.Err)
						return
					}
					logger.Info("imported", "file", r.Path, "tasks", r.Tasks)
				},
			})
			if err != nil {
				stop()
				_ = srv.Stop()
				_ = closeApp(a)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s\n", w.Dir())
			g.Go(func() error {
				return w.Start(gctx)
			})
		}

		<-gctx.Done()
		logger.Info("shutting down")
		stop()

		// Watcher first so no new work arrives, then clients, then the core.
		err = g.Wait()
		if serr := srv.Stop(); serr != nil && err == nil {
			err = serr
		}
		start := time.Now()
		pending := a.PendingCount()
		if cerr := closeApp(a); cerr != nil && err == nil {
			err = cerr
		}
		logger.Info("stopped", "pending_at_shutdown", pending, "drain", time.Since(start))
		return err
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Dashboard listen address (default 127.0.0.1:7777)")
	serveCmd.Flags().String("watch-dir", "", "Drop directory for task files (default .tsync/inbox)")
	serveCmd.Flags().Bool("no-watch", false, "Do not watch a drop directory")
	serveCmd.Flags().Duration("status-poll", 250*time.Millisecond, "How often save status is sampled for clients")
	bindFlag(serveCmd.Flags(), "addr", "dashboard.addr")
	bindFlag(serveCmd.Flags(), "watch-dir", "watch.dir")
	rootCmd.AddCommand(serveCmd)
}
