package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/app"
	"github.com/mschirtzinger/tasksync/internal/config"
	"github.com/mschirtzinger/tasksync/internal/state/views"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "maint",
	Short:   "Show task counts per view and the save status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			counts := make(map[string]int)
			var order []string
			for _, v := range views.Fixed() {
				tasks, err := a.View(ctx, v)
				if err != nil {
					return err
				}
				counts[v.Key()] = len(tasks)
				order = append(order, v.Key())
			}
			version, err := a.Version(ctx)
			if err != nil {
				return err
			}
			snap, err := a.Snapshot(ctx)
			if err != nil {
				return err
			}

			if settings.JSON {
				return outputJSON(cmd, map[string]any{
					"views":       counts,
					"version":     version,
					"save_status": a.SaveStatus().String(),
					"pending":     a.PendingCount(),
					"tasks":       len(snap.Tasks),
					"projects":    len(snap.Projects),
					"sections":    len(snap.Sections),
					"labels":      len(snap.Labels),
					"db":          dbDescription(),
					"config":      config.ConfigFileUsed(),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", dbDescription())
			if f := config.ConfigFileUsed(); f != "" {
				fmt.Fprintf(out, "Config:   %s\n", f)
			}
			fmt.Fprintf(out, "Entities: %d tasks, %d projects, %d sections, %d labels\n\n",
				len(snap.Tasks), len(snap.Projects), len(snap.Sections), len(snap.Labels))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, key := range order {
				fmt.Fprintf(w, "%s\t%d\n", key, counts[key])
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			printer(cmd).Status(a.SaveStatus(), a.PendingDescriptions(), a.LastError())
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maint",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if settings.JSON {
			return outputJSON(cmd, settings)
		}
		out, err := settings.YAML()
		if err != nil {
			return err
		}
		if f := config.ConfigFileUsed(); f != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "# defaults (no config file found)")
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func dbDescription() string {
	if settings.Memory {
		return "in memory"
	}
	return settings.DB
}

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: "maint",
	Short:   "Print version information",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tsync %s (built %s)\n", Version, buildTime())
	},
}

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// BuildTime is set at build time in RFC 3339.
var BuildTime = ""

func buildTime() string {
	if t, err := time.Parse(time.RFC3339, BuildTime); err == nil {
		return t.Format("2006-01-02")
	}
	return "unknown"
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(statusCmd, configCmd, versionCmd)
}
