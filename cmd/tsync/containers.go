package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/app"
	"github.com/mschirtzinger/tasksync/internal/types"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	GroupID: "tasks",
	Short:   "Manage projects and their sections",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		favorite, _ := cmd.Flags().GetBool("favorite")
		return addAndReport(cmd, types.KindProject, func(ctx context.Context, a *app.App) (string, error) {
			return a.AddProject(ctx, &types.Project{Name: args[0], Color: color, IsFavorite: favorite})
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects and their sections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			snap, err := a.Snapshot(ctx)
			if err != nil {
				return err
			}
			if settings.JSON {
				return outputJSON(cmd, map[string]any{
					"projects": snap.Projects,
					"sections": snap.Sections,
				})
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTASKS")
			counts := make(map[string]int)
			for _, t := range snap.Tasks {
				if !t.Checked {
					counts[t.ProjectID]++
					if t.SectionID != "" {
						counts[t.SectionID]++
					}
				}
			}
			for _, p := range snap.Projects {
				fmt.Fprintf(w, "%s\t%s\t%d\n", p.ID, p.Name, counts[p.ID])
				for _, s := range snap.Sections {
					if s.ProjectID == p.ID {
						fmt.Fprintf(w, "%s\t  / %s\t%d\n", s.ID, s.Name, counts[s.ID])
					}
				}
			}
			return w.Flush()
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an empty project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.DeleteProject(ctx, args[0])
		})
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.UpdateProject(ctx, args[0], func(p *types.Project) { p.Name = args[1] })
		})
	},
}

var sectionAddCmd = &cobra.Command{
	Use:   "section <project-id> <name>",
	Short: "Create a section in a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addAndReport(cmd, types.KindSection, func(ctx context.Context, a *app.App) (string, error) {
			return a.AddSection(ctx, &types.Section{ProjectID: args[0], Name: args[1]})
		})
	},
}

var sectionDeleteCmd = &cobra.Command{
	Use:   "delete-section <id>",
	Short: "Delete an empty section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.DeleteSection(ctx, args[0])
		})
	},
}

var labelCmd = &cobra.Command{
	Use:     "label",
	GroupID: "tasks",
	Short:   "Manage labels",
}

var labelAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		return addAndReport(cmd, types.KindLabel, func(ctx context.Context, a *app.App) (string, error) {
			return a.AddLabel(ctx, &types.Label{Name: args[0], Color: color})
		})
	},
}

var labelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List labels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			snap, err := a.Snapshot(ctx)
			if err != nil {
				return err
			}
			if settings.JSON {
				return outputJSON(cmd, snap.Labels)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCOLOR")
			for _, l := range snap.Labels {
				fmt.Fprintf(w, "%s\t%s\t%s\n", l.ID, l.Name, l.Color)
			}
			return w.Flush()
		})
	},
}

var labelDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a label",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.DeleteLabel(ctx, args[0])
		})
	},
}

// addAndReport runs add and prints the id the backend assigned.
func addAndReport(cmd *cobra.Command, kind types.Kind, add func(context.Context, *app.App) (string, error)) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		events := a.SubscribeEvents()
		defer events.Unsubscribe()

		tempID, err := add(ctx, a)
		if err != nil {
			return err
		}
		if err := a.WaitIdle(ctx); err != nil {
			return err
		}
		id := resolvedID(events, tempID)
		if settings.JSON {
			return outputJSON(cmd, map[string]string{"kind": kind.String(), "id": id})
		}
		printer(cmd).Success(fmt.Sprintf("Created %s %s", kind, id))
		return nil
	})
}

func init() {
	projectAddCmd.Flags().String("color", "", "Display color")
	projectAddCmd.Flags().Bool("favorite", false, "Mark as favorite")
	labelAddCmd.Flags().String("color", "", "Display color")

	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectDeleteCmd, projectRenameCmd, sectionAddCmd, sectionDeleteCmd)
	labelCmd.AddCommand(labelAddCmd, labelListCmd, labelDeleteCmd)
	rootCmd.AddCommand(projectCmd, labelCmd)
}
