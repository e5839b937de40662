package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mschirtzinger/tasksync/internal/app"
	"github.com/mschirtzinger/tasksync/internal/duedate"
	"github.com/mschirtzinger/tasksync/internal/state/bus"
	"github.com/mschirtzinger/tasksync/internal/state/executor"
	"github.com/mschirtzinger/tasksync/internal/state/views"
	"github.com/mschirtzinger/tasksync/internal/types"
)

var addCmd = &cobra.Command{
	Use:     "add [content...]",
	GroupID: "tasks",
	Short:   "Add a task",
	Long: `Add a task. A date phrase in the content becomes the due date:

  tsync add Pay rent next monday
  tsync add "Call bank" --due "tomorrow 9am" --priority 3 --label errand

Without arguments on a terminal, an interactive form is shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := taskFromFlags(cmd, args)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			events := a.SubscribeEvents()
			defer events.Unsubscribe()

			tempID, err := a.AddTask(ctx, task)
			if err != nil {
				return err
			}
			if err := a.WaitIdle(ctx); err != nil {
				return err
			}
			id := resolvedID(events, tempID)
			if settings.JSON {
				e, _, err := a.Get(ctx, types.KindTask, id)
				if err != nil {
					return err
				}
				return outputJSON(cmd, e)
			}
			printer(cmd).Success(fmt.Sprintf("Added %s: %s", id, task.Content))
			return nil
		})
	},
}

// resolvedID returns the canonical id that replaced tempID, or tempID when
// no reconcile event arrived.
func resolvedID(events *bus.Subscription[bus.Event], tempID string) string {
	for {
		select {
		case ev, ok := <-events.C:
			if !ok {
				return tempID
			}
			if ev.Phase == bus.PhaseReconciled && ev.PrevID == tempID {
				return ev.ID
			}
		default:
			return tempID
		}
	}
}

func taskFromFlags(cmd *cobra.Command, args []string) (*types.Task, error) {
	flags := cmd.Flags()
	projectID, _ := flags.GetString("project")
	sectionID, _ := flags.GetString("section")
	priority, _ := flags.GetInt("priority")
	dueText, _ := flags.GetString("due")
	labels, _ := flags.GetStringSlice("label")
	description, _ := flags.GetString("description")

	content := strings.TrimSpace(strings.Join(args, " "))
	if content == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("task content is required")
		}
		var err error
		content, dueText, priority, err = askTask(priority)
		if err != nil {
			return nil, err
		}
	}

	task := &types.Task{
		Content:     content,
		Description: description,
		ProjectID:   projectID,
		SectionID:   sectionID,
		Priority:    priority,
		Labels:      labels,
	}
	parser := duedate.New()
	now := time.Now()
	if dueText != "" {
		due, err := parser.Parse(dueText, now)
		if err != nil {
			return nil, err
		}
		task.Due = due
	} else {
		task.Content, task.Due = parser.Extract(content, now)
	}
	return task, nil
}

// askTask shows the interactive add form.
func askTask(priority int) (content, due string, prio int, err error) {
	if priority == 0 {
		priority = 1
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Task").
				Value(&content).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("task content is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Due").
				Placeholder("tomorrow 5pm").
				Value(&due),
			huh.NewSelect[int]().
				Title("Priority").
				Options(
					huh.NewOption("Normal", 1),
					huh.NewOption("Medium", 2),
					huh.NewOption("High", 3),
					huh.NewOption("Urgent", 4),
				).
				Value(&priority),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", 0, err
	}
	return strings.TrimSpace(content), strings.TrimSpace(due), priority, nil
}

var listCmd = &cobra.Command{
	Use:     "list [view]",
	GroupID: "tasks",
	Short:   "List the tasks of a view",
	Long: `List the tasks of a view. Views: inbox (default), today, scheduled, completed,
pinned, overdue, project:<id>, section:<id>, label:<name>.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := "inbox"
		if len(args) == 1 {
			key = args[0]
		}
		v, err := views.Parse(key)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			tasks, err := a.View(ctx, v)
			if err != nil {
				return err
			}
			if settings.JSON {
				return outputJSON(cmd, tasks)
			}
			printer(cmd).Tasks(title(v), tasks, time.Now())
			return nil
		})
	},
}

func title(v views.View) string {
	name := v.Kind.String()
	name = strings.ToUpper(name[:1]) + name[1:]
	if v.ID != "" {
		return name + " " + v.ID
	}
	return name
}

// benign drops errors that leave nothing to do, such as a target that is
// already gone.
func benign(err error) error {
	if err != nil && executor.IsBenign(err) {
		logger.Debug("nothing to do", "reason", err)
		return nil
	}
	return err
}

var completeCmd = &cobra.Command{
	Use:     "complete <id>...",
	GroupID: "tasks",
	Short:   "Complete tasks (or reopen them with --undo)",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if len(args) == 1 {
				return benign(a.CompleteTask(ctx, args[0], !undo))
			}
			return benign(a.BatchComplete(ctx, args, !undo))
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	GroupID: "tasks",
	Short:   "Delete tasks",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if len(args) == 1 {
				return benign(a.DeleteTask(ctx, args[0]))
			}
			return benign(a.BatchDelete(ctx, args))
		})
	},
}

var pinCmd = &cobra.Command{
	Use:     "pin <id>",
	GroupID: "tasks",
	Short:   "Pin a task (or unpin it with --undo)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return benign(a.PinTask(ctx, args[0], !undo))
		})
	},
}

var moveCmd = &cobra.Command{
	Use:     "move <id>",
	GroupID: "tasks",
	Short:   "Move a task to a project and section (no flags moves it to the inbox)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		sectionID, _ := cmd.Flags().GetString("section")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.MoveTask(ctx, args[0], projectID, sectionID)
		})
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Change a task's content, priority, due date or labels",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		var due *types.Due
		clearDue := false
		if flags.Changed("due") {
			text, _ := flags.GetString("due")
			if text == "" {
				clearDue = true
			} else {
				d, err := duedate.New().Parse(text, time.Now())
				if err != nil {
					return err
				}
				due = d
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.UpdateTask(ctx, args[0], func(t *types.Task) {
				if flags.Changed("content") {
					t.Content, _ = flags.GetString("content")
				}
				if flags.Changed("description") {
					t.Description, _ = flags.GetString("description")
				}
				if flags.Changed("priority") {
					t.Priority, _ = flags.GetInt("priority")
				}
				if flags.Changed("label") {
					t.Labels, _ = flags.GetStringSlice("label")
				}
				switch {
				case due != nil:
					t.Due = due
				case clearDue:
					t.Due = nil
				}
			})
		})
	},
}

func init() {
	addCmd.Flags().String("project", "", "Project id")
	addCmd.Flags().String("section", "", "Section id")
	addCmd.Flags().IntP("priority", "p", 1, "Priority 1 (normal) to 4 (urgent)")
	addCmd.Flags().String("due", "", "Due date, e.g. \"tomorrow 5pm\"")
	addCmd.Flags().StringSliceP("label", "l", nil, "Label names")
	addCmd.Flags().String("description", "", "Longer description")

	editCmd.Flags().String("content", "", "New content")
	editCmd.Flags().String("description", "", "New description")
	editCmd.Flags().IntP("priority", "p", 1, "Priority 1 (normal) to 4 (urgent)")
	editCmd.Flags().String("due", "", "Due date; empty clears it")
	editCmd.Flags().StringSliceP("label", "l", nil, "Replace labels")

	completeCmd.Flags().Bool("undo", false, "Reopen instead of completing")
	pinCmd.Flags().Bool("undo", false, "Unpin instead of pinning")

	moveCmd.Flags().String("project", "", "Target project id")
	moveCmd.Flags().String("section", "", "Target section id")

	rootCmd.AddCommand(addCmd, listCmd, completeCmd, deleteCmd, pinCmd, moveCmd, editCmd)
}
