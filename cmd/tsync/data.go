package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/tasksync/internal/migrate"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import entities from a JSONL, JSON or TOML file",
	Long: `Import entities from a file.

Supported formats:
  .jsonl  one {"kind": ..., "<kind>": {...}} record per line (the export format)
  .json   a task object or an array of task objects
  .toml   a fixture with [[project]], [[section]], [[label]] and [[task]] tables

File ids are replaced by new ids and references between entities are
rewritten to match. Invalid entities are skipped and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		snap, err := migrate.ReadFile(args[0])
		if err != nil {
			return err
		}
		backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()

		start := time.Now()
		result, err := migrate.Import(cmd.Context(), backend, snap, migrate.ImportOptions{
			DryRun: dryRun,
			Logger: logger.With("component", "import"),
		})
		if err != nil {
			return err
		}

		if settings.JSON {
			return outputJSON(cmd, map[string]any{
				"dry_run":  dryRun,
				"projects": result.Projects,
				"sections": result.Sections,
				"labels":   result.Labels,
				"tasks":    result.Tasks,
				"skipped":  result.Skipped,
				"errors":   result.Errors,
			})
		}

		p := printer(cmd)
		for _, e := range result.Errors {
			p.Error("skipped: " + e)
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		p.Success(fmt.Sprintf("%s %d projects, %d sections, %d labels, %d tasks in %s",
			verb, result.Projects, result.Sections, result.Labels, result.Tasks,
			time.Since(start).Round(time.Millisecond)))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export <file|->",
	GroupID: "data",
	Short:   "Export every entity as JSONL",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := openBackend()
		if err != nil {
			return err
		}
		defer backend.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), settings.PersistTimeout)
		defer cancel()
		snap, err := backend.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load: %w", err)
		}

		if args[0] == "-" {
			_, err := migrate.WriteJSONL(cmd.OutOrStdout(), snap)
			return err
		}
		n, err := migrate.ExportJSONL(args[0], snap)
		if err != nil {
			return err
		}
		printer(cmd).Success(fmt.Sprintf("Exported %d entities to %s", n, args[0]))
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Validate and resolve references without writing")
	rootCmd.AddCommand(importCmd, exportCmd)
}
