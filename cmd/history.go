package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/upscaler/internal/formatter"
	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/urfave/cli/v3"
)

// HistoryList prints recorded upscales, newest first.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	criteria := map[string]any{"limit": int(cmd.Int("limit"))}
	if status := models.JobStatus(cmd.String("status")); status != "" {
		if !status.Valid() {
			return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidFlag, status)
		}
		criteria["status"] = status
	}

	db, repo, err := r.openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := repo.List(criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(formatter.JobRecords(jobs), true)
	}

	if len(jobs) == 0 {
		return r.writePlain("No upscales recorded yet.\n")
	}
	return r.renderJobs(jobs)
}

// HistoryExport writes recorded upscales to a file.
func (r *Runner) HistoryExport(ctx context.Context, cmd *cli.Command) error {
	format := cmd.String("format")
	output := cmd.String("output")

	db, repo, err := r.openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := repo.Recent(int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if err := formatter.ExportJobs(jobs, format, output); err != nil {
		return err
	}

	r.logger.Info("history exported", "jobs", len(jobs), "format", format, "path", output)
	return r.writePlain("✓ Exported %d jobs to %s\n", len(jobs), output)
}
