package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/repositories"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/desertthunder/upscaler/internal/tasks"
	"github.com/desertthunder/upscaler/internal/ui"
	"github.com/urfave/cli/v3"
)

const historyPanelSize = 15

// TUI launches the interactive upscaler for one image.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	input := cmd.StringArg("path")
	if input == "" {
		return fmt.Errorf("%w: image path", shared.ErrMissingArgument)
	}

	params, err := r.params(cmd)
	if err != nil {
		return err
	}

	image, err := services.LoadImage(input)
	if err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/upx-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	opts := ui.Options{Params: params, OutputDir: cmd.String("output-dir")}
	if opts.OutputDir == "" {
		opts.OutputDir = r.config.Output.Dir
	}

	var rec tasks.Recorder
	if db, repo, err := r.openHistory(); err != nil {
		r.logger.Warn("history disabled", "error", err)
	} else {
		defer db.Close()
		jobs := repositories.NewJobRecorder(repo, r.logger)
		rec = jobs
		opts.Recorder = jobs
		opts.History = func() ([]*models.Job, error) { return repo.Recent(historyPanelSize) }
	}

	ctrl := tasks.NewController(r.backend, tasks.ControllerOpts{
		Logger:   r.logger,
		Recorder: rec,
		Timeout:  r.config.Backend.Timeout.Duration,
	})
	defer ctrl.Cancel()

	model := ui.NewModel(ctx, ctrl, image, input, opts)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
