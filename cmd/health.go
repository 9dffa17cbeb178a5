package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/urfave/cli/v3"
)

// Health prints backend status once, or repeatedly with --watch.
func (r *Runner) Health(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("watch") {
		return r.printHealth(ctx, cmd.Bool("json"))
	}

	interval := cmd.Duration("interval")
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", shared.ErrInvalidFlag)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.printHealth(ctx, cmd.Bool("json")); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			r.logger.Warn("health check failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) printHealth(ctx context.Context, asJSON bool) error {
	health, err := r.backend.Health(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrNotConnected, r.backend.BaseURL(), err)
	}

	if asJSON {
		return r.writeJSON(health, false)
	}

	r.writePlain("%s  %s\n", time.Now().Format(time.TimeOnly), health.Summary())
	if health.Error != "" {
		r.writePlain("  model error: %s\n", health.Error)
	}
	return nil
}

// ModelLoad asks the backend to start loading its model.
func (r *Runner) ModelLoad(ctx context.Context, cmd *cli.Command) error {
	resp, err := r.backend.LoadModel(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("model load requested", "status", resp.Status)
	r.writePlain("%s: %s\n", resp.Status, resp.Message)
	return nil
}

// Info prints the backend's self-description.
func (r *Runner) Info(ctx context.Context, cmd *cli.Command) error {
	info, err := r.backend.Info(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(info, true)
	}

	r.writePlainHeader(fmt.Sprintf("%s v%s", info.Name, info.Version))
	ml := "unavailable"
	switch {
	case info.MLStatus.Available:
		ml = "available"
	case info.MLStatus.Loading:
		ml = "loading"
	}
	r.writePlain("Backend: %s\nDevice:  %s\nModel:   %s\n", r.backend.BaseURL(), info.MLStatus.Device, ml)
	if info.MLStatus.Error != "" {
		r.writePlain("Error:   %s\n", info.MLStatus.Error)
	}
	r.writePlain("\n")
	return r.renderEndpoints(info.Endpoints)
}
