package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/desertthunder/upscaler/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Batch upscales every path argument with a worker pool and writes a manifest.
func (r *Runner) Batch(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("%w: at least one image path", shared.ErrMissingArgument)
	}

	params, err := r.params(cmd)
	if err != nil {
		return err
	}

	workers := int(cmd.Int("workers"))
	if workers == 0 {
		workers = r.config.Batch.Workers
	}
	rateLimit := cmd.Float("rate")
	if rateLimit == 0 {
		rateLimit = r.config.Batch.RateLimit
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	rec, closeHistory := r.historyRecorder(cmd)
	defer closeHistory()

	prog := make(chan tasks.ProgressUpdate, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for u := range prog {
			r.logger.Info(u.Message, "phase", u.Phase, "step", u.Step, "total", u.Total)
		}
	}()

	r.logger.Info("starting batch", "images", len(paths), "workers", workers, "rate", rateLimit)
	result, err := tasks.BatchUpscale(ctx, prog, r.backend, paths, tasks.BatchOpts{
		Params:     params,
		OutputDir:  cmd.String("output-dir"),
		NumWorkers: workers,
		RateLimit:  rateLimit,
		Timeout:    r.config.Backend.Timeout.Duration,
		Logger:     r.logger,
		Recorder:   rec,
	})
	close(prog)
	wg.Wait()

	if result != nil {
		r.writePlainHeader(fmt.Sprintf("Batch: %d/%d upscaled", result.Succeeded, result.Total))
		r.renderBatch(result)
		if result.ManifestPath != "" {
			r.writePlain("Manifest: %s\n", result.ManifestPath)
		}
	}
	if err != nil {
		return err
	}

	if result.Failed > 0 {
		return fmt.Errorf("%w: %d of %d images failed", shared.ErrUpscaleFailed, result.Failed, result.Total)
	}
	return nil
}
