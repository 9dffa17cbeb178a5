package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/desertthunder/upscaler/internal/formatter"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/desertthunder/upscaler/internal/tasks"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// upscaleOutput is the --json shape of a finished upscale.
type upscaleOutput struct {
	SessionID    string        `json:"session_id"`
	Input        string        `json:"input"`
	Output       string        `json:"output"`
	Method       string        `json:"method"`
	OriginalSize services.Size `json:"original_size"`
	UpscaledSize services.Size `json:"upscaled_size"`
	Bytes        int           `json:"bytes"`
	Elapsed      string        `json:"elapsed"`
}

// params builds request parameters from flags over the configured defaults.
func (r *Runner) params(cmd *cli.Command) (services.UpscaleParams, error) {
	p := services.DefaultParams()
	if d := r.config.Upscale; d.Scale != 0 {
		p = services.UpscaleParams{Scale: d.Scale, Denoise: d.Denoise, Creativity: d.Creativity, UseML: d.UseML}
	}

	if cmd.IsSet("scale") {
		p.Scale = int(cmd.Int("scale"))
	}
	if cmd.IsSet("denoise") {
		p.Denoise = cmd.Float("denoise")
	}
	if cmd.IsSet("creativity") {
		p.Creativity = cmd.Float("creativity")
	}
	if cmd.Bool("no-ml") {
		p.UseML = false
	}

	return p, p.Validate()
}

// historyRecorder returns the recorder to hand to controllers, honoring --no-history.
func (r *Runner) historyRecorder(cmd *cli.Command) (tasks.Recorder, func()) {
	if cmd.Bool("no-history") {
		return nil, func() {}
	}
	rec, closeFn := r.recorder()
	if rec == nil {
		return nil, closeFn
	}
	return rec, closeFn
}

// Upscale streams a single upscale, rendering progress until it settles.
func (r *Runner) Upscale(ctx context.Context, cmd *cli.Command) error {
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

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	rec, closeHistory := r.historyRecorder(cmd)
	defer closeHistory()

	started := time.Now()
	var s tasks.Session
	if cmd.Bool("sync") {
		s = r.upscaleSync(ctx, image, params, rec)
	} else {
		s = r.upscaleStream(ctx, image, params, rec)
	}

	switch s.Status {
	case tasks.StatusComplete:
	case tasks.StatusError:
		return fmt.Errorf("%w: %w", shared.ErrUpscaleFailed, s.Err)
	default:
		return tasks.ErrCanceled
	}

	data, err := s.Result.Bytes()
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if output == "" {
		output = formatter.OutputPath(input, r.config.Output.Dir, params.Scale, data)
	}
	if err := formatter.SaveImage(data, output); err != nil {
		return err
	}
	if saver, ok := rec.(tasks.OutputRecorder); ok {
		saver.Saved(s.ID, output)
	}

	elapsed := time.Since(started)
	r.logger.Info("saved result", "path", output, "size", humanize.Bytes(uint64(len(data))))

	if cmd.Bool("json") {
		err = r.writeJSON(upscaleOutput{
			SessionID:    s.ID,
			Input:        input,
			Output:       output,
			Method:       s.Result.Method,
			OriginalSize: s.Result.OriginalSize,
			UpscaledSize: s.Result.UpscaledSize,
			Bytes:        len(data),
			Elapsed:      elapsed.Round(time.Millisecond).String(),
		}, true)
	} else {
		err = r.writePlain("✓ %s %s → %s via %s\n", image.Name, s.Result.OriginalSize, s.Result.UpscaledSize, s.Result.Method)
		if err == nil {
			err = r.writePlain("  saved %s (%s) in %s\n", output, humanize.Bytes(uint64(len(data))), elapsed.Round(time.Millisecond))
		}
	}
	if err != nil {
		return err
	}

	if cmd.Bool("open") {
		if err := shared.OpenPath(output); err != nil {
			r.logger.Warn("failed to open result", "error", err)
		}
	}
	return nil
}

// upscaleStream drives a controller and returns its settled session.
func (r *Runner) upscaleStream(ctx context.Context, image services.Image, params services.UpscaleParams, rec tasks.Recorder) tasks.Session {
	ctrl := tasks.NewController(r.backend, tasks.ControllerOpts{
		Logger:   r.logger,
		Recorder: rec,
		Timeout:  r.config.Backend.Timeout.Duration,
	})

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	printer := newProgressPrinter(r.output, r.interactive(), r.logger)
	defer printer.finish()

	done := ctrl.Upscale(ctx, image, params)
	for {
		select {
		case s := <-updates:
			printer.show(s)
		case <-done:
			return ctrl.Session()
		}
	}
}

// upscaleSync calls the blocking endpoint and expresses its outcome as a session,
// so history and output handling match the streaming path.
func (r *Runner) upscaleSync(ctx context.Context, image services.Image, params services.UpscaleParams, rec tasks.Recorder) tasks.Session {
	s := tasks.Started(shared.GenerateID())
	if rec != nil {
		rec.Started(s, image, params)
		defer func() { rec.Finished(s) }()
	}

	if timeout := r.config.Backend.Timeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.logger.Info("upscale started", "image", image.Name, "scale", params.Scale, "ml", params.UseML, "sync", true)

	resp, err := r.backend.Upscale(ctx, image, params)
	switch {
	case err != nil && errors.Is(ctx.Err(), context.Canceled):
		s = tasks.Idle(s)
	case err != nil:
		s = tasks.Fail(s, err)
	default:
		s = tasks.Apply(s, services.Event{
			Type:         services.EventComplete,
			Image:        resp.ImageBase64,
			OriginalSize: resp.OriginalSize,
			UpscaledSize: resp.UpscaledSize,
			Method:       resp.Method,
		})
		if _, err := base64.StdEncoding.DecodeString(resp.ImageBase64); err != nil {
			s = tasks.Fail(s, fmt.Errorf("%w: invalid image payload", shared.ErrUpscaleFailed))
		}
	}
	return s
}
