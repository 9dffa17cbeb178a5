package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/upscaler/internal/formatter"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultBatchWorkers = 2
	maxBatchWorkers     = 8
	defaultBatchRate    = 1.0
	manifestName        = "manifest.json"
)

// BatchOpts contains configuration for batch upscales.
type BatchOpts struct {
	Params     services.UpscaleParams // Sent with every image
	OutputDir  string                 // Result directory (default: upscaled_{epoch})
	NumWorkers int                    // Concurrent workers (default: 2, max: 8)
	RateLimit  float64                // Request starts per second (default: 1)
	Timeout    time.Duration          // Per image; zero means no limit
	Logger     *log.Logger
	Recorder   Recorder // Optional history sink shared by all workers
}

// BatchItemResult describes the outcome for one input file.
type BatchItemResult struct {
	Input        string        `json:"input"`
	Output       string        `json:"output,omitempty"`
	SessionID    string        `json:"session_id,omitempty"`
	Method       string        `json:"method,omitempty"`
	OriginalSize services.Size `json:"original_size"`
	UpscaledSize services.Size `json:"upscaled_size"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// BatchResult summarizes a batch run and is written as the manifest.
type BatchResult struct {
	Total           int                    `json:"total"`
	Succeeded       int                    `json:"succeeded"`
	Failed          int                    `json:"failed"`
	OutputDirectory string                 `json:"output_directory"`
	ManifestPath    string                 `json:"-"`
	Params          services.UpscaleParams `json:"params"`
	Results         []BatchItemResult      `json:"results"`
}

type batchJob struct {
	index int
	path  string
	stem  string // unique within the batch
}

// BatchUpscale upscales paths concurrently with request pacing and progress tracking.
//
// Each worker owns a [Controller], so workers never supersede each other. Failures are
// collected per file; the returned error is reserved for setup and manifest problems.
func BatchUpscale(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	client Streamer,
	paths []string,
	opts BatchOpts,
) (*BatchResult, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: backend not initialized", shared.ErrServiceUnavailable)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input files", shared.ErrMissingArgument)
	}

	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("upscaled_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultBatchWorkers
	}
	if opts.NumWorkers > maxBatchWorkers {
		opts.NumWorkers = maxBatchWorkers
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultBatchRate
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(os.Stderr)
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &BatchResult{
		Total:           len(paths),
		OutputDirectory: opts.OutputDir,
		Params:          opts.Params,
		Results:         make([]BatchItemResult, len(paths)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan batchJob)
	results := make(chan batchJob, len(paths))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go batchWorker(ctx, &wg, prog, client, limiter, jobs, results, result.Results, opts)
	}

	stems := formatter.OutputStems(paths)
	go func() {
		defer close(jobs)
		for i, path := range paths {
			select {
			case <-ctx.Done():
				return
			case jobs <- batchJob{index: i, path: path, stem: stems[i]}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for job := range results {
		completed++
		res := result.Results[job.index]
		if res.Success {
			result.Succeeded++
			sendProgress(prog, savedUpdate(completed, len(paths), res))
		} else {
			result.Failed++
			sendProgress(prog, failedUpdate(completed, len(paths), res))
		}
	}

	for i, res := range result.Results {
		if res.Input == "" {
			result.Results[i] = BatchItemResult{Input: paths[i], Error: "not started: canceled"}
			result.Failed++
		}
	}

	manifestPath := filepath.Join(opts.OutputDir, manifestName)
	if err := formatter.WriteJSON(result, manifestPath); err != nil {
		return result, fmt.Errorf("batch completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	sendProgress(prog, manifestUpdate(manifestPath))

	return result, nil
}

// batchWorker upscales jobs one at a time. Each result is written to its own slot in out.
func batchWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	prog chan<- ProgressUpdate,
	client Streamer,
	limiter *rate.Limiter,
	jobs <-chan batchJob,
	done chan<- batchJob,
	out []BatchItemResult,
	opts BatchOpts,
) {
	defer wg.Done()

	ctrl := NewController(client, ControllerOpts{
		Logger:   opts.Logger,
		Recorder: opts.Recorder,
		Timeout:  opts.Timeout,
	})

	for job := range jobs {
		out[job.index] = upscaleOne(ctx, prog, ctrl, limiter, job, len(out), opts)
		done <- job
	}
}

func upscaleOne(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	ctrl *Controller,
	limiter *rate.Limiter,
	job batchJob,
	total int,
	opts BatchOpts,
) (res BatchItemResult) {
	res.Input = job.path
	step := job.index + 1
	started := time.Now()
	defer func() { res.Elapsed = time.Since(started) }()

	image, err := services.LoadImage(job.path)
	if err != nil {
		res.Error = err.Error()
		sendProgress(prog, loadFailedUpdate(step, total, job.path, err))
		return res
	}

	if err := limiter.Wait(ctx); err != nil {
		res.Error = fmt.Sprintf("not started: %v", err)
		return res
	}

	sendProgress(prog, upscalingUpdate(step, total, job.path))

	updates, unsubscribe := ctrl.Subscribe()
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for s := range updates {
			if s.Status == StatusProcessing && s.Progress != nil {
				sendProgress(prog, sessionUpdate(step, total, job.path, s))
			}
		}
	}()

	<-ctrl.Upscale(ctx, image, opts.Params)
	unsubscribe()
	<-relayed

	s := ctrl.Session()
	res.SessionID = s.ID

	switch s.Status {
	case StatusComplete:
	case StatusError:
		res.Error = s.ErrorMessage()
		return res
	default:
		res.Error = "canceled"
		return res
	}

	res.Method = s.Result.Method
	res.OriginalSize = s.Result.OriginalSize
	res.UpscaledSize = s.Result.UpscaledSize

	data, err := s.Result.Bytes()
	if err != nil {
		res.Error = err.Error()
		return res
	}

	output := formatter.StemOutputPath(job.stem, opts.OutputDir, opts.Params.Scale, data)
	if err := formatter.SaveImage(data, output); err != nil {
		res.Error = err.Error()
		return res
	}

	if rec, ok := opts.Recorder.(OutputRecorder); ok {
		rec.Saved(s.ID, output)
	}

	res.Output = output
	res.Success = true
	return res
}
