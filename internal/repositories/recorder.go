package repositories

import (
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/desertthunder/upscaler/internal/tasks"
)

var (
	_ tasks.Recorder       = (*JobRecorder)(nil)
	_ tasks.OutputRecorder = (*JobRecorder)(nil)
)

// JobRecorder implements tasks.Recorder using JobRepository.
//
// Persistence failures are logged and never reach the controller.
type JobRecorder struct {
	repo   *JobRepository
	logger *log.Logger

	mu   sync.Mutex
	jobs map[string]*models.Job // by session ID, while in flight
}

// NewJobRecorder creates a JobRecorder. A nil logger discards output.
func NewJobRecorder(repo *JobRepository, logger *log.Logger) *JobRecorder {
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &JobRecorder{repo: repo, logger: logger, jobs: make(map[string]*models.Job)}
}

// Started inserts a processing job for the session.
func (r *JobRecorder) Started(s tasks.Session, image services.Image, params services.UpscaleParams) {
	job := models.NewJob(0, s.ID, image.Name, params.Scale, params.Denoise, params.Creativity, params.UseML)
	if err := r.repo.Create(job); err != nil {
		r.logger.Error("failed to record job", "session", shared.ShortID(s.ID), "err", err)
		return
	}

	r.mu.Lock()
	r.jobs[s.ID] = job
	r.mu.Unlock()
}

// Finished stores the session's outcome. Idle sessions were cancelled.
func (r *JobRecorder) Finished(s tasks.Session) {
	r.mu.Lock()
	job, ok := r.jobs[s.ID]
	delete(r.jobs, s.ID)
	r.mu.Unlock()
	if !ok {
		return
	}

	switch s.Status {
	case tasks.StatusComplete:
		job.SetMethod(s.Result.Method)
		job.SetOriginalSize(s.Result.OriginalSize.Width(), s.Result.OriginalSize.Height())
		job.SetUpscaledSize(s.Result.UpscaledSize.Width(), s.Result.UpscaledSize.Height())
		job.Finish(models.JobComplete, time.Now())
	case tasks.StatusError:
		job.SetErrorMessage(s.ErrorMessage())
		job.Finish(models.JobError, time.Now())
	default:
		job.Finish(models.JobCanceled, time.Now())
	}

	if err := r.repo.Update(job); err != nil {
		r.logger.Error("failed to update job", "session", shared.ShortID(s.ID), "err", err)
	}
}

// Saved records where the session's result image was written.
func (r *JobRecorder) Saved(sessionID, path string) {
	job, err := r.repo.GetBySession(sessionID)
	if err != nil {
		r.logger.Warn("no job for saved output", "session", shared.ShortID(sessionID), "err", err)
		return
	}

	job.SetOutputPath(path)
	if err := r.repo.Update(job); err != nil {
		r.logger.Error("failed to update job output", "session", shared.ShortID(sessionID), "err", err)
	}
}
