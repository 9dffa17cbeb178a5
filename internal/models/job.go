package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/upscaler/internal/shared"
)

// JobStatus is the lifecycle state of a recorded upscale.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobError      JobStatus = "error"
	JobCanceled   JobStatus = "canceled"
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobProcessing, JobComplete, JobError, JobCanceled:
		return true
	}
	return false
}

// Finished reports whether s is a terminal status.
func (s JobStatus) Finished() bool {
	return s == JobComplete || s == JobError || s == JobCanceled
}

// Job is the history row for a single upscale session.
type Job struct {
	id             string
	sequence       int
	sessionID      string
	inputName      string
	scale          int
	denoise        float64
	creativity     float64
	useML          bool
	status         JobStatus
	method         string
	originalWidth  int
	originalHeight int
	upscaledWidth  int
	upscaledHeight int
	outputPath     string
	errorMessage   string
	startedAt      time.Time
	completedAt    *time.Time
	createdAt      time.Time
	updatedAt      time.Time
	deletedAt      *time.Time
}

// NewJob creates a processing job for the given session and input.
func NewJob(sequence int, sessionID, inputName string, scale int, denoise, creativity float64, useML bool) *Job {
	now := time.Now()
	return &Job{
		sequence:   sequence,
		sessionID:  sessionID,
		inputName:  inputName,
		scale:      scale,
		denoise:    denoise,
		creativity: creativity,
		useML:      useML,
		status:     JobProcessing,
		startedAt:  now,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (j *Job) ID() string              { return j.id }
func (j *Job) Sequence() int           { return j.sequence }
func (j *Job) SessionID() string       { return j.sessionID }
func (j *Job) InputName() string       { return j.inputName }
func (j *Job) Scale() int              { return j.scale }
func (j *Job) Denoise() float64        { return j.denoise }
func (j *Job) Creativity() float64     { return j.creativity }
func (j *Job) UseML() bool             { return j.useML }
func (j *Job) Status() JobStatus       { return j.status }
func (j *Job) Method() string          { return j.method }
func (j *Job) OutputPath() string      { return j.outputPath }
func (j *Job) ErrorMessage() string    { return j.errorMessage }
func (j *Job) StartedAt() time.Time    { return j.startedAt }
func (j *Job) CompletedAt() *time.Time { return j.completedAt }
func (j *Job) CreatedAt() time.Time    { return j.createdAt }
func (j *Job) UpdatedAt() time.Time    { return j.updatedAt }
func (j *Job) DeletedAt() *time.Time   { return j.deletedAt }

// OriginalSize returns the input dimensions reported by the server.
func (j *Job) OriginalSize() (int, int) { return j.originalWidth, j.originalHeight }

// UpscaledSize returns the output dimensions reported by the server.
func (j *Job) UpscaledSize() (int, int) { return j.upscaledWidth, j.upscaledHeight }

// Duration is the time between start and completion, or zero while processing.
func (j *Job) Duration() time.Duration {
	if j.completedAt == nil {
		return 0
	}
	return j.completedAt.Sub(j.startedAt)
}

func (j *Job) SetID(id string)             { j.id = id }
func (j *Job) SetSequence(sequence int)    { j.sequence = sequence }
func (j *Job) SetStatus(status JobStatus)  { j.status = status }
func (j *Job) SetMethod(method string)     { j.method = method }
func (j *Job) SetOutputPath(path string)   { j.outputPath = path }
func (j *Job) SetErrorMessage(msg string)  { j.errorMessage = msg }
func (j *Job) SetStartedAt(t time.Time)    { j.startedAt = t }
func (j *Job) SetCompletedAt(t *time.Time) { j.completedAt = t }
func (j *Job) SetCreatedAt(t time.Time)    { j.createdAt = t }
func (j *Job) SetUpdatedAt(t time.Time)    { j.updatedAt = t }
func (j *Job) SetDeletedAt(t *time.Time)   { j.deletedAt = t }

func (j *Job) SetOriginalSize(width, height int) {
	j.originalWidth, j.originalHeight = width, height
}

func (j *Job) SetUpscaledSize(width, height int) {
	j.upscaledWidth, j.upscaledHeight = width, height
}

// Finish moves the job to a terminal status and stamps its completion time.
func (j *Job) Finish(status JobStatus, at time.Time) {
	j.status = status
	j.completedAt = &at
	j.updatedAt = at
}

// Validate checks required fields and value ranges.
func (j *Job) Validate() error {
	if j.id == "" {
		return fmt.Errorf("%w: job id is required", shared.ErrInvalidInput)
	}
	if j.sessionID == "" {
		return fmt.Errorf("%w: session id is required", shared.ErrInvalidInput)
	}
	if j.inputName == "" {
		return fmt.Errorf("%w: input name is required", shared.ErrInvalidInput)
	}
	if j.scale < 1 || j.scale > 4 {
		return fmt.Errorf("%w: scale %d out of range", shared.ErrInvalidInput, j.scale)
	}
	if !j.status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidInput, j.status)
	}
	if j.completedAt != nil && j.completedAt.Before(j.startedAt) {
		return fmt.Errorf("%w: job completed before it started", shared.ErrInvalidInput)
	}
	return nil
}
