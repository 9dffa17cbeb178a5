package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/shared"
)

const jobColumns = `
	id, sequence, session_id, input_name, scale, denoise, creativity, use_ml,
	status, method, original_width, original_height, upscaled_width,
	upscaled_height, output_path, error_message, started_at, completed_at,
	created_at, updated_at, deleted_at
`

var _ models.Repository[*models.Job] = (*JobRepository)(nil)

// JobRepository implements models.Repository[*models.Job] for upscale history.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job with generated ID and sequence
func (r *JobRepository) Create(job *models.Job) error {
	sequence, err := NextSequence(r.db, "jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	job.SetID(shared.GenerateID())
	job.SetSequence(sequence)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	ow, oh := job.OriginalSize()
	uw, uh := job.UpscaledSize()

	query := `INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query,
		job.ID(),
		sequence,
		job.SessionID(),
		job.InputName(),
		job.Scale(),
		job.Denoise(),
		job.Creativity(),
		job.UseML(),
		string(job.Status()),
		nullString(job.Method()),
		ow, oh, uw, uh,
		nullString(job.OutputPath()),
		nullString(job.ErrorMessage()),
		job.StartedAt(),
		job.CompletedAt(),
		job.CreatedAt(),
		job.UpdatedAt(),
		job.DeletedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// Get retrieves a job by ID, excluding soft-deleted jobs
func (r *JobRepository) Get(id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ? AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetBySession retrieves the job recorded for a controller session ID
func (r *JobRepository) GetBySession(sessionID string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE session_id = ? AND deleted_at IS NULL ORDER BY sequence DESC LIMIT 1`
	return r.scanOne(r.db.QueryRow(query, sessionID))
}

// Update writes the mutable fields of an existing job
func (r *JobRepository) Update(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	job.SetUpdatedAt(now)

	ow, oh := job.OriginalSize()
	uw, uh := job.UpscaledSize()

	query := `
		UPDATE jobs
		SET status = ?, method = ?, original_width = ?, original_height = ?,
			upscaled_width = ?, upscaled_height = ?, output_path = ?,
			error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		string(job.Status()),
		nullString(job.Method()),
		ow, oh, uw, uh,
		nullString(job.OutputPath()),
		nullString(job.ErrorMessage()),
		job.CompletedAt(),
		now,
		job.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return r.expectRow(result, job.ID())
}

// Delete soft-deletes a job by ID
func (r *JobRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE jobs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return r.expectRow(result, id)
}

// List retrieves jobs matching the given criteria, newest first.
//
// Supported criteria: "status" (string or [models.JobStatus]), "session_id" (string) and "limit" (int).
func (r *JobRepository) List(criteria map[string]any) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE deleted_at IS NULL`
	args := []any{}

	switch status := criteria["status"].(type) {
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	case models.JobStatus:
		if status != "" {
			query += " AND status = ?"
			args = append(args, string(status))
		}
	}

	if sessionID, ok := criteria["session_id"].(string); ok && sessionID != "" {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return jobs, nil
}

// Recent returns the latest jobs regardless of status
func (r *JobRepository) Recent(limit int) ([]*models.Job, error) {
	return r.List(map[string]any{"limit": limit})
}

func (r *JobRepository) expectRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrJobNotFound, id)
	}
	return nil
}

// scanOne scans a single [sql.Row] into a [models.Job]
func (r *JobRepository) scanOne(row *sql.Row) (*models.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrJobNotFound
	}
	return job, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.Job, error) {
	var (
		id             string
		sequence       int
		sessionID      string
		inputName      string
		scale          int
		denoise        float64
		creativity     float64
		useML          bool
		status         string
		method         sql.NullString
		originalWidth  int
		originalHeight int
		upscaledWidth  int
		upscaledHeight int
		outputPath     sql.NullString
		errorMessage   sql.NullString
		startedAt      time.Time
		completedAt    sql.NullTime
		createdAt      time.Time
		updatedAt      time.Time
		deletedAt      sql.NullTime
	)

	err := s.Scan(
		&id, &sequence, &sessionID, &inputName, &scale, &denoise, &creativity, &useML,
		&status, &method, &originalWidth, &originalHeight, &upscaledWidth,
		&upscaledHeight, &outputPath, &errorMessage, &startedAt, &completedAt,
		&createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job := models.NewJob(sequence, sessionID, inputName, scale, denoise, creativity, useML)
	job.SetID(id)
	job.SetStatus(models.JobStatus(status))
	job.SetMethod(method.String)
	job.SetOriginalSize(originalWidth, originalHeight)
	job.SetUpscaledSize(upscaledWidth, upscaledHeight)
	job.SetOutputPath(outputPath.String)
	job.SetErrorMessage(errorMessage.String)
	job.SetStartedAt(startedAt)
	job.SetCreatedAt(createdAt)
	job.SetUpdatedAt(updatedAt)

	if completedAt.Valid {
		job.SetCompletedAt(&completedAt.Time)
	}
	if deletedAt.Valid {
		job.SetDeletedAt(&deletedAt.Time)
	}

	return job, nil
}
