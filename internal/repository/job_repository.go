package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/etd-pipeline/internal/models"
)

// JobRepository persists pipeline job metadata.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository constructs the repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job row with generated defaults.
func (r *JobRepository) Create(ctx context.Context, job *models.PipelineJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO pipeline_jobs (id, type, params, status, result, error_message, created_at, finished_at)
VALUES (:id, :type, :params, :status, :result, :error_message, :created_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create pipeline job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.PipelineJob, error) {
	const query = `SELECT id, type, params, status, result, error_message, created_at, finished_at
FROM pipeline_jobs WHERE id = $1`
	var job models.PipelineJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get pipeline job: %w", err)
	}
	return &job, nil
}

// UpdateJobParams defines the mutable fields.
type UpdateJobParams struct {
	Status       *models.JobStatus
	Result       *models.RunSummary
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *JobRepository) Update(ctx context.Context, id string, params UpdateJobParams) error {
	set := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Result != nil {
		set = append(set, fmt.Sprintf("result = $%d", argPos))
		args = append(args, *params.Result)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}
	if params.FinishedAt != nil {
		set = append(set, fmt.Sprintf("finished_at = $%d", argPos))
		args = append(args, *params.FinishedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE pipeline_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update pipeline job: %w", err)
	}
	return nil
}

// ListQueued fetches queued jobs (used for cold start recovery).
func (r *JobRepository) ListQueued(ctx context.Context, limit int) ([]models.PipelineJob, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, type, params, status, result, error_message, created_at, finished_at
FROM pipeline_jobs WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.PipelineJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued pipeline jobs: %w", err)
	}
	return jobs, nil
}

// RequeueStale returns jobs stuck in PROCESSING since before cutoff to QUEUED,
// covering workers that died mid-job.
func (r *JobRepository) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `UPDATE pipeline_jobs SET status = 'QUEUED' WHERE status = 'PROCESSING' AND created_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale pipeline jobs: %w", err)
	}
	return res.RowsAffected()
}
