package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parleyhq/parley-api/internal/models"
)

// SQLiteJobRepository implements JobRepository using SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

// Create enqueues a job.
func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, chat_session_id, type, status, attempts, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.UserID, job.ChatSessionID, string(job.Type), string(job.Status), job.Attempts,
		job.ErrorMessage, job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID loads a job by ID.
func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_session_id, type, status, attempts, error_message, started_at, completed_at, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	return job, err
}

// ClaimPending atomically claims the oldest pending job. The single UPDATE
// guards against two workers claiming the same row.
func (r *SQLiteJobRepository) ClaimPending(ctx context.Context) (*models.Job, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var id string
	err := r.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, id ASC LIMIT 1
		)
		RETURNING id
	`, now, now).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return r.GetByID(ctx, id)
}

// Update persists job state changes.
func (r *SQLiteJobRepository) Update(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()

	var startedAt, completedAt any
	if job.StartedAt != nil {
		startedAt = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, attempts = ?, error_message = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`, string(job.Status), job.Attempts, job.ErrorMessage, startedAt, completedAt,
		job.UpdatedAt.Format(time.RFC3339), job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// MarkStaleRunningFailed fails running jobs older than maxAge.
func (r *SQLiteJobRepository) MarkStaleRunningFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	now := time.Now().UTC().Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = 'stale job abandoned', completed_at = ?, updated_at = ?
		WHERE status = 'running' AND started_at < ?
	`, now, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// scanJob reads a job row from either a Row or Rows scanner.
func scanJob(row interface{ Scan(dest ...any) error }) (*models.Job, error) {
	var (
		job         models.Job
		jobType     string
		status      string
		errMsg      sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&job.ID, &job.UserID, &job.ChatSessionID, &jobType, &status, &job.Attempts,
		&errMsg, &startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.Type = models.JobType(jobType)
	job.Status = models.JobStatus(status)
	job.ErrorMessage = errMsg.String
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &job, nil
}
