package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

const jobColumns = `id, sequence, source_id, trigger_kind, status, started_at, completed_at, duration_ms,
	total, processed, succeeded, failed, skipped, logs, error, created_at, updated_at, deleted_at`

var _ models.Repository[*models.Job] = (*JobRepository)(nil)

// JobRepository implements models.Repository[*models.Job] for sync run history.
//
// The log trail is stored as a JSON array in the logs column.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new JobRepository with the given database connection
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job with generated ID and sequence
func (r *JobRepository) Create(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	sequence, err := NextSequence(r.db, "jobs")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	job.ID = shared.GenerateID()
	job.Sequence = sequence

	logs, err := encodeLogs(job.Logs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		job.ID,
		job.Sequence,
		job.SourceID,
		string(job.Trigger),
		string(job.Status),
		job.StartedAt.UTC(),
		nullTime(job.CompletedAt),
		job.Duration.Milliseconds(),
		job.Total,
		job.Processed,
		job.Succeeded,
		job.Failed,
		job.Skipped,
		logs,
		job.Error,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
		nullTime(job.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	return nil
}

// Get retrieves a job by ID, excluding soft-deleted jobs
func (r *JobRepository) Get(id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ? AND deleted_at IS NULL`

	job, err := r.scan(r.db.QueryRow(query, id))
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return job, nil
}

// Update persists a job's status, timing, counts, log trail and error text
func (r *JobRepository) Update(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	logs, err := encodeLogs(job.Logs)
	if err != nil {
		return err
	}

	job.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE jobs
		SET status = ?, completed_at = ?, duration_ms = ?, total = ?, processed = ?, succeeded = ?,
			failed = ?, skipped = ?, logs = ?, error = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		string(job.Status),
		nullTime(job.CompletedAt),
		job.Duration.Milliseconds(),
		job.Total,
		job.Processed,
		job.Succeeded,
		job.Failed,
		job.Skipped,
		logs,
		job.Error,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return expectRows(result, "job", job.ID)
}

// Delete soft-deletes a job by ID
func (r *JobRepository) Delete(id string) error {
	query := `
		UPDATE jobs
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	return expectRows(result, "job", id)
}

// List retrieves jobs matching the given criteria, most recent first.
//
// Supported criteria: "source_id" (string), "status" (string or []string), "limit" (int, zero means no limit).
func (r *JobRepository) List(criteria map[string]any) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE deleted_at IS NULL`
	args := []any{}

	if sourceID, ok := criteria["source_id"].(string); ok && sourceID != "" {
		query += " AND source_id = ?"
		args = append(args, sourceID)
	}

	switch status := criteria["status"].(type) {
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	case []string:
		clause, statusArgs := inClause("status", status)
		query += clause
		args = append(args, statusArgs...)
	}

	query += " ORDER BY started_at DESC, sequence DESC"

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
		job, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return jobs, nil
}

func (r *JobRepository) scan(row scanner) (*models.Job, error) {
	var (
		job         models.Job
		trigger     string
		status      string
		completedAt sql.NullTime
		durationMS  int64
		logs        string
		deletedAt   sql.NullTime
	)

	err := row.Scan(
		&job.ID, &job.Sequence, &job.SourceID, &trigger, &status, &job.StartedAt, &completedAt, &durationMS,
		&job.Total, &job.Processed, &job.Succeeded, &job.Failed, &job.Skipped,
		&logs, &job.Error, &job.CreatedAt, &job.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(logs), &job.Logs); err != nil {
		return nil, fmt.Errorf("failed to decode logs for job %s: %w", job.ID, err)
	}
	if job.Logs == nil {
		job.Logs = []models.LogEntry{}
	}

	job.Trigger = models.TriggerKind(trigger)
	job.Status = models.JobStatus(status)
	job.Duration = time.Duration(durationMS) * time.Millisecond
	job.StartedAt = job.StartedAt.UTC()
	job.CompletedAt = timePtr(completedAt)
	job.DeletedAt = timePtr(deletedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()

	return &job, nil
}

func encodeLogs(logs []models.LogEntry) (string, error) {
	if logs == nil {
		logs = []models.LogEntry{}
	}
	data, err := json.Marshal(logs)
	if err != nil {
		return "", fmt.Errorf("failed to encode job logs: %w", err)
	}
	return string(data), nil
}
