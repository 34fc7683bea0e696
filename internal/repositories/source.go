package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

const sourceColumns = `id, sequence, name, remote_id, prune_removed, min_duration_sec, max_duration_sec, target_dir,
	schedules, auto_schedule, status, last_sync_started, last_sync_completed, last_error,
	total_items, materialized_items, total_bytes, created_at, updated_at, deleted_at`

var _ models.Repository[*models.Source] = (*SourceRepository)(nil)

// SourceRepository implements models.Repository[*models.Source].
//
// Update writes configuration only. Sync state and schedules have their own write paths,
// [SourceRepository.UpdateSyncState] and [SourceRepository.UpdateSchedule], so the orchestrator
// and the scheduler never overwrite each other's fields.
type SourceRepository struct {
	db *sql.DB
}

// NewSourceRepository creates a new SourceRepository with the given database connection
func NewSourceRepository(db *sql.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create inserts a new source into the database with generated ID and sequence
func (r *SourceRepository) Create(source *models.Source) error {
	if err := source.Validate(); err != nil {
		return err
	}

	sequence, err := NextSequence(r.db, "sources")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	source.ID = shared.GenerateID()
	source.Sequence = sequence
	if source.Status == "" {
		source.Status = models.SourceIdle
	}

	schedules, err := encodeSchedules(source.Schedules)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sources (` + sourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		source.ID,
		source.Sequence,
		source.Name,
		source.RemoteID,
		source.PruneRemoved,
		source.MinDurationSec,
		source.MaxDurationSec,
		source.TargetDir,
		schedules,
		source.AutoSchedule,
		string(source.Status),
		nullTime(source.LastSyncStarted),
		nullTime(source.LastSyncCompleted),
		source.LastError,
		source.TotalItems,
		source.MaterializedItems,
		source.TotalBytes,
		source.CreatedAt.UTC(),
		source.UpdatedAt.UTC(),
		nullTime(source.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}

	return nil
}

// Get retrieves a source by ID, excluding soft-deleted sources
func (r *SourceRepository) Get(id string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = ? AND deleted_at IS NULL`

	source, err := r.scan(r.db.QueryRow(query, id))
	if err != nil {
		return nil, notFound(err, "source", id)
	}
	return source, nil
}

// Update modifies a source's configuration: name, remote id, prune policy, duration bounds and target directory.
func (r *SourceRepository) Update(source *models.Source) error {
	if err := source.Validate(); err != nil {
		return err
	}

	source.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sources
		SET name = ?, remote_id = ?, prune_removed = ?, min_duration_sec = ?, max_duration_sec = ?, target_dir = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		source.Name,
		source.RemoteID,
		source.PruneRemoved,
		source.MinDurationSec,
		source.MaxDurationSec,
		source.TargetDir,
		source.UpdatedAt,
		source.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}

	return expectRows(result, "source", source.ID)
}

// UpdateSyncState persists the orchestrator-owned fields: status, run timestamps, last error and aggregate counters.
func (r *SourceRepository) UpdateSyncState(source *models.Source) error {
	source.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sources
		SET status = ?, last_sync_started = ?, last_sync_completed = ?, last_error = ?,
			total_items = ?, materialized_items = ?, total_bytes = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		string(source.Status),
		nullTime(source.LastSyncStarted),
		nullTime(source.LastSyncCompleted),
		source.LastError,
		source.TotalItems,
		source.MaterializedItems,
		source.TotalBytes,
		source.UpdatedAt,
		source.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update source sync state: %w", err)
	}

	return expectRows(result, "source", source.ID)
}

// UpdateSchedule persists the scheduler-owned fields: the schedule list and the auto-schedule flag.
func (r *SourceRepository) UpdateSchedule(source *models.Source) error {
	schedules, err := encodeSchedules(source.Schedules)
	if err != nil {
		return err
	}

	source.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE sources
		SET schedules = ?, auto_schedule = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, schedules, source.AutoSchedule, source.UpdatedAt, source.ID)
	if err != nil {
		return fmt.Errorf("failed to update source schedule: %w", err)
	}

	return expectRows(result, "source", source.ID)
}

// Delete soft-deletes a source by ID
func (r *SourceRepository) Delete(id string) error {
	query := `
		UPDATE sources
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}

	return expectRows(result, "source", id)
}

// List retrieves all sources matching the given criteria, excluding soft-deleted sources.
//
// Supported criteria: "auto_schedule" (bool), "status" (string or []string), "remote_id" (string).
func (r *SourceRepository) List(criteria map[string]any) ([]*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE deleted_at IS NULL`
	args := []any{}

	if auto, ok := criteria["auto_schedule"].(bool); ok {
		query += " AND auto_schedule = ?"
		args = append(args, auto)
	}

	if remoteID, ok := criteria["remote_id"].(string); ok && remoteID != "" {
		query += " AND remote_id = ?"
		args = append(args, remoteID)
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

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.Source
	for rows.Next() {
		source, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sources, nil
}

func (r *SourceRepository) scan(row scanner) (*models.Source, error) {
	var (
		source            models.Source
		status            string
		schedules         string
		lastSyncStarted   sql.NullTime
		lastSyncCompleted sql.NullTime
		deletedAt         sql.NullTime
	)

	err := row.Scan(
		&source.ID, &source.Sequence, &source.Name, &source.RemoteID,
		&source.PruneRemoved, &source.MinDurationSec, &source.MaxDurationSec, &source.TargetDir,
		&schedules, &source.AutoSchedule, &status, &lastSyncStarted, &lastSyncCompleted, &source.LastError,
		&source.TotalItems, &source.MaterializedItems, &source.TotalBytes,
		&source.CreatedAt, &source.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(schedules), &source.Schedules); err != nil {
		return nil, fmt.Errorf("failed to decode schedules for source %s: %w", source.ID, err)
	}
	if source.Schedules == nil {
		source.Schedules = []string{}
	}

	source.Status = models.SourceStatus(status)
	source.LastSyncStarted = timePtr(lastSyncStarted)
	source.LastSyncCompleted = timePtr(lastSyncCompleted)
	source.DeletedAt = timePtr(deletedAt)
	source.CreatedAt = source.CreatedAt.UTC()
	source.UpdatedAt = source.UpdatedAt.UTC()

	return &source, nil
}

func encodeSchedules(schedules []string) (string, error) {
	if schedules == nil {
		schedules = []string{}
	}
	data, err := json.Marshal(schedules)
	if err != nil {
		return "", fmt.Errorf("failed to encode schedules: %w", err)
	}
	return string(data), nil
}

// inClause builds " AND column IN (?, ?)" for a non-empty value list.
func inClause(column string, values []string) (string, []any) {
	if len(values) == 0 {
		return "", nil
	}
	clause := " AND " + column + " IN ("
	args := make([]any, 0, len(values))
	for i, v := range values {
		if i > 0 {
			clause += ", "
		}
		clause += "?"
		args = append(args, v)
	}
	return clause + ")", args
}
