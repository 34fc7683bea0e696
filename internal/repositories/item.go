package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

const itemColumns = `id, sequence, source_id, remote_id, title, author, duration_sec, thumbnail_url,
	status, local_path, size_bytes, error, created_at, updated_at`

var _ models.Repository[*models.Item] = (*ItemRepository)(nil)

// ItemRepository implements models.Repository[*models.Item].
//
// Items are unique per (source_id, remote_id) and are hard deleted.
type ItemRepository struct {
	db *sql.DB
}

// NewItemRepository creates a new ItemRepository with the given database connection
func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a new item with generated ID and sequence.
// Inserting a second item with the same remote id for a source fails on the unique constraint.
func (r *ItemRepository) Create(item *models.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	sequence, err := NextSequence(r.db, "items")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	item.ID = shared.GenerateID()
	item.Sequence = sequence

	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		item.ID,
		item.Sequence,
		item.SourceID,
		item.RemoteID,
		item.Title,
		item.Author,
		item.DurationSec,
		item.ThumbnailURL,
		string(item.Status),
		item.LocalPath,
		item.SizeBytes,
		item.Error,
		item.CreatedAt.UTC(),
		item.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", item.RemoteID, err)
	}

	return nil
}

// Get retrieves an item by ID
func (r *ItemRepository) Get(id string) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ?`

	item, err := r.scan(r.db.QueryRow(query, id))
	if err != nil {
		return nil, notFound(err, "item", id)
	}
	return item, nil
}

// GetByRemoteID retrieves the item a source holds for a remote identifier
func (r *ItemRepository) GetByRemoteID(sourceID, remoteID string) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE source_id = ? AND remote_id = ?`

	item, err := r.scan(r.db.QueryRow(query, sourceID, remoteID))
	if err != nil {
		return nil, notFound(err, "item", sourceID+"/"+remoteID)
	}
	return item, nil
}

// Update modifies an item's metadata and materialization state
func (r *ItemRepository) Update(item *models.Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	item.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE items
		SET title = ?, author = ?, duration_sec = ?, thumbnail_url = ?,
			status = ?, local_path = ?, size_bytes = ?, error = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		item.Title,
		item.Author,
		item.DurationSec,
		item.ThumbnailURL,
		string(item.Status),
		item.LocalPath,
		item.SizeBytes,
		item.Error,
		item.UpdatedAt,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	return expectRows(result, "item", item.ID)
}

// Delete removes an item row by ID
func (r *ItemRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	return expectRows(result, "item", id)
}

// List retrieves items matching the given criteria, in creation order.
//
// Supported criteria: "source_id" (string), "status" (string or []string), "remote_id" (string).
func (r *ItemRepository) List(criteria map[string]any) ([]*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1 = 1`
	args := []any{}

	if sourceID, ok := criteria["source_id"].(string); ok && sourceID != "" {
		query += " AND source_id = ?"
		args = append(args, sourceID)
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
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return items, nil
}

// ListBySource returns every item owned by sourceID.
func (r *ItemRepository) ListBySource(sourceID string) ([]*models.Item, error) {
	return r.List(map[string]any{"source_id": sourceID})
}

func (r *ItemRepository) scan(row scanner) (*models.Item, error) {
	var (
		item   models.Item
		status string
	)

	err := row.Scan(
		&item.ID, &item.Sequence, &item.SourceID, &item.RemoteID,
		&item.Title, &item.Author, &item.DurationSec, &item.ThumbnailURL,
		&status, &item.LocalPath, &item.SizeBytes, &item.Error,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = models.ItemStatus(status)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()

	return &item, nil
}
