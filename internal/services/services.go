// package services defines the collaborator interfaces the sync orchestrator depends on
// and HTTP implementations that talk to a catalog proxy.
package services

import (
	"context"

	"github.com/desertthunder/plsync/internal/models"
)

// RemoteItem is one entry of a remote catalog listing.
type RemoteItem struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	DurationSeconds int    `json:"duration_seconds"`
	ThumbnailURL    string `json:"thumbnail_url"`
}

// Catalog lists the current remote items of a source.
type Catalog interface {
	// ListItems returns every item currently in the remote source.
	// Failures (network, auth, unknown source) are returned as errors and fail the run.
	ListItems(ctx context.Context, remoteSourceID string) ([]RemoteItem, error)
}

// Progress is reported by a [Materializer] as it moves through the stages of one item.
type Progress struct {
	Stage    models.ItemStatus
	Bytes    int64
	Expected int64
}

// ProgressFunc receives [Progress] updates. It may be nil.
type ProgressFunc func(Progress)

// Artifact is the local result of materializing one item.
type Artifact struct {
	Path string
	Size int64
}

// Materializer fetches and stores one item locally.
//
// Implementations must be safe for concurrent use and report byte-level progress to the metrics aggregator themselves.
// Returning an error wrapping shared.ErrItemSkipped marks the item as skipped instead of failed.
type Materializer interface {
	Materialize(ctx context.Context, item *models.Item, targetDir string, progress ProgressFunc) (*Artifact, error)
}
