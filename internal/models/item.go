package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
)

// Item is one remote entry belonging to exactly one [Source].
// RemoteID is unique within its source.
type Item struct {
	ID           string
	Sequence     int
	SourceID     string
	RemoteID     string
	Title        string
	Author       string
	DurationSec  int
	ThumbnailURL string

	Status    ItemStatus
	LocalPath string
	SizeBytes int64
	Error     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItem creates a pending [Item] owned by sourceID.
func NewItem(sourceID, remoteID, title, author string, durationSec int) *Item {
	now := time.Now().UTC()
	return &Item{
		SourceID:    sourceID,
		RemoteID:    remoteID,
		Title:       title,
		Author:      author,
		DurationSec: durationSec,
		Status:      ItemPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (i *Item) Identifier() string { return i.ID }

func (i *Item) Validate() error {
	if i.SourceID == "" {
		return fmt.Errorf("%w: item source id is required", shared.ErrValidation)
	}
	if i.RemoteID == "" {
		return fmt.Errorf("%w: item remote id is required", shared.ErrValidation)
	}
	if i.Status == "" {
		return fmt.Errorf("%w: item status is required", shared.ErrValidation)
	}
	return nil
}

// Transition moves the item to the given status, rejecting moves outside the item state machine.
func (i *Item) Transition(to ItemStatus) error {
	if !CanTransitionItem(i.Status, to) {
		return fmt.Errorf("%w: item %s cannot move from %s to %s", shared.ErrInvalidTransition, i.RemoteID, i.Status, to)
	}
	i.Status = to
	i.UpdatedAt = time.Now().UTC()
	return nil
}
