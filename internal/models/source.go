package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
)

// Source is a configured playlist kept synchronized with a remote catalog.
//
// Sync state (status, timestamps, counters, last error) is written only by the orchestrator.
// Schedules and AutoSchedule are written only by the scheduler.
type Source struct {
	ID       string
	Sequence int
	Name     string
	RemoteID string

	// PruneRemoved deletes local items that disappear from the remote listing.
	PruneRemoved bool
	// Duration bounds in seconds; zero leaves that side unbounded.
	MinDurationSec int
	MaxDurationSec int
	// TargetDir is where artifacts are written, relative to the library root.
	TargetDir string

	Schedules    []string
	AutoSchedule bool

	Status            SourceStatus
	LastSyncStarted   *time.Time
	LastSyncCompleted *time.Time
	LastError         string

	TotalItems        int
	MaterializedItems int
	TotalBytes        int64

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// NewSource creates a new idle [Source] with the given name and remote catalog identifier.
func NewSource(name, remoteID string) *Source {
	now := time.Now().UTC()
	return &Source{
		Name:      name,
		RemoteID:  remoteID,
		Status:    SourceIdle,
		Schedules: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Source) Identifier() string { return s.ID }

// Validate checks required fields and that the duration filter is well formed.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: source name is required", shared.ErrValidation)
	}
	if strings.TrimSpace(s.RemoteID) == "" {
		return fmt.Errorf("%w: source remote id is required", shared.ErrValidation)
	}
	if s.MinDurationSec < 0 || s.MaxDurationSec < 0 {
		return fmt.Errorf("%w: duration bounds cannot be negative", shared.ErrValidation)
	}
	if s.MaxDurationSec > 0 && s.MaxDurationSec < s.MinDurationSec {
		return fmt.Errorf("%w: max duration %ds is below min duration %ds", shared.ErrValidation, s.MaxDurationSec, s.MinDurationSec)
	}
	return nil
}

// Includes reports whether a remote item of the given duration passes the source's inclusion filter.
func (s *Source) Includes(durationSec int) bool {
	if s.MinDurationSec > 0 && durationSec < s.MinDurationSec {
		return false
	}
	if s.MaxDurationSec > 0 && durationSec > s.MaxDurationSec {
		return false
	}
	return true
}

// HasSchedule reports whether expr is already in the schedule list.
func (s *Source) HasSchedule(expr string) bool {
	for _, e := range s.Schedules {
		if e == expr {
			return true
		}
	}
	return false
}

// Scheduled reports whether the scheduler should arm timers for this source.
func (s *Source) Scheduled() bool {
	return s.AutoSchedule && len(s.Schedules) > 0
}

// ArtifactDir returns the directory artifacts for this source are written to.
func (s *Source) ArtifactDir() string {
	if s.TargetDir != "" {
		return s.TargetDir
	}
	return s.ID
}

// Transition moves the source to a new sync status, or returns [shared.ErrInvalidTransition] and leaves it unchanged.
func (s *Source) Transition(to SourceStatus) error {
	if !CanTransitionSource(s.Status, to) {
		return fmt.Errorf("%w: source %s cannot move from %s to %s", shared.ErrInvalidTransition, s.ID, s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}
