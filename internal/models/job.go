package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/plsync/internal/shared"
)

// LogEntry is one timestamped line of a job's log trail.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Job is the execution record of one sync run against a [Source].
//
// A job is created Pending, moves to Running once persisted and ends in Completed, Failed or Cancelled.
// Terminal jobs are immutable.
type Job struct {
	ID       string
	Sequence int
	SourceID string
	Trigger  TriggerKind
	Status   JobStatus

	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    time.Duration

	Total     int
	Processed int
	Succeeded int
	Failed    int
	Skipped   int

	Logs  []LogEntry
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// NewJob creates a pending [Job] for sourceID.
func NewJob(sourceID string, trigger TriggerKind) *Job {
	now := time.Now().UTC()
	return &Job{
		SourceID:  sourceID,
		Trigger:   trigger,
		Status:    JobPending,
		StartedAt: now,
		Logs:      []LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) Identifier() string { return j.ID }

func (j *Job) Validate() error {
	if j.SourceID == "" {
		return fmt.Errorf("%w: job source id is required", shared.ErrValidation)
	}
	if !j.Trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger %q", shared.ErrValidation, j.Trigger)
	}
	if j.Status == "" {
		return fmt.Errorf("%w: job status is required", shared.ErrValidation)
	}
	return nil
}

// Transition moves the job to the given status. Entering a terminal status stamps the completion time and duration.
func (j *Job) Transition(to JobStatus) error {
	if !CanTransitionJob(j.Status, to) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s", shared.ErrInvalidTransition, j.ID, j.Status, to)
	}

	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if to.Terminal() {
		j.CompletedAt = &now
		j.Duration = now.Sub(j.StartedAt)
	}
	return nil
}

// AppendLog adds a timestamped line to the job's log trail.
func (j *Job) AppendLog(format string, args ...any) LogEntry {
	entry := LogEntry{At: time.Now().UTC(), Message: fmt.Sprintf(format, args...)}
	j.Logs = append(j.Logs, entry)
	return entry
}

// Clone returns a deep copy safe to hand to callers while the run keeps mutating the original.
func (j *Job) Clone() *Job {
	c := *j
	c.Logs = append([]LogEntry(nil), j.Logs...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.DeletedAt != nil {
		t := *j.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}
