package tasks

import (
	"fmt"

	"github.com/desertthunder/plsync/internal/models"
)

// ProgressUpdate represents a progress event during a sync run.
//
// Every line appended to a job's log trail is mirrored as an update, so a CLI or UI can follow a run live.
type ProgressUpdate struct {
	JobID    string // Job the update belongs to
	SourceID string // Source being synchronized
	Phase    Phase  // Run phase
	Step     int    // Items processed so far
	Total    int    // Items to materialize in this run
	Message  string // Human-readable message for display
	Data     any    // Optional phase-specific data; the finished [models.Job] in PhaseFinalize
}

// Sync run phase enumeration
type Phase int

const (
	PhaseStart Phase = iota
	PhaseListCatalog
	PhaseDiff
	PhasePrune
	PhaseMaterialize
	PhaseFinalize
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseListCatalog:
		return "list_catalog"
	case PhaseDiff:
		return "diff"
	case PhasePrune:
		return "prune"
	case PhaseMaterialize:
		return "materialize"
	case PhaseFinalize:
		return "finalize"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// A full channel drops the update; the job's persisted log trail is the complete record.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func logUpdate(job *models.Job, phase Phase, message string) ProgressUpdate {
	return ProgressUpdate{
		JobID:    job.ID,
		SourceID: job.SourceID,
		Phase:    phase,
		Step:     job.Processed,
		Total:    job.Total,
		Message:  message,
	}
}

func finalUpdate(job *models.Job) ProgressUpdate {
	return ProgressUpdate{
		JobID:    job.ID,
		SourceID: job.SourceID,
		Phase:    PhaseFinalize,
		Step:     job.Processed,
		Total:    job.Total,
		Message:  fmt.Sprintf("Sync %s: %d succeeded, %d failed, %d skipped", job.Status, job.Succeeded, job.Failed, job.Skipped),
		Data:     job.Clone(),
	}
}

func itemMessage(step, total int, item *models.Item, outcome string) string {
	label := item.Title
	if item.Author != "" {
		label = item.Author + " - " + item.Title
	}
	if label == "" {
		label = item.RemoteID
	}
	return fmt.Sprintf("[%d/%d] %s %s", step, total, outcome, label)
}
