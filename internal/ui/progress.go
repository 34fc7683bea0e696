package ui

import (
	"context"
	"fmt"
	"io"

	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/tasks"
)

// ProgressPrinter renders sync progress updates as one line each.
type ProgressPrinter struct {
	w       io.Writer
	palette *Palette
}

func NewProgressPrinter(w io.Writer, palette *Palette) *ProgressPrinter {
	if palette == nil {
		palette = Styles
	}
	return &ProgressPrinter{w: w, palette: palette}
}

// Print writes a single update, prefixed with its phase.
func (p *ProgressPrinter) Print(update tasks.ProgressUpdate) {
	phase := p.palette.Help(fmt.Sprintf("%-12s", update.Phase))
	if update.Phase == tasks.PhaseFinalize {
		if job, ok := update.Data.(*models.Job); ok {
			fmt.Fprintf(p.w, "%s %s %s\n", phase, p.palette.Status(string(job.Status)), update.Message)
			return
		}
	}
	fmt.Fprintf(p.w, "%s %s\n", phase, update.Message)
}

// Follow prints updates for jobID until its final update arrives and returns the finished job.
//
// Updates for other jobs are ignored. It returns ctx.Err() if ctx ends first and
// nil, nil if updates is closed before the job finishes.
func (p *ProgressPrinter) Follow(ctx context.Context, updates <-chan tasks.ProgressUpdate, jobID string) (*models.Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil, nil
			}
			if update.JobID != jobID {
				continue
			}
			p.Print(update)
			if update.Phase == tasks.PhaseFinalize {
				job, _ := update.Data.(*models.Job)
				return job, nil
			}
		}
	}
}

// Drain prints whatever updates for jobID are already buffered in updates, without blocking.
func (p *ProgressPrinter) Drain(updates <-chan tasks.ProgressUpdate, jobID string) {
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.JobID == jobID {
				p.Print(update)
			}
		default:
			return
		}
	}
}
