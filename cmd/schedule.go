package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/plsync/internal/scheduler"
	"github.com/desertthunder/plsync/internal/shared"
)

// ScheduleAdd adds a cron expression to a source.
//
// A running daemon arms timers for stored schedules when it starts; its sweep covers sources that fall behind until then.
func (r *Runner) ScheduleAdd(ctx context.Context, cmd *cli.Command) error {
	sourceID, expr := cmd.StringArg("source"), cmd.StringArg("expr")
	if sourceID == "" || expr == "" {
		return fmt.Errorf("%w: source id and cron expression", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	if err := r.scheduler.ScheduleSource(sourceID, expr); err != nil {
		return err
	}
	next, err := r.scheduler.NextOccurrence(expr)
	if err != nil {
		return err
	}
	r.writePlain("%s Scheduled %s on %q, next run %s\n", r.palette.OK("✓"), sourceID, expr, next.Format(time.RFC3339))
	return nil
}

// ScheduleRemove removes one cron expression from a source.
func (r *Runner) ScheduleRemove(ctx context.Context, cmd *cli.Command) error {
	sourceID, expr := cmd.StringArg("source"), cmd.StringArg("expr")
	if sourceID == "" || expr == "" {
		return fmt.Errorf("%w: source id and cron expression", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	if err := r.scheduler.RemoveSchedule(sourceID, expr); err != nil {
		return err
	}
	r.writePlain("%s Removed %q from %s\n", r.palette.OK("✓"), expr, sourceID)
	return nil
}

// ScheduleClear removes every schedule from a source.
func (r *Runner) ScheduleClear(ctx context.Context, cmd *cli.Command) error {
	sourceID := cmd.StringArg("source")
	if sourceID == "" {
		return fmt.Errorf("%w: source id", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	if err := r.scheduler.UnscheduleSource(sourceID); err != nil {
		return err
	}
	r.writePlain("%s Unscheduled %s\n", r.palette.OK("✓"), sourceID)
	return nil
}

type scheduleEntry struct {
	SourceID   string    `json:"source_id"`
	Name       string    `json:"name"`
	Expression string    `json:"expression"`
	Next       time.Time `json:"next"`
}

// ScheduleList prints every scheduled source with the next occurrence of each expression.
func (r *Runner) ScheduleList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	ids, err := r.scheduler.GetScheduledSources()
	if err != nil {
		return err
	}

	entries := []scheduleEntry{}
	for _, id := range ids {
		source, err := r.sources.Get(id)
		if err != nil {
			return err
		}
		for _, expr := range source.Schedules {
			next, err := r.scheduler.NextOccurrence(expr)
			if err != nil {
				r.logger.Warn("invalid stored schedule", "source", id, "expr", expr, "error", err)
				continue
			}
			entries = append(entries, scheduleEntry{SourceID: id, Name: source.Name, Expression: expr, Next: next})
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(entries, true)
	}
	if len(entries) == 0 {
		r.writePlain("No scheduled sources.\n")
		return nil
	}

	r.writePlainHeader("Schedules")
	for _, e := range entries {
		r.writePlain("%s  %-24s %-16s next %s\n", e.SourceID, e.Name, e.Expression, e.Next.Format(time.RFC3339))
	}
	return nil
}

// ScheduleNext prints the next --count occurrences of an expression, in UTC.
func (r *Runner) ScheduleNext(ctx context.Context, cmd *cli.Command) error {
	expr := cmd.StringArg("expr")
	if expr == "" {
		return fmt.Errorf("%w: cron expression", shared.ErrMissingArgument)
	}

	count := int(cmd.Int("count"))
	if count < 1 {
		count = 1
	}

	after := time.Now().UTC()
	for range count {
		next, err := scheduler.NextOccurrence(expr, after)
		if err != nil {
			return err
		}
		r.writePlain("%s\n", next.Format(time.RFC3339))
		after = next
	}
	return nil
}
