package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/plsync/internal/formatter"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

// SourceAdd creates a source and arms any schedules passed with --schedule.
func (r *Runner) SourceAdd(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	source := models.NewSource(cmd.String("name"), cmd.String("remote"))
	source.TargetDir = cmd.String("target-dir")
	source.MinDurationSec = int(cmd.Int("min-duration"))
	source.MaxDurationSec = int(cmd.Int("max-duration"))
	source.PruneRemoved = cmd.Bool("prune")

	if err := r.sources.Create(source); err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	r.logger.Info("source created", "id", source.ID, "remote", source.RemoteID)

	for _, expr := range cmd.StringSlice("schedule") {
		if err := r.scheduler.ScheduleSource(source.ID, expr); err != nil {
			return fmt.Errorf("source %s created but schedule %q was rejected: %w", source.ID, expr, err)
		}
	}

	source, err := r.sources.Get(source.ID)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(source, true)
	}
	r.writePlain("%s Source added: %s (%s)\n", r.palette.OK("✓"), source.Name, source.ID)
	for _, expr := range source.Schedules {
		r.writePlain("  schedule: %s\n", expr)
	}
	return nil
}

// SourceList prints every source with its sync state.
func (r *Runner) SourceList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	sources, err := r.sources.List(nil)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		if sources == nil {
			sources = []*models.Source{}
		}
		return r.writeJSON(sources, true)
	}

	if len(sources) == 0 {
		r.writePlain("No sources. Add one with: plsync source add --name NAME --remote ID\n")
		return nil
	}

	r.writePlainHeader(fmt.Sprintf("Sources (%d)", len(sources)))
	for _, source := range sources {
		r.writePlain("%s  %-24s %s  %d/%d items  %s\n",
			source.ID, source.Name, r.palette.Status(string(source.Status)),
			source.MaterializedItems, source.TotalItems, formatter.FormatBytes(source.TotalBytes))
		if len(source.Schedules) > 0 {
			r.writePlain("    schedules: %v\n", source.Schedules)
		}
		if source.LastError != "" {
			r.writePlain("    %s\n", r.palette.Err(source.LastError))
		}
	}
	return nil
}

// SourceShow prints one source and, with --items, its item listing as CSV.
func (r *Runner) SourceShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: source id", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	source, err := r.sources.Get(id)
	if err != nil {
		return err
	}
	items, err := r.items.ListBySource(id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{"source": source, "items": items}, true)
	}
	if cmd.Bool("items") {
		data, err := formatter.ItemsToCSV(items)
		if err != nil {
			return err
		}
		return r.writePlain("%s", data)
	}

	r.writePlainHeader(source.Name)
	r.writePlain("ID:        %s\n", source.ID)
	r.writePlain("Remote:    %s\n", source.RemoteID)
	r.writePlain("Status:    %s\n", r.palette.Status(string(source.Status)))
	r.writePlain("Directory: %s\n", source.ArtifactDir())
	r.writePlain("Items:     %d/%d materialized (%s)\n", source.MaterializedItems, source.TotalItems, formatter.FormatBytes(source.TotalBytes))
	if len(source.Schedules) > 0 {
		r.writePlain("Schedules: %v (auto=%v)\n", source.Schedules, source.AutoSchedule)
	}
	if source.LastError != "" {
		r.writePlain("Error:     %s\n", r.palette.Err(source.LastError))
	}

	counts := map[models.ItemStatus]int{}
	for _, item := range items {
		counts[item.Status]++
	}
	r.writePlain("\n%d completed, %d pending, %d error, %d skipped\n",
		counts[models.ItemCompleted], counts[models.ItemPending], counts[models.ItemError], counts[models.ItemSkipped])
	return nil
}

// SourceRemove unschedules and soft-deletes a source. A running job is cancelled first.
func (r *Runner) SourceRemove(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: source id", shared.ErrMissingArgument)
	}
	if err := r.open(); err != nil {
		return err
	}

	if err := r.scheduler.UnscheduleSource(id); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if job := r.orchestrator.GetActiveJob(id); job != nil {
		if _, err := r.orchestrator.CancelSync(job.ID); err != nil {
			return err
		}
	}
	if err := r.sources.Delete(id); err != nil {
		return err
	}

	r.writePlain("%s Source removed: %s\n", r.palette.OK("✓"), id)
	return nil
}
