package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
)

// run is the background unit of work started by StartSync.
func (o *Orchestrator) run(ctx context.Context, r *activeRun, source *models.Source) {
	logger := shared.WithLogger(o.logger, "source", source.ID, "job", r.job.ID)
	defer o.release(r)

	err := safeExecute(func() error {
		return o.execute(ctx, r, source, logger)
	})
	o.finalize(ctx, r, source, err, logger)
}

// safeExecute converts a panic in fn into a collaborator failure so the run still finalizes.
func safeExecute(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic during sync: %v", shared.ErrCollaboratorFailure, p)
		}
	}()
	return fn()
}

func (o *Orchestrator) execute(ctx context.Context, r *activeRun, source *models.Source, logger *log.Logger) error {
	if err := o.logf(r, PhaseStart, logger, "Sync started for %q", source.Name); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return shared.ErrCancelled
	}
	remote, err := o.catalog.ListItems(ctx, source.RemoteID)
	if err != nil {
		if ctx.Err() != nil {
			return shared.ErrCancelled
		}
		return fmt.Errorf("%w: list catalog %s: %w", shared.ErrCollaboratorFailure, source.RemoteID, err)
	}

	wanted, order := filterRemote(source, remote)
	if err := o.logf(r, PhaseListCatalog, logger, "Catalog returned %d items, %d pass filters", len(remote), len(order)); err != nil {
		return err
	}

	local, err := o.items.List(map[string]any{"source_id": source.ID})
	if err != nil {
		return fmt.Errorf("%w: load items: %w", shared.ErrCollaboratorFailure, err)
	}
	existing := make(map[string]*models.Item, len(local))
	for _, item := range local {
		existing[item.RemoteID] = item
	}

	created := 0
	for _, id := range order {
		if _, ok := existing[id]; ok {
			continue
		}
		ri := wanted[id]
		item := models.NewItem(source.ID, ri.ID, ri.Title, ri.Author, ri.DurationSeconds)
		item.ThumbnailURL = ri.ThumbnailURL
		if err := o.items.Create(item); err != nil {
			return fmt.Errorf("%w: create item %s: %w", shared.ErrCollaboratorFailure, ri.ID, err)
		}
		existing[id] = item
		created++
	}
	if err := o.logf(r, PhaseDiff, logger, "Found %d new items", created); err != nil {
		return err
	}

	if source.PruneRemoved {
		pruned, err := o.prune(r, source, existing, wanted, logger)
		if err != nil {
			return err
		}
		if err := o.logf(r, PhasePrune, logger, "Pruned %d removed items", pruned); err != nil {
			return err
		}
	}

	candidates := make([]*models.Item, 0, len(order))
	for _, id := range order {
		if item := existing[id]; item.Status.Candidate() {
			candidates = append(candidates, item)
		}
	}

	if ctx.Err() != nil {
		return shared.ErrCancelled
	}

	if err := source.Transition(models.SourceDownloading); err != nil {
		return err
	}
	if err := o.persistSource(r, source); err != nil {
		return err
	}

	r.mu.Lock()
	r.job.Total = len(candidates)
	r.mu.Unlock()
	o.metrics.UpdateActiveSync(source.ID, string(source.Status), 0, len(candidates), r.job.StartedAt)

	if err := o.logf(r, PhaseMaterialize, logger, "Materializing %d items (max %d in parallel)", len(candidates), o.maxParallel); err != nil {
		return err
	}

	if err := o.materializeAll(ctx, r, source, candidates, logger); err != nil {
		return err
	}

	return o.refreshCounters(source)
}

// filterRemote applies the source's inclusion filter and drops duplicate ids, keeping listing order.
func filterRemote(source *models.Source, remote []services.RemoteItem) (map[string]services.RemoteItem, []string) {
	wanted := make(map[string]services.RemoteItem, len(remote))
	order := make([]string, 0, len(remote))
	for _, ri := range remote {
		if ri.ID == "" || !source.Includes(ri.DurationSeconds) {
			continue
		}
		if _, dup := wanted[ri.ID]; dup {
			continue
		}
		wanted[ri.ID] = ri
		order = append(order, ri.ID)
	}
	return wanted, order
}

// prune deletes local items missing from the filtered listing. Artifact deletion is best-effort.
func (o *Orchestrator) prune(
	r *activeRun,
	source *models.Source,
	existing map[string]*models.Item,
	wanted map[string]services.RemoteItem,
	logger *log.Logger,
) (int, error) {
	pruned := 0
	for remoteID, item := range existing {
		if _, ok := wanted[remoteID]; ok {
			continue
		}

		if o.artifacts != nil && item.LocalPath != "" {
			if err := services.RemoveArtifact(o.artifacts, item.LocalPath); err != nil {
				o.logf(r, PhasePrune, logger, "Failed to delete artifact %s: %v", item.LocalPath, err)
			}
		}
		if err := o.items.Delete(item.ID); err != nil {
			return pruned, fmt.Errorf("%w: delete item %s: %w", shared.ErrCollaboratorFailure, remoteID, err)
		}
		delete(existing, remoteID)
		pruned++
	}
	return pruned, nil
}

// materializeAll fans candidates out to the materializer, at most maxParallel at a time.
// No new item starts once ctx is cancelled; items already in flight are allowed to finish.
func (o *Orchestrator) materializeAll(
	ctx context.Context,
	r *activeRun,
	source *models.Source,
	candidates []*models.Item,
	logger *log.Logger,
) error {
	sem := semaphore.NewWeighted(int64(o.maxParallel))
	var wg sync.WaitGroup

	for _, item := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(item *models.Item) {
			defer wg.Done()
			defer sem.Release(1)
			o.materializeItem(ctx, r, source, item, len(candidates), logger)
		}(item)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return shared.ErrCancelled
	}
	return nil
}

// materializeItem runs one materializer call and records its outcome on the item, the job and the metrics.
func (o *Orchestrator) materializeItem(
	ctx context.Context,
	r *activeRun,
	source *models.Source,
	item *models.Item,
	total int,
	logger *log.Logger,
) {
	defer func() {
		if p := recover(); p != nil {
			o.recordOutcome(r, source, item, total, fmt.Errorf("%w: panic: %v", shared.ErrCollaboratorFailure, p), logger)
		}
	}()

	if err := item.Transition(models.ItemFetching); err != nil {
		logger.Error("item not materializable", "item", item.RemoteID, "error", err)
		return
	}
	item.Error = ""
	if err := o.items.Update(item); err != nil {
		logger.Error("failed to persist item", "item", item.RemoteID, "error", err)
	}

	var stageMu sync.Mutex
	onProgress := func(p services.Progress) {
		stageMu.Lock()
		defer stageMu.Unlock()

		if p.Stage == "" || p.Stage == item.Status {
			return
		}
		if item.Transition(p.Stage) != nil {
			return
		}
		if err := o.items.Update(item); err != nil {
			logger.Error("failed to persist item stage", "item", item.RemoteID, "error", err)
		}
	}

	artifact, err := o.materializer.Materialize(ctx, item, source.ArtifactDir(), onProgress)

	stageMu.Lock()
	defer stageMu.Unlock()

	if err != nil && ctx.Err() != nil && !errors.Is(err, shared.ErrItemSkipped) {
		err = fmt.Errorf("%w: %w", shared.ErrCancelled, err)
	}
	if err == nil && artifact == nil {
		err = fmt.Errorf("%w: materializer returned no artifact", shared.ErrCollaboratorFailure)
	}
	if err == nil {
		item.LocalPath = artifact.Path
		item.SizeBytes = artifact.Size
	}
	o.recordOutcome(r, source, item, total, err, logger)
}

// recordOutcome moves the item to its final status for this run and updates job counters.
// A call interrupted by cancellation returns the item to Pending and is not counted.
func (o *Orchestrator) recordOutcome(
	r *activeRun,
	source *models.Source,
	item *models.Item,
	total int,
	err error,
	logger *log.Logger,
) {
	var (
		status  models.ItemStatus
		outcome string
	)
	switch {
	case err == nil:
		status, outcome = models.ItemCompleted, "Materialized"
		item.Error = ""
	case errors.Is(err, shared.ErrItemSkipped):
		status, outcome = models.ItemSkipped, "Skipped"
		item.Error = err.Error()
	case errors.Is(err, shared.ErrCancelled) || errors.Is(err, context.Canceled):
		status = models.ItemPending
	default:
		status, outcome = models.ItemError, "Failed"
		item.Error = err.Error()
	}

	if item.Status != status {
		if terr := item.Transition(status); terr != nil {
			logger.Error("invalid item transition", "item", item.RemoteID, "error", terr)
			item.Status = status
		}
	}
	if uerr := o.items.Update(item); uerr != nil {
		logger.Error("failed to persist item outcome", "item", item.RemoteID, "error", uerr)
	}

	if status == models.ItemPending {
		return
	}
	metrics.ItemsMaterializedTotal.WithLabelValues(string(status)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return
	}

	r.job.Processed++
	switch status {
	case models.ItemCompleted:
		r.job.Succeeded++
	case models.ItemSkipped:
		r.job.Skipped++
	case models.ItemError:
		r.job.Failed++
	}

	message := itemMessage(r.job.Processed, total, item, outcome)
	if status == models.ItemError || status == models.ItemSkipped {
		message += ": " + item.Error
	}
	r.job.AppendLog("%s", message)
	if uerr := o.jobs.Update(r.job); uerr != nil {
		logger.Error("failed to persist job progress", "error", uerr)
	}

	o.metrics.UpdateActiveSync(source.ID, string(models.SourceDownloading), r.job.Processed, total, r.job.StartedAt)
	sendProgress(o.progress, logUpdate(r.job, PhaseMaterialize, message))

	if status == models.ItemError {
		logger.Warn("item failed", "item", item.RemoteID, "error", item.Error)
	} else {
		logger.Debug(message)
	}
}

// refreshCounters recomputes source aggregates from the full item set.
func (o *Orchestrator) refreshCounters(source *models.Source) error {
	items, err := o.items.List(map[string]any{"source_id": source.ID})
	if err != nil {
		return fmt.Errorf("%w: load items: %w", shared.ErrCollaboratorFailure, err)
	}

	source.TotalItems = len(items)
	source.MaterializedItems = 0
	source.TotalBytes = 0
	for _, item := range items {
		if item.Status == models.ItemCompleted {
			source.MaterializedItems++
			source.TotalBytes += item.SizeBytes
		}
	}
	return nil
}

// finalize moves the job and the source to their terminal state. Cancellation wins over failure.
// It does nothing when CancelSync already finalized the job.
func (o *Orchestrator) finalize(ctx context.Context, r *activeRun, source *models.Source, runErr error, logger *log.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return
	}

	now := time.Now().UTC()
	cancelled := ctx.Err() != nil || errors.Is(runErr, shared.ErrCancelled)

	var (
		message string
		next    models.SourceStatus
	)
	switch {
	case cancelled:
		r.job.Transition(models.JobCancelled)
		next = models.SourceIdle
		message = "Sync cancelled"
	case runErr != nil:
		r.job.Transition(models.JobFailed)
		r.job.Error = runErr.Error()
		next = models.SourceError
		source.LastError = runErr.Error()
		source.LastSyncCompleted = &now
		message = "Sync failed: " + runErr.Error()
	default:
		r.job.Transition(models.JobCompleted)
		next = models.SourceCompleted
		source.LastError = ""
		source.LastSyncCompleted = &now
		message = fmt.Sprintf("Sync completed: %d succeeded, %d failed, %d skipped", r.job.Succeeded, r.job.Failed, r.job.Skipped)
	}
	if err := source.Transition(next); err != nil {
		logger.Error("unexpected source state at finalize", "error", err)
	}

	if runErr != nil {
		if err := o.refreshCounters(source); err != nil {
			logger.Error("failed to refresh source counters", "error", err)
		}
	}

	r.job.AppendLog("%s", message)
	if err := o.jobs.Update(r.job); err != nil {
		logger.Error("failed to persist finished job", "error", err)
	}
	if err := o.sources.UpdateSyncState(source); err != nil {
		logger.Error("failed to persist source state", "error", err)
	}

	observeTerminal(r.job)
	sendProgress(o.progress, logUpdate(r.job, PhaseFinalize, message))
	sendProgress(o.progress, finalUpdate(r.job))

	switch r.job.Status {
	case models.JobFailed:
		logger.Error("sync failed", "error", runErr, "duration", r.job.Duration)
	default:
		logger.Info("sync finished", "status", r.job.Status, "processed", r.job.Processed, "duration", r.job.Duration)
	}
}

// release always runs last: it clears the metrics slot and the registry entry and frees the context.
func (o *Orchestrator) release(r *activeRun) {
	r.mu.Lock()
	status := r.job.Status
	r.mu.Unlock()

	o.metrics.CompleteSync(r.sourceID, string(status), time.Now().UTC())

	o.mu.Lock()
	if o.active[r.job.ID] == r {
		delete(o.active, r.job.ID)
	}
	o.mu.Unlock()

	r.cancel()
}

// logf appends a line to the job's trail, persists the job and mirrors the line as a progress update.
// It returns [shared.ErrCancelled] once the job was cancelled out from under the run.
func (o *Orchestrator) logf(r *activeRun, phase Phase, logger *log.Logger, format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return shared.ErrCancelled
	}

	entry := r.job.AppendLog(format, args...)
	if err := o.jobs.Update(r.job); err != nil {
		return fmt.Errorf("%w: persist job: %w", shared.ErrCollaboratorFailure, err)
	}
	logger.Info(entry.Message, "phase", phase)
	sendProgress(o.progress, logUpdate(r.job, phase, entry.Message))
	return nil
}

// persistSource writes sync state unless the run was cancelled.
func (o *Orchestrator) persistSource(r *activeRun, source *models.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled {
		return shared.ErrCancelled
	}
	if err := o.sources.UpdateSyncState(source); err != nil {
		return fmt.Errorf("%w: persist source: %w", shared.ErrCollaboratorFailure, err)
	}
	return nil
}
