package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"

	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/services"
	"github.com/desertthunder/plsync/internal/shared"
)

// DefaultMaxParallel is the number of concurrent materializer calls per run when none is configured.
const DefaultMaxParallel = 3

// SourceStore is the persistence the orchestrator needs for sources.
// repositories.SourceRepository implements it.
type SourceStore interface {
	Get(id string) (*models.Source, error)
	List(criteria map[string]any) ([]*models.Source, error)
	UpdateSyncState(source *models.Source) error
}

// ItemStore is the persistence the orchestrator needs for items.
type ItemStore interface {
	Create(item *models.Item) error
	Update(item *models.Item) error
	Delete(id string) error
	List(criteria map[string]any) ([]*models.Item, error)
}

// JobStore is the persistence the orchestrator needs for jobs.
type JobStore interface {
	Create(job *models.Job) error
	Get(id string) (*models.Job, error)
	Update(job *models.Job) error
	List(criteria map[string]any) ([]*models.Job, error)
}

// Options configures an [Orchestrator].
type Options struct {
	Sources      SourceStore
	Items        ItemStore
	Jobs         JobStore
	Catalog      services.Catalog
	Materializer services.Materializer
	Metrics      *metrics.Aggregator
	// Artifacts is the filesystem pruned artifacts are deleted from. Nil skips artifact deletion.
	Artifacts billy.Filesystem
	Logger    *log.Logger
	// MaxParallel bounds concurrent materializer calls within one run. Defaults to [DefaultMaxParallel].
	MaxParallel int
	// Progress receives a non-blocking copy of every job log line. May be nil.
	Progress chan<- ProgressUpdate
}

// activeRun is a registry entry: the live job and its cancellation handle.
//
// mu guards job and cancelled. Once cancelled is set the run body stops writing the job and the source.
type activeRun struct {
	mu        sync.Mutex
	job       *models.Job
	sourceID  string
	cancel    context.CancelFunc
	cancelled bool
}

// Orchestrator runs sync jobs: at most one active job per source, each in its own goroutine.
type Orchestrator struct {
	sources      SourceStore
	items        ItemStore
	jobs         JobStore
	catalog      services.Catalog
	materializer services.Materializer
	metrics      *metrics.Aggregator
	artifacts    billy.Filesystem
	logger       *log.Logger
	maxParallel  int
	progress     chan<- ProgressUpdate

	mu     sync.Mutex
	active map[string]*activeRun // keyed by job ID
	wg     sync.WaitGroup
}

// NewOrchestrator creates an [Orchestrator]. Stores, catalog and materializer are required.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Sources == nil || opts.Items == nil || opts.Jobs == nil {
		return nil, fmt.Errorf("%w: orchestrator requires source, item and job stores", shared.ErrMissingConfig)
	}
	if opts.Catalog == nil || opts.Materializer == nil {
		return nil, fmt.Errorf("%w: orchestrator requires a catalog and a materializer", shared.ErrMissingConfig)
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	agg := opts.Metrics
	if agg == nil {
		agg = metrics.NewAggregator()
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}

	return &Orchestrator{
		sources:      opts.Sources,
		items:        opts.Items,
		jobs:         opts.Jobs,
		catalog:      opts.Catalog,
		materializer: opts.Materializer,
		metrics:      agg,
		artifacts:    opts.Artifacts,
		logger:       shared.WithLogger(logger, "component", "orchestrator"),
		maxParallel:  maxParallel,
		progress:     opts.Progress,
		active:       make(map[string]*activeRun),
	}, nil
}

// StartSync starts a sync run for sourceID and returns its job without waiting for the run.
//
// If the source already has a running job, that job is returned and nothing new starts.
// The run's context derives from ctx, so cancelling ctx also cancels the run; callers should pass a context that
// outlives the call (not an HTTP request context). Fails with [shared.ErrNotFound] for an unknown source.
func (o *Orchestrator) StartSync(ctx context.Context, sourceID string, trigger models.TriggerKind) (*models.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if run := o.findLocked(sourceID); run != nil {
		run.mu.Lock()
		defer run.mu.Unlock()
		return run.job.Clone(), nil
	}

	source, err := o.sources.Get(sourceID)
	if err != nil {
		return nil, err
	}

	// A busy status with no registered run was left behind by a process that died mid-run.
	if source.Status.Busy() {
		source.Status = models.SourceIdle
	}
	if err := source.Transition(models.SourceSyncing); err != nil {
		return nil, err
	}

	job := models.NewJob(sourceID, trigger)
	if err := o.jobs.Create(job); err != nil {
		return nil, fmt.Errorf("%w: create job: %w", shared.ErrCollaboratorFailure, err)
	}
	if err := job.Transition(models.JobRunning); err != nil {
		return nil, err
	}
	job.AppendLog("Sync queued (%s trigger)", trigger)
	if err := o.jobs.Update(job); err != nil {
		err = fmt.Errorf("%w: start job: %w", shared.ErrCollaboratorFailure, err)
		o.abortStart(job, err)
		return nil, err
	}

	now := time.Now().UTC()
	source.LastError = ""
	source.LastSyncStarted = &now
	if err := o.sources.UpdateSyncState(source); err != nil {
		err = fmt.Errorf("%w: mark source syncing: %w", shared.ErrCollaboratorFailure, err)
		o.abortStart(job, err)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{job: job, sourceID: sourceID, cancel: cancel}
	o.active[job.ID] = run
	o.metrics.UpdateActiveSync(sourceID, string(source.Status), 0, 0, job.StartedAt)

	snapshot := job.Clone()

	o.logger.Info("sync started", "source", sourceID, "job", job.ID, "trigger", trigger)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(runCtx, run, source)
	}()

	return snapshot, nil
}

// CancelSync cancels a job. It reports whether a live or non-terminal job was found.
//
// A live run is removed from the registry immediately, so a new StartSync for the same source is not blocked,
// and its record moves to Cancelled with the source back to Idle. A non-terminal record with no live run
// (left over from a previous process) is cancelled the same way. Unknown and terminal jobs report false,
// as does a run that reached its final state before the cancel took hold.
func (o *Orchestrator) CancelSync(jobID string) (bool, error) {
	o.mu.Lock()
	run, ok := o.active[jobID]
	delete(o.active, jobID)
	o.mu.Unlock()

	if ok {
		run.cancel()

		run.mu.Lock()
		defer run.mu.Unlock()

		run.cancelled = true
		if run.job.Status.Terminal() {
			// The run finished before the cancel got in; its final state stands.
			return false, nil
		}
		o.cancelJob(run.job, "Sync cancelled by request")
		o.resetSource(run.sourceID)
		o.logger.Info("sync cancelled", "source", run.sourceID, "job", jobID)
		return true, nil
	}

	job, err := o.jobs.Get(jobID)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if job.Status.Terminal() {
		return false, nil
	}

	o.cancelJob(job, "Sync cancelled by request (no live run)")
	if o.findActive(job.SourceID) == nil {
		o.resetSource(job.SourceID)
	}
	return true, nil
}

// CancelAll cancels every live run. Used on shutdown.
func (o *Orchestrator) CancelAll() int {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	n := 0
	for _, id := range ids {
		if ok, _ := o.CancelSync(id); ok {
			n++
		}
	}
	return n
}

// GetActiveJob returns a copy of the running job for sourceID, or nil if the source is idle.
func (o *Orchestrator) GetActiveJob(sourceID string) *models.Job {
	run := o.findActive(sourceID)
	if run == nil {
		return nil
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.job.Clone()
}

// ActiveJobs returns copies of every running job.
func (o *Orchestrator) ActiveJobs() []*models.Job {
	o.mu.Lock()
	runs := make([]*activeRun, 0, len(o.active))
	for _, run := range o.active {
		runs = append(runs, run)
	}
	o.mu.Unlock()

	jobs := make([]*models.Job, 0, len(runs))
	for _, run := range runs {
		run.mu.Lock()
		jobs = append(jobs, run.job.Clone())
		run.mu.Unlock()
	}
	return jobs
}

// GetHistory returns persisted jobs for sourceID, most recent first, at most limit (zero means all).
func (o *Orchestrator) GetHistory(sourceID string, limit int) ([]*models.Job, error) {
	if _, err := o.sources.Get(sourceID); err != nil {
		return nil, err
	}
	return o.jobs.List(map[string]any{"source_id": sourceID, "limit": limit})
}

// RecoverOrphans cancels job records left Pending or Running by a previous process and resets their sources to Idle.
// Call it at startup, before any run starts. It returns the number of jobs recovered.
func (o *Orchestrator) RecoverOrphans() (int, error) {
	orphans, err := o.jobs.List(map[string]any{
		"status": []string{string(models.JobPending), string(models.JobRunning)},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished jobs: %w", err)
	}

	recovered := 0
	for _, job := range orphans {
		if o.isLive(job.ID) {
			continue
		}
		o.cancelJob(job, "Sync cancelled: process restarted before the run finished")
		recovered++
	}

	busy, err := o.sources.List(map[string]any{
		"status": []string{string(models.SourceSyncing), string(models.SourceDownloading)},
	})
	if err != nil {
		return recovered, fmt.Errorf("failed to list busy sources: %w", err)
	}
	for _, source := range busy {
		if o.findActive(source.ID) != nil {
			continue
		}
		if err := source.Transition(models.SourceIdle); err != nil {
			o.logger.Error("failed to reset orphaned source", "source", source.ID, "error", err)
			continue
		}
		if err := o.sources.UpdateSyncState(source); err != nil {
			o.logger.Error("failed to reset orphaned source", "source", source.ID, "error", err)
		}
	}

	if recovered > 0 {
		o.logger.Warn("recovered orphaned jobs", "count", recovered)
	}
	return recovered, nil
}

// Wait blocks until every background run has returned or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MaxParallel returns the per-run materializer concurrency.
func (o *Orchestrator) MaxParallel() int {
	return o.maxParallel
}

func (o *Orchestrator) findLocked(sourceID string) *activeRun {
	for _, run := range o.active {
		if run.sourceID == sourceID {
			return run
		}
	}
	return nil
}

func (o *Orchestrator) findActive(sourceID string) *activeRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.findLocked(sourceID)
}

func (o *Orchestrator) isLive(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[jobID]
	return ok
}

// cancelJob moves a non-terminal job to Cancelled and persists it.
func (o *Orchestrator) cancelJob(job *models.Job, message string) {
	if err := job.Transition(models.JobCancelled); err != nil {
		o.logger.Error("failed to cancel job", "job", job.ID, "error", err)
		return
	}
	entry := job.AppendLog("%s", message)
	if err := o.jobs.Update(job); err != nil {
		o.logger.Error("failed to persist cancelled job", "job", job.ID, "error", err)
	}
	observeTerminal(job)
	sendProgress(o.progress, logUpdate(job, PhaseFinalize, entry.Message))
	sendProgress(o.progress, finalUpdate(job))
}

// abortStart fails a job whose start could not be persisted, so no Running record outlives the error.
func (o *Orchestrator) abortStart(job *models.Job, cause error) {
	if err := job.Transition(models.JobFailed); err != nil {
		o.logger.Error("failed to abort job", "job", job.ID, "error", err)
		return
	}
	job.Error = cause.Error()
	job.AppendLog("Sync failed to start: %s", cause)
	if err := o.jobs.Update(job); err != nil {
		o.logger.Error("failed to persist aborted job", "job", job.ID, "error", err)
	}
	observeTerminal(job)
	o.logger.Error("sync failed to start", "source", job.SourceID, "job", job.ID, "error", cause)
}

// resetSource sets a busy source back to Idle after a cancellation. Sources in any other state are left alone.
func (o *Orchestrator) resetSource(sourceID string) {
	source, err := o.sources.Get(sourceID)
	if err != nil {
		o.logger.Error("failed to load source for reset", "source", sourceID, "error", err)
		return
	}
	if !source.Status.Busy() {
		return
	}
	if err := source.Transition(models.SourceIdle); err != nil {
		o.logger.Error("failed to reset source", "source", sourceID, "error", err)
		return
	}
	if err := o.sources.UpdateSyncState(source); err != nil {
		o.logger.Error("failed to reset source", "source", sourceID, "error", err)
	}
}

func observeTerminal(job *models.Job) {
	metrics.SyncJobsTotal.WithLabelValues(string(job.Trigger), string(job.Status)).Inc()
	metrics.SyncDuration.Observe(job.Duration.Seconds())
}
