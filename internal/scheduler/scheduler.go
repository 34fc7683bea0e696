// Package scheduler turns cron expressions stored on sources into recurring sync triggers.
//
// Every (source, expression) pair gets one long-lived goroutine that sleeps until the next UTC occurrence,
// hands the trigger to the [Syncer] and recomputes. Missed occurrences are never replayed.
// A periodic sweep additionally starts syncs for auto-scheduled sources whose last run is stale.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

const (
	DefaultMinDelay      = time.Second
	DefaultSweepInterval = time.Minute
	DefaultStaleAfter    = time.Hour
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SourceStore is the persistence the scheduler needs. repositories.SourceRepository implements it.
type SourceStore interface {
	Get(id string) (*models.Source, error)
	List(criteria map[string]any) ([]*models.Source, error)
	UpdateSchedule(source *models.Source) error
}

// Syncer starts sync runs. tasks.Orchestrator implements it.
type Syncer interface {
	StartSync(ctx context.Context, sourceID string, trigger models.TriggerKind) (*models.Job, error)
	GetActiveJob(sourceID string) *models.Job
}

// Options configures a [Scheduler].
type Options struct {
	Sources SourceStore
	Syncer  Syncer
	Logger  *log.Logger
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// MinDelay floors the wait before a timer fires.
	MinDelay time.Duration
	// SweepInterval is how often the stale-source sweep runs. Negative disables the sweep.
	SweepInterval time.Duration
	// StaleAfter is how old a source's last sync start must be before the sweep triggers it.
	StaleAfter time.Duration
}

type timer struct {
	sourceID string
	expr     string
	schedule cron.Schedule
	stop     chan struct{}
}

// Scheduler owns the timer table. It is safe for concurrent use.
type Scheduler struct {
	sources       SourceStore
	syncer        Syncer
	logger        *log.Logger
	now           func() time.Time
	minDelay      time.Duration
	sweepInterval time.Duration
	staleAfter    time.Duration

	mu      sync.Mutex
	timers  map[string]map[string]*timer // source ID -> expression -> timer
	stopped chan struct{}
	running bool
	wg      sync.WaitGroup
}

// New creates a [Scheduler]. No timer is armed until [Scheduler.Start] or [Scheduler.ScheduleSource].
func New(opts Options) (*Scheduler, error) {
	if opts.Sources == nil || opts.Syncer == nil {
		return nil, fmt.Errorf("%w: scheduler requires a source store and a syncer", shared.ErrMissingConfig)
	}

	s := &Scheduler{
		sources:       opts.Sources,
		syncer:        opts.Syncer,
		logger:        opts.Logger,
		now:           opts.Now,
		minDelay:      opts.MinDelay,
		sweepInterval: opts.SweepInterval,
		staleAfter:    opts.StaleAfter,
		timers:        make(map[string]map[string]*timer),
		stopped:       make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = shared.NewLogger(nil)
	}
	s.logger = shared.WithLogger(s.logger, "component", "scheduler")
	if s.now == nil {
		s.now = time.Now
	}
	if s.minDelay <= 0 {
		s.minDelay = DefaultMinDelay
	}
	if s.sweepInterval == 0 {
		s.sweepInterval = DefaultSweepInterval
	}
	if s.staleAfter <= 0 {
		s.staleAfter = DefaultStaleAfter
	}
	return s, nil
}

// Parse validates a five-field cron expression (minute hour day-of-month month day-of-week).
// Time zone prefixes are rejected; every expression is evaluated in UTC.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty schedule expression", shared.ErrValidation)
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: schedule %q: time zones are not supported, expressions run in UTC", shared.ErrValidation, expr)
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %w", shared.ErrValidation, expr, err)
	}
	return schedule, nil
}

// NextOccurrence returns the first UTC occurrence of expr strictly after after.
func NextOccurrence(expr string, after time.Time) (time.Time, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(after.UTC()), nil
}

// NextOccurrence returns the next occurrence of expr from the scheduler's clock.
func (s *Scheduler) NextOccurrence(expr string) (time.Time, error) {
	return NextOccurrence(expr, s.now())
}

// ScheduleSource adds expr to the source's schedule list, enables auto-scheduling and arms a timer.
// Scheduling an expression that is already armed does not arm a second timer.
//
// Fails with [shared.ErrValidation] for a malformed expression and [shared.ErrNotFound] for an unknown source.
func (s *Scheduler) ScheduleSource(sourceID, expr string) error {
	expr = strings.TrimSpace(expr)
	schedule, err := Parse(expr)
	if err != nil {
		s.logger.Warn("rejected schedule", "source", sourceID, "error", err)
		return err
	}

	source, err := s.sources.Get(sourceID)
	if err != nil {
		return err
	}

	if !source.HasSchedule(expr) {
		source.Schedules = append(source.Schedules, expr)
	}
	source.AutoSchedule = true
	if err := s.sources.UpdateSchedule(source); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	s.arm(sourceID, expr, schedule)
	return nil
}

// RemoveSchedule disarms one expression and drops it from the source's schedule list.
// Removing the last expression disables auto-scheduling.
func (s *Scheduler) RemoveSchedule(sourceID, expr string) error {
	expr = strings.TrimSpace(expr)
	source, err := s.sources.Get(sourceID)
	if err != nil {
		return err
	}

	s.disarm(sourceID, expr)

	kept := source.Schedules[:0]
	for _, e := range source.Schedules {
		if e != expr {
			kept = append(kept, e)
		}
	}
	source.Schedules = kept
	if len(kept) == 0 {
		source.AutoSchedule = false
	}
	return s.sources.UpdateSchedule(source)
}

// UnscheduleSource disarms every timer of the source, clears its schedule list and disables auto-scheduling.
// Calling it again is a no-op that succeeds.
func (s *Scheduler) UnscheduleSource(sourceID string) error {
	source, err := s.sources.Get(sourceID)
	if err != nil {
		return err
	}

	s.disarmAll(sourceID)

	source.Schedules = []string{}
	source.AutoSchedule = false
	if err := s.sources.UpdateSchedule(source); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	s.logger.Info("source unscheduled", "source", sourceID)
	return nil
}

// GetScheduledSources returns the ids of sources with auto-scheduling on and at least one expression.
func (s *Scheduler) GetScheduledSources() ([]string, error) {
	sources, err := s.sources.List(map[string]any{"auto_schedule": true})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sources))
	for _, source := range sources {
		if source.Scheduled() {
			ids = append(ids, source.ID)
		}
	}
	return ids, nil
}

// Armed returns the expressions with a live timer for sourceID, sorted.
func (s *Scheduler) Armed(sourceID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	exprs := make([]string, 0, len(s.timers[sourceID]))
	for expr := range s.timers[sourceID] {
		exprs = append(exprs, expr)
	}
	sort.Strings(exprs)
	return exprs
}

// Start rehydrates timers for every auto-scheduled source and starts the sweep loop.
// Invalid stored expressions are logged and skipped. The sweep stops when ctx is done or on [Scheduler.Stop].
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopped = make(chan struct{})
	stopped := s.stopped
	s.mu.Unlock()

	sources, err := s.sources.List(map[string]any{"auto_schedule": true})
	if err != nil {
		return fmt.Errorf("failed to load scheduled sources: %w", err)
	}

	armed := 0
	for _, source := range sources {
		for _, expr := range source.Schedules {
			schedule, err := Parse(expr)
			if err != nil {
				s.logger.Warn("skipping stored schedule", "source", source.ID, "error", err)
				continue
			}
			s.arm(source.ID, expr, schedule)
			armed++
		}
	}
	s.logger.Info("scheduler started", "sources", len(sources), "timers", armed)

	if s.sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(ctx, stopped)
	}
	return nil
}

// Stop disarms every timer and stops the sweep. In-flight sync jobs are not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for sourceID, exprs := range s.timers {
		for _, t := range exprs {
			close(t.stop)
		}
		delete(s.timers, sourceID)
	}
	if s.running {
		close(s.stopped)
		s.running = false
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Sweep starts a sync for every auto-scheduled source that has no active job and whose last sync start
// is missing or older than the stale threshold. It returns how many syncs were started.
func (s *Scheduler) Sweep(ctx context.Context) int {
	sources, err := s.sources.List(map[string]any{"auto_schedule": true})
	if err != nil {
		s.logger.Error("sweep failed to list sources", "error", err)
		return 0
	}

	now := s.now()
	started := 0
	for _, source := range sources {
		if !source.Scheduled() || s.syncer.GetActiveJob(source.ID) != nil {
			continue
		}
		if source.LastSyncStarted != nil && now.Sub(*source.LastSyncStarted) < s.staleAfter {
			continue
		}

		if _, err := s.syncer.StartSync(context.WithoutCancel(ctx), source.ID, models.TriggerScheduled); err != nil {
			s.logger.Error("sweep failed to start sync", "source", source.ID, "error", err)
			continue
		}
		started++
	}
	if started > 0 {
		s.logger.Info("sweep triggered stale sources", "count", started)
	}
	return started
}

func (s *Scheduler) sweepLoop(ctx context.Context, stopped <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopped:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// arm starts the timer goroutine for (sourceID, expr) unless one is already live.
func (s *Scheduler) arm(sourceID, expr string, schedule cron.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exprs, ok := s.timers[sourceID]
	if !ok {
		exprs = make(map[string]*timer)
		s.timers[sourceID] = exprs
	}
	if _, ok := exprs[expr]; ok {
		return
	}

	t := &timer{sourceID: sourceID, expr: expr, schedule: schedule, stop: make(chan struct{})}
	exprs[expr] = t

	s.wg.Add(1)
	go s.loop(t)
	s.logger.Debug("timer armed", "source", sourceID, "schedule", expr)
}

func (s *Scheduler) disarm(sourceID, expr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[sourceID][expr]; ok {
		close(t.stop)
		delete(s.timers[sourceID], expr)
	}
	if len(s.timers[sourceID]) == 0 {
		delete(s.timers, sourceID)
	}
}

func (s *Scheduler) disarmAll(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers[sourceID] {
		close(t.stop)
	}
	delete(s.timers, sourceID)
}

// loop sleeps until each next occurrence and hands the trigger off, until the timer is disarmed.
func (s *Scheduler) loop(t *timer) {
	defer s.wg.Done()

	var last time.Time
	for {
		now := s.now().UTC()
		// A timer can wake a little before its target; never count the same occurrence twice.
		base := now
		if base.Before(last) {
			base = last
		}
		last = t.schedule.Next(base)
		delay := last.Sub(now)
		if delay < s.minDelay {
			delay = s.minDelay
		}

		wait := time.NewTimer(delay)
		select {
		case <-t.stop:
			wait.Stop()
			return
		case <-wait.C:
		}

		s.wg.Add(1)
		go s.fire(t.sourceID, t.expr)
	}
}

// fire triggers a scheduled sync. A source with a running job is left alone.
func (s *Scheduler) fire(sourceID, expr string) {
	defer s.wg.Done()

	if job := s.syncer.GetActiveJob(sourceID); job != nil {
		metrics.ScheduledFiresTotal.WithLabelValues("deduplicated").Inc()
		s.logger.Debug("scheduled sync skipped, job already running", "source", sourceID, "job", job.ID)
		return
	}

	job, err := s.syncer.StartSync(context.Background(), sourceID, models.TriggerScheduled)
	if err != nil {
		metrics.ScheduledFiresTotal.WithLabelValues("error").Inc()
		s.logger.Error("scheduled sync failed to start", "source", sourceID, "schedule", expr, "error", err)
		return
	}
	metrics.ScheduledFiresTotal.WithLabelValues("started").Inc()
	s.logger.Info("scheduled sync started", "source", sourceID, "schedule", expr, "job", job.ID)
}
