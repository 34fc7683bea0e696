// Package metrics aggregates in-flight materialization throughput and sync progress.
//
// The [Aggregator] is written to by the orchestrator (active sync slot) and by materializers (per-item bytes),
// and read by dashboards through [Aggregator.Snapshot]. A Prometheus collector exports the same snapshot.
package metrics

import (
	"sync"
	"time"
)

const (
	// OutcomeWindow is how long completed and failed outcomes count toward a snapshot.
	OutcomeWindow = time.Hour
	// minElapsed floors per-item elapsed time so a transfer that just started does not report a spike.
	minElapsed = time.Second
)

type itemProgress struct {
	startedAt     time.Time
	expectedBytes int64
	bytes         int64
}

type outcome struct {
	at     time.Time
	bytes  int64
	failed bool
}

type activeSync struct {
	sourceID    string
	status      string
	processed   int
	total       int
	startedAt   time.Time
	completedAt time.Time
}

// Snapshot is a read-only view of current throughput and sync progress.
type Snapshot struct {
	ActiveItems       int     `json:"active_items"`
	BytesPerSecond    float64 `json:"bytes_per_second"`
	AveragePercent    float64 `json:"average_percent"`
	CompletedLastHour int     `json:"completed_last_hour"`
	FailedLastHour    int     `json:"failed_last_hour"`
	BytesLastHour     int64   `json:"bytes_last_hour"`

	ActiveSyncSource    string    `json:"active_sync_source,omitempty"`
	ActiveSyncStatus    string    `json:"active_sync_status,omitempty"`
	ActiveSyncProcessed int       `json:"active_sync_processed"`
	ActiveSyncTotal     int       `json:"active_sync_total"`
	ActiveSyncPercent   float64   `json:"active_sync_percent"`
	ActiveSyncStartedAt time.Time `json:"active_sync_started_at"`

	LastSyncSource      string    `json:"last_sync_source,omitempty"`
	LastSyncStatus      string    `json:"last_sync_status,omitempty"`
	LastSyncCompletedAt time.Time `json:"last_sync_completed_at"`

	TakenAt time.Time `json:"taken_at"`
}

// Aggregator tracks per-item throughput and a single active-sync slot. It is safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	items    map[string]*itemProgress
	outcomes []outcome
	active   *activeSync
	last     *activeSync
	now      func() time.Time
}

// NewAggregator creates an empty [Aggregator].
func NewAggregator() *Aggregator {
	return &Aggregator{
		items: make(map[string]*itemProgress),
		now:   time.Now,
	}
}

// Start begins tracking an item. expectedBytes may be zero when the size is unknown.
func (a *Aggregator) Start(itemID string, expectedBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.items[itemID] = &itemProgress{startedAt: a.now(), expectedBytes: expectedBytes}
}

// Progress adds deltaBytes to an item's transferred total. Unknown items are started implicitly.
func (a *Aggregator) Progress(itemID string, deltaBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.items[itemID]
	if !ok {
		p = &itemProgress{startedAt: a.now()}
		a.items[itemID] = p
	}
	p.bytes += deltaBytes
}

// SetExpected records the expected size once it becomes known, e.g. from a Content-Length header.
func (a *Aggregator) SetExpected(itemID string, expectedBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p, ok := a.items[itemID]; ok {
		p.expectedBytes = expectedBytes
	}
}

// Complete stops tracking an item and records a successful outcome.
func (a *Aggregator) Complete(itemID string, totalBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.items, itemID)
	a.outcomes = append(a.outcomes, outcome{at: a.now(), bytes: totalBytes})
}

// Fail stops tracking an item and records a failed outcome.
func (a *Aggregator) Fail(itemID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.items, itemID)
	a.outcomes = append(a.outcomes, outcome{at: a.now(), failed: true})
}

// Reset stops tracking an item without recording an outcome.
func (a *Aggregator) Reset(itemID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.items, itemID)
}

// UpdateActiveSync overwrites the active-sync slot. The last writer wins.
func (a *Aggregator) UpdateActiveSync(sourceID, status string, processed, total int, startedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.active = &activeSync{
		sourceID:  sourceID,
		status:    status,
		processed: processed,
		total:     total,
		startedAt: startedAt,
	}
}

// CompleteSync clears the active-sync slot if it still refers to sourceID, keeping it as the last finished sync.
// It reports whether the slot was cleared; a stale completion never clobbers a newer run.
func (a *Aggregator) CompleteSync(sourceID, finalStatus string, completedAt time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil || a.active.sourceID != sourceID {
		return false
	}
	a.last = a.active
	a.last.status = finalStatus
	a.last.completedAt = completedAt
	a.active = nil
	return true
}

// Snapshot computes the current view. Outcomes older than [OutcomeWindow] are pruned.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.prune(now)

	snap := Snapshot{ActiveItems: len(a.items), TakenAt: now}

	var (
		percentSum float64
		sized      int
	)
	for _, p := range a.items {
		elapsed := now.Sub(p.startedAt)
		if elapsed < minElapsed {
			elapsed = minElapsed
		}
		snap.BytesPerSecond += float64(p.bytes) / elapsed.Seconds()

		if p.expectedBytes > 0 {
			pct := float64(p.bytes) * 100 / float64(p.expectedBytes)
			if pct > 100 {
				pct = 100
			}
			percentSum += pct
			sized++
		}
	}
	if sized > 0 {
		snap.AveragePercent = percentSum / float64(sized)
	}

	for _, o := range a.outcomes {
		if o.failed {
			snap.FailedLastHour++
		} else {
			snap.CompletedLastHour++
			snap.BytesLastHour += o.bytes
		}
	}

	if a.last != nil {
		snap.LastSyncSource = a.last.sourceID
		snap.LastSyncStatus = a.last.status
		snap.LastSyncCompletedAt = a.last.completedAt
	}

	if a.active != nil {
		snap.ActiveSyncSource = a.active.sourceID
		snap.ActiveSyncStatus = a.active.status
		snap.ActiveSyncProcessed = a.active.processed
		snap.ActiveSyncTotal = a.active.total
		snap.ActiveSyncStartedAt = a.active.startedAt
		if a.active.total > 0 {
			snap.ActiveSyncPercent = float64(a.active.processed) * 100 / float64(a.active.total)
		}
	}

	return snap
}

// prune drops outcomes outside the window. Outcomes are appended in time order.
func (a *Aggregator) prune(now time.Time) {
	cutoff := now.Add(-OutcomeWindow)
	i := 0
	for i < len(a.outcomes) && a.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		a.outcomes = append(a.outcomes[:0], a.outcomes[i:]...)
	}
}
