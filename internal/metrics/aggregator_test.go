package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestAggregator() (*Aggregator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	agg := NewAggregator()
	agg.now = clock.Now
	return agg, clock
}

func TestActiveSyncPercent(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		want      float64
	}{
		{name: "empty run", processed: 0, total: 0, want: 0},
		{name: "not started", processed: 0, total: 4, want: 0},
		{name: "partial", processed: 3, total: 7, want: 300.0 / 7.0},
		{name: "done", processed: 5, total: 5, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, clock := newTestAggregator()
			agg.UpdateActiveSync("src", "downloading", tt.processed, tt.total, clock.Now())

			snap := agg.Snapshot()
			assert.Equal(t, tt.processed, snap.ActiveSyncProcessed)
			assert.Equal(t, tt.total, snap.ActiveSyncTotal)
			assert.InDelta(t, tt.want, snap.ActiveSyncPercent, 1e-9)
		})
	}
}

func TestCompleteSync(t *testing.T) {
	t.Run("clears matching slot", func(t *testing.T) {
		agg, clock := newTestAggregator()
		agg.UpdateActiveSync("a", "syncing", 0, 0, clock.Now())

		require.True(t, agg.CompleteSync("a", "completed", clock.Now()))

		snap := agg.Snapshot()
		assert.Empty(t, snap.ActiveSyncSource)
		assert.Equal(t, "a", snap.LastSyncSource)
		assert.Equal(t, "completed", snap.LastSyncStatus)
	})

	t.Run("stale completion does not clobber newer run", func(t *testing.T) {
		agg, clock := newTestAggregator()
		agg.UpdateActiveSync("a", "downloading", 1, 2, clock.Now())
		agg.UpdateActiveSync("b", "syncing", 0, 9, clock.Now())

		assert.False(t, agg.CompleteSync("a", "completed", clock.Now()))

		snap := agg.Snapshot()
		assert.Equal(t, "b", snap.ActiveSyncSource)
		assert.Equal(t, 9, snap.ActiveSyncTotal)
	})

	t.Run("no active sync", func(t *testing.T) {
		agg, clock := newTestAggregator()
		assert.False(t, agg.CompleteSync("a", "failed", clock.Now()))
	})
}

func TestThroughput(t *testing.T) {
	t.Run("elapsed floor", func(t *testing.T) {
		agg, _ := newTestAggregator()
		agg.Start("item", 0)
		agg.Progress("item", 500)

		snap := agg.Snapshot()
		assert.Equal(t, 1, snap.ActiveItems)
		assert.InDelta(t, 500, snap.BytesPerSecond, 1e-9)
	})

	t.Run("sums across items", func(t *testing.T) {
		agg, clock := newTestAggregator()
		agg.Start("a", 0)
		agg.Start("b", 0)
		clock.Advance(10 * time.Second)
		agg.Progress("a", 1000)
		agg.Progress("b", 500)

		assert.InDelta(t, 150, agg.Snapshot().BytesPerSecond, 1e-9)
	})

	t.Run("average percent ignores unsized items", func(t *testing.T) {
		agg, _ := newTestAggregator()
		agg.Start("sized", 1000)
		agg.Start("unsized", 0)
		agg.Progress("sized", 250)
		agg.Progress("unsized", 9999)

		assert.InDelta(t, 25, agg.Snapshot().AveragePercent, 1e-9)
	})

	t.Run("expected size learned late", func(t *testing.T) {
		agg, _ := newTestAggregator()
		agg.Start("item", 0)
		agg.SetExpected("item", 200)
		agg.Progress("item", 100)

		assert.InDelta(t, 50, agg.Snapshot().AveragePercent, 1e-9)
	})

	t.Run("reset drops without outcome", func(t *testing.T) {
		agg, _ := newTestAggregator()
		agg.Start("item", 10)
		agg.Reset("item")

		snap := agg.Snapshot()
		assert.Zero(t, snap.ActiveItems)
		assert.Zero(t, snap.CompletedLastHour)
		assert.Zero(t, snap.FailedLastHour)
	})
}

func TestOutcomeWindow(t *testing.T) {
	agg, clock := newTestAggregator()

	agg.Start("old", 0)
	agg.Complete("old", 100)
	agg.Start("old-fail", 0)
	agg.Fail("old-fail")

	clock.Advance(OutcomeWindow + time.Minute)

	agg.Start("new", 0)
	agg.Complete("new", 40)

	snap := agg.Snapshot()
	assert.Equal(t, 1, snap.CompletedLastHour)
	assert.Zero(t, snap.FailedLastHour)
	assert.Equal(t, int64(40), snap.BytesLastHour)
	assert.Zero(t, snap.ActiveItems)
}

func TestAggregatorConcurrentUse(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("item-%d", i)
			agg.Start(id, 1000)
			for range 10 {
				agg.Progress(id, 100)
				_ = agg.Snapshot()
			}
			if i%2 == 0 {
				agg.Complete(id, 1000)
			} else {
				agg.Fail(id)
			}
			agg.UpdateActiveSync("src", "downloading", i, 16, time.Now())
		}(i)
	}
	wg.Wait()

	snap := agg.Snapshot()
	assert.Zero(t, snap.ActiveItems)
	assert.Equal(t, 8, snap.CompletedLastHour)
	assert.Equal(t, 8, snap.FailedLastHour)
	assert.Equal(t, "src", snap.ActiveSyncSource)
}

func TestCollector(t *testing.T) {
	agg, clock := newTestAggregator()
	collector := NewCollector(agg)

	assert.Equal(t, 5, testutil.CollectAndCount(collector))

	agg.UpdateActiveSync("src", "downloading", 1, 4, clock.Now())
	assert.Equal(t, 8, testutil.CollectAndCount(collector))
	assert.Equal(t, 1, testutil.CollectAndCount(collector, "plsync_active_sync_percent"))
}
