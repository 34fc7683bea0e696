package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for sync runs
var (
	// SyncJobsTotal counts finished jobs by trigger and terminal status.
	SyncJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plsync_jobs_total",
		Help: "Total number of finished sync jobs",
	}, []string{"trigger", "status"})

	// ItemsMaterializedTotal counts per-item outcomes: completed, error or skipped.
	ItemsMaterializedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plsync_items_materialized_total",
		Help: "Total number of item materialization outcomes",
	}, []string{"outcome"})

	// SyncDuration measures wall time of sync runs.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plsync_sync_duration_seconds",
		Help:    "Sync run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// ScheduledFiresTotal counts scheduler-triggered sync attempts by outcome: started, deduplicated or error.
	ScheduledFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plsync_scheduler_fires_total",
		Help: "Total number of scheduler-triggered sync attempts",
	}, []string{"outcome"})
)

// Collector exports an [Aggregator] snapshot as gauges on every scrape.
type Collector struct {
	agg *Aggregator

	activeItems     *prometheus.Desc
	bytesPerSecond  *prometheus.Desc
	averagePercent  *prometheus.Desc
	completedWindow *prometheus.Desc
	failedWindow    *prometheus.Desc
	syncProcessed   *prometheus.Desc
	syncTotal       *prometheus.Desc
	syncPercent     *prometheus.Desc
}

// NewCollector creates a [Collector] reading from agg. Register it with a [prometheus.Registerer].
func NewCollector(agg *Aggregator) *Collector {
	return &Collector{
		agg:             agg,
		activeItems:     prometheus.NewDesc("plsync_active_items", "Items currently being materialized", nil, nil),
		bytesPerSecond:  prometheus.NewDesc("plsync_bytes_per_second", "Aggregate materialization throughput", nil, nil),
		averagePercent:  prometheus.NewDesc("plsync_average_item_percent", "Average completion of items with a known size", nil, nil),
		completedWindow: prometheus.NewDesc("plsync_items_completed_last_hour", "Items completed in the trailing hour", nil, nil),
		failedWindow:    prometheus.NewDesc("plsync_items_failed_last_hour", "Items failed in the trailing hour", nil, nil),
		syncProcessed:   prometheus.NewDesc("plsync_active_sync_processed", "Items processed by the active sync", []string{"source"}, nil),
		syncTotal:       prometheus.NewDesc("plsync_active_sync_total", "Items queued by the active sync", []string{"source"}, nil),
		syncPercent:     prometheus.NewDesc("plsync_active_sync_percent", "Completion of the active sync", []string{"source"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeItems
	ch <- c.bytesPerSecond
	ch <- c.averagePercent
	ch <- c.completedWindow
	ch <- c.failedWindow
	ch <- c.syncProcessed
	ch <- c.syncTotal
	ch <- c.syncPercent
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.activeItems, prometheus.GaugeValue, float64(snap.ActiveItems))
	ch <- prometheus.MustNewConstMetric(c.bytesPerSecond, prometheus.GaugeValue, snap.BytesPerSecond)
	ch <- prometheus.MustNewConstMetric(c.averagePercent, prometheus.GaugeValue, snap.AveragePercent)
	ch <- prometheus.MustNewConstMetric(c.completedWindow, prometheus.GaugeValue, float64(snap.CompletedLastHour))
	ch <- prometheus.MustNewConstMetric(c.failedWindow, prometheus.GaugeValue, float64(snap.FailedLastHour))

	if snap.ActiveSyncSource == "" {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.syncProcessed, prometheus.GaugeValue, float64(snap.ActiveSyncProcessed), snap.ActiveSyncSource)
	ch <- prometheus.MustNewConstMetric(c.syncTotal, prometheus.GaugeValue, float64(snap.ActiveSyncTotal), snap.ActiveSyncSource)
	ch <- prometheus.MustNewConstMetric(c.syncPercent, prometheus.GaugeValue, snap.ActiveSyncPercent, snap.ActiveSyncSource)
}
