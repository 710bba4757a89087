package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for sync passes and the mutation queue
var (
	SyncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_passes_total",
			Help: "Total number of sync passes by outcome (completed, offline, in_progress, empty)",
		},
		[]string{"outcome"},
	)

	SyncPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crmsync_pass_duration_seconds",
			Help:    "Duration of completed sync passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_items_total",
			Help: "Total number of queue items processed by operation, kind and result",
		},
		[]string{"operation", "kind", "result"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crmsync_queue_items",
			Help: "Current number of queue items by status",
		},
		[]string{"status"},
	)

	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crmsync_online",
			Help: "1 when the remote is considered reachable",
		},
	)

	RefreshRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crmsync_refresh_records_total",
			Help: "Total number of records handled by refresh by kind and result (written, skipped, pruned)",
		},
		[]string{"kind", "result"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SyncPassesTotal)
		prometheus.MustRegister(SyncPassDuration)
		prometheus.MustRegister(SyncItemsTotal)
		prometheus.MustRegister(QueueDepth)
		prometheus.MustRegister(Online)
		prometheus.MustRegister(RefreshRecordsTotal)
	})
}

// SetQueueDepth publishes queue counts.
func SetQueueDepth(pending, processing, failed int) {
	QueueDepth.WithLabelValues("pending").Set(float64(pending))
	QueueDepth.WithLabelValues("processing").Set(float64(processing))
	QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}
