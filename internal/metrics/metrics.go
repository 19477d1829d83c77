// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	importsTotalCounter            *prometheus.CounterVec
	importRecordsCounter           prometheus.Counter
	versionConflictsCounter        prometheus.Counter
	projectionBatchesCounter       prometheus.Counter
	projectionBatchDurationMetric  prometheus.Histogram
	subscriptionClaimLatencyMetric prometheus.Histogram
	notificationsPublishedCounter  prometheus.Counter
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		importsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imports_total",
				Help: "Total number of import commands by outcome.",
			},
			[]string{"outcome"},
		)

		importRecordsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "import_records_total",
				Help: "Total number of records accepted by import commands.",
			},
		)

		versionConflictsCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "version_conflicts_total",
				Help: "Total number of optimistic concurrency conflicts on append.",
			},
		)

		projectionBatchesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "projection_batches_total",
				Help: "Total number of projection upsert batches committed.",
			},
		)

		projectionBatchDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "projection_batch_duration_seconds",
				Help:    "Duration of projection upsert batches in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		subscriptionClaimLatencyMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "subscription_claim_latency_seconds",
				Help:    "Latency of subscription claim queries in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		notificationsPublishedCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifications_published_total",
				Help: "Total number of realtime notifications published.",
			},
		)

		prometheus.MustRegister(
			importsTotalCounter,
			importRecordsCounter,
			versionConflictsCounter,
			projectionBatchesCounter,
			projectionBatchDurationMetric,
			subscriptionClaimLatencyMetric,
			notificationsPublishedCounter,
		)

		// Ensure outcome labels are visible at /metrics before first increment.
		for _, outcome := range []string{"success", "rejected", "conflict", "error"} {
			importsTotalCounter.WithLabelValues(outcome)
		}
	})
}

func IncImports(outcome string) {
	Init()
	importsTotalCounter.WithLabelValues(outcome).Inc()
}

func AddImportRecords(n int) {
	Init()
	importRecordsCounter.Add(float64(n))
}

func IncVersionConflicts() {
	Init()
	versionConflictsCounter.Inc()
}

func IncProjectionBatches() {
	Init()
	projectionBatchesCounter.Inc()
}

func ObserveProjectionBatchDuration(d time.Duration) {
	Init()
	projectionBatchDurationMetric.Observe(d.Seconds())
}

func ObserveSubscriptionClaimLatency(d time.Duration) {
	Init()
	subscriptionClaimLatencyMetric.Observe(d.Seconds())
}

func IncNotificationsPublished() {
	Init()
	notificationsPublishedCounter.Inc()
}
