package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	locationsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airfuse",
		Subsystem: "scheduler",
		Name:      "locations_collected_total",
		Help:      "Locations that completed the full collection pipeline.",
	})
	rowsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airfuse",
		Subsystem: "scheduler",
		Name:      "rows_stored_total",
		Help:      "Hourly rows upserted into the database.",
	})
	dailyAveragesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airfuse",
		Subsystem: "scheduler",
		Name:      "daily_averages_created_total",
		Help:      "Daily trend rows written by the rollup.",
	})
	pipelineErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "airfuse",
		Subsystem: "scheduler",
		Name:      "errors_total",
		Help:      "Per-location pipeline failures.",
	})
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "airfuse",
		Subsystem: "scheduler",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one scheduler tick.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)
