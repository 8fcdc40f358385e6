// Package metrics holds the Prometheus collectors shared by the ingestion
// hook, the services and the web server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion outcomes.
const (
	OutcomeIndexed = "indexed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	// IngestDocuments counts emitted log records by outcome.
	IngestDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlogs_ingest_documents_total",
		Help: "Log records handled by the ingestion hook, by outcome",
	}, []string{"outcome"})

	// BreakerOpen is 1 while writes are suspended.
	BreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devlogs_ingest_breaker_open",
		Help: "1 while the ingestion circuit breaker is open",
	})

	// RollupChildren counts child documents folded into parents.
	RollupChildren = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devlogs_rollup_children_total",
		Help: "Child log documents folded into operation documents",
	})

	// RollupGroups counts parent documents written.
	RollupGroups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "devlogs_rollup_groups_total",
		Help: "Operation documents written by rollup",
	})

	// QueryDuration tracks store round trips made by the read services.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devlogs_query_duration_seconds",
		Help:    "Duration of log queries by operation",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	}, []string{"operation"})

	// RetentionDeleted counts documents removed by cleanup, by tier.
	RetentionDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlogs_retention_deleted_total",
		Help: "Documents deleted by retention cleanup, by tier",
	}, []string{"tier"})

	// HTTPRequests counts web API requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devlogs_http_requests_total",
		Help: "Web API requests by route and status",
	}, []string{"route", "status"})
)

// ObserveQuery records the time since start under operation.
func ObserveQuery(operation string, start time.Time) {
	QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetBreakerOpen mirrors the breaker state into the gauge.
func SetBreakerOpen(open bool) {
	if open {
		BreakerOpen.Set(1)
		return
	}
	BreakerOpen.Set(0)
}
