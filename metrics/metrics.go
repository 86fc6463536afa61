// Package metrics registers the Prometheus collectors shared by the
// resolver pipeline and the API server.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResolutionsTotal counts finished resolutions by cascade outcome:
	// direct, anchor, requery, people_search, degraded, failed.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "resolutions_total",
		Help:      "Resolutions by cascade outcome tier.",
	}, []string{"outcome"})

	// ResolutionDuration observes wall time per input URL.
	ResolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "resolver",
		Name:      "resolution_duration_seconds",
		Help:      "Time to resolve one input URL through the cascade.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// FetchesTotal counts page fetches by final status (ok or error).
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "fetches_total",
		Help:      "Page fetches by final status after retries.",
	}, []string{"status"})

	// FetchRetriesTotal counts individual retry attempts, not fetches.
	FetchRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "fetch_retries_total",
		Help:      "Fetch attempts beyond the first, across all fetches.",
	})

	// HTTPRequestDuration observes API handler latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "resolver",
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by path and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path", "method", "status"})
)

// DatabaseMetrics exports connection pool gauges for the results store.
type DatabaseMetrics struct {
	openConns  prometheus.Gauge
	idleConns  prometheus.Gauge
	inUseConns prometheus.Gauge
	waitCount  prometheus.Gauge
}

// NewDatabaseMetrics registers pool gauges under the given subsystem.
func NewDatabaseMetrics(subsystem string) *DatabaseMetrics {
	return &DatabaseMetrics{
		openConns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "resolver", Subsystem: subsystem,
			Name: "db_open_connections", Help: "Open database connections.",
		}),
		idleConns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "resolver", Subsystem: subsystem,
			Name: "db_idle_connections", Help: "Idle database connections.",
		}),
		inUseConns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "resolver", Subsystem: subsystem,
			Name: "db_in_use_connections", Help: "In-use database connections.",
		}),
		waitCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "resolver", Subsystem: subsystem,
			Name: "db_wait_count", Help: "Total connections waited for.",
		}),
	}
}

// UpdateDBStats refreshes the gauges from the pool's current stats.
func (m *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	stats := db.Stats()
	m.openConns.Set(float64(stats.OpenConnections))
	m.idleConns.Set(float64(stats.Idle))
	m.inUseConns.Set(float64(stats.InUse))
	m.waitCount.Set(float64(stats.WaitCount))
}
