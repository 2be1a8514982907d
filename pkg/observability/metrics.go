package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the permission engine.
type Metrics struct {
	// Access decision metrics
	AccessChecksTotal   *prometheus.CounterVec
	AccessCheckDuration *prometheus.HistogramVec

	// Permission cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Matrix builder metrics
	MatrixBuildsTotal   prometheus.Counter
	MatrixCellsTotal    prometheus.Counter
	MatrixBuildDuration prometheus.Histogram
	MatrixExportsTotal  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanbu_authz_checks_total",
				Help: "Total number of access checks by resource type, strategy and decision",
			},
			[]string{"resource_type", "strategy", "decision"},
		),
		AccessCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kanbu_authz_check_duration_seconds",
				Help:    "Access check duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource_type"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanbu_authz_cache_hits_total",
				Help: "Permission cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanbu_authz_cache_misses_total",
				Help: "Permission cache misses by tier",
			},
			[]string{"tier"},
		),
		MatrixBuildsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kanbu_authz_matrix_builds_total",
				Help: "Total number of permission matrix builds",
			},
		),
		MatrixCellsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "kanbu_authz_matrix_cells_total",
				Help: "Total number of permission matrix cells computed",
			},
		),
		MatrixBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "kanbu_authz_matrix_build_duration_seconds",
				Help:    "Permission matrix build duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		MatrixExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kanbu_authz_matrix_exports_total",
				Help: "Matrix exports by destination and outcome",
			},
			[]string{"destination", "outcome"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.AccessChecksTotal,
		m.AccessCheckDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.MatrixBuildsTotal,
		m.MatrixCellsTotal,
		m.MatrixBuildDuration,
		m.MatrixExportsTotal,
	)

	return m
}

// ObserveAccessCheck records one access decision.
func (m *Metrics) ObserveAccessCheck(resourceType, strategy string, allowed bool, duration time.Duration) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AccessChecksTotal.WithLabelValues(resourceType, strategy, decision).Inc()
	m.AccessCheckDuration.WithLabelValues(resourceType).Observe(duration.Seconds())
}

// ObserveCacheHit records a permission cache hit for a tier.
func (m *Metrics) ObserveCacheHit(tier string) {
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// ObserveCacheMiss records a permission cache miss for a tier.
func (m *Metrics) ObserveCacheMiss(tier string) {
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// ObserveMatrixBuild records one matrix build, its cell count and duration.
func (m *Metrics) ObserveMatrixBuild(cells int, duration time.Duration) {
	m.MatrixBuildsTotal.Inc()
	m.MatrixCellsTotal.Add(float64(cells))
	m.MatrixBuildDuration.Observe(duration.Seconds())
}

// ObserveMatrixExport records one matrix export attempt.
func (m *Metrics) ObserveMatrixExport(destination string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.MatrixExportsTotal.WithLabelValues(destination, outcome).Inc()
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
