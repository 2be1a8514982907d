package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAccessCheck(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveAccessCheck("workspace", "legacy", true, 5*time.Millisecond)
	m.ObserveAccessCheck("workspace", "acl", false, time.Millisecond)
	m.ObserveAccessCheck("workspace", "acl", false, time.Millisecond)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.AccessChecksTotal.WithLabelValues("workspace", "legacy", "allow")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.AccessChecksTotal.WithLabelValues("workspace", "acl", "deny")))
}

func TestObserveCacheTiers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveCacheHit("local")
	m.ObserveCacheHit("local")
	m.ObserveCacheMiss("redis")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("local")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("redis")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("redis")))
}

func TestObserveMatrixBuild(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveMatrixBuild(12, 20*time.Millisecond)
	m.ObserveMatrixBuild(3, 5*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.MatrixBuildsTotal))
	assert.Equal(t, float64(15), testutil.ToFloat64(m.MatrixCellsTotal))

	var pb dto.Metric
	require.NoError(t, m.MatrixBuildDuration.Write(&pb))
	assert.Equal(t, uint64(2), pb.Histogram.GetSampleCount())
}

func TestObserveMatrixExport(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveMatrixExport("s3", nil)
	m.ObserveMatrixExport("s3", errors.New("denied"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MatrixExportsTotal.WithLabelValues("s3", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MatrixExportsTotal.WithLabelValues("s3", "error")))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveAccessCheck("project", "acl", true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kanbu_authz_checks_total")
}
