package observability

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.DecisionsTotal.WithLabelValues("alerts", "granted", "subscription").Inc()
	m.DecisionsTotal.WithLabelValues("alerts", "granted", "subscription").Inc()
	m.DecisionsTotal.WithLabelValues("alerts", "quota_exceeded", "free").Inc()

	expected := `
		# HELP entitle_decisions_total Total number of entitlement decisions
		# TYPE entitle_decisions_total counter
		entitle_decisions_total{capability="alerts",outcome="granted",source="subscription"} 2
		entitle_decisions_total{capability="alerts",outcome="quota_exceeded",source="free"} 1
	`
	assert.NoError(t, testutil.CollectAndCompare(m.DecisionsTotal, strings.NewReader(expected)))
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	assert.Panics(t, func() { NewMetrics(registry) })
}

func TestRecordDBStats(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordDBStats(sql.DBStats{OpenConnections: 5, InUse: 3, Idle: 2, WaitCount: 7})

	assert.Equal(t, 5.0, testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsInUse))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DBConnectionsIdle))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.DBConnectionsWaited))
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.JobRunsTotal.WithLabelValues("owner_backfill", "success").Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `entitle_job_runs_total{job="owner_backfill",status="success"} 1`)
}
