package exporter

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/r-heap47/eipmon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	snap models.Snapshot
}

func (s staticSource) CurrentSnapshot() models.Snapshot {
	return s.snap
}

func testSnapshot() models.Snapshot {
	snap := models.Empty()

	snap.Timestamp = time.Unix(1735732800, 0)
	snap.Totals = models.Totals{Configured: 12, Assigned: 10, Unassigned: 2}
	snap.UtilizationPercent = 83.33
	snap.PerNode["worker-1"] = models.NodeStats{Assigned: 6, Capacity: 50, UtilizationPercent: 12, CPICSuccess: 5, CPICError: 1}
	snap.PerNode["worker-2"] = models.NodeStats{Assigned: 4, Capacity: 50, UtilizationPercent: 8, CPICSuccess: 4, CPICPending: 1}
	snap.Durations["10.0.0.7"] = models.ResourceDuration{Status: models.CPICError, Seconds: 42}
	snap.Durations["10.0.0.8"] = models.ResourceDuration{Status: models.CPICPending, Seconds: 7}
	snap.API["eip_get"] = models.APIStats{
		AvgResponseTimeSeconds: 0.25,
		SuccessRatePercent:     75,
		SampleCount:            4,
		Calls:                  map[models.CallStatus]uint64{models.CallSuccess: 3, models.CallTimeout: 1},
	}
	snap.HealthScore = 80
	snap.StabilityScore = 96
	snap.Scrape = models.ScrapeStats{LastSuccess: time.Unix(1735732800, 0), LastDurationSeconds: 0.5, ErrorCount: 3}

	return snap
}

func TestCollector_Collect(t *testing.T) {
	t.Parallel()

	c := New(staticSource{snap: testSnapshot()}, "1.2.3")

	expected := `
# HELP eips_configured_total Total number of configured EgressIPs
# TYPE eips_configured_total gauge
eips_configured_total 12
# HELP eips_unassigned_total Total number of unassigned EgressIPs
# TYPE eips_unassigned_total gauge
eips_unassigned_total 2
# HELP node_eip_assigned_total Number of EIPs assigned to node
# TYPE node_eip_assigned_total gauge
node_eip_assigned_total{node="worker-1"} 6
node_eip_assigned_total{node="worker-2"} 4
# HELP node_cpic_error_total CPIC error count per node
# TYPE node_cpic_error_total gauge
node_cpic_error_total{node="worker-1"} 1
node_cpic_error_total{node="worker-2"} 0
# HELP cpic_error_duration_seconds Time CPIC resources spend in error state
# TYPE cpic_error_duration_seconds gauge
cpic_error_duration_seconds{resource_name="10.0.0.7"} 42
# HELP cpic_pending_duration_seconds Time CPIC resources spend in pending state
# TYPE cpic_pending_duration_seconds gauge
cpic_pending_duration_seconds{resource_name="10.0.0.8"} 7
# HELP api_calls_total Total API calls by outcome
# TYPE api_calls_total counter
api_calls_total{operation="eip_get",status="success"} 3
api_calls_total{operation="eip_get",status="timeout"} 1
# HELP api_success_rate_percent API success rate over retained samples
# TYPE api_success_rate_percent gauge
api_success_rate_percent{operation="eip_get"} 75
# HELP eip_scrape_errors_total Total number of failed collections
# TYPE eip_scrape_errors_total counter
eip_scrape_errors_total 3
# HELP eip_last_scrape_timestamp_seconds Unix time of the last successful collection
# TYPE eip_last_scrape_timestamp_seconds gauge
eip_last_scrape_timestamp_seconds 1.7357328e+09
# HELP eip_monitoring_info EIP monitoring information
# TYPE eip_monitoring_info gauge
eip_monitoring_info{node_count="2",version="1.2.3"} 1
# HELP cluster_eip_health_score Overall EIP cluster health score (0-100)
# TYPE cluster_eip_health_score gauge
cluster_eip_health_score 80
`

	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"eips_configured_total",
		"eips_unassigned_total",
		"node_eip_assigned_total",
		"node_cpic_error_total",
		"cpic_error_duration_seconds",
		"cpic_pending_duration_seconds",
		"api_calls_total",
		"api_success_rate_percent",
		"eip_scrape_errors_total",
		"eip_last_scrape_timestamp_seconds",
		"eip_monitoring_info",
		"cluster_eip_health_score",
	)
	require.NoError(t, err)
}

func TestCollector_Count(t *testing.T) {
	t.Parallel()

	c := New(staticSource{snap: testSnapshot()}, "dev")

	// scalars + 6 per node + durations + api (avg, rate, two call counters) + info
	want := len(c.scalars) + 2*6 + 2 + 4 + 1
	assert.Equal(t, want, testutil.CollectAndCount(c))
}

func TestCollector_EmptySnapshot(t *testing.T) {
	t.Parallel()

	c := New(staticSource{snap: models.Empty()}, "dev")

	assert.Equal(t, len(c.scalars)+1, testutil.CollectAndCount(c))

	expected := `
# HELP eip_last_scrape_timestamp_seconds Unix time of the last successful collection
# TYPE eip_last_scrape_timestamp_seconds gauge
eip_last_scrape_timestamp_seconds 0
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "eip_last_scrape_timestamp_seconds"))
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(New(staticSource{snap: testSnapshot()}, "dev"))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}

	assert.True(t, names["eips_configured_total"])
	assert.True(t, names["go_goroutines"])
}
