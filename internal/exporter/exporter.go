// Package exporter renders the current snapshot in the Prometheus exposition format.
package exporter

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/r-heap47/eipmon/internal/models"
)

// Source - provider of the current snapshot
type Source interface {
	CurrentSnapshot() models.Snapshot
}

type scalar struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(s *models.Snapshot) float64
}

// Collector - prometheus.Collector reading exactly one snapshot per scrape
type Collector struct {
	source  Source
	version string

	scalars []scalar

	nodeAssigned    *prometheus.Desc
	nodeCapacity    *prometheus.Desc
	nodeUtilization *prometheus.Desc
	nodeCPICSuccess *prometheus.Desc
	nodeCPICPending *prometheus.Desc
	nodeCPICError   *prometheus.Desc

	pendingDuration *prometheus.Desc
	errorDuration   *prometheus.Desc

	apiResponseTime *prometheus.Desc
	apiSuccessRate  *prometheus.Desc
	apiCalls        *prometheus.Desc

	info *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// New returns collector over source
func New(source Source, version string) *Collector {
	c := &Collector{
		source:  source,
		version: version,

		nodeAssigned:    prometheus.NewDesc("node_eip_assigned_total", "Number of EIPs assigned to node", []string{"node"}, nil),
		nodeCapacity:    prometheus.NewDesc("node_eip_capacity_total", "Maximum EIP capacity per node", []string{"node"}, nil),
		nodeUtilization: prometheus.NewDesc("node_eip_utilization_percent", "EIP capacity utilization per node", []string{"node"}, nil),
		nodeCPICSuccess: prometheus.NewDesc("node_cpic_success_total", "CPIC success count per node", []string{"node"}, nil),
		nodeCPICPending: prometheus.NewDesc("node_cpic_pending_total", "CPIC pending count per node", []string{"node"}, nil),
		nodeCPICError:   prometheus.NewDesc("node_cpic_error_total", "CPIC error count per node", []string{"node"}, nil),

		pendingDuration: prometheus.NewDesc("cpic_pending_duration_seconds", "Time CPIC resources spend in pending state", []string{"resource_name"}, nil),
		errorDuration:   prometheus.NewDesc("cpic_error_duration_seconds", "Time CPIC resources spend in error state", []string{"resource_name"}, nil),

		apiResponseTime: prometheus.NewDesc("api_response_time_seconds", "Average API response time over retained samples", []string{"operation"}, nil),
		apiSuccessRate:  prometheus.NewDesc("api_success_rate_percent", "API success rate over retained samples", []string{"operation"}, nil),
		apiCalls:        prometheus.NewDesc("api_calls_total", "Total API calls by outcome", []string{"operation", "status"}, nil),

		info: prometheus.NewDesc("eip_monitoring_info", "EIP monitoring information", []string{"version", "node_count"}, nil),
	}

	c.scalars = []scalar{
		gauge("eips_configured_total", "Total number of configured EgressIPs", func(s *models.Snapshot) float64 { return float64(s.Totals.Configured) }),
		gauge("eips_assigned_total", "Total number of assigned EgressIPs", func(s *models.Snapshot) float64 { return float64(s.Totals.Assigned) }),
		gauge("eips_unassigned_total", "Total number of unassigned EgressIPs", func(s *models.Snapshot) float64 { return float64(s.Totals.Unassigned) }),
		gauge("eip_utilization_percent", "Assigned EgressIPs as a percentage of configured", func(s *models.Snapshot) float64 { return s.UtilizationPercent }),
		gauge("eip_capacity_utilization_percent", "Assigned addresses as a percentage of total node capacity", func(s *models.Snapshot) float64 { return s.CapacityUtilizationPercent }),
		gauge("eip_assignment_rate_per_minute", "EIP assignments per minute over the trend window", func(s *models.Snapshot) float64 { return s.Rates.Assignment }),
		gauge("eip_unassignment_rate_per_minute", "EIP unassignments per minute over the trend window", func(s *models.Snapshot) float64 { return s.Rates.Unassignment }),
		gauge("cpic_success_total", "Number of CPIC resources in success state", func(s *models.Snapshot) float64 { return float64(s.CPIC.Success) }),
		gauge("cpic_pending_total", "Number of CPIC resources in pending state", func(s *models.Snapshot) float64 { return float64(s.CPIC.Pending) }),
		gauge("cpic_error_total", "Number of CPIC resources in error state", func(s *models.Snapshot) float64 { return float64(s.CPIC.Error) }),
		gauge("cpic_transitions_per_minute", "CPIC status transitions per minute over the trend window", func(s *models.Snapshot) float64 { return s.Rates.CPICTransition }),
		gauge("eip_nodes_available_total", "Number of EIP-enabled nodes available", func(s *models.Snapshot) float64 { return float64(s.NodesAvailable) }),
		gauge("eip_nodes_with_errors_total", "Number of EIP-enabled nodes with CPIC errors", func(s *models.Snapshot) float64 { return float64(s.NodesWithErrors) }),
		gauge("eip_distribution_stddev", "Standard deviation of EIPs per node", func(s *models.Snapshot) float64 { return s.Distribution.StdDev }),
		gauge("eip_distribution_gini_coefficient", "Gini coefficient of EIP distribution (0=perfect equality, 1=perfect inequality)", func(s *models.Snapshot) float64 { return s.Distribution.Gini }),
		gauge("eip_max_per_node", "Maximum EIPs assigned to a single node", func(s *models.Snapshot) float64 { return float64(s.Distribution.Max) }),
		gauge("eip_min_per_node", "Minimum EIPs assigned to a single node", func(s *models.Snapshot) float64 { return float64(s.Distribution.Min) }),
		gauge("eip_changes_last_hour", "Number of EIP state changes in the last hour", func(s *models.Snapshot) float64 { return float64(s.Trend.ChangesLastHour) }),
		gauge("cpic_recoveries_last_hour", "Number of CPIC error recoveries in the last hour", func(s *models.Snapshot) float64 { return float64(s.Trend.RecoveriesLastHour) }),
		gauge("cluster_eip_health_score", "Overall EIP cluster health score (0-100)", func(s *models.Snapshot) float64 { return s.HealthScore }),
		gauge("cluster_eip_stability_score", "EIP stability score based on change frequency", func(s *models.Snapshot) float64 { return s.StabilityScore }),
		gauge("eip_last_scrape_timestamp_seconds", "Unix time of the last successful collection", lastSuccess),
		gauge("eip_scrape_duration_seconds", "Time taken to complete the last collection", func(s *models.Snapshot) float64 { return s.Scrape.LastDurationSeconds }),
		gauge("eip_exporter_cpu_percent", "CPU usage of the exporter process", func(s *models.Snapshot) float64 { return s.Process.CPUPercent }),
		gauge("eip_exporter_memory_rss_bytes", "Resident memory of the exporter process", func(s *models.Snapshot) float64 { return float64(s.Process.RSSBytes) }),
		gauge("eip_exporter_uptime_seconds", "Uptime of the exporter process", func(s *models.Snapshot) float64 { return s.Process.UptimeSeconds }),
		{
			desc:  prometheus.NewDesc("eip_scrape_errors_total", "Total number of failed collections", nil, nil),
			kind:  prometheus.CounterValue,
			value: func(s *models.Snapshot) float64 { return float64(s.Scrape.ErrorCount) },
		},
	}

	return c
}

func gauge(name, help string, value func(s *models.Snapshot) float64) scalar {
	return scalar{
		desc:  prometheus.NewDesc(name, help, nil, nil),
		kind:  prometheus.GaugeValue,
		value: value,
	}
}

func lastSuccess(s *models.Snapshot) float64 {
	if s.Scrape.LastSuccess.IsZero() {
		return 0
	}

	return float64(s.Scrape.LastSuccess.UnixNano()) / 1e9
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.scalars {
		ch <- s.desc
	}

	for _, d := range []*prometheus.Desc{
		c.nodeAssigned, c.nodeCapacity, c.nodeUtilization,
		c.nodeCPICSuccess, c.nodeCPICPending, c.nodeCPICError,
		c.pendingDuration, c.errorDuration,
		c.apiResponseTime, c.apiSuccessRate, c.apiCalls,
		c.info,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.CurrentSnapshot()

	for _, s := range c.scalars {
		ch <- prometheus.MustNewConstMetric(s.desc, s.kind, s.value(&snap))
	}

	for node, ns := range snap.PerNode {
		ch <- prometheus.MustNewConstMetric(c.nodeAssigned, prometheus.GaugeValue, float64(ns.Assigned), node)
		ch <- prometheus.MustNewConstMetric(c.nodeCapacity, prometheus.GaugeValue, float64(ns.Capacity), node)
		ch <- prometheus.MustNewConstMetric(c.nodeUtilization, prometheus.GaugeValue, ns.UtilizationPercent, node)
		ch <- prometheus.MustNewConstMetric(c.nodeCPICSuccess, prometheus.GaugeValue, float64(ns.CPICSuccess), node)
		ch <- prometheus.MustNewConstMetric(c.nodeCPICPending, prometheus.GaugeValue, float64(ns.CPICPending), node)
		ch <- prometheus.MustNewConstMetric(c.nodeCPICError, prometheus.GaugeValue, float64(ns.CPICError), node)
	}

	for name, d := range snap.Durations {
		switch d.Status {
		case models.CPICPending:
			ch <- prometheus.MustNewConstMetric(c.pendingDuration, prometheus.GaugeValue, d.Seconds, name)
		case models.CPICError:
			ch <- prometheus.MustNewConstMetric(c.errorDuration, prometheus.GaugeValue, d.Seconds, name)
		}
	}

	for op, api := range snap.API {
		ch <- prometheus.MustNewConstMetric(c.apiResponseTime, prometheus.GaugeValue, api.AvgResponseTimeSeconds, op)
		ch <- prometheus.MustNewConstMetric(c.apiSuccessRate, prometheus.GaugeValue, api.SuccessRatePercent, op)

		for st, n := range api.Calls {
			ch <- prometheus.MustNewConstMetric(c.apiCalls, prometheus.CounterValue, float64(n), op, string(st))
		}
	}

	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1, c.version, strconv.Itoa(len(snap.PerNode)))
}

// NewRegistry returns a registry with the snapshot collector and the go runtime and process collectors
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}
