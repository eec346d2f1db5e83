package models

import "time"

// Totals - EgressIP counters
type Totals struct {
	Configured int
	Assigned   int
	Unassigned int
}

// NodeStats - per-node assignment and CPIC breakdown
type NodeStats struct {
	Assigned           int
	Capacity           int
	UtilizationPercent float64
	CPICSuccess        int
	CPICPending        int
	CPICError          int
}

// Distribution - fairness of per-node assigned counts
type Distribution struct {
	StdDev float64
	Gini   float64
	Max    int
	Min    int
}

// CPICCounts - CloudPrivateIPConfig counters by status
type CPICCounts struct {
	Success int
	Pending int
	Error   int
}

// ResourceDuration - time a resource has spent in its current non-success status
type ResourceDuration struct {
	Status  CPICStatus
	Seconds float64
}

// Rates - per-minute event rates over the trend window
type Rates struct {
	Assignment     float64
	Unassignment   float64
	CPICTransition float64
}

// Trend - event counts over the trend window
type Trend struct {
	ChangesLastHour    int
	RecoveriesLastHour int
}

// APIStats - performance of a single external operation
type APIStats struct {
	AvgResponseTimeSeconds float64
	SuccessRatePercent     float64
	SampleCount            int
	// Calls holds lifetime call totals by outcome
	Calls map[CallStatus]uint64
}

// CallCount returns the lifetime number of calls
func (s APIStats) CallCount() uint64 {
	var total uint64
	for _, n := range s.Calls {
		total += n
	}

	return total
}

// Process - exporter self statistics
type Process struct {
	CPUPercent    float64
	RSSBytes      uint64
	UptimeSeconds float64
}

// ScrapeStats - outcome of collection cycles
type ScrapeStats struct {
	LastSuccess         time.Time
	LastDurationSeconds float64
	ErrorCount          uint64
	LastError           string
}

// Snapshot - immutable bundle of derived metrics published once per cycle.
// Maps are shared between copies and must never be written after publication.
type Snapshot struct {
	Timestamp time.Time

	Totals                     Totals
	UtilizationPercent         float64
	CapacityUtilizationPercent float64

	PerNode      map[string]NodeStats
	Distribution Distribution

	CPIC      CPICCounts
	Durations map[string]ResourceDuration

	NodesAvailable  int
	NodesWithErrors int

	HealthScore    float64
	StabilityScore float64

	Rates Rates
	Trend Trend

	API     map[string]APIStats
	Process Process
	Scrape  ScrapeStats
}

// Empty returns the zero snapshot served before the first successful cycle.
func Empty() Snapshot {
	return Snapshot{
		PerNode:   map[string]NodeStats{},
		Durations: map[string]ResourceDuration{},
		API:       map[string]APIStats{},
	}
}
