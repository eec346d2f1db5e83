package stats

import (
	"fmt"
	"time"

	"github.com/r-heap47/eipmon/internal/history"
	"github.com/r-heap47/eipmon/internal/models"
	"github.com/samber/lo"
)

// DefaultTrendWindow - trailing window of rates and trend counters
const DefaultTrendWindow = time.Hour

// HistoryReader - read side of the history store
type HistoryReader interface {
	RatePerMinute(kind models.EventKind, window time.Duration, now time.Time) float64
	CountInWindow(kind models.EventKind, window time.Duration, now time.Time) int
	DurationInState(name string, status models.CPICStatus, now time.Time) time.Duration
	APISamples(op string) []history.APISample
	APICallTotals() map[string]map[models.CallStatus]uint64
	Operations() []string
}

// Policy - tunables of snapshot computation
type Policy struct {
	Capacity                  models.CapacityPolicy
	TrendWindow               time.Duration
	StabilityPenaltyPerChange float64
	Health                    HealthPolicy
}

// DefaultPolicy returns policy with default constants
func DefaultPolicy() Policy {
	return Policy{
		Capacity:                  models.CapacityPolicy{Default: models.DefaultNodeCapacity},
		TrendWindow:               DefaultTrendWindow,
		StabilityPenaltyPerChange: DefaultStabilityPenaltyPerChange,
		Health:                    DefaultHealthPolicy(),
	}
}

// Input - everything a snapshot is computed from
type Input struct {
	Resources models.Resources
	History   HistoryReader
	Policy    Policy
	Process   models.Process
	Now       time.Time
}

// Compute builds a snapshot from in and validates it.
// Scrape stats are left empty, they are owned by the publisher.
func Compute(in Input) (models.Snapshot, error) {
	window := in.Policy.TrendWindow
	if window <= 0 {
		window = DefaultTrendWindow
	}

	snap := models.Snapshot{
		Timestamp: in.Now,
		PerNode:   make(map[string]models.NodeStats),
		Durations: make(map[string]models.ResourceDuration),
		API:       make(map[string]models.APIStats),
		Process:   in.Process,
	}

	// totals
	configured := len(in.Resources.EgressIPs)
	assigned := lo.CountBy(in.Resources.EgressIPs, models.EgressIP.IsAssigned)
	snap.Totals = models.Totals{
		Configured: configured,
		Assigned:   assigned,
		Unassigned: configured - assigned,
	}
	snap.UtilizationPercent = Utilization(assigned, configured)

	// per node
	nodes := in.Resources.NormalizeNodes(in.Policy.Capacity)
	var totalAssigned, totalCapacity int
	for _, n := range nodes {
		snap.PerNode[n.Name] = models.NodeStats{
			Assigned:           n.AssignedCount,
			Capacity:           n.Capacity,
			UtilizationPercent: Utilization(n.AssignedCount, n.Capacity),
		}
		totalAssigned += n.AssignedCount
		totalCapacity += n.Capacity
	}
	snap.CapacityUtilizationPercent = Utilization(totalAssigned, totalCapacity)
	snap.NodesAvailable = len(in.Resources.Nodes)

	counts := lo.Map(nodes, func(n models.Node, _ int) int { return n.AssignedCount })
	values := lo.Map(counts, func(c int, _ int) float64 { return float64(c) })
	maxCount, minCount := MaxMin(counts)
	snap.Distribution = models.Distribution{
		StdDev: StdDev(values),
		Gini:   Gini(values),
		Max:    maxCount,
		Min:    minCount,
	}

	// cloud private ip configs
	errorNodes := make(map[string]struct{})
	for _, c := range in.Resources.CPICs {
		ns, tracked := snap.PerNode[c.Node]

		switch c.Status {
		case models.CPICSuccess:
			snap.CPIC.Success++
			ns.CPICSuccess++
		case models.CPICPending:
			snap.CPIC.Pending++
			ns.CPICPending++
		case models.CPICError:
			snap.CPIC.Error++
			ns.CPICError++
			if c.Node != "" {
				errorNodes[c.Node] = struct{}{}
			}
		}

		if tracked {
			snap.PerNode[c.Node] = ns
		}

		if c.Status == models.CPICPending || c.Status == models.CPICError {
			snap.Durations[c.Name] = models.ResourceDuration{
				Status:  c.Status,
				Seconds: in.History.DurationInState(c.Name, c.Status, in.Now).Seconds(),
			}
		}
	}
	snap.NodesWithErrors = len(errorNodes)

	// trend
	changes := in.History.CountInWindow(models.EventEIPAssignment, window, in.Now) +
		in.History.CountInWindow(models.EventEIPUnassignment, window, in.Now)
	snap.Trend = models.Trend{
		ChangesLastHour:    changes,
		RecoveriesLastHour: in.History.CountInWindow(models.EventCPICRecovery, window, in.Now),
	}
	snap.Rates = models.Rates{
		Assignment:     in.History.RatePerMinute(models.EventEIPAssignment, window, in.Now),
		Unassignment:   in.History.RatePerMinute(models.EventEIPUnassignment, window, in.Now),
		CPICTransition: in.History.RatePerMinute(models.EventCPICTransition, window, in.Now),
	}

	// scores
	snap.HealthScore = HealthScore(HealthInput{
		CapacityUtilizationPercent: snap.CapacityUtilizationPercent,
		CPICErrors:                 snap.CPIC.Error,
		NodesWithErrors:            snap.NodesWithErrors,
	}, in.Policy.Health)
	snap.StabilityScore = StabilityScore(changes, in.Policy.StabilityPenaltyPerChange)

	// api performance
	totals := in.History.APICallTotals()
	for _, op := range in.History.Operations() {
		samples := in.History.APISamples(op)
		avg, rate := SummarizeAPI(samples)

		snap.API[op] = models.APIStats{
			AvgResponseTimeSeconds: avg,
			SuccessRatePercent:     rate,
			SampleCount:            len(samples),
			Calls:                  totals[op],
		}
	}

	if err := Validate(snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("Validate: %w", err)
	}

	return snap, nil
}
