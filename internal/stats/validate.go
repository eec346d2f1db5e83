package stats

import (
	"fmt"
	"math"
	"strings"

	"github.com/r-heap47/eipmon/internal/models"
	pkgerrors "github.com/r-heap47/eipmon/internal/pkg/errors"
)

// Validate checks snapshot invariants. Violations are wrapped into errors.ErrComputation
func Validate(s models.Snapshot) error {
	var violations []string

	check := func(ok bool, format string, args ...any) {
		if !ok {
			violations = append(violations, fmt.Sprintf(format, args...))
		}
	}
	inRange := func(name string, v, low, high float64) {
		check(!math.IsNaN(v) && v >= low && v <= high, "%s=%v out of [%v, %v]", name, v, low, high)
	}

	check(s.Totals.Assigned+s.Totals.Unassigned == s.Totals.Configured,
		"assigned(%d) + unassigned(%d) != configured(%d)", s.Totals.Assigned, s.Totals.Unassigned, s.Totals.Configured)
	check(s.Totals.Assigned >= 0 && s.Totals.Unassigned >= 0, "negative totals")

	inRange("utilization", s.UtilizationPercent, 0, 100)
	inRange("capacity utilization", s.CapacityUtilizationPercent, 0, 100)
	inRange("gini", s.Distribution.Gini, 0, 1)
	inRange("health score", s.HealthScore, 0, 100)
	inRange("stability score", s.StabilityScore, 0, 100)

	check(!math.IsNaN(s.Distribution.StdDev) && s.Distribution.StdDev >= 0, "stddev=%v", s.Distribution.StdDev)
	check(s.Distribution.Max >= s.Distribution.Min, "max(%d) < min(%d)", s.Distribution.Max, s.Distribution.Min)

	for node, ns := range s.PerNode {
		inRange("utilization of "+node, ns.UtilizationPercent, 0, 100)
	}

	for _, r := range []float64{s.Rates.Assignment, s.Rates.Unassignment, s.Rates.CPICTransition} {
		check(!math.IsNaN(r) && r >= 0, "rate=%v", r)
	}

	if len(violations) > 0 {
		return fmt.Errorf("%w: %s", pkgerrors.ErrComputation, strings.Join(violations, "; "))
	}

	return nil
}
