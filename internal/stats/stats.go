// Package stats contains pure functions deriving distribution, health and
// performance indicators from a resource snapshot and its history.
package stats

import (
	"math"
	"sort"

	"github.com/samber/lo"
)

// Utilization returns assigned/configured as a percentage in [0, 100].
// Zero configured yields 0.
func Utilization(assigned, configured int) float64 {
	if configured <= 0 {
		return 0
	}

	return clamp(float64(assigned)/float64(configured)*100, 0, 100)
}

// StdDev returns population standard deviation of values, 0 for no values
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	mean := lo.Sum(values) / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}

	return math.Sqrt(sq / float64(len(values)))
}

// Gini returns Gini coefficient of nonnegative values:
//
//	G = 2·Σ(i·vᵢ) / (n·Σvᵢ) − (n+1)/n, values sorted ascending, i starting at 1
//
// G is 0 for a single value or a zero sum, result is clamped to [0, 1].
func Gini(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum, weighted float64
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum <= 0 {
		return 0
	}

	g := 2*weighted/(float64(n)*sum) - float64(n+1)/float64(n)

	return clamp(g, 0, 1)
}

// MaxMin returns the largest and the smallest value, both 0 for no values
func MaxMin(values []int) (int, int) {
	if len(values) == 0 {
		return 0, 0
	}

	return lo.Max(values), lo.Min(values)
}

func clamp(v, low, high float64) float64 {
	if math.IsNaN(v) {
		return low
	}

	return math.Max(low, math.Min(high, v))
}
