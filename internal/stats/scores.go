package stats

// HealthPolicy - weights of the health score penalties
type HealthPolicy struct {
	// SaturationThresholdPercent - capacity utilization above which saturation is penalized
	SaturationThresholdPercent float64
	// SaturationMaxPenalty - penalty at 100% capacity utilization, scaled linearly from the threshold
	SaturationMaxPenalty float64
	CPICErrorPenalty     float64
	CPICErrorPenaltyCap  float64
	NodeErrorPenalty     float64
	NodeErrorPenaltyCap  float64
}

// DefaultHealthPolicy returns the default health weights
func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{
		SaturationThresholdPercent: 90,
		SaturationMaxPenalty:       30,
		CPICErrorPenalty:           10,
		CPICErrorPenaltyCap:        50,
		NodeErrorPenalty:           10,
		NodeErrorPenaltyCap:        30,
	}
}

// HealthInput - observations the health score is derived from
type HealthInput struct {
	CapacityUtilizationPercent float64
	CPICErrors                 int
	NodesWithErrors            int
}

// HealthScore returns 100 minus accumulated penalties, clamped to [0, 100].
// More errors or higher saturation never increase the score.
func HealthScore(in HealthInput, p HealthPolicy) float64 {
	penalty := saturationPenalty(in.CapacityUtilizationPercent, p) +
		cappedPenalty(in.CPICErrors, p.CPICErrorPenalty, p.CPICErrorPenaltyCap) +
		cappedPenalty(in.NodesWithErrors, p.NodeErrorPenalty, p.NodeErrorPenaltyCap)

	return clamp(100-penalty, 0, 100)
}

func saturationPenalty(util float64, p HealthPolicy) float64 {
	if p.SaturationMaxPenalty <= 0 || util <= p.SaturationThresholdPercent {
		return 0
	}
	if p.SaturationThresholdPercent >= 100 {
		return 0
	}

	ratio := (util - p.SaturationThresholdPercent) / (100 - p.SaturationThresholdPercent)

	return clamp(ratio, 0, 1) * p.SaturationMaxPenalty
}

func cappedPenalty(n int, each, limit float64) float64 {
	if n <= 0 || each <= 0 {
		return 0
	}

	total := float64(n) * each
	if limit > 0 && total > limit {
		return limit
	}

	return total
}

// DefaultStabilityPenaltyPerChange - stability points lost per change in the trend window
const DefaultStabilityPenaltyPerChange = 2

// StabilityScore returns 100 − min(100, changes·penaltyPerChange)
func StabilityScore(changes int, penaltyPerChange float64) float64 {
	if changes <= 0 || penaltyPerChange <= 0 {
		return 100
	}

	return clamp(100-float64(changes)*penaltyPerChange, 0, 100)
}
