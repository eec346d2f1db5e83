package stats

import (
	"github.com/r-heap47/eipmon/internal/history"
	"github.com/samber/lo"
)

// SummarizeAPI returns average response time and success rate of samples.
// An empty buffer reports a success rate of 100: there is no evidence of failure.
func SummarizeAPI(samples []history.APISample) (avgSeconds, successRatePercent float64) {
	if len(samples) == 0 {
		return 0, 100
	}

	total := lo.SumBy(samples, func(s history.APISample) float64 { return s.Seconds })
	ok := lo.CountBy(samples, history.APISample.Success)

	return total / float64(len(samples)), float64(ok) / float64(len(samples)) * 100
}
