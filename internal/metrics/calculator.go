package metrics

import (
	"sort"

	"github.com/saveenergy/rtpscope/pkg/types"
)

// CalculateDelay summarizes delay samples given in receive order. Jitter is
// the mean absolute difference between consecutive samples.
func CalculateDelay(samples []float64) types.DelayStats {
	if len(samples) == 0 {
		return types.DelayStats{}
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}

	return types.DelayStats{
		MinMs:    sorted[0],
		MaxMs:    sorted[len(sorted)-1],
		AvgMs:    sum / float64(len(sorted)),
		P50Ms:    sorted[len(sorted)*50/100],
		P95Ms:    sorted[len(sorted)*95/100],
		P99Ms:    sorted[len(sorted)*99/100],
		JitterMs: CalculateJitter(samples),
		Count:    len(samples),
	}
}

func CalculateJitter(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}

	var sum float64
	for i := 1; i < len(samples); i++ {
		diff := samples[i] - samples[i-1]
		if diff < 0 {
			diff = -diff
		}
		sum += diff
	}

	return sum / float64(len(samples)-1)
}
