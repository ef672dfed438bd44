package matching

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// LoadFairness returns a percentage (0-100) representing how evenly active
// tasks are spread across candidates. 100% is perfectly fair (standard
// deviation 0); 0% means the deviation is at least the mean.
func LoadFairness(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 100.0
	}

	loads := make([]float64, len(candidates))
	var sum float64
	for i, c := range candidates {
		loads[i] = float64(c.ActiveTasks)
		sum += loads[i]
	}
	if sum == 0 {
		return 100.0 // nobody busy is perfectly fair
	}

	mean, variance := stat.PopMeanVariance(loads, nil)
	score := (1.0 - math.Sqrt(variance)/mean) * 100.0
	if score < 0 {
		return 0.0
	}
	return score
}
