package detectors

import (
	"math"
	"sort"
)

// Quantile returns the q-th quantile (q in [0, 1]) of data using linear
// interpolation between the two closest ranks at position (n-1)*q.
// It returns 0 for empty input. data is not modified.
func Quantile(data []float64, q float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	q = math.Max(0, math.Min(1, q))
	pos := float64(len(sorted)-1) * q
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
