package aggregate

import (
	"math"
	"slices"
)

// Stat is the reduced form of one sample set.
type Stat struct {
	Min    int64
	Median int64
	Max    int64
}

// Reduce sorts a copy of samples and returns its truncated extremes and the
// mean of its two central values (a single value for odd counts) rounded
// half away from zero. An empty set reduces to the zero Stat.
func Reduce(samples []float64) Stat {
	n := len(samples)
	if n == 0 {
		return Stat{}
	}

	sorted := slices.Clone(samples)
	slices.Sort(sorted)

	i := (n - 1) / 2
	j := i + 1 - n%2

	return Stat{
		Min:    int64(sorted[0]),
		Median: int64(math.Round((sorted[i] + sorted[j]) / 2)),
		Max:    int64(sorted[n-1]),
	}
}
