package channel

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises the valid distances observed for one direction over a
// query window.
type Stats struct {
	Channel  int     `json:"channel"`
	Count    int     `json:"count"`
	MeanMm   float64 `json:"mean_mm"`
	StdDevMm float64 `json:"stddev_mm"`
	MinMm    float64 `json:"min_mm"`
	MaxMm    float64 `json:"max_mm"`
	P50Mm    float64 `json:"p50_mm"`
	P85Mm    float64 `json:"p85_mm"`
	P98Mm    float64 `json:"p98_mm"`
}

// ComputeStats summarises a set of valid distances for one channel. An
// empty input yields a zero Stats with only the channel filled in.
func ComputeStats(ch int, distancesMm []float64) Stats {
	s := Stats{Channel: ch, Count: len(distancesMm)}
	if len(distancesMm) == 0 {
		return s
	}

	sorted := make([]float64, len(distancesMm))
	copy(sorted, distancesMm)
	sort.Float64s(sorted)

	s.MeanMm = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		s.StdDevMm = stat.StdDev(sorted, nil)
	}
	s.MinMm = floats.Min(sorted)
	s.MaxMm = floats.Max(sorted)
	s.P50Mm = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P85Mm = stat.Quantile(0.85, stat.Empirical, sorted, nil)
	s.P98Mm = stat.Quantile(0.98, stat.Empirical, sorted, nil)
	return s
}
