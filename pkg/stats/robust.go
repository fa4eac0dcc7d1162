// Package stats provides the robust summary used for stay durations:
// a single median ± k·σ outlier trim followed by median and deviation.
package stats

import (
	"errors"
	"math"
	"sort"
)

var (
	// ErrEmptySamples is returned when a summary is requested for no samples.
	ErrEmptySamples = errors.New("stats: empty sample set")

	// ErrAllTrimmed is returned when the outlier bounds exclude every sample.
	// This can only happen with a coefficient below 1.
	ErrAllTrimmed = errors.New("stats: no samples within outlier bounds")
)

// Summary is the robust reduction of one sample set.
type Summary struct {
	Avg        int64 // median of the trimmed samples, truncated toward zero
	DataPoints int   // samples kept by the trim
	SD         int64 // deviation of the kept samples, truncated toward zero
}

// Bounds is an inclusive [Lower, Upper] interval.
type Bounds struct {
	Lower float64
	Upper float64
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// OutlierBounds returns median ± k·σ of samples, σ being the population
// standard deviation. samples must be non-empty.
func OutlierBounds(samples []int64, k float64) Bounds {
	m := Median(samples)
	sd := PopulationStdDev(samples)
	return Bounds{Lower: m - sd*k, Upper: m + sd*k}
}

// Trim returns the samples inside OutlierBounds(samples, k), preserving order.
// The bounds are computed once from the untrimmed samples.
func Trim(samples []int64, k float64) []int64 {
	if len(samples) == 0 {
		return nil
	}
	b := OutlierBounds(samples, k)
	kept := make([]int64, 0, len(samples))
	for _, v := range samples {
		if b.Contains(float64(v)) {
			kept = append(kept, v)
		}
	}
	return kept
}

// Summarize trims samples with coefficient k and summarizes what is left.
// The deviation of the kept samples is the population deviation when fewer
// than two remain, otherwise the sample (n-1) deviation.
func Summarize(samples []int64, k float64) (Summary, error) {
	if len(samples) == 0 {
		return Summary{}, ErrEmptySamples
	}

	kept := Trim(samples, k)
	if len(kept) == 0 {
		return Summary{}, ErrAllTrimmed
	}

	var sd float64
	if len(kept) < 2 {
		sd = PopulationStdDev(kept)
	} else {
		sd = SampleStdDev(kept)
	}

	return Summary{
		Avg:        int64(Median(kept)),
		DataPoints: len(kept),
		SD:         int64(sd),
	}, nil
}

// Median returns the median of samples, averaging the two middle values for
// even lengths. samples need not be sorted and is not modified.
// The median of no samples is NaN.
func Median(samples []int64) float64 {
	n := len(samples)
	if n == 0 {
		return math.NaN()
	}

	sorted := samples
	if !sort.SliceIsSorted(samples, func(i, j int) bool { return samples[i] < samples[j] }) {
		sorted = make([]int64, n)
		copy(sorted, samples)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	}

	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
}

// Mean returns the arithmetic mean of samples, NaN for no samples.
func Mean(samples []int64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v)
	}
	return sum / float64(len(samples))
}

// PopulationStdDev returns the standard deviation with divisor n.
func PopulationStdDev(samples []int64) float64 {
	return stdDev(samples, 0)
}

// SampleStdDev returns the Bessel-corrected standard deviation (divisor n-1).
// It is NaN for fewer than two samples.
func SampleStdDev(samples []int64) float64 {
	return stdDev(samples, 1)
}

func stdDev(samples []int64, ddof int) float64 {
	n := len(samples) - ddof
	if n <= 0 {
		return math.NaN()
	}
	mean := Mean(samples)
	var ss float64
	for _, v := range samples {
		d := float64(v) - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
