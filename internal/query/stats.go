package query

import (
	"math"
	"sort"
)

// DurationStats is the shared shape of PR merge time and issue
// first-response time: count, mean, and p50/p90 of a set of durations in
// seconds.
type DurationStats struct {
	Count      int
	AvgSeconds float64
	P50Seconds float64
	P90Seconds float64
}

func durationStats(values []float64) DurationStats {
	if len(values) == 0 {
		return DurationStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return DurationStats{
		Count:      len(sorted),
		AvgSeconds: mean(sorted),
		P50Seconds: percentile(sorted, 50),
		P90Seconds: percentile(sorted, 90),
	}
}

func mean(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum / float64(len(sorted))
}

// percentile computes the p-th percentile of an already-sorted slice using
// linear interpolation between order statistics (§4.5, §8's percentile
// sanity property: p50 <= p90 and both lie within [min, max]).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

func median(sorted []float64) float64 {
	return percentile(sorted, 50)
}

func minMax(sorted []float64) (min, max float64) {
	if len(sorted) == 0 {
		return 0, 0
	}
	return sorted[0], sorted[len(sorted)-1]
}

// basicStats returns mean and sample standard deviation (Bessel-corrected,
// n-1 denominator), matching the source's anomaly-detection formula
// (event_collector.py / Python statistics.stdev).
func basicStats(values []float64) (mean, stdev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))

	if len(values) < 2 {
		return m, 0
	}

	var sqDiff float64
	for _, v := range values {
		d := v - m
		sqDiff += d * d
	}
	return m, math.Sqrt(sqDiff / float64(len(values)-1))
}
