package units

import (
	"math"
	"slices"
)

// mean returns the arithmetic mean of values, or 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// trimmedMean averages values after discarding points outside the Tukey
// fences [Q1 - k*IQR, Q3 + k*IQR].
//
// Up to two values are averaged directly. Quartiles are read from the sorted
// copy at indices floor(0.25*(n-1)) and floor(0.75*(n-1)), so a single extreme
// value in a four-point sample lands outside the fences instead of becoming Q3.
// If the fences reject everything the plain mean is returned.
//
// The input slice is not modified.
func trimmedMean(values []float64, k float64) float64 {
	if len(values) <= 2 {
		return mean(values)
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := len(sorted)
	q1 := sorted[int(math.Floor(0.25*float64(n-1)))]
	q3 := sorted[int(math.Floor(0.75*float64(n-1)))]
	iqr := q3 - q1
	lo, hi := q1-k*iqr, q3+k*iqr

	kept := make([]float64, 0, n)
	for _, v := range sorted {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return mean(values)
	}
	return mean(kept)
}

// plurality returns the most frequent value. Ties go to the value that was
// seen first. ok is false for an empty slice.
func plurality[T comparable](values []T) (winner T, ok bool) {
	counts := make(map[T]int, len(values))
	order := make([]T, 0, len(values))
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}

	best := 0
	for _, v := range order {
		if counts[v] > best {
			winner, best = v, counts[v]
		}
	}
	return winner, best > 0
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
