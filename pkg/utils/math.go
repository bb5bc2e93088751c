package utils

import (
	"math"
	"sort"

	"golang.org/x/exp/constraints"
)

// Clamp bounds value to [lo, hi]
func Clamp[T constraints.Ordered](value, lo, hi T) T {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// CeilDiv returns ceil(a / b) for positive b
func CeilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

// Product multiplies all values; the empty product is 1
func Product[T constraints.Integer | constraints.Float](values []T) T {
	var p T = 1
	for _, v := range values {
		p *= v
	}
	return p
}

// Divisors returns the positive divisors of n in ascending order
func Divisors(n int) []int {
	if n <= 0 {
		return nil
	}
	small := make([]int, 0)
	large := make([]int, 0)
	for d := 1; d*d <= n; d++ {
		if n%d != 0 {
			continue
		}
		small = append(small, d)
		if d != n/d {
			large = append(large, n/d)
		}
	}
	for i := len(large) - 1; i >= 0; i-- {
		small = append(small, large[i])
	}
	return small
}

// PowersOfTwo returns 1, 2, 4, ... up to and including limit
func PowersOfTwo(limit int) []int {
	out := make([]int, 0)
	for p := 1; p <= limit; p *= 2 {
		out = append(out, p)
	}
	return out
}

// Mean calculates the mean of a slice of float64 values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// StdDev calculates the population standard deviation of values
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sumSquares := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

// Percentile calculates the percentile of a slice of float64 values
// percentile should be between 0 and 100
func Percentile(values []float64, percentile float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	index := (percentile / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))

	if lower == upper {
		return sorted[lower]
	}

	// Linear interpolation between lower and upper
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Sum calculates the sum of a slice of float64 values
func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}
