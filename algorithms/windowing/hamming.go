package windowing

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Hamming returns size Hamming coefficients. A symmetric window peaks at
// 1.0 in the middle (odd sizes); a periodic one is suited to spectral frames.
func Hamming(size int, symmetric bool) []float64 {
	size = max(size, 1)
	coefficients := make([]float64, size)
	if size == 1 {
		coefficients[0] = 1.0
		return coefficients
	}

	denominator := float64(size)
	if symmetric {
		denominator = float64(size - 1)
	}
	for i := range coefficients {
		coefficients[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/denominator)
	}
	return coefficients
}

// RisingWeights returns the rising half of a symmetric Hamming window of
// length 2n-1: n weights ending at the 1.0 peak. Used for causal moving
// averages where the newest sample sits at the end and weighs the most.
func RisingWeights(n int) []float64 {
	n = max(n, 1)
	return Hamming(2*n-1, true)[:n]
}

// WeightedMean averages the newest len(values) entries of weights against
// values, so a partially filled window still gives the newest value the
// largest weight. ok is false when there is nothing to weigh.
func WeightedMean(values, weights []float64) (float64, bool) {
	n := min(len(values), len(weights))
	if n == 0 {
		return 0.0, false
	}
	values = values[len(values)-n:]
	weights = weights[len(weights)-n:]

	norm := floats.Sum(weights)
	if norm == 0 {
		return 0.0, false
	}
	return floats.Dot(values, weights) / norm, true
}
