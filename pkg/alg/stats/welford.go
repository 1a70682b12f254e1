// Package stats provides single-pass statistical primitives for streaming
// numerical data: a Welford moment accumulator and a fixed-capacity
// reservoir sampler. Both cost O(1) per update and are allocation-stable
// after warm-up. All standard deviation calculations use population
// stddev (÷n, not ÷(n−1)).
package stats

import "math"

// Welford maintains running count, mean, second moment, and extrema over a
// stream of float64 values using Welford's online algorithm.
type Welford struct {
	n    uint64
	mean float64
	m2   float64
	min  float64
	max  float64
}

// NewWelford returns an empty accumulator.
func NewWelford() *Welford {
	return &Welford{
		min: math.Inf(1),
		max: math.Inf(-1),
	}
}

// Update folds x into the accumulator.
func (w *Welford) Update(x float64) {
	w.n++

	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)

	w.min = math.Min(w.min, x)
	w.max = math.Max(w.max, x)
}

// Count returns the number of observed values.
func (w *Welford) Count() uint64 {
	return w.n
}

// Mean returns the running mean, or (0, false) when no values were observed.
func (w *Welford) Mean() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}

	return w.mean, true
}

// Min returns the smallest observed value, or (0, false) when empty.
func (w *Welford) Min() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}

	return w.min, true
}

// Max returns the largest observed value, or (0, false) when empty.
func (w *Welford) Max() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}

	return w.max, true
}

// Variance returns the population variance. Zero until two values are seen.
func (w *Welford) Variance() float64 {
	if w.n < 2 {
		return 0
	}

	return w.m2 / float64(w.n)
}

// StdDev returns the population standard deviation.
func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}
