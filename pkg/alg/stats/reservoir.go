package stats

import (
	"math"
	"math/rand"
	"slices"
)

// DefaultReservoirCapacity is the default fixed sample size.
const DefaultReservoirCapacity = 50000

// Reservoir is a fixed-capacity uniform sample over an unbounded stream
// (Algorithm R). Percentiles extracted from the sample approximate the
// stream's percentiles; accuracy is bounded by the capacity.
type Reservoir struct {
	rng    *rand.Rand
	sample []float64
	count  uint64
	sorted bool
}

// NewReservoir creates a reservoir with the given capacity and random
// source. A nil rng uses the shared global source; pass a seeded
// *rand.Rand for deterministic sampling in tests. Non-positive capacities
// fall back to DefaultReservoirCapacity.
func NewReservoir(capacity int, rng *rand.Rand) *Reservoir {
	if capacity <= 0 {
		capacity = DefaultReservoirCapacity
	}

	return &Reservoir{
		rng:    rng,
		sample: make([]float64, 0, capacity),
	}
}

// Update offers x to the reservoir.
func (r *Reservoir) Update(x float64) {
	r.count++

	if len(r.sample) < cap(r.sample) {
		r.sample = append(r.sample, x)
		r.sorted = false

		return
	}

	idx := r.intn(int(min(r.count, math.MaxInt64)))
	if idx < cap(r.sample) {
		r.sample[idx] = x
		r.sorted = false
	}
}

// Count returns the number of values offered to the reservoir, which may
// exceed the sample size.
func (r *Reservoir) Count() uint64 {
	return r.count
}

// Percentile returns the p-th percentile (p in 0..100) of the current
// sample using linear interpolation, or (0, false) when the sample is
// empty. The sample is sorted lazily on first extraction.
func (r *Reservoir) Percentile(p float64) (float64, bool) {
	if len(r.sample) == 0 {
		return 0, false
	}

	if !r.sorted {
		slices.Sort(r.sample)
		r.sorted = true
	}

	const percentileScale = 100.0

	idx := p / percentileScale * float64(len(r.sample)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))

	if lower == upper || upper >= len(r.sample) {
		return r.sample[lower], true
	}

	frac := idx - float64(lower)

	return r.sample[lower]*(1-frac) + r.sample[upper]*frac, true
}

func (r *Reservoir) intn(n int) int {
	if r.rng != nil {
		return r.rng.Intn(n)
	}

	return rand.Intn(n)
}
