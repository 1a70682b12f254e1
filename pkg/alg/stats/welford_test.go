package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/loadgauge/pkg/alg/stats"
)

const (
	// floatTolerance bounds accumulated floating point error in moment tests.
	floatTolerance = 1e-9
)

func TestWelford_Empty(t *testing.T) {
	t.Parallel()

	w := stats.NewWelford()

	_, ok := w.Mean()
	assert.False(t, ok)

	_, ok = w.Min()
	assert.False(t, ok)

	_, ok = w.Max()
	assert.False(t, ok)

	assert.Zero(t, w.Count())
	assert.Zero(t, w.Variance())
}

func TestWelford_SingleValue(t *testing.T) {
	t.Parallel()

	w := stats.NewWelford()
	w.Update(42)

	mean, ok := w.Mean()
	require.True(t, ok)
	assert.InDelta(t, 42.0, mean, floatTolerance)

	minVal, ok := w.Min()
	require.True(t, ok)
	assert.InDelta(t, 42.0, minVal, floatTolerance)

	maxVal, ok := w.Max()
	require.True(t, ok)
	assert.InDelta(t, 42.0, maxVal, floatTolerance)

	// Variance is defined as zero for fewer than two values.
	assert.Zero(t, w.Variance())
}

func TestWelford_MomentsMatchDirectComputation(t *testing.T) {
	t.Parallel()

	values := []float64{120, 80, 200, 15.5, 99, 300, 1}

	w := stats.NewWelford()
	for _, v := range values {
		w.Update(v)
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	wantMean := sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		diff := v - wantMean
		sumSq += diff * diff
	}

	wantVariance := sumSq / float64(len(values))

	mean, ok := w.Mean()
	require.True(t, ok)
	assert.InDelta(t, wantMean, mean, floatTolerance)
	assert.InDelta(t, wantVariance, w.Variance(), floatTolerance)

	minVal, _ := w.Min()
	maxVal, _ := w.Max()
	assert.InDelta(t, 1.0, minVal, floatTolerance)
	assert.InDelta(t, 300.0, maxVal, floatTolerance)
	assert.Equal(t, uint64(len(values)), w.Count())
}

func TestWelford_MinLEMeanLEMax(t *testing.T) {
	t.Parallel()

	w := stats.NewWelford()
	for _, v := range []float64{5, 3, 8, 1, 9, 2} {
		w.Update(v)
	}

	mean, _ := w.Mean()
	minVal, _ := w.Min()
	maxVal, _ := w.Max()

	assert.LessOrEqual(t, minVal, mean)
	assert.LessOrEqual(t, mean, maxVal)
}
