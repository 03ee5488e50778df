package stats_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetperch/jls/internal/stats"
)

func Test_Running_Empty(t *testing.T) {
	r := stats.NewRunning()

	assert.EqualValues(t, 0, r.Count)
	assert.True(t, math.IsInf(r.Min, 1))
	assert.True(t, math.IsInf(r.Max, -1))
	assert.Zero(t, r.Variance())
}

func Test_Running_SingleSample(t *testing.T) {
	r := stats.NewRunning()

	r.Add(3.5)

	assert.EqualValues(t, 1, r.Count)
	assert.Equal(t, 3.5, r.Mean)
	assert.Equal(t, 3.5, r.Min)
	assert.Equal(t, 3.5, r.Max)
	assert.Zero(t, r.Std())
}

func Test_Running_MatchesTwoPass(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, -2, 7.25, 0.5}

	r := stats.NewRunning()
	for _, x := range xs {
		r.Add(x)
	}
	tp := stats.TwoPass(xs)

	assert.EqualValues(t, len(xs), r.Count)
	assert.InDelta(t, tp.Mean, r.Mean, 1e-12)
	assert.InDelta(t, tp.Variance(), r.Variance(), 1e-12)
	assert.Equal(t, tp.Min, r.Min)
	assert.Equal(t, tp.Max, r.Max)
}

func Test_Combine_Identity(t *testing.T) {
	r := stats.NewRunning()
	r.Add(1)
	r.Add(2)
	before := r

	r.Combine(stats.NewRunning())

	assert.Equal(t, before, r)

	empty := stats.NewRunning()
	empty.Combine(before)
	assert.Equal(t, before, empty)
}

func Test_Combine_EqualsSinglePass(t *testing.T) {
	a := []float64{0.25, 1, -3, 8, 2}
	b := []float64{7, 7, 6.5}

	ra := stats.NewRunning()
	for _, x := range a {
		ra.Add(x)
	}
	rb := stats.NewRunning()
	for _, x := range b {
		rb.Add(x)
	}
	ra.Combine(rb)

	all := stats.TwoPass(append(append([]float64{}, a...), b...))
	assert.EqualValues(t, all.Count, ra.Count)
	assert.InDelta(t, all.Mean, ra.Mean, 1e-12)
	assert.InDelta(t, all.Variance(), ra.Variance(), 1e-9)
	assert.Equal(t, all.Min, ra.Min)
	assert.Equal(t, all.Max, ra.Max)
}

func Test_Combine_Associative(t *testing.T) {
	mk := func(xs ...float64) stats.Running {
		r := stats.NewRunning()
		for _, x := range xs {
			r.Add(x)
		}
		return r
	}
	a, b, c := mk(1, 2), mk(3), mk(4, 5, 6)

	left := a
	left.Combine(b)
	left.Combine(c)

	bc := b
	bc.Combine(c)
	right := a
	right.Combine(bc)

	assert.EqualValues(t, right.Count, left.Count)
	assert.InDelta(t, right.Mean, left.Mean, 1e-12)
	assert.InDelta(t, right.S, left.S, 1e-9)
	assert.Equal(t, right.Min, left.Min)
	assert.Equal(t, right.Max, left.Max)
}

func Test_FromSummary_RoundTrip(t *testing.T) {
	r := stats.NewRunning()
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		r.Add(x)
	}

	back := stats.FromSummary(r.Count, r.Mean, r.Std(), r.Min, r.Max)

	require.EqualValues(t, r.Count, back.Count)
	assert.InDelta(t, r.S, back.S, 1e-9)
	assert.InDelta(t, r.Std(), back.Std(), 1e-12)
}

func Test_TwoPass_Empty(t *testing.T) {
	r := stats.TwoPass(nil)

	assert.EqualValues(t, 0, r.Count)
	assert.Zero(t, r.Variance())
}
