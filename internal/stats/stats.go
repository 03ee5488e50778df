// Package stats implements the running statistics used by summary entries.
//
// A Running state tracks {count, mean, min, max} plus the scaled variance
// (sum of squared deviations) using Welford's one-pass update. Two states
// merge with Combine, which is associative and commutative and is the sole
// primitive used to assemble summary queries from mixed levels.
package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Running is a one-pass statistics accumulator.
//
// The zero value is not ready to use; call Reset first or construct with
// NewRunning.
type Running struct {
	Count int64
	Mean  float64
	Min   float64
	Max   float64

	// S is the sum of squared deviations from the mean (scaled variance).
	S float64
}

// NewRunning returns an empty accumulator.
func NewRunning() Running {
	var r Running
	r.Reset()
	return r
}

// Reset empties the accumulator.
func (r *Running) Reset() {
	r.Count = 0
	r.Mean = 0
	r.S = 0
	r.Min = math.Inf(1)
	r.Max = math.Inf(-1)
}

// Add folds one sample into the state.
func (r *Running) Add(x float64) {
	r.Count++
	d := x - r.Mean
	r.Mean += d / float64(r.Count)
	r.S += d * (x - r.Mean)
	if x < r.Min {
		r.Min = x
	}
	if x > r.Max {
		r.Max = x
	}
}

// Variance returns the sample variance with Bessel's correction.
// States with fewer than two samples have zero variance.
func (r *Running) Variance() float64 {
	if r.Count <= 1 {
		return 0
	}
	return r.S / float64(r.Count-1)
}

// Std returns the sample standard deviation.
func (r *Running) Std() float64 {
	return math.Sqrt(r.Variance())
}

// Combine merges b into r. Combining with an empty state is the identity.
func (r *Running) Combine(b Running) {
	if b.Count == 0 {
		return
	}
	if r.Count == 0 {
		*r = b
		return
	}
	ka, kb := float64(r.Count), float64(b.Count)
	kt := ka + kb
	mt := (ka*r.Mean + kb*b.Mean) / kt
	da := r.Mean - mt
	db := b.Mean - mt
	r.S = r.S + ka*da*da + b.S + kb*db*db
	r.Mean = mt
	r.Count += b.Count
	if b.Min < r.Min {
		r.Min = b.Min
	}
	if b.Max > r.Max {
		r.Max = b.Max
	}
}

// FromSummary reconstructs a state from a stored {mean, std, min, max}
// summary entry covering count samples.
func FromSummary(count int64, mean, std, min, max float64) Running {
	r := Running{Count: count, Mean: mean, Min: min, Max: max}
	if count > 1 {
		r.S = std * std * float64(count-1)
	}
	return r
}

// TwoPass computes {count, mean, min, max, S} over a finite sample array
// using a numerically favorable two-pass formulation. Used where accuracy
// matters more than streaming.
func TwoPass(xs []float64) Running {
	r := NewRunning()
	if len(xs) == 0 {
		return r
	}
	r.Count = int64(len(xs))
	r.Mean = stat.Mean(xs, nil)
	r.Min = floats.Min(xs)
	r.Max = floats.Max(xs)
	if r.Count > 1 {
		r.S = stat.Variance(xs, nil) * float64(r.Count-1)
	}
	return r
}
