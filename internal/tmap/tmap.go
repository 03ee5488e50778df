// Package tmap maps sample ids to UTC timestamps and back.
//
// The map is a sorted array of (sample_id, utc) breakpoints with
// piecewise-linear interpolation between neighbors. Outside the breakpoint
// range the terminal segment's slope extrapolates. With a single breakpoint
// the signal's nominal sample rate supplies the slope.
package tmap

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrNonMonotonic indicates an Add with a sample id below the last one.
	ErrNonMonotonic = errors.New("tmap: sample ids must not decrease")

	// ErrEmpty indicates a conversion on a map with no breakpoints.
	ErrEmpty = errors.New("tmap: no breakpoints")
)

// Breakpoint is one (sample_id, utc) correspondence. UTC is in nanoseconds.
type Breakpoint struct {
	SampleID int64
	UTC      int64
}

// TimeMap converts between sample ids and UTC timestamps.
//
// Not safe for use in multiple goroutines.
type TimeMap struct {
	points []Breakpoint

	// sampleRate is the nominal rate in Hz, used when only one breakpoint
	// exists.
	sampleRate float64
}

// New returns an empty map for a signal with the given nominal sample rate.
func New(sampleRate float64) *TimeMap {
	return &TimeMap{sampleRate: sampleRate}
}

// Len returns the number of breakpoints.
func (m *TimeMap) Len() int {
	return len(m.points)
}

// Add appends a breakpoint. Sample ids must not decrease; adding the same
// sample id again overwrites the previous entry.
func (m *TimeMap) Add(sampleID int64, utc int64) error {
	if n := len(m.points); n > 0 {
		last := m.points[n-1].SampleID
		if sampleID < last {
			return fmt.Errorf("%w: %d after %d", ErrNonMonotonic, sampleID, last)
		}
		if sampleID == last {
			m.points[n-1].UTC = utc
			return nil
		}
	}
	m.points = append(m.points, Breakpoint{SampleID: sampleID, UTC: utc})
	return nil
}

// segmentBefore returns the index of the last breakpoint at or before the
// given position, clamped so a following breakpoint exists.
func segmentBefore(n int, le func(i int) bool) int {
	// First index where le is false, minus one.
	i := sort.Search(n, func(i int) bool { return !le(i) }) - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	return i
}

// SampleToTime converts a sample id to UTC nanoseconds.
func (m *TimeMap) SampleToTime(sampleID int64) (int64, error) {
	switch len(m.points) {
	case 0:
		return 0, ErrEmpty
	case 1:
		p := m.points[0]
		dt := float64(sampleID-p.SampleID) / m.sampleRate * 1e9
		return p.UTC + int64(roundHalfAway(dt)), nil
	}

	i := segmentBefore(len(m.points), func(i int) bool {
		return m.points[i].SampleID <= sampleID
	})
	a, b := m.points[i], m.points[i+1]
	frac := float64(sampleID-a.SampleID) / float64(b.SampleID-a.SampleID)
	return a.UTC + int64(roundHalfAway(frac*float64(b.UTC-a.UTC))), nil
}

// TimeToSample converts a UTC timestamp in nanoseconds to the nearest
// sample id.
func (m *TimeMap) TimeToSample(utc int64) (int64, error) {
	switch len(m.points) {
	case 0:
		return 0, ErrEmpty
	case 1:
		p := m.points[0]
		ds := float64(utc-p.UTC) / 1e9 * m.sampleRate
		return p.SampleID + int64(roundHalfAway(ds)), nil
	}

	i := segmentBefore(len(m.points), func(i int) bool {
		return m.points[i].UTC <= utc
	})
	a, b := m.points[i], m.points[i+1]
	frac := float64(utc-a.UTC) / float64(b.UTC-a.UTC)
	return a.SampleID + int64(roundHalfAway(frac*float64(b.SampleID-a.SampleID))), nil
}

func roundHalfAway(x float64) float64 {
	if x < 0 {
		return x - 0.5
	}
	return x + 0.5
}
