package tmap_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetperch/jls/internal/tmap"
)

// year is an arbitrary absolute timestamp, ns since the epoch.
var year = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

const second = int64(time.Second)

func Test_Empty_Unavailable(t *testing.T) {
	m := tmap.New(1000)

	_, err := m.SampleToTime(0)
	assert.ErrorIs(t, err, tmap.ErrEmpty)

	_, err = m.TimeToSample(year)
	assert.ErrorIs(t, err, tmap.ErrEmpty)
}

func Test_Add_Decreasing(t *testing.T) {
	m := tmap.New(1000)
	require.NoError(t, m.Add(100, year))

	err := m.Add(99, year+second)

	assert.ErrorIs(t, err, tmap.ErrNonMonotonic)
}

func Test_Add_DuplicateOverwrites(t *testing.T) {
	m := tmap.New(1000)
	require.NoError(t, m.Add(100, year))
	require.NoError(t, m.Add(100, year+second))

	got, err := m.SampleToTime(100)
	require.NoError(t, err)

	assert.Equal(t, year+second, got)
	assert.Equal(t, 1, m.Len())
}

func Test_SingleBreakpoint_UsesNominalRate(t *testing.T) {
	m := tmap.New(1000) // 1 kHz: one sample per millisecond
	require.NoError(t, m.Add(0, year))

	got, err := m.SampleToTime(2500)
	require.NoError(t, err)
	assert.Equal(t, year+2500*int64(time.Millisecond), got)

	s, err := m.TimeToSample(year + second)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, s)
}

func Test_TwoBreakpoints_ExactlyLinear(t *testing.T) {
	m := tmap.New(100)
	require.NoError(t, m.Add(1000, year))
	require.NoError(t, m.Add(2000, year+second))

	for _, s := range []int64{1000, 1250, 1500, 1999, 2000} {
		ts, err := m.SampleToTime(s)
		require.NoError(t, err)
		assert.Equal(t, year+(s-1000)*second/1000, ts)

		back, err := m.TimeToSample(ts)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}
}

func Test_MultiSegment(t *testing.T) {
	m := tmap.New(100)
	require.NoError(t, m.Add(1000, year))
	require.NoError(t, m.Add(2000, year+1*second))
	require.NoError(t, m.Add(4000, year+2*second))
	require.NoError(t, m.Add(4100, year+3*second))

	ts, err := m.SampleToTime(3000)
	require.NoError(t, err)
	assert.Equal(t, year+second+second/2, ts)

	s, err := m.TimeToSample(year + 2*second + second/2)
	require.NoError(t, err)
	assert.EqualValues(t, 4050, s)
}

func Test_Extrapolation_UsesTerminalSlope(t *testing.T) {
	m := tmap.New(100)
	require.NoError(t, m.Add(1000, year))
	require.NoError(t, m.Add(2000, year+second))

	// Beyond the last breakpoint: 1000 samples per second.
	ts, err := m.SampleToTime(3000)
	require.NoError(t, err)
	assert.Equal(t, year+2*second, ts)

	// Before the first breakpoint.
	ts, err = m.SampleToTime(500)
	require.NoError(t, err)
	assert.Equal(t, year-second/2, ts)
}
