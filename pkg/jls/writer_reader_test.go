package jls_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetperch/jls/internal/observabilitytest"
	"github.com/jetperch/jls/pkg/jls"
)

const testSignalID = 5

// testSignal is the default test geometry: 100-sample data chunks, 10
// samples per level-1 entry, 20 entries per summary chunk, 5 entries per
// higher-level window.
func testSignal() jls.SignalDef {
	return jls.SignalDef{
		SignalID:              testSignalID,
		SourceID:              1,
		DataType:              jls.DataTypeF32,
		SampleRate:            1000,
		SamplesPerData:        100,
		SampleDecimateFactor:  10,
		EntriesPerSummary:     20,
		SummaryDecimateFactor: 5,
	}
}

func newTestWriter(t *testing.T, fs afero.Fs, def jls.SignalDef) *jls.Writer {
	t.Helper()

	w, err := jls.OpenWriter("test.jls",
		jls.WithFileSystem(fs),
		jls.WithLogger(observabilitytest.NewTestLogger(t)))
	require.NoError(t, err)
	require.NoError(t, w.SourceDef(jls.SourceDef{
		SourceID: 1,
		Name:     "bench supply",
		Model:    "JS220",
	}))
	require.NoError(t, w.SignalDef(def))
	return w
}

func newTestReader(t *testing.T, fs afero.Fs) *jls.Reader {
	t.Helper()

	r, err := jls.OpenReader("test.jls",
		jls.WithFileSystem(fs),
		jls.WithLogger(observabilitytest.NewTestLogger(t)))
	require.NoError(t, err)
	return r
}

func f32le(xs []float32) []byte {
	out := make([]byte, 0, len(xs)*4)
	for _, x := range xs {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(x))
	}
	return out
}

// triangle returns a triangle wave with the given period and amplitude
// 1.0.
func triangle(n, period int) []float32 {
	out := make([]float32, n)
	for i := range out {
		phase := float64(i%period) / float64(period)
		out[i] = float32(1 - math.Abs(2*phase-1))
	}
	return out
}

// twoPassStats computes reference statistics directly from the input.
func twoPassStats(xs []float32) (mean, std, min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, x := range xs {
		v := float64(x)
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean = sum / float64(len(xs))
	var s float64
	for _, x := range xs {
		d := float64(x) - mean
		s += d * d
	}
	if len(xs) > 1 {
		std = math.Sqrt(s / float64(len(xs)-1))
	}
	return mean, std, min, max
}

func writeAll(t *testing.T, w *jls.Writer, xs []float32, chunk int) {
	t.Helper()
	for i := 0; i < len(xs); i += chunk {
		end := i + chunk
		if end > len(xs) {
			end = len(xs)
		}
		require.NoError(t, w.WriteFSR(testSignalID, int64(i),
			f32le(xs[i:end]), int64(end-i)))
	}
}

func Test_RoundTrip_F32(t *testing.T) {
	fs := afero.NewMemMapFs()
	xs := triangle(9370, 1000)

	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, xs, 937)
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	total, err := r.TotalSamples(testSignalID)
	require.NoError(t, err)
	assert.EqualValues(t, len(xs), total)

	got, err := r.ReadFSR(testSignalID, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, f32le(xs[:1000]), got)

	got, err = r.ReadFSR(testSignalID, 1999, 3001-1999)
	require.NoError(t, err)
	assert.Equal(t, f32le(xs[1999:3001]), got)

	got, err = r.ReadFSR(testSignalID, 0, int64(len(xs)))
	require.NoError(t, err)
	assert.Equal(t, f32le(xs), got)
}

func Test_Read_OutOfRange(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, triangle(500, 100), 500)
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	_, err := r.ReadFSR(testSignalID, -1, 10)
	assert.ErrorIs(t, err, jls.ErrParamInvalid)

	_, err = r.ReadFSR(testSignalID, 400, 101)
	assert.ErrorIs(t, err, jls.ErrParamInvalid)

	_, err = r.ReadFSR(9, 0, 10)
	assert.ErrorIs(t, err, jls.ErrNotFound)
}

func Test_Statistics_Constant(t *testing.T) {
	fs := afero.NewMemMapFs()
	xs := make([]float32, 2000)
	for i := range xs {
		xs[i] = 3.0
	}

	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, xs, 500)
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	quads, err := r.FSRStatistics(testSignalID, 0, 2000, 1)
	require.NoError(t, err)
	require.Len(t, quads, 1)

	assert.InDelta(t, 3.0, quads[0].Mean, 1e-9)
	assert.InDelta(t, 0.0, quads[0].Std, 1e-9)
	assert.Equal(t, 3.0, quads[0].Min)
	assert.Equal(t, 3.0, quads[0].Max)
}

func Test_Statistics_MatchesTwoPass(t *testing.T) {
	fs := afero.NewMemMapFs()
	xs := triangle(9370, 137)

	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, xs, 1000)
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	cases := []struct {
		name             string
		start, increment int64
		count            int64
	}{
		{"raw-only", 3, 7, 5},
		{"level1-aligned", 0, 10, 10},
		{"level1-offset", 13, 40, 6},
		{"level2", 7, 250, 8},
		{"deep", 100, 3000, 3},
		{"whole", 0, 9370, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quads, err := r.FSRStatistics(
				testSignalID, tc.start, tc.increment, tc.count)
			require.NoError(t, err)

			for i, q := range quads {
				s0 := tc.start + int64(i)*tc.increment
				mean, std, min, max := twoPassStats(xs[s0 : s0+tc.increment])

				assert.InDelta(t, mean, q.Mean, 1e-7, "window %d mean", i)
				assert.InDelta(t, std, q.Std, 1e-7+5e-4*std, "window %d std", i)
				assert.InDelta(t, min, q.Min, 1e-7, "window %d min", i)
				assert.InDelta(t, max, q.Max, 1e-7, "window %d max", i)
			}
		})
	}
}

func Test_Omit_MeanFill(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, testSignal())

	ramp := func(from, n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(from + i)
		}
		return out
	}

	require.NoError(t, w.WriteFSR(testSignalID, 0, f32le(ramp(0, 300)), 300))
	require.NoError(t, w.SetOmitData(testSignalID, true))
	// Enable applies at the next block boundary: [300, 400) is still
	// stored, [400, 600) is omitted.
	require.NoError(t, w.WriteFSR(testSignalID, 300, f32le(ramp(300, 300)), 300))
	require.NoError(t, w.SetOmitData(testSignalID, false))
	require.NoError(t, w.WriteFSR(testSignalID, 600, f32le(ramp(600, 100)), 100))
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	total, err := r.TotalSamples(testSignalID)
	require.NoError(t, err)
	assert.EqualValues(t, 700, total)

	// Stored ranges come back bitwise.
	got, err := r.ReadFSR(testSignalID, 300, 100)
	require.NoError(t, err)
	assert.Equal(t, f32le(ramp(300, 100)), got)

	got, err = r.ReadFSR(testSignalID, 600, 100)
	require.NoError(t, err)
	assert.Equal(t, f32le(ramp(600, 100)), got)

	// Omitted samples reconstruct as their level-1 window means: window
	// [450, 460) has mean 454.5.
	vals, err := r.ReadFSRF64(testSignalID, 450, 10)
	require.NoError(t, err)
	for _, v := range vals {
		assert.InDelta(t, 454.5, v, 1e-9)
	}

	// Statistics over the omitted region stay faithful to the written
	// samples because summaries kept flowing.
	quads, err := r.FSRStatistics(testSignalID, 400, 200, 1)
	require.NoError(t, err)
	mean, _, min, max := twoPassStats(ramp(400, 200))
	assert.InDelta(t, mean, quads[0].Mean, 1e-7)
	assert.InDelta(t, min, quads[0].Min, 1e-7)
	assert.InDelta(t, max, quads[0].Max, 1e-7)
}

func Test_U1_RoundTrip_UnalignedOrigin(t *testing.T) {
	fs := afero.NewMemMapFs()
	def := testSignal()
	def.DataType = jls.DataTypeU1
	def.SamplesPerData = 80
	def.SampleDecimateFactor = 8
	def.EntriesPerSummary = 4
	def.SummaryDecimateFactor = 2

	w := newTestWriter(t, fs, def)

	// 160 samples packed LSB first, alternating run lengths.
	packed := make([]byte, 20)
	for i := 0; i < 160; i++ {
		if i%3 == 0 {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	// Origin 3 is not byte aligned; the writer pads and records the bit
	// shift.
	require.NoError(t, w.WriteFSR(testSignalID, 3, packed, 160))
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	got, err := r.ReadFSR(testSignalID, 0, 160)
	require.NoError(t, err)
	assert.Equal(t, packed, got)

	// Spot-check decoded values.
	vals, err := r.ReadFSRF64(testSignalID, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 1, 0, 0, 1, 0, 0}, vals)
}

func Test_U4_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	def := testSignal()
	def.DataType = jls.DataTypeU4
	def.SamplesPerData = 100
	def.SampleDecimateFactor = 10
	def.EntriesPerSummary = 4
	def.SummaryDecimateFactor = 2

	w := newTestWriter(t, fs, def)

	packed := make([]byte, 100)
	for i := 0; i < 200; i++ {
		nib := uint8(i * 7 % 16)
		packed[i/2] |= nib << (4 * (i % 2))
	}
	require.NoError(t, w.WriteFSR(testSignalID, 0, packed, 200))
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	got, err := r.ReadFSR(testSignalID, 0, 200)
	require.NoError(t, err)
	assert.Equal(t, packed, got)

	got, err = r.ReadFSR(testSignalID, 51, 10)
	require.NoError(t, err)
	want := make([]byte, 5)
	for i := 0; i < 10; i++ {
		nib := uint8((51 + i) * 7 % 16)
		want[i/2] |= nib << (4 * (i % 2))
	}
	assert.Equal(t, want, got)
}

func Test_UTC_Interpolation(t *testing.T) {
	fs := afero.NewMemMapFs()
	year := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()
	second := int64(time.Second)

	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, triangle(4200, 100), 4200)
	require.NoError(t, w.UTC(testSignalID, 1000, year))
	require.NoError(t, w.UTC(testSignalID, 2000, year+second))
	require.NoError(t, w.UTC(testSignalID, 4000, year+2*second))
	require.NoError(t, w.UTC(testSignalID, 4100, year+3*second))
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	ts, err := r.SampleToTime(testSignalID, 3000)
	require.NoError(t, err)
	assert.Equal(t, year+second+second/2, ts)

	s, err := r.TimeToSample(testSignalID, year+2*second+second/2)
	require.NoError(t, err)
	assert.EqualValues(t, 4050, s)
}

func Test_UTC_BeforeSamples(t *testing.T) {
	fs := afero.NewMemMapFs()
	year := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano()

	w := newTestWriter(t, fs, testSignal())
	// Breakpoint arrives before the first sample; the signal's nominal
	// 1 kHz rate supplies the slope for a single breakpoint.
	require.NoError(t, w.UTC(testSignalID, 0, year))
	writeAll(t, w, triangle(500, 100), 500)
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	ts, err := r.SampleToTime(testSignalID, 250)
	require.NoError(t, err)
	assert.Equal(t, year+250*int64(time.Millisecond), ts)
}

func Test_SampleToTime_NoUTCTrack(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, triangle(100, 10), 100)
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	_, err := r.SampleToTime(testSignalID, 50)
	assert.ErrorIs(t, err, jls.ErrUnavailable)
}

func Test_Annotations(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, triangle(1000, 100), 1000)

	for _, ts := range []int64{100, 500, 900} {
		require.NoError(t, w.Annotation(testSignalID, jls.Annotation{
			Timestamp:      ts,
			Y:              float32(ts),
			AnnotationType: jls.AnnotationTypeMarker,
			StorageType:    jls.StorageTypeString,
			GroupID:        2,
			Data:           []byte("marker"),
		}))
	}
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	anns, err := r.Annotations(testSignalID, 200, 900)
	require.NoError(t, err)
	require.Len(t, anns, 2)
	assert.EqualValues(t, 500, anns[0].Timestamp)
	assert.EqualValues(t, 900, anns[1].Timestamp)
	assert.Equal(t, []byte("marker"), anns[0].Data)
	assert.Equal(t, uint8(2), anns[0].GroupID)
}

func Test_UserData(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, triangle(100, 10), 100)

	require.NoError(t, w.UserData(jls.UserData{
		ChunkMeta:   42,
		StorageType: jls.StorageTypeJSON,
		Data:        []byte(`{"run": 7}`),
	}))
	require.NoError(t, w.UserData(jls.UserData{
		ChunkMeta:   43,
		StorageType: jls.StorageTypeBinary,
		Data:        []byte{1, 2, 3},
	}))
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	records, err := r.UserData()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint16(42), records[0].ChunkMeta)
	assert.Equal(t, jls.StorageTypeJSON, records[0].StorageType)
	assert.Equal(t, []byte(`{"run": 7}`), records[0].Data)
	assert.Equal(t, []byte{1, 2, 3}, records[1].Data)
}

func Test_Definitions_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := jls.OpenWriter("test.jls", jls.WithFileSystem(fs))
	require.NoError(t, err)

	// Signal before its source.
	err = w.SignalDef(testSignal())
	assert.ErrorIs(t, err, jls.ErrNotFound)

	require.NoError(t, w.SourceDef(jls.SourceDef{SourceID: 1, Name: "dev"}))
	err = w.SourceDef(jls.SourceDef{SourceID: 1})
	assert.ErrorIs(t, err, jls.ErrAlreadyExists)

	require.NoError(t, w.SignalDef(testSignal()))
	err = w.SignalDef(testSignal())
	assert.ErrorIs(t, err, jls.ErrAlreadyExists)

	// Geometry violations.
	bad := testSignal()
	bad.SignalID = 6
	bad.SamplesPerData = 105 // not a multiple of the decimate factor
	assert.ErrorIs(t, w.SignalDef(bad), jls.ErrParamInvalid)

	bad = testSignal()
	bad.SignalID = 0
	assert.ErrorIs(t, w.SignalDef(bad), jls.ErrParamInvalid)

	// Sample id gaps fail.
	require.NoError(t, w.WriteFSR(testSignalID, 0, f32le(triangle(100, 10)), 100))
	err = w.WriteFSR(testSignalID, 150, f32le(triangle(100, 10)), 100)
	assert.ErrorIs(t, err, jls.ErrParamInvalid)

	require.NoError(t, w.Close())
}

func Test_Reader_EmptySignal(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, testSignal())
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	_, err := r.ReadFSR(testSignalID, 0, 1)
	assert.ErrorIs(t, err, jls.ErrEmpty)
}

func Test_Reader_Catalog(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := newTestWriter(t, fs, testSignal())
	writeAll(t, w, triangle(100, 10), 100)
	require.NoError(t, w.Close())

	r := newTestReader(t, fs)
	defer r.Close()

	sources := r.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, "bench supply", sources[0].Name)
	assert.Equal(t, "JS220", sources[0].Model)

	signals := r.Signals()
	require.Len(t, signals, 1)
	assert.Equal(t, uint16(testSignalID), signals[0].SignalID)
	assert.Equal(t, jls.DataTypeF32, signals[0].DataType)
	assert.EqualValues(t, 100, signals[0].SamplesPerData)
}
