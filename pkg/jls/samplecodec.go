package jls

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jetperch/jls/internal/bitpack"
)

// sampleFloat returns sample i of a packed buffer as a float64. The buffer
// starts at bit 0 (any storage bit shift already removed).
func sampleFloat(dt DataType, buf []byte, i int64) float64 {
	switch dt {
	case DataTypeF32:
		return float64(math.Float32frombits(
			binary.LittleEndian.Uint32(buf[i*4:])))
	case DataTypeF64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	case DataTypeU1:
		return float64(bitpack.Extract(buf, i, 1))
	case DataTypeU4:
		return float64(bitpack.Extract(buf, i, 4))
	case DataTypeU8:
		return float64(buf[i])
	case DataTypeI8:
		return float64(int8(buf[i]))
	case DataTypeU16:
		return float64(binary.LittleEndian.Uint16(buf[i*2:]))
	case DataTypeI16:
		return float64(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	case DataTypeU32:
		return float64(binary.LittleEndian.Uint32(buf[i*4:]))
	case DataTypeI32:
		return float64(int32(binary.LittleEndian.Uint32(buf[i*4:])))
	case DataTypeU64:
		return float64(binary.LittleEndian.Uint64(buf[i*8:]))
	case DataTypeI64:
		return float64(int64(binary.LittleEndian.Uint64(buf[i*8:])))
	}
	return math.NaN()
}

// sampleBytesFor returns the packed byte count for sampleCount samples
// starting at bit 0.
func sampleBytesFor(dt DataType, sampleCount int64) int {
	return bitpack.PackedByteCount(sampleCount, dt.SampleBits(), 0)
}

// validateSampleBuffer checks that buf holds exactly sampleCount samples.
func validateSampleBuffer(dt DataType, buf []byte, sampleCount int64) error {
	if want := sampleBytesFor(dt, sampleCount); len(buf) != want {
		return fmt.Errorf(
			"%w: %d bytes for %d %v samples, expected %d",
			ErrParamInvalid, len(buf), sampleCount, dt, want)
	}
	return nil
}

// sampleSink assembles a packed sample buffer in output order. Used by the
// raw read path both for copying stored samples and for synthesizing
// samples in omitted windows.
type sampleSink struct {
	dt  DataType
	out []byte
	app bitpack.Appender
}

func newSampleSink(dt DataType, sampleCount int64) *sampleSink {
	s := &sampleSink{dt: dt}
	if !dt.packed() {
		s.out = make([]byte, 0, sampleBytesFor(dt, sampleCount))
	}
	return s
}

// bytes returns the assembled buffer.
func (s *sampleSink) bytes() []byte {
	if s.dt.packed() {
		return s.app.Bytes()
	}
	return s.out
}

// copySamples appends count samples starting at sample index from of a
// stored, bit-aligned buffer.
func (s *sampleSink) copySamples(src []byte, from, count int64) {
	if s.dt.packed() {
		bits := s.dt.SampleBits()
		for i := int64(0); i < count; i++ {
			s.app.AppendBits(bitpack.Extract(src, from+i, bits), bits)
		}
		return
	}
	size := int64(s.dt.SampleBits() / 8)
	s.out = append(s.out, src[from*size:(from+count)*size]...)
}

// fillValue appends count copies of v encoded in the sink's datatype.
func (s *sampleSink) fillValue(v float64, count int64) {
	if s.dt.packed() {
		bits := s.dt.SampleBits()
		enc := encodePackedValue(v, bits)
		for i := int64(0); i < count; i++ {
			s.app.AppendBits(enc, bits)
		}
		return
	}
	for i := int64(0); i < count; i++ {
		s.out = appendSampleValue(s.dt, s.out, v)
	}
}

func encodePackedValue(v float64, bits int) uint8 {
	max := float64(int(1)<<bits - 1)
	r := math.Round(v)
	if r < 0 {
		r = 0
	}
	if r > max {
		r = max
	}
	return uint8(r)
}

func appendSampleValue(dt DataType, out []byte, v float64) []byte {
	switch dt {
	case DataTypeF32:
		return binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v)))
	case DataTypeF64:
		return binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	case DataTypeU8:
		return append(out, uint8(clampRound(v, 0, math.MaxUint8)))
	case DataTypeI8:
		return append(out, uint8(int8(clampRound(v, math.MinInt8, math.MaxInt8))))
	case DataTypeU16:
		return binary.LittleEndian.AppendUint16(out,
			uint16(clampRound(v, 0, math.MaxUint16)))
	case DataTypeI16:
		return binary.LittleEndian.AppendUint16(out,
			uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
	case DataTypeU32:
		return binary.LittleEndian.AppendUint32(out,
			uint32(clampRound(v, 0, math.MaxUint32)))
	case DataTypeI32:
		return binary.LittleEndian.AppendUint32(out,
			uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
	case DataTypeU64:
		return binary.LittleEndian.AppendUint64(out,
			uint64(clampRound(v, 0, maxUint64Float)))
	case DataTypeI64:
		return binary.LittleEndian.AppendUint64(out,
			uint64(int64(clampRound(v, math.MinInt64, maxInt64Float))))
	}
	return out
}

// The largest float64 values that convert to uint64 and int64 without
// overflow; the exact integer maxima are not representable.
const (
	maxUint64Float = 18446744073709549568.0 // 2^64 - 2048
	maxInt64Float  = 9223372036854774784.0  // 2^63 - 1024
)

func clampRound(v, lo, hi float64) float64 {
	r := math.Round(v)
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}
