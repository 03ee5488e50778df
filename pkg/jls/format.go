package jls

import (
	"fmt"

	"github.com/jetperch/jls/internal/buffer"
)

// SignalType distinguishes fixed from variable sample-rate signals.
type SignalType uint8

const (
	// SignalTypeFSR is a fixed sample-rate signal: samples uniformly
	// spaced in time.
	SignalTypeFSR SignalType = iota

	// SignalTypeVSR is a variable sample-rate signal. Declared in the
	// catalog for format compatibility; this engine does not write or
	// query VSR sample data.
	SignalTypeVSR
)

// DataType enumerates the supported sample datatypes.
type DataType uint8

const (
	DataTypeF32 DataType = iota
	DataTypeF64
	DataTypeU1
	DataTypeU4
	DataTypeU8
	DataTypeI8
	DataTypeU16
	DataTypeI16
	DataTypeU32
	DataTypeI32
	DataTypeU64
	DataTypeI64
)

// SampleBits returns the storage width of one sample in bits.
func (dt DataType) SampleBits() int {
	switch dt {
	case DataTypeU1:
		return 1
	case DataTypeU4:
		return 4
	case DataTypeU8, DataTypeI8:
		return 8
	case DataTypeU16, DataTypeI16:
		return 16
	case DataTypeF32, DataTypeU32, DataTypeI32:
		return 32
	case DataTypeF64, DataTypeU64, DataTypeI64:
		return 64
	}
	return 0
}

// packed returns whether samples are narrower than a byte.
func (dt DataType) packed() bool {
	return dt == DataTypeU1 || dt == DataTypeU4
}

func (dt DataType) String() string {
	names := [...]string{"f32", "f64", "u1", "u4", "u8", "i8",
		"u16", "i16", "u32", "i32", "u64", "i64"}
	if int(dt) < len(names) {
		return names[dt]
	}
	return fmt.Sprintf("datatype(%d)", uint8(dt))
}

// TrackType identifies the role family of a chunk chain.
type TrackType uint8

const (
	trackTypeSource     TrackType = 1
	trackTypeSignal     TrackType = 2
	trackTypeFSR        TrackType = 3
	trackTypeAnnotation TrackType = 4
	trackTypeUTC        TrackType = 5
	trackTypeUserData   TrackType = 6
	trackTypeSuper      TrackType = 7
)

// trackChunk identifies a chunk's role within its track.
type trackChunk uint8

const (
	trackChunkDef     trackChunk = 0
	trackChunkHead    trackChunk = 1
	trackChunkIndex   trackChunk = 2
	trackChunkData    trackChunk = 3
	trackChunkSummary trackChunk = 4
)

// makeTag packs a track type and chunk role into the header tag byte.
func makeTag(tt TrackType, tc trackChunk) uint8 {
	return uint8(tt)<<3 | uint8(tc)
}

func tagTrackType(tag uint8) TrackType { return TrackType(tag >> 3) }
func tagTrackChunk(tag uint8) trackChunk {
	return trackChunk(tag & 0x07)
}

// tagEnd marks the terminating chunk of a cleanly closed file.
const tagEnd uint8 = 0x3F

// Chunk meta packing: low 12 bits hold the owning signal or source id,
// bits 14:12 hold the bit shift for sub-byte data chunks.
const (
	chunkMetaIDMask = 0x0FFF
	chunkMetaShift  = 12

	// MaxID is the largest usable source or signal id: ids share the
	// 12-bit chunk_meta field.
	MaxID = chunkMetaIDMask
)

func makeChunkMeta(id uint16, bitShift uint8) uint16 {
	return id&chunkMetaIDMask | uint16(bitShift)<<chunkMetaShift
}

func chunkMetaID(meta uint16) uint16      { return meta & chunkMetaIDMask }
func chunkMetaBitShift(meta uint16) uint8 { return uint8(meta>>chunkMetaShift) & 0x7 }

// superChunkReserve is the zero-filled region reserved after the file
// prefix at open. The super chunk is written there at close. A table too
// large for the region is simply not written; open then falls back to the
// repair walk, which cannot write such a table either and fails.
const superChunkReserve = 32 * 1024

// SourceDef describes a physical or logical device. Immutable once
// defined.
type SourceDef struct {
	SourceID     uint16
	Name         string
	Vendor       string
	Model        string
	Version      string
	SerialNumber string
}

func (s *SourceDef) validate() error {
	if s.SourceID == 0 || s.SourceID > MaxID {
		return fmt.Errorf("%w: source id %d outside [1, %d]",
			ErrParamInvalid, s.SourceID, MaxID)
	}
	return nil
}

func (s *SourceDef) encode(b *buffer.Builder) {
	b.AppendU16(s.SourceID)
	b.AppendString(s.Name)
	b.AppendString(s.Vendor)
	b.AppendString(s.Model)
	b.AppendString(s.Version)
	b.AppendString(s.SerialNumber)
}

func decodeSourceDef(p []byte) (SourceDef, error) {
	d := buffer.NewDecoder(p)
	s := SourceDef{
		SourceID:     d.U16(),
		Name:         d.String(),
		Vendor:       d.String(),
		Model:        d.String(),
		Version:      d.String(),
		SerialNumber: d.String(),
	}
	if d.Err {
		return SourceDef{}, fmt.Errorf("%w: short source def", ErrCorruptPayload)
	}
	return s, nil
}

// SignalDef describes one signal stream and fixes its pyramid geometry for
// the lifetime of the file.
type SignalDef struct {
	SignalID   uint16
	SourceID   uint16
	SignalType SignalType
	DataType   DataType

	// SampleRate is the nominal rate in Hz.
	SampleRate float64

	// SamplesPerData is the size of a leaf data chunk in samples.
	SamplesPerData uint32

	// SampleDecimateFactor is the number of raw samples summarized into
	// one level-1 entry.
	SampleDecimateFactor uint32

	// EntriesPerSummary is the number of entries packed into one summary
	// chunk (and one index chunk).
	EntriesPerSummary uint32

	// SummaryDecimateFactor is the number of level-k entries summarized
	// into one level-k+1 entry.
	SummaryDecimateFactor uint32

	// AnnotationDecimateFactor and UTCDecimateFactor control how many
	// annotation and UTC entries accumulate per chunk. Zero selects the
	// default.
	AnnotationDecimateFactor uint32
	UTCDecimateFactor        uint32

	Name  string
	Units string
}

const (
	defaultAnnotationDecimate = 100
	defaultUTCDecimate        = 100
)

func (s *SignalDef) validate() error {
	switch {
	case s.SignalID == 0 || s.SignalID > MaxID:
		return fmt.Errorf("%w: signal id %d outside [1, %d]",
			ErrParamInvalid, s.SignalID, MaxID)
	case s.SignalType != SignalTypeFSR && s.SignalType != SignalTypeVSR:
		return fmt.Errorf("%w: unknown signal type %d",
			ErrParamInvalid, s.SignalType)
	case s.DataType.SampleBits() == 0:
		return fmt.Errorf("%w: unsupported datatype %d",
			ErrParamInvalid, uint8(s.DataType))
	case s.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate %v", ErrParamInvalid, s.SampleRate)
	case s.SamplesPerData == 0 || s.SampleDecimateFactor == 0:
		return fmt.Errorf("%w: zero pyramid geometry", ErrParamInvalid)
	case s.SamplesPerData%s.SampleDecimateFactor != 0:
		return fmt.Errorf(
			"%w: samples_per_data %d not a multiple of sample_decimate_factor %d",
			ErrParamInvalid, s.SamplesPerData, s.SampleDecimateFactor)
	case s.EntriesPerSummary == 0:
		return fmt.Errorf("%w: entries_per_summary is zero", ErrParamInvalid)
	case s.SummaryDecimateFactor < 2:
		return fmt.Errorf("%w: summary_decimate_factor %d below 2",
			ErrParamInvalid, s.SummaryDecimateFactor)
	}
	if s.DataType.packed() {
		bits := uint32(s.DataType.SampleBits())
		if s.SamplesPerData*bits%8 != 0 {
			return fmt.Errorf(
				"%w: samples_per_data %d not byte-aligned for %v",
				ErrParamInvalid, s.SamplesPerData, s.DataType)
		}
	}
	return nil
}

// withDefaults fills zero decimation factors.
func (s SignalDef) withDefaults() SignalDef {
	if s.AnnotationDecimateFactor == 0 {
		s.AnnotationDecimateFactor = defaultAnnotationDecimate
	}
	if s.UTCDecimateFactor == 0 {
		s.UTCDecimateFactor = defaultUTCDecimate
	}
	return s
}

// entrySpan returns the number of raw samples one level-k summary entry
// covers.
func (s *SignalDef) entrySpan(level int) int64 {
	span := int64(s.SampleDecimateFactor)
	for k := 1; k < level; k++ {
		span *= int64(s.SummaryDecimateFactor)
	}
	return span
}

func (s *SignalDef) encode(b *buffer.Builder) {
	b.AppendU16(s.SignalID)
	b.AppendU16(s.SourceID)
	b.AppendU8(uint8(s.SignalType))
	b.AppendU8(uint8(s.DataType))
	b.AppendZeros(2)
	b.AppendF64(s.SampleRate)
	b.AppendU32(s.SamplesPerData)
	b.AppendU32(s.SampleDecimateFactor)
	b.AppendU32(s.EntriesPerSummary)
	b.AppendU32(s.SummaryDecimateFactor)
	b.AppendU32(s.AnnotationDecimateFactor)
	b.AppendU32(s.UTCDecimateFactor)
	b.AppendString(s.Name)
	b.AppendString(s.Units)
}

func decodeSignalDef(p []byte) (SignalDef, error) {
	d := buffer.NewDecoder(p)
	s := SignalDef{
		SignalID:   d.U16(),
		SourceID:   d.U16(),
		SignalType: SignalType(d.U8()),
		DataType:   DataType(d.U8()),
	}
	d.Skip(2)
	s.SampleRate = d.F64()
	s.SamplesPerData = d.U32()
	s.SampleDecimateFactor = d.U32()
	s.EntriesPerSummary = d.U32()
	s.SummaryDecimateFactor = d.U32()
	s.AnnotationDecimateFactor = d.U32()
	s.UTCDecimateFactor = d.U32()
	s.Name = d.String()
	s.Units = d.String()
	if d.Err {
		return SignalDef{}, fmt.Errorf("%w: short signal def", ErrCorruptPayload)
	}
	return s, nil
}

// Data chunk payload: sample id (relative to the signal origin), sample
// count, reserved, then the packed samples.
const dataPayloadHeader = 8 + 4 + 4

func encodeDataPayload(b *buffer.Builder, sampleID int64, count uint32, samples []byte) {
	b.AppendI64(sampleID)
	b.AppendU32(count)
	b.AppendZeros(4)
	b.AppendBytes(samples)
}

type dataPayload struct {
	sampleID int64
	count    uint32
	samples  []byte
}

func decodeDataPayload(p []byte) (dataPayload, error) {
	d := buffer.NewDecoder(p)
	dp := dataPayload{sampleID: d.I64(), count: d.U32()}
	d.Skip(4)
	if d.Err {
		return dataPayload{}, fmt.Errorf("%w: short data payload", ErrCorruptPayload)
	}
	dp.samples = p[dataPayloadHeader:]
	return dp, nil
}

// summaryEntry is one on-disk summary record. The number of raw samples it
// covers is implied by its level's span and the signal total.
type summaryEntry struct {
	mean, std, min, max float64
}

// Summary chunk payload: start sample id, entry count, level, reserved,
// then entry_count x 4 f64 {mean, std, min, max}.
func encodeSummaryPayload(b *buffer.Builder, sampleID int64, level uint8, entries []summaryEntry) {
	b.AppendI64(sampleID)
	b.AppendU32(uint32(len(entries)))
	b.AppendU8(level)
	b.AppendZeros(3)
	for _, e := range entries {
		b.AppendF64(e.mean)
		b.AppendF64(e.std)
		b.AppendF64(e.min)
		b.AppendF64(e.max)
	}
}

type summaryPayload struct {
	sampleID int64
	level    uint8
	entries  []summaryEntry
}

func decodeSummaryPayload(p []byte) (summaryPayload, error) {
	d := buffer.NewDecoder(p)
	sp := summaryPayload{sampleID: d.I64()}
	count := d.U32()
	sp.level = d.U8()
	d.Skip(3)
	if d.Err || d.Remaining() < int(count)*32 {
		return summaryPayload{}, fmt.Errorf(
			"%w: short summary payload", ErrCorruptPayload)
	}
	sp.entries = make([]summaryEntry, count)
	for i := range sp.entries {
		sp.entries[i] = summaryEntry{
			mean: d.F64(), std: d.F64(), min: d.F64(), max: d.F64(),
		}
	}
	return sp, nil
}

// Index chunk payload: level, reserved, entry count, then entry_count x
// {sample_id u64, chunk offset u64}. One entry per data or summary chunk.
type indexEntry struct {
	sampleID int64
	offset   int64
}

func encodeIndexPayload(b *buffer.Builder, level uint8, entries []indexEntry) {
	b.AppendU8(level)
	b.AppendZeros(3)
	b.AppendU32(uint32(len(entries)))
	for _, e := range entries {
		b.AppendI64(e.sampleID)
		b.AppendI64(e.offset)
	}
}

type indexPayload struct {
	level   uint8
	entries []indexEntry
}

func decodeIndexPayload(p []byte) (indexPayload, error) {
	d := buffer.NewDecoder(p)
	ip := indexPayload{level: d.U8()}
	d.Skip(3)
	count := d.U32()
	if d.Err || d.Remaining() < int(count)*16 {
		return indexPayload{}, fmt.Errorf("%w: short index payload", ErrCorruptPayload)
	}
	ip.entries = make([]indexEntry, count)
	for i := range ip.entries {
		ip.entries[i] = indexEntry{sampleID: d.I64(), offset: d.I64()}
	}
	return ip, nil
}

// UTC chunk payload: pair count then {sample_id, utc_ns} pairs. Summary
// UTC chunks reuse the layout, holding only the first and last pair of the
// summarized range.
func encodeUTCPayload(b *buffer.Builder, pairs []utcPair) {
	b.AppendU32(uint32(len(pairs)))
	b.AppendZeros(4)
	for _, p := range pairs {
		b.AppendI64(p.sampleID)
		b.AppendI64(p.utc)
	}
}

type utcPair struct {
	sampleID int64
	utc      int64
}

func decodeUTCPayload(p []byte) ([]utcPair, error) {
	d := buffer.NewDecoder(p)
	count := d.U32()
	d.Skip(4)
	if d.Err || d.Remaining() < int(count)*16 {
		return nil, fmt.Errorf("%w: short utc payload", ErrCorruptPayload)
	}
	pairs := make([]utcPair, count)
	for i := range pairs {
		pairs[i] = utcPair{sampleID: d.I64(), utc: d.I64()}
	}
	return pairs, nil
}

// AnnotationType enumerates annotation payload interpretations.
type AnnotationType uint8

const (
	AnnotationTypeText AnnotationType = iota
	AnnotationTypeMarker
	AnnotationTypeUser
)

// StorageType describes how annotation or user data bytes are encoded.
type StorageType uint8

const (
	StorageTypeBinary StorageType = iota
	StorageTypeString
	StorageTypeJSON
)

// Annotation is one annotation record attached to a signal.
type Annotation struct {
	// Timestamp is the annotation position: sample id for FSR signals.
	Timestamp int64

	// Y is the vertical position hint, NaN if unused.
	Y float32

	AnnotationType AnnotationType
	StorageType    StorageType
	GroupID        uint8
	Data           []byte
}

// Annotation chunks batch up to annotation_decimate_factor records.
func encodeAnnotationsPayload(b *buffer.Builder, anns []Annotation) {
	b.AppendU32(uint32(len(anns)))
	b.AppendZeros(4)
	for _, a := range anns {
		b.AppendI64(a.Timestamp)
		b.AppendF32(a.Y)
		b.AppendU8(uint8(a.AnnotationType))
		b.AppendU8(uint8(a.StorageType))
		b.AppendU8(a.GroupID)
		b.AppendU8(0)
		b.AppendU32(uint32(len(a.Data)))
		b.AppendBytes(a.Data)
	}
}

func decodeAnnotationsPayload(p []byte) ([]Annotation, error) {
	d := buffer.NewDecoder(p)
	count := d.U32()
	d.Skip(4)
	anns := make([]Annotation, 0, count)
	for i := uint32(0); i < count; i++ {
		a := Annotation{
			Timestamp:      d.I64(),
			Y:              d.F32(),
			AnnotationType: AnnotationType(d.U8()),
			StorageType:    StorageType(d.U8()),
			GroupID:        d.U8(),
		}
		d.Skip(1)
		n := d.U32()
		if d.Err || d.Remaining() < int(n) {
			return nil, fmt.Errorf(
				"%w: short annotation payload", ErrCorruptPayload)
		}
		a.Data = d.Bytes(int(n))
		anns = append(anns, a)
	}
	return anns, nil
}

// UserData is one opaque user record.
type UserData struct {
	// ChunkMeta is caller-chosen routing metadata, low 12 bits only.
	ChunkMeta uint16

	StorageType StorageType
	Data        []byte
}

func encodeUserDataPayload(b *buffer.Builder, u *UserData) {
	b.AppendU8(uint8(u.StorageType))
	b.AppendZeros(3)
	b.AppendU32(uint32(len(u.Data)))
	b.AppendBytes(u.Data)
}

func decodeUserDataPayload(meta uint16, p []byte) (UserData, error) {
	d := buffer.NewDecoder(p)
	u := UserData{
		ChunkMeta:   chunkMetaID(meta),
		StorageType: StorageType(d.U8()),
	}
	d.Skip(3)
	n := d.U32()
	if d.Err || d.Remaining() < int(n) {
		return UserData{}, fmt.Errorf("%w: short user data payload", ErrCorruptPayload)
	}
	u.Data = d.Bytes(int(n))
	return u, nil
}
