package jls

import (
	"fmt"

	"github.com/jetperch/jls/internal/bitpack"
	"github.com/jetperch/jls/internal/buffer"
	"github.com/jetperch/jls/internal/observability"
	"github.com/jetperch/jls/internal/stats"
	"github.com/jetperch/jls/pkg/chunkio"
)

// trackState tracks the on-disk doubly-linked list of one chunk chain.
type trackState struct {
	head    int64
	tail    int64
	tailLen uint32
}

// Writer creates a JLS file.
//
// Not safe for use in multiple goroutines; see ThreadedWriter for the
// queue-decoupled variant.
//
// The writer is fail-closed: after any chunk write fails, every operation
// returns the same error until Close.
type Writer struct {
	file   *chunkio.File
	logger *observability.CoreLogger

	sources map[uint16]*SourceDef
	signals map[uint16]*signalWriter

	sourceDefs []superDef
	signalDefs []superDef

	userTrack trackState

	err    error
	closed bool
}

// OpenWriter creates path and writes the file prefix and the reserved
// table-of-contents region.
//
// The file must not already exist.
func OpenWriter(path string, opts ...Option) (*Writer, error) {
	o := applyOptions(opts)

	file, err := chunkio.Open(o.fs, path, chunkio.ModeWrite)
	if err != nil {
		return nil, fmt.Errorf("jls: error creating file: %w", err)
	}

	w := &Writer{
		file:    file,
		logger:  o.logger,
		sources: make(map[uint16]*SourceDef),
		signals: make(map[uint16]*signalWriter),
	}

	if err := file.WritePrefix(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if _, err := file.Reserve(superChunkReserve); err != nil {
		_ = file.Close()
		return nil, err
	}

	return w, nil
}

// fail records a sticky error.
func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
		w.logger.CaptureError(err)
	}
	return w.err
}

// check returns the sticky error, if any.
func (w *Writer) check() error {
	if w.closed {
		return ErrClosed
	}
	return w.err
}

// writeTrack appends a chunk to a track, maintaining the doubly-linked
// offsets: the new chunk records its predecessor, and the predecessor's
// item_next is back-patched in place.
func (w *Writer) writeTrack(
	t *trackState,
	tag uint8,
	meta uint16,
	payload []byte,
) (int64, error) {
	hdr := chunkio.Header{
		Tag:               tag,
		ChunkMeta:         meta,
		ItemPrev:          uint64(t.tail),
		PayloadPrevLength: t.tailLen,
	}
	offset, err := w.file.WriteChunk(&hdr, payload)
	if err != nil {
		return 0, w.fail(err)
	}
	if t.tail != 0 {
		if err := w.file.PatchItemNext(t.tail, uint64(offset)); err != nil {
			return 0, w.fail(err)
		}
	}
	if t.head == 0 {
		t.head = offset
	}
	t.tail = offset
	t.tailLen = uint32(len(payload))
	return offset, nil
}

// SourceDef defines a source device. Each source id may be defined once.
func (w *Writer) SourceDef(def SourceDef) error {
	if err := w.check(); err != nil {
		return err
	}
	if err := def.validate(); err != nil {
		return err
	}
	if _, ok := w.sources[def.SourceID]; ok {
		return fmt.Errorf("%w: source %d", ErrAlreadyExists, def.SourceID)
	}

	b := buffer.Get()
	defer buffer.Put(b)
	def.encode(b)

	var t trackState
	offset, err := w.writeTrack(&t,
		makeTag(trackTypeSource, trackChunkDef),
		makeChunkMeta(def.SourceID, 0), b.Bytes())
	if err != nil {
		return err
	}

	w.sources[def.SourceID] = &def
	w.sourceDefs = append(w.sourceDefs, superDef{id: def.SourceID, offset: offset})
	w.logger.Debug("jls: source defined", "source_id", def.SourceID)
	return nil
}

// SignalDef defines a signal stream. The source must already be defined;
// each signal id may be defined once. The definition fixes the signal's
// pyramid geometry for the lifetime of the file.
func (w *Writer) SignalDef(def SignalDef) error {
	if err := w.check(); err != nil {
		return err
	}
	if err := def.validate(); err != nil {
		return err
	}
	if _, ok := w.sources[def.SourceID]; !ok {
		return fmt.Errorf("%w: source %d", ErrNotFound, def.SourceID)
	}
	if _, ok := w.signals[def.SignalID]; ok {
		return fmt.Errorf("%w: signal %d", ErrAlreadyExists, def.SignalID)
	}
	def = def.withDefaults()

	b := buffer.Get()
	defer buffer.Put(b)
	def.encode(b)

	var t trackState
	offset, err := w.writeTrack(&t,
		makeTag(trackTypeSignal, trackChunkDef),
		makeChunkMeta(def.SignalID, 0), b.Bytes())
	if err != nil {
		return err
	}

	w.signals[def.SignalID] = newSignalWriter(w, def)
	w.signalDefs = append(w.signalDefs, superDef{id: def.SignalID, offset: offset})
	w.logger.Debug("jls: signal defined",
		"signal_id", def.SignalID, "datatype", def.DataType.String())
	return nil
}

func (w *Writer) signal(signalID uint16) (*signalWriter, error) {
	sw, ok := w.signals[signalID]
	if !ok {
		return nil, fmt.Errorf("%w: signal %d", ErrNotFound, signalID)
	}
	return sw, nil
}

// WriteFSR appends sampleCount samples to a fixed sample-rate signal.
//
// samples holds the packed little-endian representation in the signal's
// datatype, starting at bit 0. sampleID must equal the next expected
// sample id; the first call defines the signal's origin. Back-fill and
// gaps are not supported.
func (w *Writer) WriteFSR(
	signalID uint16,
	sampleID int64,
	samples []byte,
	sampleCount int64,
) error {
	if err := w.check(); err != nil {
		return err
	}
	sw, err := w.signal(signalID)
	if err != nil {
		return err
	}
	if sw.def.SignalType != SignalTypeFSR {
		return fmt.Errorf("%w: signal %d is not FSR", ErrParamInvalid, signalID)
	}
	if sampleCount <= 0 || sampleID < 0 {
		return fmt.Errorf("%w: sample_id %d count %d",
			ErrParamInvalid, sampleID, sampleCount)
	}
	if err := validateSampleBuffer(sw.def.DataType, samples, sampleCount); err != nil {
		return err
	}
	return sw.appendSamples(sampleID, samples, sampleCount)
}

// SetOmitData switches a signal's omit mode. While omitted, raw data
// chunks are suppressed but every summary level keeps receiving entries
// computed over the actual delivered samples.
//
// Enabling takes effect at the next data block boundary; disabling takes
// effect immediately.
func (w *Writer) SetOmitData(signalID uint16, omit bool) error {
	if err := w.check(); err != nil {
		return err
	}
	sw, err := w.signal(signalID)
	if err != nil {
		return err
	}
	sw.setOmit(omit)
	return nil
}

// UTC records a (sample_id, utc) breakpoint for a signal. utc is in
// nanoseconds. sampleID is in the same coordinates as WriteFSR.
func (w *Writer) UTC(signalID uint16, sampleID int64, utc int64) error {
	if err := w.check(); err != nil {
		return err
	}
	sw, err := w.signal(signalID)
	if err != nil {
		return err
	}
	return sw.addUTC(sampleID, utc)
}

// Annotation attaches an annotation to a signal. Annotations accumulate
// and are flushed every annotation_decimate_factor records and at close.
func (w *Writer) Annotation(signalID uint16, a Annotation) error {
	if err := w.check(); err != nil {
		return err
	}
	sw, err := w.signal(signalID)
	if err != nil {
		return err
	}
	sw.annotations = append(sw.annotations, a)
	if uint32(len(sw.annotations)) >= sw.def.AnnotationDecimateFactor {
		return sw.flushAnnotations()
	}
	return nil
}

// UserData appends an opaque user record in its own track.
func (w *Writer) UserData(u UserData) error {
	if err := w.check(); err != nil {
		return err
	}
	if u.ChunkMeta > chunkMetaIDMask {
		return fmt.Errorf("%w: chunk_meta %d exceeds 12 bits",
			ErrParamInvalid, u.ChunkMeta)
	}

	b := buffer.Get()
	defer buffer.Put(b)
	encodeUserDataPayload(b, &u)

	_, err := w.writeTrack(&w.userTrack,
		makeTag(trackTypeUserData, trackChunkData),
		makeChunkMeta(u.ChunkMeta, 0), b.Bytes())
	return err
}

// Flush forces buffered file data to stable storage. Partially filled
// sample and summary buffers stay in memory; only Close drains those.
func (w *Writer) Flush() error {
	if err := w.check(); err != nil {
		return err
	}
	if err := w.file.Flush(); err != nil {
		return w.fail(err)
	}
	return nil
}

// Close drains all partial buffers as short chunks, writes the remaining
// summary entries at every level, writes the table of contents into the
// reserved region, terminates the file with an END chunk, and closes it.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	// On a sticky error the file contents are suspect; leave the END
	// chunk and table of contents unwritten so open runs repair.
	if w.err == nil {
		w.finalize()
	}

	closeErr := w.file.Close()
	if w.err != nil {
		return w.err
	}
	return closeErr
}

func (w *Writer) finalize() {
	for _, sw := range w.signals {
		sw.finalize()
	}
	if w.err != nil {
		return
	}

	w.writeSuperAndEnd()

	if w.err == nil {
		if err := w.file.Flush(); err != nil {
			w.fail(err)
		}
	}
}

// writeSuperAndEnd emits the table of contents into the region reserved
// at open, then the terminating END chunk.
func (w *Writer) writeSuperAndEnd() {
	sc := superChunk{
		sources:   w.sourceDefs,
		signals:   w.signalDefs,
		endOffset: w.file.End(),
	}
	for _, sw := range w.signals {
		sc.tracks = append(sc.tracks, sw.superTracks()...)
		sc.info = append(sc.info, superSignalInfo{
			signalID:     sw.def.SignalID,
			origin:       sw.origin,
			totalSamples: sw.total,
		})
	}
	if w.userTrack.head != 0 {
		sc.tracks = append(sc.tracks, superTrack{
			track: trackTypeUserData,
			role:  trackChunkData,
			head:  w.userTrack.head,
		})
	}

	b := buffer.Get()
	defer buffer.Put(b)
	sc.encode(b)

	if b.Len()+chunkio.HeaderSize+chunkio.TrailerSize <= superChunkReserve {
		hdr := chunkio.Header{Tag: makeTag(trackTypeSuper, trackChunkIndex)}
		if _, err := w.file.WriteChunkAt(&hdr, b.Bytes(), chunkio.PrefixSize); err != nil {
			w.fail(err)
			return
		}
	} else {
		// Too many tracks for the reserved region. Open then runs the
		// repair walk, whose rebuilt table does not fit the region either,
		// so OpenReader fails on such a file.
		w.logger.CaptureWarn("jls: table of contents exceeds reserved region",
			"size", b.Len())
	}

	endHdr := chunkio.Header{Tag: tagEnd}
	if _, err := w.file.WriteChunk(&endHdr, nil); err != nil {
		w.fail(err)
	}
}

// signalWriter holds the per-signal write pipeline: the level-0 sample
// buffer and one accumulator plus entry buffer per summary level.
type signalWriter struct {
	w   *Writer
	def SignalDef

	started bool
	origin  int64 // absolute sample id of sample 0
	total   int64 // samples appended so far (relative coordinates)

	// bitShift0 is the zero-bit padding applied before the origin sample
	// of a packed signal whose origin is not byte aligned.
	bitShift0 uint8

	// Level-0 buffer. byteBuf serves full-byte datatypes; app serves
	// packed datatypes and is seeded with the chunk's pad bits.
	chunkStart int64
	bufCount   int64
	byteBuf    []byte
	app        bitpack.Appender

	omitRequested bool
	omitActive    bool

	data          trackState
	index0        trackState
	index0Entries []indexEntry

	levels []*levelState // levels[0] unused

	utc           trackState
	utcSummary    trackState
	utcBuf        []utcPair
	utcSummaryBuf []utcPair
	utcPending    []utcPair // breakpoints received before the origin is known

	annoTrack   trackState
	annotations []Annotation
}

// levelState is the per-summary-level pipeline stage.
type levelState struct {
	acc        stats.Running
	childCount uint32 // children folded into acc (samples at level 1)

	entries      []summaryEntry
	emitted      int64 // entries emitted at this level so far
	indexEntries []indexEntry

	summary trackState
	index   trackState
}

func newSignalWriter(w *Writer, def SignalDef) *signalWriter {
	return &signalWriter{
		w:      w,
		def:    def,
		levels: []*levelState{nil, {acc: stats.NewRunning()}},
	}
}

func (sw *signalWriter) setOmit(omit bool) {
	sw.omitRequested = omit
	if !omit && sw.omitActive {
		// Disable applies immediately: samples from here on are stored.
		// Nothing is buffered while omitted, so the next chunk simply
		// starts mid-block at the current position.
		sw.omitActive = false
		sw.chunkStart = sw.total
		sw.resetBuf()
		if sw.def.DataType.packed() {
			sw.seedChunkPad()
		}
	}
}

func (sw *signalWriter) appendSamples(
	sampleID int64,
	samples []byte,
	sampleCount int64,
) error {
	if !sw.started {
		sw.started = true
		sw.origin = sampleID
		sw.chunkStart = 0
		if sw.def.DataType.packed() {
			bits := int64(sw.def.DataType.SampleBits())
			sw.bitShift0 = uint8(sampleID * bits % 8)
			sw.seedChunkPad()
		}
		sw.adoptPendingUTC()
	} else if sampleID != sw.origin+sw.total {
		return fmt.Errorf(
			"%w: sample_id %d, expected %d (no gaps or back-fill)",
			ErrParamInvalid, sampleID, sw.origin+sw.total)
	}

	spd := int64(sw.def.SamplesPerData)
	dt := sw.def.DataType
	bits := dt.SampleBits()

	for i := int64(0); i < sampleCount; {
		// Samples until the next block boundary.
		n := spd - sw.total%spd
		if rem := sampleCount - i; rem < n {
			n = rem
		}

		for j := i; j < i+n; j++ {
			sw.addToPyramid(sampleFloat(dt, samples, j))
		}
		if !sw.omitActive {
			if dt.packed() {
				for j := i; j < i+n; j++ {
					sw.app.AppendBits(bitpack.Extract(samples, j, bits), bits)
				}
			} else {
				size := int64(bits / 8)
				sw.byteBuf = append(sw.byteBuf, samples[i*size:(i+n)*size]...)
			}
			sw.bufCount += n
		}

		i += n
		sw.total += n

		if sw.total%spd == 0 {
			if err := sw.onBlockBoundary(); err != nil {
				return err
			}
		}
		if sw.w.err != nil {
			return sw.w.err
		}
	}
	return nil
}

// onBlockBoundary flushes the level-0 buffer and applies any pending
// omit-enable request.
func (sw *signalWriter) onBlockBoundary() error {
	if !sw.omitActive && sw.bufCount > 0 {
		if err := sw.flushData(); err != nil {
			return err
		}
	}
	sw.omitActive = sw.omitRequested
	if sw.omitActive {
		sw.resetBuf()
		sw.chunkStart = sw.total
	}
	return nil
}

func (sw *signalWriter) resetBuf() {
	sw.byteBuf = sw.byteBuf[:0]
	sw.app.Reset()
	sw.bufCount = 0
}

// seedChunkPad pre-fills the packed appender with the chunk's pad bits so
// the stored payload keeps the signal's bit phase. The pad is recorded in
// the chunk header for the reader to shift away.
func (sw *signalWriter) seedChunkPad() {
	sw.app.Reset()
	for i := uint8(0); i < sw.chunkShift(); i++ {
		sw.app.AppendBits(0, 1)
	}
}

// chunkShift returns the bit shift of the current chunk's first sample.
func (sw *signalWriter) chunkShift() uint8 {
	if !sw.def.DataType.packed() {
		return 0
	}
	bits := int64(sw.def.DataType.SampleBits())
	return uint8((int64(sw.bitShift0) + sw.chunkStart*bits) % 8)
}

// flushData emits the buffered samples as a DATA chunk plus its index
// entry.
func (sw *signalWriter) flushData() error {
	shift := sw.chunkShift()

	var raw []byte
	if sw.def.DataType.packed() {
		raw = sw.app.Bytes()
	} else {
		raw = sw.byteBuf
	}

	b := buffer.Get()
	defer buffer.Put(b)
	encodeDataPayload(b, sw.chunkStart, uint32(sw.bufCount), raw)

	offset, err := sw.w.writeTrack(&sw.data,
		makeTag(trackTypeFSR, trackChunkData),
		makeChunkMeta(sw.def.SignalID, shift), b.Bytes())
	if err != nil {
		return err
	}

	sw.index0Entries = append(sw.index0Entries,
		indexEntry{sampleID: sw.chunkStart, offset: offset})
	if uint32(len(sw.index0Entries)) >= sw.def.EntriesPerSummary {
		if err := sw.flushIndex(0); err != nil {
			return err
		}
	}

	sw.chunkStart = sw.total
	sw.resetBuf()
	if sw.def.DataType.packed() {
		sw.seedChunkPad()
	}
	return nil
}

// addToPyramid feeds one raw sample into the level-1 accumulator, which
// cascades upward as windows fill.
func (sw *signalWriter) addToPyramid(v float64) {
	l1 := sw.levels[1]
	l1.acc.Add(v)
	l1.childCount++
	if l1.childCount >= sw.def.SampleDecimateFactor {
		sw.emitEntry(1, false)
	}
}

// emitEntry converts level k's accumulated window into a summary entry,
// propagates the window state to level k+1, and resets the accumulator.
//
// During finalization (partial=true) the propagation only reaches levels
// that already exist: a brand-new tip level summarizing a single entry
// adds no information and would cascade forever.
func (sw *signalWriter) emitEntry(k int, partial bool) {
	l := sw.levels[k]
	l.entries = append(l.entries, summaryEntry{
		mean: l.acc.Mean,
		std:  l.acc.Std(),
		min:  l.acc.Min,
		max:  l.acc.Max,
	})
	l.emitted++

	// Partial entries emitted during finalization never create a new
	// level: a tip level summarizing a single entry adds no information
	// and the cascade would not terminate.
	if k+1 < len(sw.levels) || !partial {
		if k+1 >= len(sw.levels) {
			sw.levels = append(sw.levels, &levelState{acc: stats.NewRunning()})
		}
		parent := sw.levels[k+1]
		parent.acc.Combine(l.acc)
		parent.childCount++
		if parent.childCount >= sw.def.SummaryDecimateFactor {
			sw.emitEntry(k+1, false)
		}
	}

	l.acc.Reset()
	l.childCount = 0

	if uint32(len(l.entries)) >= sw.def.EntriesPerSummary {
		sw.flushSummary(k)
	}
}

// flushSummary writes level k's buffered entries as one SUMMARY chunk
// plus its index entry.
func (sw *signalWriter) flushSummary(k int) {
	l := sw.levels[k]
	if len(l.entries) == 0 {
		return
	}
	start := (l.emitted - int64(len(l.entries))) * sw.def.entrySpan(k)

	b := buffer.Get()
	defer buffer.Put(b)
	encodeSummaryPayload(b, start, uint8(k), l.entries)

	offset, err := sw.w.writeTrack(&l.summary,
		makeTag(trackTypeFSR, trackChunkSummary),
		makeChunkMeta(sw.def.SignalID, 0), b.Bytes())
	if err != nil {
		return
	}
	l.entries = l.entries[:0]

	l.indexEntries = append(l.indexEntries,
		indexEntry{sampleID: start, offset: offset})
	if uint32(len(l.indexEntries)) >= sw.def.EntriesPerSummary {
		_ = sw.flushIndex(k)
	}
}

// flushIndex writes the pending index entries for level k (0 = data).
func (sw *signalWriter) flushIndex(k int) error {
	var t *trackState
	var entries *[]indexEntry
	if k == 0 {
		t, entries = &sw.index0, &sw.index0Entries
	} else {
		l := sw.levels[k]
		t, entries = &l.index, &l.indexEntries
	}
	if len(*entries) == 0 {
		return nil
	}

	b := buffer.Get()
	defer buffer.Put(b)
	encodeIndexPayload(b, uint8(k), *entries)

	_, err := sw.w.writeTrack(t,
		makeTag(trackTypeFSR, trackChunkIndex),
		makeChunkMeta(sw.def.SignalID, 0), b.Bytes())
	if err != nil {
		return err
	}
	*entries = (*entries)[:0]
	return nil
}

// addUTC records a breakpoint, buffering until the origin is known.
func (sw *signalWriter) addUTC(sampleID int64, utc int64) error {
	if !sw.started {
		sw.utcPending = append(sw.utcPending, utcPair{sampleID: sampleID, utc: utc})
		return nil
	}
	return sw.addUTCRel(sampleID-sw.origin, utc)
}

func (sw *signalWriter) adoptPendingUTC() {
	for _, p := range sw.utcPending {
		_ = sw.addUTCRel(p.sampleID-sw.origin, p.utc)
	}
	sw.utcPending = nil
}

func (sw *signalWriter) addUTCRel(rel int64, utc int64) error {
	sw.utcBuf = append(sw.utcBuf, utcPair{sampleID: rel, utc: utc})
	if uint32(len(sw.utcBuf)) >= sw.def.UTCDecimateFactor {
		return sw.flushUTC()
	}
	return nil
}

// flushUTC writes buffered breakpoints as a UTC data chunk and records
// the chunk's first and last pair for the UTC summary track.
func (sw *signalWriter) flushUTC() error {
	if len(sw.utcBuf) == 0 {
		return nil
	}

	b := buffer.Get()
	defer buffer.Put(b)
	encodeUTCPayload(b, sw.utcBuf)

	_, err := sw.w.writeTrack(&sw.utc,
		makeTag(trackTypeUTC, trackChunkData),
		makeChunkMeta(sw.def.SignalID, 0), b.Bytes())
	if err != nil {
		return err
	}

	sw.utcSummaryBuf = append(sw.utcSummaryBuf,
		sw.utcBuf[0], sw.utcBuf[len(sw.utcBuf)-1])
	sw.utcBuf = sw.utcBuf[:0]

	if uint32(len(sw.utcSummaryBuf)) >= sw.def.UTCDecimateFactor {
		return sw.flushUTCSummary()
	}
	return nil
}

func (sw *signalWriter) flushUTCSummary() error {
	if len(sw.utcSummaryBuf) == 0 {
		return nil
	}

	b := buffer.Get()
	defer buffer.Put(b)
	encodeUTCPayload(b, sw.utcSummaryBuf)

	_, err := sw.w.writeTrack(&sw.utcSummary,
		makeTag(trackTypeUTC, trackChunkSummary),
		makeChunkMeta(sw.def.SignalID, 0), b.Bytes())
	if err != nil {
		return err
	}
	sw.utcSummaryBuf = sw.utcSummaryBuf[:0]
	return nil
}

func (sw *signalWriter) flushAnnotations() error {
	if len(sw.annotations) == 0 {
		return nil
	}

	b := buffer.Get()
	defer buffer.Put(b)
	encodeAnnotationsPayload(b, sw.annotations)

	_, err := sw.w.writeTrack(&sw.annoTrack,
		makeTag(trackTypeAnnotation, trackChunkData),
		makeChunkMeta(sw.def.SignalID, 0), b.Bytes())
	if err != nil {
		return err
	}
	sw.annotations = sw.annotations[:0]
	return nil
}

// finalize drains every partial buffer: the level-0 sample buffer, one
// partial entry per level propagated up to the pyramid tip, the pending
// index entries, and the UTC and annotation buffers.
func (sw *signalWriter) finalize() {
	if !sw.started && len(sw.utcPending) > 0 {
		// No samples ever arrived; keep the breakpoints in the caller's
		// coordinates.
		sw.started = true
		sw.adoptPendingUTC()
	}

	if !sw.omitActive && sw.bufCount > 0 {
		if err := sw.flushData(); err != nil {
			return
		}
	}

	// len(sw.levels) can grow while partial entries propagate.
	for k := 1; k < len(sw.levels); k++ {
		l := sw.levels[k]
		if l.childCount > 0 {
			sw.emitEntry(k, true)
		}
		sw.flushSummary(k)
	}
	if err := sw.flushIndex(0); err != nil {
		return
	}
	for k := 1; k < len(sw.levels); k++ {
		if err := sw.flushIndex(k); err != nil {
			return
		}
	}

	if err := sw.flushUTC(); err != nil {
		return
	}
	if err := sw.flushUTCSummary(); err != nil {
		return
	}
	_ = sw.flushAnnotations()
}

// superTracks lists this signal's track heads for the table of contents.
func (sw *signalWriter) superTracks() []superTrack {
	id := sw.def.SignalID
	var tracks []superTrack
	add := func(t trackState, tt TrackType, tc trackChunk, level int) {
		if t.head != 0 {
			tracks = append(tracks, superTrack{
				signalID: id,
				track:    tt,
				role:     tc,
				level:    uint8(level),
				head:     t.head,
			})
		}
	}
	add(sw.data, trackTypeFSR, trackChunkData, 0)
	add(sw.index0, trackTypeFSR, trackChunkIndex, 0)
	for k := 1; k < len(sw.levels); k++ {
		add(sw.levels[k].summary, trackTypeFSR, trackChunkSummary, k)
		add(sw.levels[k].index, trackTypeFSR, trackChunkIndex, k)
	}
	add(sw.utc, trackTypeUTC, trackChunkData, 0)
	add(sw.utcSummary, trackTypeUTC, trackChunkSummary, 0)
	add(sw.annoTrack, trackTypeAnnotation, trackChunkData, 0)
	return tracks
}
