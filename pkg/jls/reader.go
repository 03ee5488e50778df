package jls

import (
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jetperch/jls/internal/bitpack"
	"github.com/jetperch/jls/internal/observability"
	"github.com/jetperch/jls/internal/stats"
	"github.com/jetperch/jls/internal/tmap"
	"github.com/jetperch/jls/pkg/chunkio"
)

// SummaryQuad is one statistics window result.
type SummaryQuad struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
}

// chunkCacheSize bounds the per-signal cache of decoded chunk payloads.
const chunkCacheSize = 64

// ingestConcurrency bounds the per-signal track scans at open.
const ingestConcurrency = 4

// Reader services queries over a JLS file.
//
// Not safe for use in multiple goroutines; open one Reader per goroutine
// instead, multiple independent readers on the same file are fine.
type Reader struct {
	file   *chunkio.File
	logger *observability.CoreLogger

	sources map[uint16]SourceDef
	signals map[uint16]*signalReader

	userTrackHead int64
}

// chunkRef locates one data or summary chunk.
type chunkRef struct {
	sampleID int64
	offset   int64
}

type signalReader struct {
	r   *Reader
	def SignalDef

	origin int64
	total  int64

	data   []chunkRef
	levels [][]chunkRef // levels[k] holds level-k summary chunks; [0] unused

	tm *tmap.TimeMap // nil without a UTC track

	annoHead int64

	cache *lru.Cache // chunk offset -> decoded payload
}

// OpenReader opens a JLS file for reading.
//
// A file that was not closed cleanly is repaired first: the torn tail is
// truncated and the table of contents is rebuilt from the surviving
// chunks. Repair rewrites the file, so it requires write permission; it
// happens at most once per crash.
func OpenReader(path string, opts ...Option) (*Reader, error) {
	o := applyOptions(opts)

	sc, file, err := openValidated(o.fs, path)
	if err != nil {
		var repairErr error
		if file != nil {
			_ = file.Close()
		}
		o.logger.Warn("jls: unclean file, repairing", "path", path, "cause", err)
		if repairErr = repairFile(o.fs, path, o.logger); repairErr != nil {
			return nil, fmt.Errorf(
				"jls: repair failed: %w (opened because: %v)", repairErr, err)
		}
		sc, file, err = openValidated(o.fs, path)
		if err != nil {
			if file != nil {
				_ = file.Close()
			}
			return nil, fmt.Errorf("jls: reopen after repair: %w", err)
		}
	}

	r := &Reader{
		file:    file,
		logger:  o.logger,
		sources: make(map[uint16]SourceDef),
		signals: make(map[uint16]*signalReader),
	}
	if err := r.ingest(o.fs, path, sc); err != nil {
		_ = file.Close()
		return nil, err
	}
	return r, nil
}

// openValidated opens the file and returns its table of contents if the
// file was closed cleanly.
func openValidated(fs afero.Fs, path string) (*superChunk, *chunkio.File, error) {
	file, err := chunkio.Open(fs, path, chunkio.ModeRead)
	if err != nil {
		return nil, nil, fmt.Errorf("jls: error opening file: %w", err)
	}
	if err := file.ReadPrefix(); err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	hdr, payload, err := file.ReadChunkAt(chunkio.PrefixSize)
	if err != nil {
		return nil, file, fmt.Errorf("jls: missing table of contents: %w", err)
	}
	if hdr.Tag != makeTag(trackTypeSuper, trackChunkIndex) {
		return nil, file, fmt.Errorf(
			"jls: unexpected chunk tag %#x in reserved region", hdr.Tag)
	}
	sc, err := decodeSuperChunk(payload)
	if err != nil {
		return nil, file, err
	}

	endHdr, err := file.ReadHeaderAt(sc.endOffset)
	if err != nil || endHdr.Tag != tagEnd {
		return nil, file, fmt.Errorf("jls: no END chunk at %d", sc.endOffset)
	}
	return sc, file, nil
}

// ingest materializes the in-memory catalog: definitions, per-signal
// chunk maps per level, and time maps. Per-signal track scans run
// concurrently, each on its own file handle.
func (r *Reader) ingest(fs afero.Fs, path string, sc *superChunk) error {
	for _, s := range sc.sources {
		_, payload, err := r.file.ReadChunkAt(s.offset)
		if err != nil {
			return err
		}
		def, err := decodeSourceDef(payload)
		if err != nil {
			return err
		}
		r.sources[def.SourceID] = def
	}

	for _, s := range sc.signals {
		_, payload, err := r.file.ReadChunkAt(s.offset)
		if err != nil {
			return err
		}
		def, err := decodeSignalDef(payload)
		if err != nil {
			return err
		}
		cache, err := lru.New(chunkCacheSize)
		if err != nil {
			return err
		}
		r.signals[def.SignalID] = &signalReader{
			r:      r,
			def:    def,
			levels: [][]chunkRef{nil},
			cache:  cache,
		}
	}

	for _, info := range sc.info {
		if sr, ok := r.signals[info.signalID]; ok {
			sr.origin = info.origin
			sr.total = info.totalSamples
		}
	}

	var g errgroup.Group
	g.SetLimit(ingestConcurrency)
	for _, sr := range r.signals {
		sr := sr
		g.Go(func() error {
			return sr.ingestTracks(fs, path, sc)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, t := range sc.tracks {
		if t.track == trackTypeUserData {
			r.userTrackHead = t.head
		}
	}
	return nil
}

// ingestTracks scans one signal's index and UTC tracks on a private file
// handle.
func (sr *signalReader) ingestTracks(fs afero.Fs, path string, sc *superChunk) error {
	f, err := chunkio.Open(fs, path, chunkio.ModeRead)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.ReadPrefix(); err != nil {
		return err
	}

	for _, t := range sc.tracks {
		if t.signalID != sr.def.SignalID {
			continue
		}
		switch {
		case t.track == trackTypeFSR && t.role == trackChunkIndex:
			if err := sr.ingestIndexTrack(f, t.head); err != nil {
				return err
			}
		case t.track == trackTypeUTC && t.role == trackChunkData:
			if err := sr.ingestUTCTrack(f, t.head); err != nil {
				return err
			}
		case t.track == trackTypeAnnotation:
			sr.annoHead = t.head
		}
	}
	return nil
}

// walkTrack follows a track's chunk chain from its head. A damaged chunk
// ends the walk with a warning: everything before it remains usable.
func walkTrack(
	f *chunkio.File,
	logger *observability.CoreLogger,
	head int64,
	visit func(hdr *chunkio.Header, payload []byte) error,
) error {
	for offset := head; offset != 0; {
		hdr, payload, err := f.ReadChunkAt(offset)
		if err != nil {
			if errors.Is(err, chunkio.ErrCorruptHeader) ||
				errors.Is(err, chunkio.ErrCorruptPayload) {
				logger.Warn("jls: skipping damaged chunk in track walk",
					"offset", offset, "error", err)
				return nil
			}
			return err
		}
		if err := visit(&hdr, payload); err != nil {
			return err
		}
		offset = int64(hdr.ItemNext)
	}
	return nil
}

func (sr *signalReader) ingestIndexTrack(f *chunkio.File, head int64) error {
	return walkTrack(f, sr.r.logger, head,
		func(hdr *chunkio.Header, payload []byte) error {
			ip, err := decodeIndexPayload(payload)
			if err != nil {
				return err
			}
			level := int(ip.level)
			for len(sr.levels) <= level {
				sr.levels = append(sr.levels, nil)
			}
			refs := make([]chunkRef, len(ip.entries))
			for i, e := range ip.entries {
				refs[i] = chunkRef{sampleID: e.sampleID, offset: e.offset}
			}
			if level == 0 {
				sr.data = append(sr.data, refs...)
			} else {
				sr.levels[level] = append(sr.levels[level], refs...)
			}
			return nil
		})
}

func (sr *signalReader) ingestUTCTrack(f *chunkio.File, head int64) error {
	sr.tm = tmap.New(sr.def.SampleRate)
	return walkTrack(f, sr.r.logger, head,
		func(hdr *chunkio.Header, payload []byte) error {
			pairs, err := decodeUTCPayload(payload)
			if err != nil {
				return err
			}
			for _, p := range pairs {
				if err := sr.tm.Add(p.sampleID, p.utc); err != nil {
					return fmt.Errorf("%w: bad utc track: %v", ErrCorruptPayload, err)
				}
			}
			return nil
		})
}

// Close releases the reader. Chunk references returned earlier become
// invalid.
func (r *Reader) Close() error {
	if r.file == nil {
		return ErrClosed
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Sources lists the defined sources, ordered by id.
func (r *Reader) Sources() []SourceDef {
	out := make([]SourceDef, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Signals lists the defined signals, ordered by id.
func (r *Reader) Signals() []SignalDef {
	out := make([]SignalDef, 0, len(r.signals))
	for _, s := range r.signals {
		out = append(out, s.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

func (r *Reader) signal(signalID uint16) (*signalReader, error) {
	if r.file == nil {
		return nil, ErrClosed
	}
	sr, ok := r.signals[signalID]
	if !ok {
		return nil, fmt.Errorf("%w: signal %d", ErrNotFound, signalID)
	}
	return sr, nil
}

// TotalSamples returns the number of stored samples for a signal.
func (r *Reader) TotalSamples(signalID uint16) (int64, error) {
	sr, err := r.signal(signalID)
	if err != nil {
		return 0, err
	}
	return sr.total, nil
}

// ReadFSR returns sampleCount raw samples starting at sample index start,
// packed in the signal's datatype starting at bit 0.
//
// Samples inside omitted windows are reconstructed by repeating the mean
// of the lowest available summary level across each omitted window; the
// file does not store their original values.
func (r *Reader) ReadFSR(signalID uint16, start, sampleCount int64) ([]byte, error) {
	sr, err := r.signal(signalID)
	if err != nil {
		return nil, err
	}
	if err := sr.validateRange(start, sampleCount); err != nil {
		return nil, err
	}
	s := newSampleSink(sr.def.DataType, sampleCount)
	if err := sr.readInto(s, start, sampleCount); err != nil {
		return nil, err
	}
	return s.bytes(), nil
}

// ReadFSRF64 is ReadFSR with every sample converted to float64.
func (r *Reader) ReadFSRF64(signalID uint16, start, sampleCount int64) ([]float64, error) {
	sr, err := r.signal(signalID)
	if err != nil {
		return nil, err
	}
	if err := sr.validateRange(start, sampleCount); err != nil {
		return nil, err
	}
	return sr.readFloats(start, sampleCount)
}

// FSRStatistics computes count windows of {mean, std, min, max}, each
// summarizing increment samples, the first starting at sample index
// start.
//
// Windows whose span admits it are assembled from summary pyramid
// entries; the fractional window edges are computed from raw samples and
// merged in.
func (r *Reader) FSRStatistics(
	signalID uint16,
	start, increment, count int64,
) ([]SummaryQuad, error) {
	sr, err := r.signal(signalID)
	if err != nil {
		return nil, err
	}
	if increment <= 0 || count <= 0 {
		return nil, fmt.Errorf("%w: increment %d count %d",
			ErrParamInvalid, increment, count)
	}
	if err := sr.validateRange(start, increment*count); err != nil {
		return nil, err
	}

	out := make([]SummaryQuad, count)
	for i := int64(0); i < count; i++ {
		s0 := start + i*increment
		st, err := sr.windowStats(s0, s0+increment)
		if err != nil {
			return nil, err
		}
		out[i] = SummaryQuad{
			Mean: st.Mean, Std: st.Std(), Min: st.Min, Max: st.Max,
		}
	}
	return out, nil
}

// SampleToTime converts a sample index to UTC nanoseconds using the
// signal's time map.
func (r *Reader) SampleToTime(signalID uint16, sampleID int64) (int64, error) {
	sr, err := r.signal(signalID)
	if err != nil {
		return 0, err
	}
	if sr.tm == nil {
		return 0, fmt.Errorf("%w: signal %d has no UTC track",
			ErrUnavailable, signalID)
	}
	t, err := sr.tm.SampleToTime(sampleID)
	if errors.Is(err, tmap.ErrEmpty) {
		return 0, fmt.Errorf("%w: empty UTC track", ErrUnavailable)
	}
	return t, err
}

// TimeToSample converts a UTC timestamp in nanoseconds to the nearest
// sample index.
func (r *Reader) TimeToSample(signalID uint16, utc int64) (int64, error) {
	sr, err := r.signal(signalID)
	if err != nil {
		return 0, err
	}
	if sr.tm == nil {
		return 0, fmt.Errorf("%w: signal %d has no UTC track",
			ErrUnavailable, signalID)
	}
	s, err := sr.tm.TimeToSample(utc)
	if errors.Is(err, tmap.ErrEmpty) {
		return 0, fmt.Errorf("%w: empty UTC track", ErrUnavailable)
	}
	return s, err
}

// Annotations lists a signal's annotations with timestamps in
// [start, end].
func (r *Reader) Annotations(signalID uint16, start, end int64) ([]Annotation, error) {
	sr, err := r.signal(signalID)
	if err != nil {
		return nil, err
	}
	if sr.annoHead == 0 {
		return nil, nil
	}
	var out []Annotation
	err = walkTrack(r.file, r.logger, sr.annoHead,
		func(hdr *chunkio.Header, payload []byte) error {
			anns, err := decodeAnnotationsPayload(payload)
			if err != nil {
				return err
			}
			for _, a := range anns {
				if a.Timestamp >= start && a.Timestamp <= end {
					out = append(out, a)
				}
			}
			return nil
		})
	return out, err
}

// UserData returns every user data record in write order.
func (r *Reader) UserData() ([]UserData, error) {
	if r.file == nil {
		return nil, ErrClosed
	}
	if r.userTrackHead == 0 {
		return nil, nil
	}
	var out []UserData
	err := walkTrack(r.file, r.logger, r.userTrackHead,
		func(hdr *chunkio.Header, payload []byte) error {
			u, err := decodeUserDataPayload(hdr.ChunkMeta, payload)
			if err != nil {
				return err
			}
			out = append(out, u)
			return nil
		})
	return out, err
}

func (sr *signalReader) validateRange(start, count int64) error {
	if sr.total == 0 {
		return fmt.Errorf("%w: signal %d has no samples",
			ErrEmpty, sr.def.SignalID)
	}
	if start < 0 || count < 0 || start+count > sr.total {
		return fmt.Errorf(
			"%w: range [%d, %d) outside [0, %d)",
			ErrParamInvalid, start, start+count, sr.total)
	}
	return nil
}

// cachedData returns the decoded, bit-aligned payload of the data chunk
// at offset.
func (sr *signalReader) cachedData(offset int64) (dataPayload, error) {
	if v, ok := sr.cache.Get(offset); ok {
		return v.(dataPayload), nil
	}
	hdr, payload, err := sr.r.file.ReadChunkAt(offset)
	if err != nil {
		return dataPayload{}, err
	}
	dp, err := decodeDataPayload(payload)
	if err != nil {
		return dataPayload{}, err
	}
	if shift := chunkMetaBitShift(hdr.ChunkMeta); shift != 0 {
		aligned := append([]byte(nil), dp.samples...)
		if err := bitpack.ShiftRight(aligned, shift); err != nil {
			return dataPayload{}, err
		}
		dp.samples = aligned
	}
	sr.cache.Add(offset, dp)
	return dp, nil
}

// cachedSummary returns the decoded summary chunk at offset.
func (sr *signalReader) cachedSummary(offset int64) (summaryPayload, error) {
	if v, ok := sr.cache.Get(offset); ok {
		return v.(summaryPayload), nil
	}
	_, payload, err := sr.r.file.ReadChunkAt(offset)
	if err != nil {
		return summaryPayload{}, err
	}
	sp, err := decodeSummaryPayload(payload)
	if err != nil {
		return summaryPayload{}, err
	}
	sr.cache.Add(offset, sp)
	return sp, nil
}

// refBefore returns the index of the last chunk ref whose start is at or
// before pos, or -1.
func refBefore(refs []chunkRef, pos int64) int {
	return sort.Search(len(refs), func(i int) bool {
		return refs[i].sampleID > pos
	}) - 1
}

// sink receives samples in output order: either copied from stored chunks
// or synthesized for omitted windows.
type sink interface {
	copySamples(src []byte, from, count int64)
	fillValue(v float64, count int64)
}

// floatSink decodes every sample to float64.
type floatSink struct {
	dt   DataType
	vals []float64
}

func (s *floatSink) copySamples(src []byte, from, count int64) {
	for i := int64(0); i < count; i++ {
		s.vals = append(s.vals, sampleFloat(s.dt, src, from+i))
	}
}

func (s *floatSink) fillValue(v float64, count int64) {
	for i := int64(0); i < count; i++ {
		s.vals = append(s.vals, v)
	}
}

func (sr *signalReader) readFloats(start, count int64) ([]float64, error) {
	s := &floatSink{dt: sr.def.DataType, vals: make([]float64, 0, count)}
	if err := sr.readInto(s, start, count); err != nil {
		return nil, err
	}
	return s.vals, nil
}

// readInto streams the sample range [start, start+count) into the sink,
// mean-filling ranges whose data chunks were omitted.
func (sr *signalReader) readInto(s sink, start, count int64) error {
	pos := start
	end := start + count
	for pos < end {
		i := refBefore(sr.data, pos)
		if i >= 0 {
			ref := sr.data[i]
			dp, err := sr.cachedData(ref.offset)
			if err != nil {
				return err
			}
			chunkEnd := ref.sampleID + int64(dp.count)
			if pos < chunkEnd {
				n := min(end, chunkEnd) - pos
				s.copySamples(dp.samples, pos-ref.sampleID, n)
				pos += n
				continue
			}
		}

		// Omitted range: it extends to the next stored chunk.
		holeEnd := end
		if i+1 < len(sr.data) && sr.data[i+1].sampleID < holeEnd {
			holeEnd = sr.data[i+1].sampleID
		}
		if err := sr.fillOmitted(s, pos, holeEnd); err != nil {
			return err
		}
		pos = holeEnd
	}
	return nil
}

// fillOmitted synthesizes [pos, end) window by window: each
// sample_decimate_factor window repeats the mean recorded by the lowest
// available summary level.
func (sr *signalReader) fillOmitted(s sink, pos, end int64) error {
	span := int64(sr.def.SampleDecimateFactor)
	for pos < end {
		windowEnd := (pos/span + 1) * span
		if windowEnd > end {
			windowEnd = end
		}
		v, err := sr.omittedMean(pos / span)
		if err != nil {
			return err
		}
		s.fillValue(v, windowEnd-pos)
		pos = windowEnd
	}
	return nil
}

// omittedMean returns the mean of level-1 entry idx from the lowest
// summary level that recorded it.
func (sr *signalReader) omittedMean(level1Idx int64) (float64, error) {
	pos := level1Idx * int64(sr.def.SampleDecimateFactor)
	for k := 1; k < len(sr.levels); k++ {
		e, ok, err := sr.entryAt(k, pos/sr.def.entrySpan(k))
		if err != nil {
			return 0, err
		}
		if ok {
			return e.mean, nil
		}
	}
	return 0, fmt.Errorf(
		"%w: no summary covers omitted sample range at %d",
		ErrUnavailable, pos)
}

// entryAt fetches summary entry entryIdx of level k, if stored.
func (sr *signalReader) entryAt(k int, entryIdx int64) (summaryEntry, bool, error) {
	if k >= len(sr.levels) {
		return summaryEntry{}, false, nil
	}
	span := sr.def.entrySpan(k)
	pos := entryIdx * span
	i := refBefore(sr.levels[k], pos)
	if i < 0 {
		return summaryEntry{}, false, nil
	}
	ref := sr.levels[k][i]
	sp, err := sr.cachedSummary(ref.offset)
	if err != nil {
		return summaryEntry{}, false, err
	}
	first := ref.sampleID / span
	if entryIdx < first || entryIdx >= first+int64(len(sp.entries)) {
		return summaryEntry{}, false, nil
	}
	return sp.entries[entryIdx-first], true, nil
}

// entrySamples returns how many raw samples level-k entry entryIdx
// covers: a full span except for the final partial entry.
func (sr *signalReader) entrySamples(k int, entryIdx int64) int64 {
	span := sr.def.entrySpan(k)
	n := sr.total - entryIdx*span
	if n > span {
		n = span
	}
	return n
}

// windowStats assembles statistics for [s0, s1) from the deepest usable
// summary level, stitching the fractional edges from raw samples.
func (sr *signalReader) windowStats(s0, s1 int64) (stats.Running, error) {
	inc := s1 - s0

	k := 0
	for n := 1; n < len(sr.levels); n++ {
		if len(sr.levels[n]) > 0 && sr.def.entrySpan(n) <= inc {
			k = n
		}
	}
	if k == 0 {
		return sr.rangeTwoPass(s0, s1)
	}

	span := sr.def.entrySpan(k)
	i0 := (s0 + span - 1) / span
	i1 := s1 / span
	if i1 <= i0 {
		return sr.rangeTwoPass(s0, s1)
	}

	r := stats.NewRunning()

	if i0*span > s0 {
		st, err := sr.rangeTwoPass(s0, i0*span)
		if err != nil {
			return r, err
		}
		r.Combine(st)
	}

	for j := i0; j < i1; j++ {
		e, ok, err := sr.entryAt(k, j)
		if err != nil {
			return r, err
		}
		if ok {
			n := sr.entrySamples(k, j)
			r.Combine(stats.FromSummary(n, e.mean, e.std, e.min, e.max))
			continue
		}
		// The pyramid tail for this level was lost; fall back to raw.
		st, err := sr.rangeTwoPass(j*span, min(j*span+span, sr.total))
		if err != nil {
			return r, err
		}
		r.Combine(st)
	}

	if i1*span < s1 {
		st, err := sr.rangeTwoPass(i1*span, s1)
		if err != nil {
			return r, err
		}
		r.Combine(st)
	}
	return r, nil
}

// rangeTwoPass computes statistics over raw samples with the two-pass
// accumulator.
func (sr *signalReader) rangeTwoPass(s0, s1 int64) (stats.Running, error) {
	xs, err := sr.readFloats(s0, s1-s0)
	if err != nil {
		return stats.Running{}, err
	}
	return stats.TwoPass(xs), nil
}
