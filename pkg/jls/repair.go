package jls

import (
	"fmt"

	"github.com/spf13/afero"

	"github.com/jetperch/jls/internal/buffer"
	"github.com/jetperch/jls/internal/observability"
	"github.com/jetperch/jls/pkg/chunkio"
)

// repairFile recovers a file that was not closed cleanly: the table of
// contents is missing or there is no END chunk at the recorded offset.
//
// The file is healed in place: a forward chunk walk finds the boundary of
// well-written data, the torn tail is truncated, stale successor links are
// cleared, index entries that never reached an index chunk are re-derived
// from the surviving data and summary chunks, and a fresh table of
// contents and END chunk are written. A subsequent open is clean.
func repairFile(fs afero.Fs, path string, logger *observability.CoreLogger) error {
	f, err := chunkio.Open(fs, path, chunkio.ModeRepair)
	if err != nil {
		return fmt.Errorf("jls: error opening file for repair: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := f.ReadPrefix(); err != nil {
		return err
	}

	// A crash during open can leave a partial reserved region.
	walkStart := int64(chunkio.PrefixSize + superChunkReserve)
	if f.End() < walkStart {
		if err := f.Truncate(chunkio.PrefixSize); err != nil {
			return err
		}
		if _, err := f.Reserve(superChunkReserve); err != nil {
			return err
		}
	}

	r := &repairState{
		f:      f,
		logger: logger,
		tracks: make(map[repairKey]*repairTrack),
		defs:   make(map[uint16]SignalDef),
		ends:   make(map[uint16]int64),
	}

	boundary := r.walk(walkStart)
	if err := f.Truncate(boundary); err != nil {
		return err
	}
	logger.Info("jls: repair truncated file",
		"boundary", boundary, "chunks", r.chunkCount)

	if err := r.clearStaleLinks(boundary); err != nil {
		return err
	}
	if err := r.reindex(); err != nil {
		return err
	}
	if err := r.writeSuperAndEnd(); err != nil {
		return err
	}
	return f.Flush()
}

type repairKey struct {
	signalID uint16
	track    TrackType
	role     trackChunk
	level    uint8
}

type repairTrack struct {
	head    int64
	tail    int64
	tailLen uint32

	// tailNext is the tail chunk's on-disk successor link, possibly stale
	// after truncation.
	tailNext uint64

	// chunks lists (start sample id, offset) per data or summary chunk.
	chunks []indexEntry

	// indexed lists the entries recovered from surviving index chunks.
	indexed []indexEntry
}

func (t *repairTrack) observe(offset int64, hdr *chunkio.Header) {
	if t.head == 0 {
		t.head = offset
	}
	t.tail = offset
	t.tailLen = hdr.PayloadLength
	t.tailNext = hdr.ItemNext
}

type repairState struct {
	f      *chunkio.File
	logger *observability.CoreLogger

	sources []superDef
	signals []superDef
	defs    map[uint16]SignalDef
	ends    map[uint16]int64 // per-signal sample coverage high-water mark

	tracks     map[repairKey]*repairTrack
	chunkCount int
}

func (r *repairState) track(k repairKey) *repairTrack {
	t, ok := r.tracks[k]
	if !ok {
		t = &repairTrack{}
		r.tracks[k] = t
	}
	return t
}

// walk scans forward chunk by chunk, classifying everything intact, and
// returns the offset of the first torn or missing chunk.
func (r *repairState) walk(pos int64) int64 {
	for pos < r.f.End() {
		hdr, payload, err := r.f.ReadChunkAt(pos)
		if err != nil {
			r.logger.Warn("jls: repair stopping at damaged chunk",
				"offset", pos, "error", err)
			return pos
		}
		if hdr.Tag == tagEnd {
			return pos
		}
		r.classify(pos, &hdr, payload)
		r.chunkCount++
		pos += hdr.TotalSize()
	}
	return pos
}

func (r *repairState) classify(pos int64, hdr *chunkio.Header, payload []byte) {
	id := chunkMetaID(hdr.ChunkMeta)
	tt := tagTrackType(hdr.Tag)
	role := tagTrackChunk(hdr.Tag)

	switch {
	case tt == trackTypeSource && role == trackChunkDef:
		r.sources = append(r.sources, superDef{id: id, offset: pos})

	case tt == trackTypeSignal && role == trackChunkDef:
		def, err := decodeSignalDef(payload)
		if err != nil {
			r.logger.Warn("jls: repair skipping bad signal def", "offset", pos)
			return
		}
		r.signals = append(r.signals, superDef{id: id, offset: pos})
		r.defs[id] = def

	case tt == trackTypeFSR && role == trackChunkData:
		dp, err := decodeDataPayload(payload)
		if err != nil {
			return
		}
		t := r.track(repairKey{signalID: id, track: tt, role: role})
		t.observe(pos, hdr)
		t.chunks = append(t.chunks, indexEntry{sampleID: dp.sampleID, offset: pos})
		r.observeEnd(id, dp.sampleID+int64(dp.count))

	case tt == trackTypeFSR && role == trackChunkSummary:
		sp, err := decodeSummaryPayload(payload)
		if err != nil {
			return
		}
		t := r.track(repairKey{signalID: id, track: tt, role: role, level: sp.level})
		t.observe(pos, hdr)
		t.chunks = append(t.chunks, indexEntry{sampleID: sp.sampleID, offset: pos})
		if def, ok := r.defs[id]; ok && sp.level == 1 {
			span := def.entrySpan(1)
			end := sp.sampleID + int64(len(sp.entries))*span
			if end-r.ends[id] >= span {
				r.observeEnd(id, end)
			}
		}

	case tt == trackTypeFSR && role == trackChunkIndex:
		ip, err := decodeIndexPayload(payload)
		if err != nil {
			return
		}
		t := r.track(repairKey{signalID: id, track: tt, role: role, level: ip.level})
		t.observe(pos, hdr)
		t.indexed = append(t.indexed, ip.entries...)

	default:
		// UTC, annotation, and user data tracks need only their chain
		// bounds.
		t := r.track(repairKey{signalID: id, track: tt, role: role})
		t.observe(pos, hdr)
	}
}

// observeEnd tracks sample coverage. Summary coverage can exceed data
// coverage when omit mode suppressed data chunks; the total is the
// maximum over both.
//
// Only level-1 summary chunks count toward coverage: a higher-level entry
// written at close may be partial and would overstate coverage by up to
// its whole span. A partial final level-1 entry overstates by less than
// one window; classify ignores such an extension because the data chunk,
// which flushes first, already records the true end.
func (r *repairState) observeEnd(id uint16, end int64) {
	if end > r.ends[id] {
		r.ends[id] = end
	}
}

// clearStaleLinks zeroes successor offsets that point into the truncated
// region.
func (r *repairState) clearStaleLinks(boundary int64) error {
	for _, t := range r.tracks {
		if t.tail != 0 && t.tailNext != 0 && int64(t.tailNext) >= boundary {
			if err := r.f.PatchItemNext(t.tail, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// reindex appends index chunks covering data and summary chunks whose
// index entries were lost with the torn tail.
func (r *repairState) reindex() error {
	// Snapshot: appending index chunks inserts tracks into the map.
	keys := make([]repairKey, 0, len(r.tracks))
	for key := range r.tracks {
		keys = append(keys, key)
	}
	for _, key := range keys {
		t := r.tracks[key]
		if key.track != trackTypeFSR {
			continue
		}
		var level uint8
		switch key.role {
		case trackChunkData:
			level = 0
		case trackChunkSummary:
			level = key.level
		default:
			continue
		}

		idxKey := repairKey{
			signalID: key.signalID,
			track:    trackTypeFSR,
			role:     trackChunkIndex,
			level:    level,
		}
		idx := r.track(idxKey)

		indexedEnd := int64(-1)
		if n := len(idx.indexed); n > 0 {
			indexedEnd = idx.indexed[n-1].sampleID
		}
		var missing []indexEntry
		for _, c := range t.chunks {
			if c.sampleID > indexedEnd {
				missing = append(missing, c)
			}
		}
		if len(missing) == 0 {
			continue
		}

		b := buffer.Get()
		encodeIndexPayload(b, level, missing)
		err := r.appendToTrack(idx,
			makeTag(trackTypeFSR, trackChunkIndex),
			makeChunkMeta(key.signalID, 0), b.Bytes())
		buffer.Put(b)
		if err != nil {
			return err
		}
		idx.indexed = append(idx.indexed, missing...)
	}
	return nil
}

// appendToTrack writes a chunk at the end of the file and links it after
// the track's surviving tail.
func (r *repairState) appendToTrack(
	t *repairTrack,
	tag uint8,
	meta uint16,
	payload []byte,
) error {
	hdr := chunkio.Header{
		Tag:               tag,
		ChunkMeta:         meta,
		ItemPrev:          uint64(t.tail),
		PayloadPrevLength: t.tailLen,
	}
	offset, err := r.f.WriteChunk(&hdr, payload)
	if err != nil {
		return err
	}
	if t.tail != 0 {
		if err := r.f.PatchItemNext(t.tail, uint64(offset)); err != nil {
			return err
		}
	}
	if t.head == 0 {
		t.head = offset
	}
	t.tail = offset
	t.tailLen = uint32(len(payload))
	t.tailNext = 0
	return nil
}

// writeSuperAndEnd rebuilds the table of contents and terminates the
// file.
func (r *repairState) writeSuperAndEnd() error {
	sc := superChunk{
		sources:   r.sources,
		signals:   r.signals,
		endOffset: r.f.End(),
	}
	for key, t := range r.tracks {
		if t.head == 0 {
			continue
		}
		sc.tracks = append(sc.tracks, superTrack{
			signalID: key.signalID,
			track:    key.track,
			role:     key.role,
			level:    key.level,
			head:     t.head,
		})
	}
	for _, def := range r.signals {
		// The signal origin is only recorded in the table of contents,
		// which did not survive; sample coordinates restart at zero.
		sc.info = append(sc.info, superSignalInfo{
			signalID:     def.id,
			totalSamples: r.ends[def.id],
		})
	}

	b := buffer.Get()
	defer buffer.Put(b)
	sc.encode(b)

	if b.Len()+chunkio.HeaderSize+chunkio.TrailerSize <= superChunkReserve {
		hdr := chunkio.Header{Tag: makeTag(trackTypeSuper, trackChunkIndex)}
		if _, err := r.f.WriteChunkAt(&hdr, b.Bytes(), chunkio.PrefixSize); err != nil {
			return err
		}
	} else {
		return fmt.Errorf(
			"%w: repaired table of contents exceeds reserved region",
			ErrUnavailable)
	}

	endHdr := chunkio.Header{Tag: tagEnd}
	_, err := r.f.WriteChunk(&endHdr, nil)
	return err
}
