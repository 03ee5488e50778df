package jls

import (
	"fmt"

	"github.com/jetperch/jls/internal/buffer"
)

// The super chunk is the table of contents written into the reserved
// region at close. It lists every definition chunk, every track head, and
// per-signal totals, letting open avoid a full chunk walk.
type superChunk struct {
	sources []superDef
	signals []superDef
	tracks  []superTrack
	info    []superSignalInfo

	// endOffset is where the END chunk was written. Open verifies a valid
	// END chunk there; anything else means an unclean close.
	endOffset int64
}

type superDef struct {
	id     uint16
	offset int64
}

type superTrack struct {
	signalID uint16
	track    TrackType
	role     trackChunk
	level    uint8
	head     int64
}

type superSignalInfo struct {
	signalID     uint16
	origin       int64
	totalSamples int64
}

func (sc *superChunk) encode(b *buffer.Builder) {
	b.AppendU32(uint32(len(sc.sources)))
	b.AppendU32(uint32(len(sc.signals)))
	b.AppendU32(uint32(len(sc.tracks)))
	b.AppendU32(uint32(len(sc.info)))
	b.AppendI64(sc.endOffset)
	for _, s := range sc.sources {
		b.AppendU16(s.id)
		b.AppendI64(s.offset)
	}
	for _, s := range sc.signals {
		b.AppendU16(s.id)
		b.AppendI64(s.offset)
	}
	for _, t := range sc.tracks {
		b.AppendU16(t.signalID)
		b.AppendU8(uint8(t.track))
		b.AppendU8(uint8(t.role))
		b.AppendU8(t.level)
		b.AppendI64(t.head)
	}
	for _, i := range sc.info {
		b.AppendU16(i.signalID)
		b.AppendI64(i.origin)
		b.AppendI64(i.totalSamples)
	}
}

func decodeSuperChunk(p []byte) (*superChunk, error) {
	d := buffer.NewDecoder(p)
	nSources := d.U32()
	nSignals := d.U32()
	nTracks := d.U32()
	nInfo := d.U32()
	sc := &superChunk{endOffset: d.I64()}
	if d.Err {
		return nil, fmt.Errorf("%w: short super chunk", ErrCorruptPayload)
	}

	sc.sources = make([]superDef, nSources)
	for i := range sc.sources {
		sc.sources[i] = superDef{id: d.U16(), offset: d.I64()}
	}
	sc.signals = make([]superDef, nSignals)
	for i := range sc.signals {
		sc.signals[i] = superDef{id: d.U16(), offset: d.I64()}
	}
	sc.tracks = make([]superTrack, nTracks)
	for i := range sc.tracks {
		sc.tracks[i] = superTrack{
			signalID: d.U16(),
			track:    TrackType(d.U8()),
			role:     trackChunk(d.U8()),
			level:    d.U8(),
			head:     d.I64(),
		}
	}
	sc.info = make([]superSignalInfo, nInfo)
	for i := range sc.info {
		sc.info[i] = superSignalInfo{
			signalID:     d.U16(),
			origin:       d.I64(),
			totalSamples: d.I64(),
		}
	}
	if d.Err {
		return nil, fmt.Errorf("%w: truncated super chunk", ErrCorruptPayload)
	}
	return sc, nil
}
