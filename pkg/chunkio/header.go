package chunkio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// These sizes are part of the wire format and must not change.
const (
	// HeaderSize is the fixed size of a chunk header.
	HeaderSize = 32

	// TrailerSize is the size of the payload checksum following the payload.
	TrailerSize = 4

	// PrefixSize is the size of the file prefix (magic, version, checksum).
	PrefixSize = 32
)

var (
	// ErrCorruptHeader indicates a chunk header whose checksum does not
	// match.
	ErrCorruptHeader = errors.New("chunkio: corrupt chunk header")

	// ErrCorruptPayload indicates a chunk payload whose checksum does not
	// match, or a payload extending past the end of the file.
	ErrCorruptPayload = errors.New("chunkio: corrupt chunk payload")

	// ErrBadPrefix indicates a file prefix with the wrong magic, version,
	// or checksum.
	ErrBadPrefix = errors.New("chunkio: bad file prefix")
)

// Header is a decoded chunk header.
//
// ItemNext is zero for the current tail of a track; it is back-patched
// in place when the successor chunk is written. All other fields are
// immutable once the chunk is on disk.
type Header struct {
	// ItemNext is the absolute offset of the logical successor in this
	// track, or 0.
	ItemNext uint64

	// ItemPrev is the absolute offset of the logical predecessor in this
	// track, or 0.
	ItemPrev uint64

	// Tag packs the track type and track chunk role.
	Tag uint8

	// Rsv0 is reserved and must be written as zero.
	Rsv0 uint8

	// ChunkMeta carries the owning signal or source id in its low 12 bits.
	// Data chunks for sub-byte types carry the bit shift in bits 14:12.
	ChunkMeta uint16

	// PayloadLength is the payload size in bytes, excluding the trailer.
	PayloadLength uint32

	// PayloadPrevLength is the payload size of the predecessor chunk in
	// this track, or 0 for a track head.
	PayloadPrevLength uint32
}

// encode writes the header including its checksum into dst.
func (h *Header) encode(dst []byte) {
	_ = dst[:HeaderSize]
	binary.LittleEndian.PutUint64(dst[0:8], h.ItemNext)
	binary.LittleEndian.PutUint64(dst[8:16], h.ItemPrev)
	dst[16] = h.Tag
	dst[17] = h.Rsv0
	binary.LittleEndian.PutUint16(dst[18:20], h.ChunkMeta)
	binary.LittleEndian.PutUint32(dst[20:24], h.PayloadLength)
	binary.LittleEndian.PutUint32(dst[24:28], h.PayloadPrevLength)
	binary.LittleEndian.PutUint32(dst[28:32], CRC(dst[0:28]))
}

// decodeHeader parses and validates src.
func decodeHeader(src []byte) (Header, error) {
	_ = src[:HeaderSize]
	stored := binary.LittleEndian.Uint32(src[28:32])
	if stored != CRC(src[0:28]) {
		return Header{}, fmt.Errorf("%w: checksum mismatch", ErrCorruptHeader)
	}
	return Header{
		ItemNext:          binary.LittleEndian.Uint64(src[0:8]),
		ItemPrev:          binary.LittleEndian.Uint64(src[8:16]),
		Tag:               src[16],
		Rsv0:              src[17],
		ChunkMeta:         binary.LittleEndian.Uint16(src[18:20]),
		PayloadLength:     binary.LittleEndian.Uint32(src[20:24]),
		PayloadPrevLength: binary.LittleEndian.Uint32(src[24:28]),
	}, nil
}

// TotalSize returns the on-disk footprint of a chunk with this header.
func (h *Header) TotalSize() int64 {
	return HeaderSize + int64(h.PayloadLength) + TrailerSize
}
