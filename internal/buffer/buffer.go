// Package buffer provides a growable little-endian payload builder.
//
// Chunk payloads are assembled in memory before they are handed to the chunk
// layer in a single write. Builders are pooled: a large payload is likely to
// be followed by another large payload, so reusing the allocation reduces GC
// pressure without being wasteful.
package buffer

import (
	"encoding/binary"
	"math"
	"sync"
)

var pool = sync.Pool{New: func() any { return &Builder{} }}

// Get returns an empty builder from the pool.
func Get() *Builder {
	b := pool.Get().(*Builder)
	b.Reset()
	return b
}

// Put returns a builder to the pool. The builder must not be used after.
func Put(b *Builder) {
	pool.Put(b)
}

// Builder accumulates little-endian fields.
//
// The zero value is ready to use.
type Builder struct {
	buf []byte
}

// Reset empties the builder, keeping its allocation.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Len returns the number of accumulated bytes.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the accumulated payload. The slice is only valid until the
// next append or Reset.
func (b *Builder) Bytes() []byte { return b.buf }

func (b *Builder) AppendU8(v uint8)   { b.buf = append(b.buf, v) }
func (b *Builder) AppendU16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }
func (b *Builder) AppendU32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }
func (b *Builder) AppendU64(v uint64) { b.buf = binary.LittleEndian.AppendUint64(b.buf, v) }
func (b *Builder) AppendI64(v int64)  { b.AppendU64(uint64(v)) }

func (b *Builder) AppendF32(v float32) { b.AppendU32(math.Float32bits(v)) }
func (b *Builder) AppendF64(v float64) { b.AppendU64(math.Float64bits(v)) }

// AppendBytes appends raw bytes.
func (b *Builder) AppendBytes(p []byte) { b.buf = append(b.buf, p...) }

// AppendString appends a u16 length prefix followed by the UTF-8 bytes.
func (b *Builder) AppendString(s string) {
	b.AppendU16(uint16(len(s)))
	b.buf = append(b.buf, s...)
}

// AppendZeros appends n zero bytes.
func (b *Builder) AppendZeros(n int) {
	b.buf = append(b.buf, make([]byte, n)...)
}

// Decoder walks a little-endian payload. Reads past the end return zero
// values and set Err; callers check Err once after decoding.
type Decoder struct {
	buf []byte
	pos int

	// Err is true if any read ran past the end of the payload.
	Err bool
}

// NewDecoder returns a decoder over p.
func NewDecoder(p []byte) *Decoder { return &Decoder{buf: p} }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

func (d *Decoder) take(n int) []byte {
	if d.pos+n > len(d.buf) {
		d.Err = true
		d.pos = len(d.buf)
		return make([]byte, n)
	}
	p := d.buf[d.pos : d.pos+n]
	d.pos += n
	return p
}

func (d *Decoder) U8() uint8   { return d.take(1)[0] }
func (d *Decoder) U16() uint16 { return binary.LittleEndian.Uint16(d.take(2)) }
func (d *Decoder) U32() uint32 { return binary.LittleEndian.Uint32(d.take(4)) }
func (d *Decoder) U64() uint64 { return binary.LittleEndian.Uint64(d.take(8)) }
func (d *Decoder) I64() int64  { return int64(d.U64()) }

func (d *Decoder) F32() float32 { return math.Float32frombits(d.U32()) }
func (d *Decoder) F64() float64 { return math.Float64frombits(d.U64()) }

// Bytes returns the next n raw bytes.
func (d *Decoder) Bytes(n int) []byte { return d.take(n) }

// String reads a u16 length prefix followed by UTF-8 bytes.
func (d *Decoder) String() string { return string(d.take(int(d.U16()))) }

// Skip discards n bytes.
func (d *Decoder) Skip(n int) { d.take(n) }
