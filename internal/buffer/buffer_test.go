package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jetperch/jls/internal/buffer"
)

func Test_RoundTrip(t *testing.T) {
	b := buffer.Get()
	defer buffer.Put(b)

	b.AppendU8(7)
	b.AppendU16(0xBEEF)
	b.AppendU32(0xCAFEBABE)
	b.AppendU64(1 << 62)
	b.AppendI64(-5)
	b.AppendF32(1.5)
	b.AppendF64(-2.25)
	b.AppendString("volts")
	b.AppendZeros(3)

	d := buffer.NewDecoder(b.Bytes())
	assert.EqualValues(t, 7, d.U8())
	assert.EqualValues(t, 0xBEEF, d.U16())
	assert.EqualValues(t, 0xCAFEBABE, d.U32())
	assert.EqualValues(t, 1<<62, d.U64())
	assert.EqualValues(t, -5, d.I64())
	assert.EqualValues(t, 1.5, d.F32())
	assert.EqualValues(t, -2.25, d.F64())
	assert.Equal(t, "volts", d.String())
	assert.Equal(t, []byte{0, 0, 0}, d.Bytes(3))
	assert.False(t, d.Err)
	assert.Zero(t, d.Remaining())
}

func Test_Decoder_ShortPayload(t *testing.T) {
	d := buffer.NewDecoder([]byte{1, 2})

	v := d.U32()

	assert.Zero(t, v)
	assert.True(t, d.Err)
}

func Test_LittleEndianLayout(t *testing.T) {
	var b buffer.Builder
	b.AppendU16(0x0102)

	assert.Equal(t, []byte{0x02, 0x01}, b.Bytes())
}
