package bitio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBitsSevenAtEveryOffset(t *testing.T) {
	data := []byte{0x34, 0x89, 0xEF}
	want := []uint32{
		0x1A, 0x34, 0x69, 0x52, 0x24, 0x48, 0x11, 0x22, 0x44,
		0x09, 0x13, 0x27, 0x4F, 0x1E, 0x3D, 0x7B, 0x77, 0x6F,
	}
	for offset, w := range want {
		t.Run(fmt.Sprintf("offset_%d", offset), func(t *testing.T) {
			r := NewReader(data)
			require.NoError(t, r.Skip(offset))
			v, err := r.ReadBits(7)
			require.NoError(t, err)
			assert.Equal(t, w, v)
			assert.Equal(t, offset+7, r.Offset())
		})
	}

	r := NewReader(data)
	require.NoError(t, r.Skip(18))
	_, err := r.ReadBits(7)
	assert.ErrorIs(t, err, ErrBufferUnderrun)
	assert.Equal(t, 18, r.Offset())
}

func TestReadBitsWidths(t *testing.T) {
	data := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}
	r := NewReader(data)
	v, err := r.ReadBits(32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v)
	v, err = r.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01), v)
	assert.Equal(t, 0, r.Remaining())

	r = NewReader(data)
	require.NoError(t, r.Skip(4))
	v, err = r.ReadBits(32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xEADBEEF0), v)

	_, err = r.ReadBits(0)
	assert.Error(t, err)
	_, err = r.ReadBits(33)
	assert.Error(t, err)
}

func TestPeekDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{0xA5})
	for i := 0; i < 3; i++ {
		v, err := r.PeekBits(4)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xA), v)
	}
	assert.Equal(t, 0, r.Offset())
	_, err := r.ReadBit()
	require.NoError(t, err)
	r.Align()
	assert.Equal(t, 8, r.Offset())
	_, err = r.PeekBits(1)
	assert.ErrorIs(t, err, ErrBufferUnderrun)
}

func TestWriterRoundTrip(t *testing.T) {
	fields := []struct {
		v uint32
		n int
	}{
		{1, 1}, {0x3, 2}, {0x5, 4}, {0x1A, 7}, {0xFFFF, 16}, {0, 3}, {0xDEADBEEF, 32}, {0x2, 2},
	}
	w := NewWriter(16)
	total := 0
	for _, f := range fields {
		w.WriteBits(f.v, f.n)
		total += f.n
	}
	out := w.Bytes()
	assert.Len(t, out, (total+7)/8)

	r := NewReader(out)
	for _, f := range fields {
		v, err := r.ReadBits(f.n)
		require.NoError(t, err)
		assert.Equal(t, f.v, v)
	}
}

func TestWriterPadsWithZero(t *testing.T) {
	w := NewWriter(1)
	w.WriteBits(0x7, 3)
	assert.Equal(t, []byte{0xE0}, w.Bytes())
	w.Reset()
	w.WriteBits(0xF, 4)
	w.WriteBits(0x1, 4)
	assert.Equal(t, []byte{0xF1}, w.Bytes())
}
