// Package bitio reads and writes MSB-first bit fields over byte buffers.
package bitio

import (
	"errors"
	"fmt"
)

// ErrBufferUnderrun is returned when a read would pass the end of the buffer.
var ErrBufferUnderrun = errors.New("bitio: buffer underrun")

// Reader extracts bit fields from a fixed buffer. The earliest bit in the
// stream is the most significant bit of each result.
type Reader struct {
	data []byte
	pos  int // bit offset
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Reset points the reader at data, offset zero.
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.pos = 0
}

// ReadBits returns the next n bits (1..32) and advances. On underrun the
// cursor does not move.
func (r *Reader) ReadBits(n int) (uint32, error) {
	v, err := r.PeekBits(n)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// PeekBits is ReadBits without advancing.
func (r *Reader) PeekBits(n int) (uint32, error) {
	if n < 1 || n > 32 {
		return 0, fmt.Errorf("bitio: field width %d outside 1..32", n)
	}
	if r.pos+n > len(r.data)*8 {
		return 0, ErrBufferUnderrun
	}
	var v uint64
	pos := r.pos
	remaining := n
	for remaining > 0 {
		b := r.data[pos>>3]
		off := pos & 7
		avail := 8 - off
		take := min(avail, remaining)
		bits := (b >> (avail - take)) & byte(1<<take-1)
		v = v<<take | uint64(bits)
		pos += take
		remaining -= take
	}
	return uint32(v), nil
}

// ReadBit reads a single bit.
func (r *Reader) ReadBit() (uint32, error) {
	return r.ReadBits(1)
}

// Skip advances n bits.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.data)*8 {
		return ErrBufferUnderrun
	}
	r.pos += n
	return nil
}

// Align moves to the next byte boundary.
func (r *Reader) Align() {
	r.pos = (r.pos + 7) &^ 7
}

// Offset is the bit cursor.
func (r *Reader) Offset() int {
	return r.pos
}

// Remaining is the count of unread bits.
func (r *Reader) Remaining() int {
	return len(r.data)*8 - r.pos
}

// Writer packs bit fields MSB-first into a growing byte slice.
type Writer struct {
	buf   []byte
	acc   uint64
	nbits int
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// WriteBits appends the low n bits (0..32) of v.
func (w *Writer) WriteBits(v uint32, n int) {
	if n <= 0 {
		return
	}
	w.acc = w.acc<<n | uint64(v)&(1<<n-1)
	w.nbits += n
	for w.nbits >= 8 {
		w.nbits -= 8
		w.buf = append(w.buf, byte(w.acc>>w.nbits))
	}
}

// Flush pads the trailing partial byte with zero bits.
func (w *Writer) Flush() {
	if w.nbits > 0 {
		w.WriteBits(0, 8-w.nbits)
	}
}

// Bytes flushes and returns the packed bytes.
func (w *Writer) Bytes() []byte {
	w.Flush()
	return w.buf
}

// Reset clears the writer, keeping its storage.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.acc = 0
	w.nbits = 0
}
