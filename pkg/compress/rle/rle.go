// Package rle implements the BMP run-length encodings RLE8 and RLE4.
package rle

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrTruncated is returned when the stream ends inside a command.
var ErrTruncated = errors.New("rle: compressed data truncated")

// ErrBadIndex is returned when a run writes outside the image.
var ErrBadIndex = errors.New("rle: position outside image")

// Mode selects the pixel packing of literal and encoded runs.
type Mode int

const (
	RLE8 Mode = iota
	RLE4
)

// Decode expands a BMP RLE stream into width*height palette indices in
// top-down row order. Encoded rows are bottom-up. Pixels skipped by delta
// or end-of-line codes stay 0.
func Decode(data []byte, width, height int, mode Mode) ([]byte, error) {
	out := make([]byte, width*height)
	x, row := 0, 0 // row counts up from the bottom
	put := func(v byte) error {
		if x >= width || row >= height {
			return fmt.Errorf("%w: x=%d row=%d", ErrBadIndex, x, row)
		}
		out[(height-1-row)*width+x] = v
		x++
		return nil
	}

	i := 0
	for i+1 < len(data) {
		b1, b2 := data[i], data[i+1]
		i += 2
		if b1 > 0 {
			// encoded run
			for k := 0; k < int(b1); k++ {
				v := b2
				if mode == RLE4 {
					if k%2 == 0 {
						v = b2 >> 4
					} else {
						v = b2 & 0x0F
					}
				}
				if err := put(v); err != nil {
					return nil, err
				}
			}
			continue
		}
		switch b2 {
		case 0: // end of line
			x = 0
			row++
		case 1: // end of bitmap
			return out, nil
		case 2: // delta
			if i+1 >= len(data) {
				return nil, fmt.Errorf("%w in delta", ErrTruncated)
			}
			x += int(data[i])
			row += int(data[i+1])
			i += 2
		default: // literal run of b2 pixels, padded to 16 bits
			count := int(b2)
			n := count
			if mode == RLE4 {
				n = (count + 1) / 2
			}
			if i+n > len(data) {
				return nil, fmt.Errorf("%w in literal run (i=%d, count=%d, len=%d)", ErrTruncated, i, count, len(data))
			}
			for k := 0; k < count; k++ {
				v := data[i+k]
				if mode == RLE4 {
					v = data[i+k/2]
					if k%2 == 0 {
						v >>= 4
					} else {
						v &= 0x0F
					}
				}
				if err := put(v); err != nil {
					return nil, err
				}
			}
			i += n + n%2
		}
	}
	if i < len(data) {
		return nil, fmt.Errorf("%w: dangling byte", ErrTruncated)
	}
	return out, nil
}

// EncodeRLE8 compresses top-down indices into an RLE8 stream with
// end-of-line and end-of-bitmap codes.
func EncodeRLE8(indices []byte, width, height int) []byte {
	var buf bytes.Buffer
	for row := height - 1; row >= 0; row-- {
		line := indices[row*width : (row+1)*width]
		i := 0
		for i < len(line) {
			runLen := 1
			for i+runLen < len(line) && runLen < 255 && line[i+runLen] == line[i] {
				runLen++
			}
			if runLen > 1 {
				buf.WriteByte(byte(runLen))
				buf.WriteByte(line[i])
				i += runLen
				continue
			}
			// Literal: stop before a run of 3 or at 255
			litLen := 1
			for i+litLen < len(line) && litLen < 255 {
				if i+litLen+2 < len(line) &&
					line[i+litLen] == line[i+litLen+1] &&
					line[i+litLen] == line[i+litLen+2] {
					break
				}
				litLen++
			}
			if litLen < 3 {
				// literal runs shorter than 3 collide with escape codes
				for k := 0; k < litLen; k++ {
					buf.WriteByte(1)
					buf.WriteByte(line[i+k])
				}
			} else {
				buf.WriteByte(0)
				buf.WriteByte(byte(litLen))
				buf.Write(line[i : i+litLen])
				if litLen%2 == 1 {
					buf.WriteByte(0)
				}
			}
			i += litLen
		}
		buf.Write([]byte{0, 0})
	}
	buf.Write([]byte{0, 1})
	return buf.Bytes()
}
