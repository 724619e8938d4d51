package raster

import (
	"fmt"

	"github.com/jpfielding/raster.go/pkg/util"
)

// ColorSpace identifies how the interleaved channels of a Buffer are interpreted.
type ColorSpace int

const (
	Unknown ColorSpace = iota
	RGB
	RGBA
	Gray
	GrayAlpha
	YCbCr
)

var colorSpaceNames = map[ColorSpace]string{
	Unknown:   "Unknown",
	RGB:       "RGB",
	RGBA:      "RGBA",
	Gray:      "Gray",
	GrayAlpha: "GrayAlpha",
	YCbCr:     "YCbCr",
}

func (c ColorSpace) String() string {
	if n, ok := colorSpaceNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ColorSpace(%d)", int(c))
}

// Components is the channel count per pixel.
func (c ColorSpace) Components() int {
	switch c {
	case RGB, YCbCr:
		return 3
	case RGBA:
		return 4
	case Gray:
		return 1
	case GrayAlpha:
		return 2
	default:
		return 0
	}
}

// HasAlpha reports whether the last channel is alpha.
func (c ColorSpace) HasAlpha() bool {
	return c == RGBA || c == GrayAlpha
}

// BytesPerSample is 1 for depths up to 8 and 2 beyond.
func BytesPerSample(depth int) int {
	if depth > 8 {
		return 2
	}
	return 1
}

// Buffer is a decoded image: row-major, channel-interleaved samples.
// Samples deeper than 8 bits take two bytes, little-endian. Sub-byte depths
// keep one unscaled sample per byte.
type Buffer struct {
	Width      int
	Height     int
	ColorSpace ColorSpace
	Depth      int
	Data       []byte
	Meta       map[string]string
}

// NewBuffer allocates a zeroed buffer satisfying the length invariant.
func NewBuffer(width, height int, cs ColorSpace, depth int) *Buffer {
	b := &Buffer{Width: width, Height: height, ColorSpace: cs, Depth: depth}
	b.Data = make([]byte, b.Size())
	return b
}

// Size is the byte length Data must have.
func (b *Buffer) Size() int {
	return b.Width * b.Height * b.ColorSpace.Components() * BytesPerSample(b.Depth)
}

// Stride is the byte length of one row.
func (b *Buffer) Stride() int {
	return b.Width * b.ColorSpace.Components() * BytesPerSample(b.Depth)
}

// Samples is the total sample count.
func (b *Buffer) Samples() int {
	return b.Width * b.Height * b.ColorSpace.Components()
}

// MaxValue is the largest sample value representable at Depth.
func (b *Buffer) MaxValue() int {
	return (1 << b.Depth) - 1
}

// Validate checks dimensions, depth and the data length invariant.
func (b *Buffer) Validate() error {
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("raster: negative dimensions %dx%d", b.Width, b.Height)
	}
	if b.Depth < 1 || b.Depth > 16 {
		return fmt.Errorf("raster: depth %d outside 1..16", b.Depth)
	}
	if b.ColorSpace.Components() == 0 {
		return fmt.Errorf("raster: color space %s has no components", b.ColorSpace)
	}
	if len(b.Data) != b.Size() {
		return fmt.Errorf("raster: data length %d, want %d", len(b.Data), b.Size())
	}
	return nil
}

// Sample returns the i-th sample in storage order.
func (b *Buffer) Sample(i int) int {
	if b.Depth > 8 {
		return int(b.Data[2*i]) | int(b.Data[2*i+1])<<8
	}
	return int(b.Data[i])
}

// SetSample stores v as the i-th sample.
func (b *Buffer) SetSample(i, v int) {
	if b.Depth > 8 {
		b.Data[2*i] = byte(v)
		b.Data[2*i+1] = byte(v >> 8)
		return
	}
	b.Data[i] = byte(v)
}

// At returns the sample of channel c at pixel (x, y).
func (b *Buffer) At(x, y, c int) int {
	n := b.ColorSpace.Components()
	return b.Sample((y*b.Width+x)*n + c)
}

// SetMeta records a textual metadata entry.
func (b *Buffer) SetMeta(key, value string) {
	if b.Meta == nil {
		b.Meta = map[string]string{}
	}
	b.Meta[key] = value
}

// Fingerprint is a stable identifier for the pixel content and geometry.
func (b *Buffer) Fingerprint() string {
	return util.ImageID(b.Width, b.Height, b.Depth, b.ColorSpace.String(), b.Data)
}

func (b *Buffer) String() string {
	return fmt.Sprintf("%dx%d %s depth=%d", b.Width, b.Height, b.ColorSpace, b.Depth)
}
