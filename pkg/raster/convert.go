package raster

import (
	"fmt"
	"image/color"
)

// Convert returns a copy of b in color space to. Only the channel
// rearrangements an encoder needs are supported.
func (b *Buffer) Convert(to ColorSpace) (*Buffer, error) {
	if b.ColorSpace == to {
		return b.clone(), nil
	}
	if (b.ColorSpace == YCbCr || to == YCbCr) && b.Depth != 8 {
		return nil, fmt.Errorf("raster: %s to %s needs depth 8, have %d: %w", b.ColorSpace, to, b.Depth, ErrUnsupportedFeature)
	}
	read, ok := pixelReaders[b.ColorSpace]
	if !ok {
		return nil, fmt.Errorf("raster: convert from %s: %w", b.ColorSpace, ErrUnsupportedFeature)
	}
	write, ok := pixelWriters[to]
	if !ok {
		return nil, fmt.Errorf("raster: convert to %s: %w", to, ErrUnsupportedFeature)
	}
	out := NewBuffer(b.Width, b.Height, to, b.Depth)
	out.Meta = cloneMeta(b.Meta)
	maxv := b.MaxValue()
	in := b.ColorSpace.Components()
	on := to.Components()
	for p := 0; p < b.Width*b.Height; p++ {
		r, g, bl, a := read(b, p*in, maxv)
		write(out, p*on, r, g, bl, a)
	}
	return out, nil
}

// WithDepth returns a copy of b with every sample rescaled to depth.
func (b *Buffer) WithDepth(depth int) (*Buffer, error) {
	if depth < 1 || depth > 16 {
		return nil, fmt.Errorf("raster: depth %d outside 1..16: %w", depth, ErrUnsupportedFeature)
	}
	if depth == b.Depth {
		return b.clone(), nil
	}
	out := NewBuffer(b.Width, b.Height, b.ColorSpace, depth)
	out.Meta = cloneMeta(b.Meta)
	src := b.MaxValue()
	dst := out.MaxValue()
	for i := 0; i < b.Samples(); i++ {
		out.SetSample(i, Rescale(b.Sample(i), src, dst))
	}
	return out, nil
}

// Rescale maps v from [0,from] onto [0,to] with rounding.
func Rescale(v, from, to int) int {
	if from == to || from == 0 {
		return v
	}
	return (v*to + from/2) / from
}

type pixelReader func(b *Buffer, i, maxv int) (r, g, bl, a int)
type pixelWriter func(b *Buffer, i, r, g, bl, a int)

var pixelReaders = map[ColorSpace]pixelReader{
	RGB: func(b *Buffer, i, maxv int) (int, int, int, int) {
		return b.Sample(i), b.Sample(i + 1), b.Sample(i + 2), maxv
	},
	RGBA: func(b *Buffer, i, maxv int) (int, int, int, int) {
		return b.Sample(i), b.Sample(i + 1), b.Sample(i + 2), b.Sample(i + 3)
	},
	Gray: func(b *Buffer, i, maxv int) (int, int, int, int) {
		v := b.Sample(i)
		return v, v, v, maxv
	},
	GrayAlpha: func(b *Buffer, i, maxv int) (int, int, int, int) {
		v := b.Sample(i)
		return v, v, v, b.Sample(i + 1)
	},
	YCbCr: func(b *Buffer, i, maxv int) (int, int, int, int) {
		r, g, bl := color.YCbCrToRGB(b.Data[i], b.Data[i+1], b.Data[i+2])
		return int(r), int(g), int(bl), maxv
	},
}

var pixelWriters = map[ColorSpace]pixelWriter{
	RGB: func(b *Buffer, i, r, g, bl, a int) {
		b.SetSample(i, r)
		b.SetSample(i+1, g)
		b.SetSample(i+2, bl)
	},
	RGBA: func(b *Buffer, i, r, g, bl, a int) {
		b.SetSample(i, r)
		b.SetSample(i+1, g)
		b.SetSample(i+2, bl)
		b.SetSample(i+3, a)
	},
	Gray: func(b *Buffer, i, r, g, bl, a int) {
		b.SetSample(i, luma(r, g, bl))
	},
	GrayAlpha: func(b *Buffer, i, r, g, bl, a int) {
		b.SetSample(i, luma(r, g, bl))
		b.SetSample(i+1, a)
	},
	YCbCr: func(b *Buffer, i, r, g, bl, a int) {
		y, cb, cr := color.RGBToYCbCr(uint8(r), uint8(g), uint8(bl))
		b.Data[i], b.Data[i+1], b.Data[i+2] = y, cb, cr
	},
}

// luma uses the same weights as image/color.GrayModel.
func luma(r, g, b int) int {
	return (19595*r + 38470*g + 7471*b + 1<<15) >> 16
}

func (b *Buffer) clone() *Buffer {
	out := *b
	out.Data = append([]byte(nil), b.Data...)
	out.Meta = cloneMeta(b.Meta)
	return &out
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
