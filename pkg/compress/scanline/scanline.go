// Package scanline undoes and applies the per-row byte predictors used by
// PNG and unpacks rows into samples.
package scanline

import (
	"fmt"

	"github.com/jpfielding/raster.go/pkg/compress/bitio"
	"github.com/jpfielding/raster.go/pkg/raster"
)

// Filter is the predictor selector stored in front of every row.
type Filter byte

const (
	None Filter = iota
	Sub
	Up
	Average
	Paeth
)

var filterNames = []string{"none", "sub", "up", "average", "paeth"}

func (f Filter) String() string {
	if int(f) < len(filterNames) {
		return filterNames[f]
	}
	return fmt.Sprintf("Filter(%d)", byte(f))
}

// ParseFilter maps a filter name to its selector.
func ParseFilter(name string) (Filter, bool) {
	for i, n := range filterNames {
		if n == name {
			return Filter(i), true
		}
	}
	return 0, false
}

// BytesPerPixel is the byte distance to the left neighbour, at least 1.
func BytesPerPixel(depth, components int) int {
	return (depth*components + 7) / 8
}

// RowBytes is the packed length of a row without its selector byte.
func RowBytes(width, depth, components int) int {
	return (width*depth*components + 7) / 8
}

// Defilter reconstructs cur in place. prev is the reconstructed previous
// row, nil for the first row.
func Defilter(f Filter, cur, prev []byte, bpp int) error {
	if prev == nil {
		prev = make([]byte, len(cur))
	}
	switch f {
	case None:
	case Sub:
		for i := bpp; i < len(cur); i++ {
			cur[i] += cur[i-bpp]
		}
	case Up:
		for i := range cur {
			cur[i] += prev[i]
		}
	case Average:
		for i := range cur {
			var left int
			if i >= bpp {
				left = int(cur[i-bpp])
			}
			cur[i] += byte(PredictAverage(left, int(prev[i])))
		}
	case Paeth:
		for i := range cur {
			var left, upLeft int
			if i >= bpp {
				left = int(cur[i-bpp])
				upLeft = int(prev[i-bpp])
			}
			cur[i] += byte(PredictPaeth(left, int(prev[i]), upLeft))
		}
	default:
		return fmt.Errorf("scanline: unknown filter type %d: %w", byte(f), raster.ErrFileCorrupted)
	}
	return nil
}

// Apply writes the residuals of raw under filter f into out.
// prev is the unfiltered previous row, nil for the first row.
func Apply(f Filter, out, raw, prev []byte, bpp int) {
	if prev == nil {
		prev = make([]byte, len(raw))
	}
	for i := range raw {
		var left, upLeft int
		if i >= bpp {
			left = int(raw[i-bpp])
			upLeft = int(prev[i-bpp])
		}
		up := int(prev[i])
		switch f {
		case Sub:
			out[i] = raw[i] - byte(left)
		case Up:
			out[i] = raw[i] - byte(up)
		case Average:
			out[i] = raw[i] - byte(PredictAverage(left, up))
		case Paeth:
			out[i] = raw[i] - byte(PredictPaeth(left, up, upLeft))
		default:
			out[i] = raw[i]
		}
	}
}

// Choose filters raw with every predictor and returns the one with the
// smallest sum of residuals taken as signed bytes.
func Choose(out, raw, prev []byte, bpp int) Filter {
	best := None
	bestScore := -1
	tmp := make([]byte, len(raw))
	for f := None; f <= Paeth; f++ {
		Apply(f, tmp, raw, prev, bpp)
		score := 0
		for _, v := range tmp {
			score += abs(int(int8(v)))
		}
		if bestScore < 0 || score < bestScore {
			best, bestScore = f, score
			copy(out, tmp)
		}
	}
	return best
}

// Reconstructor turns filtered rows (selector byte first) into samples in
// raster storage order.
type Reconstructor struct {
	Width      int
	Height     int
	Depth      int
	Components int
}

// Stride is the filtered row length including the selector byte.
func (r *Reconstructor) Stride() int {
	return 1 + RowBytes(r.Width, r.Depth, r.Components)
}

// Reconstruct defilters raw and unpacks every sample. Sixteen bit samples
// are big-endian on the wire and little-endian in the result.
func (r *Reconstructor) Reconstruct(raw []byte) ([]byte, error) {
	stride := r.Stride()
	if len(raw) < stride*r.Height {
		return nil, fmt.Errorf("scanline: have %d bytes, need %d: %w", len(raw), stride*r.Height, raster.ErrFileCorrupted)
	}
	switch r.Depth {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("scanline: depth %d: %w", r.Depth, raster.ErrUnsupportedFeature)
	}
	bpp := BytesPerPixel(r.Depth, r.Components)
	perRow := r.Width * r.Components
	bps := raster.BytesPerSample(r.Depth)
	out := make([]byte, perRow*r.Height*bps)
	var prev []byte
	br := bitio.NewReader(nil)
	for y := 0; y < r.Height; y++ {
		row := raw[y*stride : (y+1)*stride]
		cur := row[1:]
		if err := Defilter(Filter(row[0]), cur, prev, bpp); err != nil {
			return nil, fmt.Errorf("row %d: %w", y, err)
		}
		prev = cur
		dst := out[y*perRow*bps:]
		switch r.Depth {
		case 8:
			copy(dst, cur[:perRow])
		case 16:
			for i := 0; i < perRow; i++ {
				dst[2*i] = cur[2*i+1]
				dst[2*i+1] = cur[2*i]
			}
		default:
			br.Reset(cur)
			for i := 0; i < perRow; i++ {
				v, err := br.ReadBits(r.Depth)
				if err != nil {
					return nil, fmt.Errorf("scanline: row %d sample %d: %v: %w", y, i, err, raster.ErrFileCorrupted)
				}
				dst[i] = byte(v)
			}
		}
	}
	return out, nil
}

// Pack converts one row of samples in raster storage order into wire bytes.
func Pack(samples []byte, count, depth int) []byte {
	switch depth {
	case 8:
		return append([]byte(nil), samples[:count]...)
	case 16:
		out := make([]byte, 2*count)
		for i := 0; i < count; i++ {
			out[2*i] = samples[2*i+1]
			out[2*i+1] = samples[2*i]
		}
		return out
	}
	w := bitio.NewWriter((count*depth + 7) / 8)
	for i := 0; i < count; i++ {
		w.WriteBits(uint32(samples[i]), depth)
	}
	return w.Bytes()
}
