// Package png decodes and encodes non-interlaced PNG images.
package png

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"

	"github.com/jpfielding/raster.go/pkg/compress/scanline"
	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/klauspost/compress/zlib"
)

// IHDR color types.
const (
	ctGray      = 0
	ctRGB       = 2
	ctPalette   = 3
	ctGrayAlpha = 4
	ctRGBA      = 6
)

// Decoding stage. IHDR comes first, PLTE precedes IDAT, IDAT chunks are
// consecutive, IEND is last.
const (
	dsStart = iota
	dsSeenIHDR
	dsSeenPLTE
	dsSeenIDAT
	dsInflated
	dsSeenIEND
)

// drainSize bounds the intermediate inflate buffer.
const drainSize = 32 * 1024

// maxPixels caps width*height before any pixel memory is committed.
const maxPixels = 1 << 28

// validDepths lists the bit depths allowed per color type.
var validDepths = map[byte][]int{
	ctGray:      {1, 2, 4, 8, 16},
	ctRGB:       {8, 16},
	ctPalette:   {1, 2, 4, 8},
	ctGrayAlpha: {8, 16},
	ctRGBA:      {8, 16},
}

// components is the sample count per pixel on the wire.
func components(colorType byte) int {
	switch colorType {
	case ctGray, ctPalette:
		return 1
	case ctGrayAlpha:
		return 2
	case ctRGB:
		return 3
	case ctRGBA:
		return 4
	}
	return 0
}

// Header is the decoded IHDR.
type Header struct {
	Width     int
	Height    int
	Depth     int
	ColorType byte
}

// Stride is the filtered row length including the selector byte.
func (h *Header) Stride() int {
	return 1 + scanline.RowBytes(h.Width, h.Depth, components(h.ColorType))
}

type decoder struct {
	dc      *raster.DecodeContext
	stage   int
	hdr     Header
	palette []byte // RGB triples
	alpha   []byte // tRNS for palette images
	raw     []byte
	meta    map[string]string
	pending *chunk
}

// Decode reads a PNG stream from the current position of dc.Src.
func Decode(dc *raster.DecodeContext) (*raster.Buffer, error) {
	d := &decoder{dc: dc, meta: map[string]string{}}
	if err := d.checkHeader(); err != nil {
		return nil, err
	}
	for d.stage != dsSeenIEND {
		c, err := d.next()
		if err != nil {
			return nil, err
		}
		if err := d.dispatch(c); err != nil {
			return nil, err
		}
	}
	return d.image()
}

func (d *decoder) checkHeader() error {
	var sig [8]byte
	if err := raster.ReadFull(d.dc.Src, sig[:]); err != nil {
		if errors.Is(err, raster.ErrFileCorrupted) {
			return fmt.Errorf("png: short signature: %w", raster.ErrNotMatch)
		}
		return fmt.Errorf("png: signature: %w", err)
	}
	if !bytes.Equal(sig[:], Magic) {
		return fmt.Errorf("png: bad signature % x: %w", sig, raster.ErrNotMatch)
	}
	return nil
}

func (d *decoder) next() (*chunk, error) {
	if d.pending != nil {
		c := d.pending
		d.pending = nil
		return c, nil
	}
	return readChunk(d.dc.Src)
}

func (d *decoder) dispatch(c *chunk) error {
	d.dc.Log.DebugContext(d.dc.Ctx, "png: chunk", slog.String("type", c.Type), slog.Int("length", int(c.Length)))
	if d.stage == dsStart && c.Type != "IHDR" {
		return fmt.Errorf("png: first chunk is %q, want IHDR: %w", c.Type, raster.ErrFileCorrupted)
	}
	switch c.Type {
	case "IHDR":
		if d.stage != dsStart {
			return fmt.Errorf("png: duplicate IHDR: %w", raster.ErrFileCorrupted)
		}
		if err := d.parseIHDR(c.Data); err != nil {
			return err
		}
		d.stage = dsSeenIHDR
	case "PLTE":
		if d.stage != dsSeenIHDR {
			return fmt.Errorf("png: PLTE out of order: %w", raster.ErrFileCorrupted)
		}
		if err := d.parsePLTE(c.Data); err != nil {
			return err
		}
		d.stage = dsSeenPLTE
	case "tRNS":
		if d.stage >= dsSeenIDAT {
			return fmt.Errorf("png: tRNS after IDAT: %w", raster.ErrFileCorrupted)
		}
		if d.hdr.ColorType == ctPalette {
			d.alpha = c.Data
		}
	case "IDAT":
		switch d.stage {
		case dsSeenIHDR, dsSeenPLTE:
		case dsInflated:
			if len(c.Data) > 0 {
				d.dc.Log.DebugContext(d.dc.Ctx, "png: trailing IDAT ignored", slog.Int("length", len(c.Data)))
			}
			return nil
		default:
			return fmt.Errorf("png: IDAT out of order: %w", raster.ErrFileCorrupted)
		}
		if d.hdr.ColorType == ctPalette && d.palette == nil {
			return fmt.Errorf("png: palette image without PLTE: %w", raster.ErrFileCorrupted)
		}
		d.stage = dsSeenIDAT
		if err := d.inflate(c); err != nil {
			return err
		}
		d.stage = dsInflated
	case "IEND":
		if c.Length != 0 {
			return fmt.Errorf("png: IEND length %d: %w", c.Length, raster.ErrFileCorrupted)
		}
		if d.stage != dsInflated {
			return fmt.Errorf("png: IEND before image data: %w", raster.ErrFileCorrupted)
		}
		d.stage = dsSeenIEND
	case "tEXt":
		d.parseText(c.Data)
	case "zTXt":
		d.parseZText(c.Data)
	case "iTXt":
		d.parseIText(c.Data)
	default:
		// iCCP, pHYs, gAMA and the rest carry nothing the pixels need
	}
	return nil
}

func (d *decoder) parseIHDR(data []byte) error {
	if len(data) != 13 {
		return fmt.Errorf("png: IHDR length %d: %w", len(data), raster.ErrFileCorrupted)
	}
	w := binary.BigEndian.Uint32(data[0:4])
	h := binary.BigEndian.Uint32(data[4:8])
	if w == 0 || h == 0 || w > maxChunkLength || h > maxChunkLength {
		return fmt.Errorf("png: dimensions %dx%d: %w", w, h, raster.ErrFileCorrupted)
	}
	if int64(w)*int64(h) > maxPixels {
		return fmt.Errorf("png: %dx%d exceeds %d pixels: %w", w, h, maxPixels, raster.ErrUnsupportedFeature)
	}
	depth, ct := data[8], data[9]
	if data[10] != 0 {
		return fmt.Errorf("png: compression method %d: %w", data[10], raster.ErrUnsupportedFeature)
	}
	if data[11] != 0 {
		return fmt.Errorf("png: filter method %d: %w", data[11], raster.ErrUnsupportedFeature)
	}
	if data[12] != 0 {
		return fmt.Errorf("png: interlace method %d: %w", data[12], raster.ErrUnsupportedFeature)
	}
	depths, ok := validDepths[ct]
	if !ok {
		return fmt.Errorf("png: color type %d: %w", ct, raster.ErrFileCorrupted)
	}
	if !slices.Contains(depths, int(depth)) {
		return fmt.Errorf("png: bit depth %d for color type %d: %w", depth, ct, raster.ErrFileCorrupted)
	}
	d.hdr = Header{Width: int(w), Height: int(h), Depth: int(depth), ColorType: ct}
	d.dc.Log.DebugContext(d.dc.Ctx, "png: IHDR parsed",
		slog.Int("width", d.hdr.Width),
		slog.Int("height", d.hdr.Height),
		slog.Int("depth", d.hdr.Depth),
		slog.Int("colorType", int(ct)))
	return nil
}

func (d *decoder) parsePLTE(data []byte) error {
	n := len(data) / 3
	if len(data)%3 != 0 || n == 0 || n > 256 {
		return fmt.Errorf("png: PLTE length %d: %w", len(data), raster.ErrFileCorrupted)
	}
	if d.hdr.ColorType == ctPalette && n > 1<<d.hdr.Depth {
		return fmt.Errorf("png: %d palette entries for depth %d: %w", n, d.hdr.Depth, raster.ErrFileCorrupted)
	}
	d.palette = data
	return nil
}

// idatReader presents consecutive IDAT payloads as one stream. The first
// non-IDAT chunk ends the stream and is kept for the chunk loop.
type idatReader struct {
	d   *decoder
	buf []byte
	eof bool
}

func (r *idatReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		c, err := readChunk(r.d.dc.Src)
		if err != nil {
			return 0, err
		}
		if c.Type != "IDAT" {
			r.d.pending = c
			r.eof = true
			return 0, io.EOF
		}
		r.d.dc.Log.DebugContext(r.d.dc.Ctx, "png: chunk", slog.String("type", c.Type), slog.Int("length", int(c.Length)))
		r.buf = c.Data
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// inflate drains the zlib stream starting at first through a fixed buffer
// until a full image of filtered rows is collected.
func (d *decoder) inflate(first *chunk) error {
	size := int64(d.hdr.Height) * int64(d.hdr.Stride())
	if size > math.MaxInt32 {
		return fmt.Errorf("png: %d bytes of filtered rows: %w", size, raster.ErrUnsupportedFeature)
	}
	want := int(size)
	src := &idatReader{d: d, buf: first.Data}
	zr, err := zlib.NewReader(src)
	if err != nil {
		return d.inflateErr(err)
	}
	defer zr.Close()

	// grown from inflated bytes, so a lying IHDR costs nothing up front
	d.raw = make([]byte, 0, min(want, drainSize))
	var drain [drainSize]byte
	for len(d.raw) < want {
		n, err := zr.Read(drain[:min(drainSize, want-len(d.raw))])
		d.raw = append(d.raw, drain[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return d.inflateErr(err)
		}
	}
	if len(d.raw) < want {
		return fmt.Errorf("png: inflated %d bytes, want %d: %w", len(d.raw), want, raster.ErrFileCorrupted)
	}
	// the zlib trailer must follow the last row
	n, err := zr.Read(drain[:1])
	if n > 0 {
		return fmt.Errorf("png: too much pixel data: %w", raster.ErrFileCorrupted)
	}
	if err != nil && err != io.EOF {
		return d.inflateErr(err)
	}
	d.dc.Log.DebugContext(d.dc.Ctx, "png: inflated", slog.Int("bytes", len(d.raw)))
	return nil
}

func (d *decoder) inflateErr(err error) error {
	if errors.Is(err, raster.ErrIOFailed) || errors.Is(err, raster.ErrFileCorrupted) {
		return err
	}
	return fmt.Errorf("png: inflate: %v: %w", err, raster.ErrFileCorrupted)
}

func (d *decoder) image() (*raster.Buffer, error) {
	h := d.hdr
	r := &scanline.Reconstructor{Width: h.Width, Height: h.Height, Depth: h.Depth, Components: components(h.ColorType)}
	samples, err := r.Reconstruct(d.raw)
	if err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	var buf *raster.Buffer
	switch h.ColorType {
	case ctGray:
		buf = &raster.Buffer{ColorSpace: raster.Gray, Depth: h.Depth}
	case ctRGB:
		buf = &raster.Buffer{ColorSpace: raster.RGB, Depth: h.Depth}
	case ctGrayAlpha:
		buf = &raster.Buffer{ColorSpace: raster.GrayAlpha, Depth: h.Depth}
	case ctRGBA:
		buf = &raster.Buffer{ColorSpace: raster.RGBA, Depth: h.Depth}
	case ctPalette:
		if buf, err = d.expandPalette(samples); err != nil {
			return nil, err
		}
		samples = buf.Data
	}
	buf.Width, buf.Height, buf.Data = h.Width, h.Height, samples
	if len(d.meta) > 0 {
		buf.Meta = d.meta
	}
	return buf, buf.Validate()
}

func (d *decoder) expandPalette(indices []byte) (*raster.Buffer, error) {
	cs := raster.RGB
	if len(d.alpha) > 0 {
		cs = raster.RGBA
	}
	n := cs.Components()
	entries := len(d.palette) / 3
	out := make([]byte, len(indices)*n)
	for i, idx := range indices {
		if int(idx) >= entries {
			return nil, fmt.Errorf("png: palette index %d out of range %d: %w", idx, entries, raster.ErrFileCorrupted)
		}
		copy(out[i*n:], d.palette[int(idx)*3:int(idx)*3+3])
		if n == 4 {
			a := byte(0xFF)
			if int(idx) < len(d.alpha) {
				a = d.alpha[idx]
			}
			out[i*n+3] = a
		}
	}
	return &raster.Buffer{ColorSpace: cs, Depth: 8, Data: out}, nil
}

func (d *decoder) parseText(data []byte) {
	key, val, ok := bytes.Cut(data, []byte{0})
	if !ok || len(key) == 0 {
		d.dc.Log.DebugContext(d.dc.Ctx, "png: malformed tEXt ignored")
		return
	}
	d.meta[string(key)] = string(val)
}

func (d *decoder) parseZText(data []byte) {
	key, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(key) == 0 || len(rest) < 1 || rest[0] != 0 {
		d.dc.Log.DebugContext(d.dc.Ctx, "png: malformed zTXt ignored")
		return
	}
	text, err := inflateText(rest[1:])
	if err != nil {
		d.dc.Log.DebugContext(d.dc.Ctx, "png: zTXt inflate failed", slog.Any("error", err))
		return
	}
	d.meta[string(key)] = string(text)
}

// parseIText surfaces keyword and text, dropping language tags.
func (d *decoder) parseIText(data []byte) {
	key, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || len(key) == 0 || len(rest) < 2 {
		d.dc.Log.DebugContext(d.dc.Ctx, "png: malformed iTXt ignored")
		return
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	_, rest, ok = bytes.Cut(rest, []byte{0}) // language tag
	if !ok {
		return
	}
	_, text, ok := bytes.Cut(rest, []byte{0}) // translated keyword
	if !ok {
		return
	}
	if compressed {
		var err error
		if text, err = inflateText(text); err != nil {
			d.dc.Log.DebugContext(d.dc.Ctx, "png: iTXt inflate failed", slog.Any("error", err))
			return
		}
	}
	d.meta[string(key)] = string(text)
}

func inflateText(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, 1<<20))
}
