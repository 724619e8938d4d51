// Package bmp reads and writes Windows bitmaps with the 40 byte info header.
package bmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/jpfielding/raster.go/pkg/compress/bitio"
	"github.com/jpfielding/raster.go/pkg/compress/rle"
	"github.com/jpfielding/raster.go/pkg/raster"
)

// Magic is the file header signature.
var Magic = []byte("BM")

const (
	fileHeaderLen = 14
	infoHeaderLen = 40
	maxPixels     = 1 << 28
)

// compression methods of the info header
const (
	biRGB       = 0
	biRLE8      = 1
	biRLE4      = 2
	biBitfields = 3
	biJPEG      = 4
	biPNG       = 5
)

// Header is the parsed file and info header.
type Header struct {
	DataOffset  uint32
	Width       int
	Height      int // negative for top-down rows
	Planes      uint16
	BitCount    uint16
	Compression uint32
	DataSize    uint32
	XPixPerM    int32
	YPixPerM    int32
	ColorsUsed  uint32
}

// TopDown reports whether the first stored row is the top of the image.
func (h *Header) TopDown() bool { return h.Height < 0 }

// Rows is the image height.
func (h *Header) Rows() int {
	if h.Height < 0 {
		return -h.Height
	}
	return h.Height
}

// LineSize is the stored size of one uncompressed row, padded to 4 bytes.
func (h *Header) LineSize() int {
	return (int(h.BitCount)*h.Width + 31) / 32 * 4
}

// Decode reads a BMP file starting at offset 0 of dc.Src. The result is
// RGBA at depth 8 with opaque alpha.
func Decode(dc *raster.DecodeContext) (*raster.Buffer, error) {
	h, err := readHeader(dc.Src)
	if err != nil {
		return nil, err
	}
	dc.Log.DebugContext(dc.Ctx, "bmp: header parsed",
		slog.Int("width", h.Width),
		slog.Int("height", h.Height),
		slog.Int("bpp", int(h.BitCount)),
		slog.Int("compression", int(h.Compression)))

	palette, err := readPalette(dc.Src, h)
	if err != nil {
		return nil, err
	}
	if minOffset := fileHeaderLen + infoHeaderLen + 4*len(palette); int(h.DataOffset) < minOffset {
		return nil, fmt.Errorf("bmp: data offset %d inside headers: %w", h.DataOffset, raster.ErrFileCorrupted)
	}
	if err := dc.Src.Seek(int64(h.DataOffset)); err != nil {
		return nil, ioFailed(err)
	}

	switch h.Compression {
	case biRLE8, biRLE4:
		return decodeRLE(dc, h, palette)
	default:
		return decodeRows(dc, h, palette)
	}
}

func readHeader(src raster.Source) (*Header, error) {
	var b [fileHeaderLen + infoHeaderLen]byte
	if err := raster.ReadFull(src, b[:2]); err != nil {
		if errors.Is(err, raster.ErrFileCorrupted) {
			return nil, fmt.Errorf("bmp: short signature: %w", raster.ErrNotMatch)
		}
		return nil, err
	}
	if string(b[:2]) != string(Magic) {
		return nil, fmt.Errorf("bmp: signature % x: %w", b[:2], raster.ErrNotMatch)
	}
	if err := raster.ReadFull(src, b[2:fileHeaderLen+4]); err != nil {
		return nil, err
	}
	le := binary.LittleEndian
	if n := le.Uint32(b[14:18]); n != infoHeaderLen {
		return nil, fmt.Errorf("bmp: DIB header of %d bytes: %w", n, raster.ErrFileCorrupted)
	}
	if err := raster.ReadFull(src, b[fileHeaderLen+4:]); err != nil {
		return nil, err
	}
	h := &Header{
		DataOffset:  le.Uint32(b[10:14]),
		Width:       int(int32(le.Uint32(b[18:22]))),
		Height:      int(int32(le.Uint32(b[22:26]))),
		Planes:      le.Uint16(b[26:28]),
		BitCount:    le.Uint16(b[28:30]),
		Compression: le.Uint32(b[30:34]),
		DataSize:    le.Uint32(b[34:38]),
		XPixPerM:    int32(le.Uint32(b[38:42])),
		YPixPerM:    int32(le.Uint32(b[42:46])),
		ColorsUsed:  le.Uint32(b[46:50]),
	}
	return h, h.validate()
}

func (h *Header) validate() error {
	if h.Width <= 0 || h.Height == 0 {
		return fmt.Errorf("bmp: dimensions %dx%d: %w", h.Width, h.Height, raster.ErrFileCorrupted)
	}
	if int64(h.Width)*int64(h.Rows()) > maxPixels {
		return fmt.Errorf("bmp: %dx%d exceeds %d pixels: %w", h.Width, h.Rows(), maxPixels, raster.ErrUnsupportedFeature)
	}
	if h.Planes != 1 {
		return fmt.Errorf("bmp: %d planes: %w", h.Planes, raster.ErrFileCorrupted)
	}
	switch h.BitCount {
	case 1, 4, 8, 24, 32:
	case 16:
		return fmt.Errorf("bmp: 16 bpp: %w", raster.ErrUnsupportedFeature)
	default:
		return fmt.Errorf("bmp: %d bpp: %w", h.BitCount, raster.ErrFileCorrupted)
	}
	switch h.Compression {
	case biRGB:
	case biRLE8, biRLE4:
		if (h.Compression == biRLE8) != (h.BitCount == 8) || (h.Compression == biRLE4) != (h.BitCount == 4) {
			return fmt.Errorf("bmp: compression %d with %d bpp: %w", h.Compression, h.BitCount, raster.ErrFileCorrupted)
		}
		if h.TopDown() {
			return fmt.Errorf("bmp: top-down run-length image: %w", raster.ErrFileCorrupted)
		}
	case biBitfields, biJPEG, biPNG:
		return fmt.Errorf("bmp: compression %d: %w", h.Compression, raster.ErrUnsupportedFeature)
	default:
		return fmt.Errorf("bmp: compression %d: %w", h.Compression, raster.ErrFileCorrupted)
	}
	return nil
}

// readPalette reads the BGRx entries that follow the info header. Images
// above 8 bpp carry no palette we use.
func readPalette(src raster.Source, h *Header) ([][3]byte, error) {
	if h.BitCount > 8 {
		return nil, nil
	}
	n := int(h.ColorsUsed)
	if n == 0 {
		n = 1 << h.BitCount
	}
	if n > 1<<h.BitCount {
		return nil, fmt.Errorf("bmp: %d palette entries for %d bpp: %w", n, h.BitCount, raster.ErrFileCorrupted)
	}
	b := make([]byte, 4*n)
	if err := raster.ReadFull(src, b); err != nil {
		return nil, err
	}
	p := make([][3]byte, n)
	for i := range p {
		p[i] = [3]byte{b[4*i+2], b[4*i+1], b[4*i]}
	}
	return p, nil
}

// decodeRows grows the output as rows arrive, so a header promising more
// rows than the file holds fails before committing the full image.
func decodeRows(dc *raster.DecodeContext, h *Header, palette [][3]byte) (*raster.Buffer, error) {
	rows := h.Rows()
	stride := 4 * h.Width
	row := make([]byte, h.LineSize())
	data := make([]byte, 0, min(stride*rows, 1<<20))
	br := bitio.NewReader(nil)
	for i := 0; i < rows; i++ {
		if err := raster.ReadFull(dc.Src, row); err != nil {
			return nil, err
		}
		n := len(data)
		data = slices.Grow(data, stride)[:n+stride]
		dst := data[n:]
		switch h.BitCount {
		case 24, 32:
			step := int(h.BitCount) / 8
			for x := 0; x < h.Width; x++ {
				p := row[x*step:]
				dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = p[2], p[1], p[0], 0xFF
			}
		default:
			br.Reset(row)
			for x := 0; x < h.Width; x++ {
				idx, err := br.ReadBits(int(h.BitCount))
				if err != nil {
					return nil, fmt.Errorf("bmp: row %d: %v: %w", i, err, raster.ErrFileCorrupted)
				}
				if err := setIndex(dst[4*x:], palette, int(idx)); err != nil {
					return nil, err
				}
			}
		}
	}
	if !h.TopDown() {
		flipRows(data, stride, rows)
	}
	dc.Log.DebugContext(dc.Ctx, "bmp: rows decoded", slog.Int("rows", rows), slog.Int("lineSize", len(row)))
	return &raster.Buffer{Width: h.Width, Height: rows, ColorSpace: raster.RGBA, Depth: 8, Data: data}, nil
}

// flipRows reverses the row order of data in place.
func flipRows(data []byte, stride, rows int) {
	tmp := make([]byte, stride)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := data[top*stride : (top+1)*stride]
		b := data[bottom*stride : (bottom+1)*stride]
		copy(tmp, a)
		copy(a, b)
		copy(b, tmp)
	}
}

func decodeRLE(dc *raster.DecodeContext, h *Header, palette [][3]byte) (*raster.Buffer, error) {
	r := raster.Reader(dc.Src)
	if h.DataSize > 0 {
		r = io.LimitReader(r, int64(h.DataSize))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ioFailed(err)
	}
	if h.DataSize > 0 && len(data) < int(h.DataSize) {
		return nil, fmt.Errorf("bmp: run-length data %d of %d bytes: %w", len(data), h.DataSize, raster.ErrFileCorrupted)
	}
	mode := rle.RLE8
	if h.Compression == biRLE4 {
		mode = rle.RLE4
	}
	indices, err := rle.Decode(data, h.Width, h.Rows(), mode)
	if err != nil {
		return nil, fmt.Errorf("bmp: %v: %w", err, raster.ErrFileCorrupted)
	}
	buf := raster.NewBuffer(h.Width, h.Rows(), raster.RGBA, 8)
	for i, idx := range indices {
		if err := setIndex(buf.Data[4*i:], palette, int(idx)); err != nil {
			return nil, err
		}
	}
	dc.Log.DebugContext(dc.Ctx, "bmp: run-length data decoded", slog.Int("bytes", len(data)))
	return buf, nil
}

func setIndex(dst []byte, palette [][3]byte, idx int) error {
	if idx >= len(palette) {
		return fmt.Errorf("bmp: palette index %d of %d: %w", idx, len(palette), raster.ErrFileCorrupted)
	}
	c := palette[idx]
	dst[0], dst[1], dst[2], dst[3] = c[0], c[1], c[2], 0xFF
	return nil
}

func ioFailed(err error) error {
	if err == nil || errors.Is(err, raster.ErrIOFailed) {
		return err
	}
	return fmt.Errorf("bmp: %v: %w", err, raster.ErrIOFailed)
}
