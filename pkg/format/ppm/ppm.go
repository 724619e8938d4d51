// Package ppm reads and writes binary netpbm pixmaps (P6).
package ppm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/jpfielding/raster.go/pkg/raster"
)

// Magic is the P6 signature.
var Magic = []byte("P6")

// OptDepth selects the bit depth of the written samples, 8..16.
const OptDepth = "ppm.depth"

const (
	maxPixels   = 1 << 28
	maxTokenLen = 20
)

// Header is the parsed textual header.
type Header struct {
	Width    int
	Height   int
	MaxValue int
}

// Depth is the smallest bit depth, at least 8, that holds MaxValue.
func (h Header) Depth() int {
	d := 8
	for h.MaxValue>>d > 0 {
		d++
	}
	return d
}

// Decode reads a P6 pixmap from the current position of dc.Src. Samples
// wider than one byte are big-endian on the wire.
func Decode(dc *raster.DecodeContext) (*raster.Buffer, error) {
	r := bufio.NewReader(raster.Reader(dc.Src))
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	depth := h.Depth()
	dc.Log.DebugContext(dc.Ctx, "ppm: header parsed",
		slog.Int("width", h.Width),
		slog.Int("height", h.Height),
		slog.Int("maxValue", h.MaxValue),
		slog.Int("depth", depth))

	buf := raster.NewBuffer(h.Width, h.Height, raster.RGB, depth)
	if _, err := io.ReadFull(r, buf.Data); err != nil {
		return nil, ioErr(err)
	}
	if depth > 8 {
		// wire order is big-endian, storage is little-endian
		for i := 0; i+1 < len(buf.Data); i += 2 {
			buf.Data[i], buf.Data[i+1] = buf.Data[i+1], buf.Data[i]
		}
	}
	for i := 0; i < buf.Samples(); i++ {
		if v := buf.Sample(i); v > h.MaxValue {
			return nil, fmt.Errorf("ppm: sample %d is %d, above max %d: %w", i, v, h.MaxValue, raster.ErrFileCorrupted)
		}
	}
	return buf, nil
}

func readHeader(r *bufio.Reader) (Header, error) {
	var h Header
	var magic [2]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return h, fmt.Errorf("ppm: short signature: %w", raster.ErrNotMatch)
		}
		return h, ioErr(err)
	}
	if string(magic[:]) != string(Magic) {
		return h, fmt.Errorf("ppm: signature %q: %w", magic[:], raster.ErrNotMatch)
	}
	fields := []struct {
		name     string
		dst      *int
		min, max int
	}{
		{"width", &h.Width, 1, 1 << 30},
		{"height", &h.Height, 1, 1 << 30},
		{"max value", &h.MaxValue, 1, 0xFFFF},
	}
	for _, f := range fields {
		tok, err := readToken(r)
		if err != nil {
			return h, err
		}
		v, err := strconv.Atoi(tok)
		if err != nil || v < f.min || v > f.max {
			return h, fmt.Errorf("ppm: %s %q: %w", f.name, tok, raster.ErrFileCorrupted)
		}
		*f.dst = v
	}
	if int64(h.Width)*int64(h.Height) > maxPixels {
		return h, fmt.Errorf("ppm: %dx%d exceeds %d pixels: %w", h.Width, h.Height, maxPixels, raster.ErrUnsupportedFeature)
	}
	return h, nil
}

// readToken skips whitespace and comments, then returns the characters up
// to and consuming the next single whitespace byte.
func readToken(r *bufio.Reader) (string, error) {
	var tok []byte
	for {
		c, err := r.ReadByte()
		if err != nil {
			return "", ioErr(err)
		}
		switch {
		case c == '#' && len(tok) == 0:
			if _, err := r.ReadBytes('\n'); err != nil {
				return "", ioErr(err)
			}
		case isSpace(c):
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			if len(tok) == maxTokenLen {
				return "", fmt.Errorf("ppm: header token longer than %d bytes: %w", maxTokenLen, raster.ErrFileCorrupted)
			}
			tok = append(tok, c)
		}
	}
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

func ioErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("ppm: unexpected end of data: %w", raster.ErrFileCorrupted)
	case errors.Is(err, raster.ErrIOFailed):
		return err
	default:
		return fmt.Errorf("ppm: %v: %w", err, raster.ErrIOFailed)
	}
}

// Encode writes buf as RGB. Depths below 8 are raised to 8 so the result
// reads back at the depth it was written with.
func Encode(ec *raster.EncodeContext, buf *raster.Buffer) error {
	if err := buf.Validate(); err != nil {
		return fmt.Errorf("ppm: %v: %w", err, raster.ErrUnsupportedFeature)
	}
	if buf.Width < 1 || buf.Height < 1 {
		return fmt.Errorf("ppm: dimensions %dx%d: %w", buf.Width, buf.Height, raster.ErrUnsupportedFeature)
	}
	depth := ec.Options.Int(OptDepth, max(buf.Depth, 8))
	if depth < 8 || depth > 16 {
		return fmt.Errorf("ppm: depth %d outside 8..16: %w", depth, raster.ErrUnsupportedFeature)
	}
	img := buf
	var err error
	if img.ColorSpace != raster.RGB {
		if img.ColorSpace == raster.YCbCr && img.Depth != 8 {
			if img, err = img.WithDepth(8); err != nil {
				return fmt.Errorf("ppm: %w", err)
			}
		}
		if img, err = img.Convert(raster.RGB); err != nil {
			return fmt.Errorf("ppm: %w", err)
		}
	}
	if img.Depth != depth {
		if img, err = img.WithDepth(depth); err != nil {
			return fmt.Errorf("ppm: %w", err)
		}
	}
	ec.Log.DebugContext(ec.Ctx, "ppm: encoding",
		slog.Int("width", img.Width),
		slog.Int("height", img.Height),
		slog.Int("depth", depth),
		slog.String("from", buf.ColorSpace.String()))

	w := bufio.NewWriter(raster.Writer(ec.Dst))
	fmt.Fprintf(w, "P6\n%d\n%d\n%d\n", img.Width, img.Height, img.MaxValue())
	if depth <= 8 {
		w.Write(img.Data)
	} else {
		for i := 0; i < img.Samples(); i++ {
			v := img.Sample(i)
			w.WriteByte(byte(v >> 8))
			w.WriteByte(byte(v))
		}
	}
	if err := w.Flush(); err != nil {
		return ioErr(err)
	}
	return nil
}
