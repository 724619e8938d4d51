// Package format identifies encoded images by their magic number and
// dispatches to the matching codec.
package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jpfielding/raster.go/pkg/format/bmp"
	"github.com/jpfielding/raster.go/pkg/format/jpeg"
	"github.com/jpfielding/raster.go/pkg/format/png"
	"github.com/jpfielding/raster.go/pkg/format/ppm"
	"github.com/jpfielding/raster.go/pkg/logging"
	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/jpfielding/raster.go/pkg/source"
)

// Format is one of the supported file formats.
type Format int

const (
	Unknown Format = iota
	JPEG
	PNG
	BMP
	PPM
)

// probeLen is the number of leading bytes Identify inspects.
const probeLen = 8

// Formats lists the registered formats in identification priority.
var Formats = []Format{JPEG, PNG, BMP, PPM}

// codec binds a format to its signature and entry points
type codec struct {
	name       string
	magic      []byte
	extensions []string
	decode     func(*raster.DecodeContext) (*raster.Buffer, error)
	encode     func(*raster.EncodeContext, *raster.Buffer) error
}

var codecs = map[Format]codec{
	JPEG: {"jpeg", jpeg.Magic, []string{"jpg", "jpeg", "jpe"}, jpeg.Decode, jpeg.Encode},
	PNG:  {"png", png.Magic, []string{"png"}, png.Decode, png.Encode},
	BMP:  {"bmp", bmp.Magic, []string{"bmp", "dib"}, bmp.Decode, bmp.Encode},
	PPM:  {"ppm", ppm.Magic, []string{"ppm", "pnm"}, ppm.Decode, ppm.Encode},
}

func (f Format) String() string {
	if c, ok := codecs[f]; ok {
		return c.name
	}
	return "unknown"
}

// MagicNumber is the byte prefix that identifies f.
func (f Format) MagicNumber() []byte {
	return codecs[f].magic
}

// Extensions lists lower case file extensions without the dot.
func (f Format) Extensions() []string {
	return codecs[f].extensions
}

// PreferredExtension is the extension used when writing f.
func (f Format) PreferredExtension() string {
	if ext := f.Extensions(); len(ext) > 0 {
		return ext[0]
	}
	return ""
}

// ByName resolves a format name or one of its extensions.
func ByName(name string) (Format, error) {
	name = strings.ToLower(strings.TrimPrefix(name, "."))
	for _, f := range Formats {
		if name == f.String() {
			return f, nil
		}
		for _, ext := range f.Extensions() {
			if name == ext {
				return f, nil
			}
		}
	}
	return Unknown, fmt.Errorf("format: name %q: %w", name, raster.ErrUnknownFormat)
}

// ByExtension resolves the format of a path from its extension.
func ByExtension(path string) (Format, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		return Unknown, fmt.Errorf("format: %q has no extension: %w", path, raster.ErrUnknownFormat)
	}
	return ByName(ext)
}

// Identify matches the leading bytes of an open source against each magic
// number in priority order. The source is rewound to offset 0 whether or
// not a format matched.
func Identify(src raster.Source) (Format, error) {
	probe := make([]byte, probeLen)
	n, err := io.ReadFull(raster.Reader(src), probe)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
	case errors.Is(err, raster.ErrIOFailed):
		return Unknown, err
	default:
		return Unknown, fmt.Errorf("format: probe: %v: %w", err, raster.ErrIOFailed)
	}
	if err := src.Seek(0); err != nil {
		return Unknown, fmt.Errorf("format: rewind: %w", err)
	}
	return Match(probe[:n])
}

// Match returns the first format whose magic number prefixes probe.
func Match(probe []byte) (Format, error) {
	for _, f := range Formats {
		if bytes.HasPrefix(probe, f.MagicNumber()) {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("format: no signature matches % x: %w", probe, raster.ErrUnknownFormat)
}

// Decode opens src, identifies its format and decodes it. The source is
// closed before returning and reads fail once ctx is done.
func Decode(ctx context.Context, src raster.Source, opts raster.Options) (buf *raster.Buffer, f Format, err error) {
	if err := src.OpenToRead(); err != nil {
		return nil, Unknown, openErr(err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			buf, err = nil, fmt.Errorf("format: close: %v: %w", cerr, raster.ErrIOFailed)
		}
	}()
	src = source.WithContext(ctx, src)
	if f, err = Identify(src); err != nil {
		return nil, Unknown, err
	}
	ctx = logging.AppendCtx(ctx, slog.String("format", f.String()))
	dc := raster.NewDecodeContext(ctx, src, opts)
	slog.DebugContext(ctx, "format: decoding", slog.String("decode_id", dc.ID))
	if buf, err = codecs[f].decode(dc); err != nil {
		return nil, f, err
	}
	slog.DebugContext(ctx, "format: decoded", slog.String("decode_id", dc.ID), slog.String("image", buf.String()))
	return buf, f, nil
}

// Encode opens dst for writing and encodes buf as f.
func Encode(ctx context.Context, buf *raster.Buffer, dst raster.Source, f Format, opts raster.Options) (err error) {
	c, ok := codecs[f]
	if !ok {
		return fmt.Errorf("format: encode %s: %w", f, raster.ErrUnknownFormat)
	}
	if err := dst.OpenToWrite(); err != nil {
		return openErr(err)
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("format: close: %v: %w", cerr, raster.ErrIOFailed)
		}
	}()
	ctx = logging.AppendCtx(ctx, slog.String("format", f.String()))
	ec := raster.NewEncodeContext(ctx, source.WithContext(ctx, dst), opts)
	slog.DebugContext(ctx, "format: encoding", slog.String("encode_id", ec.ID), slog.String("image", buf.String()))
	return c.encode(ec, buf)
}

func openErr(err error) error {
	if errors.Is(err, raster.ErrIOFailed) {
		return err
	}
	return fmt.Errorf("format: open: %v: %w", err, raster.ErrIOFailed)
}
