package png

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jpfielding/raster.go/pkg/compress/scanline"
	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/klauspost/compress/zlib"
)

// Option keys understood by Encode.
const (
	OptFilter = "png.filter" // none|sub|up|average|paeth|adaptive
	OptLevel  = "png.level"  // zlib level -1..9
)

// maxIDAT is the largest IDAT payload written.
const maxIDAT = 64 * 1024

// Encode writes buf as a non-interlaced PNG to ec.Dst.
func Encode(ec *raster.EncodeContext, buf *raster.Buffer) error {
	if err := buf.Validate(); err != nil {
		return fmt.Errorf("png: %v: %w", err, raster.ErrUnsupportedFeature)
	}
	if buf.Width < 1 || buf.Height < 1 {
		return fmt.Errorf("png: empty image %dx%d: %w", buf.Width, buf.Height, raster.ErrUnsupportedFeature)
	}
	img, ct, err := normalize(buf)
	if err != nil {
		return err
	}
	filter, adaptive := scanline.None, true
	if name := ec.Options.String(OptFilter, "adaptive"); name != "adaptive" {
		f, ok := scanline.ParseFilter(name)
		if !ok {
			return fmt.Errorf("png: unknown filter %q: %w", name, raster.ErrUnsupportedFeature)
		}
		filter, adaptive = f, false
	}
	level := ec.Options.Int(OptLevel, zlib.DefaultCompression)

	if err := raster.WriteFull(ec.Dst, Magic); err != nil {
		return fmt.Errorf("png: signature: %w", err)
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(img.Width))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(img.Height))
	ihdr[8] = byte(img.Depth)
	ihdr[9] = ct
	if err := writeChunk(ec.Dst, "IHDR", ihdr); err != nil {
		return err
	}
	if err := writeText(ec, img.Meta); err != nil {
		return err
	}

	var z bytes.Buffer
	zw, err := zlib.NewWriterLevel(&z, level)
	if err != nil {
		return fmt.Errorf("png: zlib level %d: %v: %w", level, err, raster.ErrUnsupportedFeature)
	}
	comps := img.ColorSpace.Components()
	bpp := scanline.BytesPerPixel(img.Depth, comps)
	rowBytes := scanline.RowBytes(img.Width, img.Depth, comps)
	stride := img.Stride()
	row := make([]byte, 1+rowBytes)
	var prev []byte
	for y := 0; y < img.Height; y++ {
		cur := scanline.Pack(img.Data[y*stride:], img.Width*comps, img.Depth)
		if adaptive {
			row[0] = byte(scanline.Choose(row[1:], cur, prev, bpp))
		} else {
			row[0] = byte(filter)
			scanline.Apply(filter, row[1:], cur, prev, bpp)
		}
		if _, err := zw.Write(row); err != nil {
			return fmt.Errorf("png: deflate: %v: %w", err, raster.ErrIOFailed)
		}
		prev = cur
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("png: deflate: %v: %w", err, raster.ErrIOFailed)
	}
	data := z.Bytes()
	ec.Log.DebugContext(ec.Ctx, "png: deflated", slog.Int("bytes", len(data)), slog.Int("level", level))
	for len(data) > 0 {
		n := min(len(data), maxIDAT)
		if err := writeChunk(ec.Dst, "IDAT", data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return writeChunk(ec.Dst, "IEND", nil)
}

// normalize maps buf onto a color type and a bit depth PNG can hold.
func normalize(buf *raster.Buffer) (*raster.Buffer, byte, error) {
	img := buf
	var err error
	if img.ColorSpace == raster.YCbCr {
		if img, err = img.Convert(raster.RGB); err != nil {
			return nil, 0, fmt.Errorf("png: %w", err)
		}
	}
	var ct byte
	switch img.ColorSpace {
	case raster.Gray:
		ct = ctGray
	case raster.GrayAlpha:
		ct = ctGrayAlpha
	case raster.RGB:
		ct = ctRGB
	case raster.RGBA:
		ct = ctRGBA
	default:
		return nil, 0, fmt.Errorf("png: color space %s: %w", img.ColorSpace, raster.ErrUnsupportedFeature)
	}
	depth := img.Depth
	switch {
	case depth > 8:
		depth = 16
	case ct == ctGray && depth == 3:
		depth = 4
	case ct == ctGray && depth > 4:
		depth = 8
	case ct != ctGray:
		depth = 8
	}
	if depth != img.Depth {
		if img, err = img.WithDepth(depth); err != nil {
			return nil, 0, fmt.Errorf("png: %w", err)
		}
	}
	return img, ct, nil
}

// writeText emits one tEXt chunk per metadata entry, sorted by key.
func writeText(ec *raster.EncodeContext, meta map[string]string) error {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(k) == 0 || len(k) > 79 {
			ec.Log.DebugContext(ec.Ctx, "png: metadata key skipped", slog.String("key", k))
			continue
		}
		payload := append([]byte(k), 0)
		payload = append(payload, meta[k]...)
		if err := writeChunk(ec.Dst, "tEXt", payload); err != nil {
			return err
		}
	}
	return nil
}
