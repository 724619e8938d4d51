package bmp

import (
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"

	"github.com/jpfielding/raster.go/pkg/compress/rle"
	"github.com/jpfielding/raster.go/pkg/raster"
	xbmp "golang.org/x/image/bmp"
)

// OptCompression selects "none" (default) or "rle8". RLE8 applies to gray
// input only.
const OptCompression = "bmp.compression"

// Encode writes buf as an uncompressed bitmap, or as RLE8 when requested.
// Alpha is dropped and samples are rescaled to 8 bits.
func Encode(ec *raster.EncodeContext, buf *raster.Buffer) error {
	if err := buf.Validate(); err != nil {
		return fmt.Errorf("bmp: %v: %w", err, raster.ErrUnsupportedFeature)
	}
	if buf.Width < 1 || buf.Height < 1 {
		return fmt.Errorf("bmp: dimensions %dx%d: %w", buf.Width, buf.Height, raster.ErrUnsupportedFeature)
	}
	img, err := normalize(buf)
	if err != nil {
		return err
	}
	switch mode := ec.Options.String(OptCompression, "none"); mode {
	case "none":
		ec.Log.DebugContext(ec.Ctx, "bmp: encoding", slog.String("colorSpace", img.ColorSpace.String()), slog.Int("width", img.Width), slog.Int("height", img.Height))
		if err := xbmp.Encode(raster.Writer(ec.Dst), toImage(img)); err != nil {
			return ioFailed(err)
		}
		return nil
	case "rle8":
		if img.ColorSpace != raster.Gray {
			return fmt.Errorf("bmp: rle8 needs gray input, have %s: %w", img.ColorSpace, raster.ErrUnsupportedFeature)
		}
		return encodeRLE8(ec, img)
	default:
		return fmt.Errorf("bmp: compression %q: %w", mode, raster.ErrUnsupportedFeature)
	}
}

func normalize(buf *raster.Buffer) (*raster.Buffer, error) {
	img := buf
	var err error
	if img.Depth != 8 {
		if img, err = img.WithDepth(8); err != nil {
			return nil, fmt.Errorf("bmp: %w", err)
		}
	}
	switch img.ColorSpace {
	case raster.Gray, raster.RGB:
		return img, nil
	case raster.GrayAlpha:
		img, err = img.Convert(raster.Gray)
	default:
		img, err = img.Convert(raster.RGB)
	}
	if err != nil {
		return nil, fmt.Errorf("bmp: %w", err)
	}
	return img, nil
}

// toImage wraps a depth 8 Gray or RGB buffer for the bitmap writer. Opaque
// RGBA keeps the writer on 24 bpp rows and the 40 byte header.
func toImage(b *raster.Buffer) image.Image {
	r := image.Rect(0, 0, b.Width, b.Height)
	if b.ColorSpace == raster.Gray {
		return &image.Gray{Pix: b.Data, Stride: b.Width, Rect: r}
	}
	m := image.NewRGBA(r)
	for i, j := 0, 0; i < len(b.Data); i, j = i+3, j+4 {
		m.Pix[j], m.Pix[j+1], m.Pix[j+2], m.Pix[j+3] = b.Data[i], b.Data[i+1], b.Data[i+2], 0xFF
	}
	return m
}

func encodeRLE8(ec *raster.EncodeContext, img *raster.Buffer) error {
	data := rle.EncodeRLE8(img.Data, img.Width, img.Height)
	const paletteLen = 256 * 4
	offset := fileHeaderLen + infoHeaderLen + paletteLen

	le := binary.LittleEndian
	out := make([]byte, 0, offset+len(data))
	out = append(out, Magic...)
	out = le.AppendUint32(out, uint32(offset+len(data)))
	out = le.AppendUint32(out, 0) // reserved
	out = le.AppendUint32(out, uint32(offset))
	out = le.AppendUint32(out, infoHeaderLen)
	out = le.AppendUint32(out, uint32(img.Width))
	out = le.AppendUint32(out, uint32(img.Height))
	out = le.AppendUint16(out, 1) // planes
	out = le.AppendUint16(out, 8)
	out = le.AppendUint32(out, biRLE8)
	out = le.AppendUint32(out, uint32(len(data)))
	out = le.AppendUint32(out, 0) // x pixels per meter
	out = le.AppendUint32(out, 0) // y pixels per meter
	out = le.AppendUint32(out, 256)
	out = le.AppendUint32(out, 0) // important colors
	for i := 0; i < 256; i++ {
		out = append(out, byte(i), byte(i), byte(i), 0)
	}
	out = append(out, data...)

	ec.Log.DebugContext(ec.Ctx, "bmp: encoding rle8", slog.Int("width", img.Width), slog.Int("height", img.Height), slog.Int("bytes", len(data)))
	if err := raster.WriteFull(ec.Dst, out); err != nil {
		return fmt.Errorf("bmp: %w", err)
	}
	return nil
}
