package jpeg

import (
	"bytes"
	"context"
	"image"
	"image/color"
	stdjpeg "image/jpeg"
	"runtime"
	"testing"

	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/jpfielding/raster.go/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBytes(t *testing.T, data []byte) (*raster.Buffer, error) {
	t.Helper()
	src := source.NewMemory(data)
	require.NoError(t, src.OpenToRead())
	return Decode(raster.NewDecodeContext(context.Background(), src, nil))
}

func encodeBytes(t *testing.T, buf *raster.Buffer, opts raster.Options) []byte {
	t.Helper()
	dst := source.NewMemory(nil)
	require.NoError(t, dst.OpenToWrite())
	require.NoError(t, Encode(raster.NewEncodeContext(context.Background(), dst, opts), buf))
	return dst.Bytes()
}

// smooth fills a buffer with low frequency content that survives
// quantization with small error.
func smooth(w, h int, cs raster.ColorSpace) *raster.Buffer {
	b := raster.NewBuffer(w, h, cs, 8)
	n := cs.Components()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < n; c++ {
				b.Data[(y*w+x)*n+c] = byte(20 + x*100/w + y*50/h + c*25)
			}
		}
	}
	return b
}

func maxDiff(a, b []byte) int {
	d := 0
	for i := range a {
		d = max(d, abs(int(a[i])-int(b[i])))
	}
	return d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func stdEncode(t *testing.T, img image.Image) []byte {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, stdjpeg.Encode(&out, img, &stdjpeg.Options{Quality: 90}))
	return out.Bytes()
}

func TestDecodeStdlibGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 37, 29))
	for y := 0; y < 29; y++ {
		for x := 0; x < 37; x++ {
			img.SetGray(x, y, color.Gray{uint8(x*6 + y)})
		}
	}
	data := stdEncode(t, img)
	want, err := stdjpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	gray, ok := want.(*image.Gray)
	require.True(t, ok)

	out, err := decodeBytes(t, data)
	require.NoError(t, err)
	assert.Equal(t, raster.Gray, out.ColorSpace)
	assert.Equal(t, 8, out.Depth)
	require.Equal(t, 37, out.Width)
	require.Equal(t, 29, out.Height)
	require.Len(t, out.Data, out.Size())

	got := make([]byte, 0, len(out.Data))
	for y := 0; y < 29; y++ {
		got = append(got, gray.Pix[y*gray.Stride:y*gray.Stride+37]...)
	}
	assert.LessOrEqual(t, maxDiff(got, out.Data), 2)
}

func TestDecodeStdlibSubsampled(t *testing.T) {
	// stdlib writes colour as 4:2:0
	const w, h = 45, 33
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x * 5), uint8(y * 7), uint8(x + y), 255})
		}
	}
	data := stdEncode(t, img)
	want, err := stdjpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	ycc, ok := want.(*image.YCbCr)
	require.True(t, ok)
	require.Equal(t, image.YCbCrSubsampleRatio420, ycc.SubsampleRatio)

	out, err := decodeBytes(t, data)
	require.NoError(t, err)
	assert.Equal(t, raster.YCbCr, out.ColorSpace)
	require.Len(t, out.Data, w*h*3)

	expect := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ci := ycc.COffset(x, y)
			expect = append(expect, ycc.Y[ycc.YOffset(x, y)], ycc.Cb[ci], ycc.Cr[ci])
		}
	}
	assert.LessOrEqual(t, maxDiff(expect, out.Data), 3)
}

func TestStdlibDecodesOutput(t *testing.T) {
	t.Run("Gray", func(t *testing.T) {
		in := smooth(30, 20, raster.Gray)
		img, err := stdjpeg.Decode(bytes.NewReader(encodeBytes(t, in, raster.Options{OptQuality: "95"})))
		require.NoError(t, err)
		gray, ok := img.(*image.Gray)
		require.True(t, ok)
		got := make([]byte, 0, len(in.Data))
		for y := 0; y < 20; y++ {
			got = append(got, gray.Pix[y*gray.Stride:y*gray.Stride+30]...)
		}
		assert.LessOrEqual(t, maxDiff(in.Data, got), 6)
	})
	t.Run("YCbCr", func(t *testing.T) {
		in := smooth(30, 20, raster.YCbCr)
		img, err := stdjpeg.Decode(bytes.NewReader(encodeBytes(t, in, raster.Options{OptQuality: "95"})))
		require.NoError(t, err)
		ycc, ok := img.(*image.YCbCr)
		require.True(t, ok)
		assert.Equal(t, image.YCbCrSubsampleRatio444, ycc.SubsampleRatio)
		got := make([]byte, 0, len(in.Data))
		for y := 0; y < 20; y++ {
			for x := 0; x < 30; x++ {
				ci := ycc.COffset(x, y)
				got = append(got, ycc.Y[ycc.YOffset(x, y)], ycc.Cb[ci], ycc.Cr[ci])
			}
		}
		assert.LessOrEqual(t, maxDiff(in.Data, got), 6)
	})
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		in     raster.ColorSpace
		expect raster.ColorSpace
	}{
		{"Gray1x1", 1, 1, raster.Gray, raster.Gray},
		{"GrayOddSize", 17, 9, raster.Gray, raster.Gray},
		{"YCbCr", 24, 16, raster.YCbCr, raster.YCbCr},
		{"RGBBecomesYCbCr", 19, 13, raster.RGB, raster.YCbCr},
		{"RGBADropsAlpha", 8, 8, raster.RGBA, raster.YCbCr},
		{"GrayAlphaDropsAlpha", 5, 7, raster.GrayAlpha, raster.Gray},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := smooth(tt.w, tt.h, tt.in)
			out, err := decodeBytes(t, encodeBytes(t, in, raster.Options{OptQuality: "95"}))
			require.NoError(t, err)
			assert.Equal(t, tt.expect, out.ColorSpace)
			assert.Equal(t, tt.w, out.Width)
			assert.Equal(t, tt.h, out.Height)
			assert.Len(t, out.Data, out.Size())

			want, err := in.Convert(tt.expect)
			require.NoError(t, err)
			assert.LessOrEqual(t, maxDiff(want.Data, out.Data), 8)
		})
	}
}

func TestRestartInterval(t *testing.T) {
	in := smooth(40, 24, raster.YCbCr)
	plain, err := decodeBytes(t, encodeBytes(t, in, nil))
	require.NoError(t, err)

	for _, interval := range []string{"1", "3", "7", "100"} {
		t.Run(interval, func(t *testing.T) {
			data := encodeBytes(t, in, raster.Options{OptRestart: interval})
			assert.Contains(t, string(data), string([]byte{0xFF, markerDRI}))
			out, err := decodeBytes(t, data)
			require.NoError(t, err)
			assert.Equal(t, plain.Data, out.Data)
		})
	}

	// 15 MCUs, one restart after each but the last
	data := encodeBytes(t, in, raster.Options{OptRestart: "1"})
	sos := bytes.Index(data, []byte{0xFF, markerSOS})
	require.Positive(t, sos)
	count := 0
	for i := sos; i < len(data)-1; i++ {
		if data[i] == 0xFF && data[i+1] >= markerRST0 && data[i+1] <= markerRST7 {
			count++
		}
	}
	assert.Equal(t, 14, count)
}

func TestComment(t *testing.T) {
	in := smooth(8, 8, raster.Gray)
	in.SetMeta("comment", "scanned at noon")
	out, err := decodeBytes(t, encodeBytes(t, in, nil))
	require.NoError(t, err)
	assert.Equal(t, "scanned at noon", out.Meta["comment"])
}

func TestAdobeRGB(t *testing.T) {
	data := encodeBytes(t, smooth(16, 16, raster.YCbCr), nil)
	ycc, err := decodeBytes(t, data)
	require.NoError(t, err)

	app14 := []byte{0xFF, markerAPP14, 0x00, 0x0E, 'A', 'd', 'o', 'b', 'e', 0, 100, 0, 0, 0, 0, 0}
	patched := append(append(append([]byte(nil), data[:2]...), app14...), data[2:]...)
	out, err := decodeBytes(t, patched)
	require.NoError(t, err)
	assert.Equal(t, raster.RGB, out.ColorSpace)
	assert.Equal(t, ycc.Data, out.Data)
}

func TestDecodeErrors(t *testing.T) {
	gray := func(t *testing.T) []byte {
		return encodeBytes(t, smooth(16, 16, raster.Gray), nil)
	}
	// offset of the SOS marker in a gray stream
	sosAt := func(t *testing.T, b []byte) int {
		i := bytes.Index(b, []byte{0xFF, markerSOS})
		require.Positive(t, i)
		return i
	}
	tests := []struct {
		name  string
		input func(t *testing.T) []byte
		want  error
	}{
		{"Empty", func(t *testing.T) []byte { return nil }, raster.ErrNotMatch},
		{"NotJPEG", func(t *testing.T) []byte { return []byte("\x89PNG\r\n\x1a\n") }, raster.ErrNotMatch},
		{"MissingMarkerPrefix", func(t *testing.T) []byte { return []byte{0xFF, 0xD8, 0x12, 0x34} }, raster.ErrMalformedStream},
		{"StuffedZeroOutsideScan", func(t *testing.T) []byte { return []byte{0xFF, 0xD8, 0xFF, 0x00} }, raster.ErrMalformedStream},
		{"SecondSOI", func(t *testing.T) []byte { return []byte{0xFF, 0xD8, 0xFF, 0xD8} }, raster.ErrMalformedStream},
		{"Progressive", func(t *testing.T) []byte {
			return []byte{0xFF, 0xD8, 0xFF, markerSOF2, 0x00, 0x0B, 8, 0, 8, 0, 8, 1, 1, 0x11, 0}
		}, raster.ErrUnsupportedFeature},
		{"Lossless", func(t *testing.T) []byte {
			return []byte{0xFF, 0xD8, 0xFF, markerSOF3, 0x00, 0x0B, 8, 0, 8, 0, 8, 1, 1, 0x11, 0}
		}, raster.ErrUnsupportedFeature},
		{"TwelveBit", func(t *testing.T) []byte {
			return []byte{0xFF, 0xD8, 0xFF, markerSOF1, 0x00, 0x0B, 12, 0, 8, 0, 8, 1, 1, 0x11, 0}
		}, raster.ErrUnsupportedFeature},
		{"FourComponents", func(t *testing.T) []byte {
			return []byte{0xFF, 0xD8, 0xFF, markerSOF0, 0x00, 0x14, 8, 0, 8, 0, 8, 4, 1, 0x11, 0, 2, 0x11, 0, 3, 0x11, 0, 4, 0x11, 0}
		}, raster.ErrUnsupportedFeature},
		{"SOSBeforeSOF", func(t *testing.T) []byte {
			return []byte{0xFF, 0xD8, 0xFF, markerSOS, 0x00, 0x08, 1, 1, 0x00, 0, 63, 0}
		}, raster.ErrMalformedStream},
		{"UnknownScanComponent", func(t *testing.T) []byte {
			b := gray(t)
			b[sosAt(t, b)+5] = 9
			return b
		}, raster.ErrMalformedStream},
		{"UndefinedHuffmanTable", func(t *testing.T) []byte {
			b := gray(t)
			b[sosAt(t, b)+6] = 0x33
			return b
		}, raster.ErrMalformedStream},
		{"SpectralSelection", func(t *testing.T) []byte {
			b := gray(t)
			b[sosAt(t, b)+8] = 5
			return b
		}, raster.ErrUnsupportedFeature},
		{"WrongRestartMarker", func(t *testing.T) []byte {
			b := encodeBytes(t, smooth(16, 16, raster.Gray), raster.Options{OptRestart: "1"})
			sos := sosAt(t, b)
			i := bytes.Index(b[sos:], []byte{0xFF, markerRST0})
			require.Positive(t, i)
			b[sos+i+1] = markerRST0 + 3
			return b
		}, raster.ErrMalformedStream},
		{"MissingRestartMarker", func(t *testing.T) []byte {
			b := encodeBytes(t, smooth(16, 16, raster.Gray), raster.Options{OptRestart: "1"})
			// the DRI survives but the data has no markers
			plain := gray(t)
			sos := sosAt(t, b)
			return append(b[:sos:sos], plain[sosAt(t, plain):]...)
		}, raster.ErrMalformedStream},
		{"TruncatedHeader", func(t *testing.T) []byte {
			return gray(t)[:30]
		}, raster.ErrFileCorrupted},
		{"TruncatedScan", func(t *testing.T) []byte {
			b := gray(t)
			return b[:sosAt(t, b)+11]
		}, raster.ErrFileCorrupted},
		{"MissingEOI", func(t *testing.T) []byte {
			b := gray(t)
			return b[:len(b)-2]
		}, raster.ErrFileCorrupted},
		{"NoFrame", func(t *testing.T) []byte { return []byte{0xFF, 0xD8, 0xFF, 0xD9} }, raster.ErrFileCorrupted},
		{"TooManyPixels", func(t *testing.T) []byte {
			return []byte{0xFF, 0xD8, 0xFF, markerSOF0, 0x00, 0x11, 8, 0xFF, 0xFF, 0xFF, 0xFF, 3, 1, 0x11, 0, 2, 0x11, 0, 3, 0x11, 0}
		}, raster.ErrUnsupportedFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := decodeBytes(t, tt.input(t))
			require.Error(t, err)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFrameWithoutScanAllocatesLazily(t *testing.T) {
	// 16384x16384 is within the pixel cap; no scan ever backs it
	data := []byte{0xFF, 0xD8, 0xFF, markerSOF0, 0x00, 0x11, 8, 0x40, 0x00, 0x40, 0x00, 3, 1, 0x22, 0, 2, 0x11, 0, 3, 0x11, 0, 0xFF, markerEOI}
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	out, err := decodeBytes(t, data)
	runtime.ReadMemStats(&after)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, raster.ErrFileCorrupted)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestCancelledSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := source.WithContext(ctx, source.NewMemory(encodeBytes(t, smooth(8, 8, raster.Gray), nil)))
	require.NoError(t, src.OpenToRead())
	cancel()
	_, err := Decode(raster.NewDecodeContext(ctx, src, nil))
	assert.ErrorIs(t, err, raster.ErrIOFailed)
}

func TestEncodeErrors(t *testing.T) {
	dst := source.NewMemory(nil)
	require.NoError(t, dst.OpenToWrite())
	ec := raster.NewEncodeContext(context.Background(), dst, nil)

	err := Encode(ec, &raster.Buffer{Width: 0, Height: 4, ColorSpace: raster.Gray, Depth: 8})
	assert.ErrorIs(t, err, raster.ErrUnsupportedFeature)

	err = Encode(ec, &raster.Buffer{Width: 4, Height: 4, ColorSpace: raster.Gray, Depth: 8, Data: make([]byte, 3)})
	assert.ErrorIs(t, err, raster.ErrUnsupportedFeature)
}

func TestQualityShrinksOutput(t *testing.T) {
	in := smooth(64, 64, raster.YCbCr)
	for i := range in.Data {
		in.Data[i] ^= byte(i * 31)
	}
	low := encodeBytes(t, in, raster.Options{OptQuality: "10"})
	high := encodeBytes(t, in, raster.Options{OptQuality: "100"})
	assert.Less(t, len(low), len(high))
	_, err := decodeBytes(t, high)
	require.NoError(t, err)
}
