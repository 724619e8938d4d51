package raster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponents(t *testing.T) {
	tests := []struct {
		cs   ColorSpace
		want int
	}{
		{RGB, 3},
		{YCbCr, 3},
		{RGBA, 4},
		{Gray, 1},
		{GrayAlpha, 2},
		{Unknown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.cs.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cs.Components())
		})
	}
}

func TestBufferLength(t *testing.T) {
	tests := []struct {
		w, h  int
		cs    ColorSpace
		depth int
		size  int
	}{
		{4, 3, RGB, 8, 36},
		{4, 3, RGBA, 16, 96},
		{5, 1, Gray, 1, 5},
		{58, 50, RGB, 10, 58 * 50 * 3 * 2},
		{0, 7, GrayAlpha, 8, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dx%d_%s_%d", tt.w, tt.h, tt.cs, tt.depth), func(t *testing.T) {
			b := NewBuffer(tt.w, tt.h, tt.cs, tt.depth)
			assert.Len(t, b.Data, tt.size)
			require.NoError(t, b.Validate())
			b.Data = append(b.Data, 0)
			assert.Error(t, b.Validate())
		})
	}
	assert.Error(t, (&Buffer{Width: 1, Height: 1, ColorSpace: Gray, Depth: 0, Data: []byte{0}}).Validate())
	assert.Error(t, (&Buffer{Width: 1, Height: 1, ColorSpace: Unknown, Depth: 8}).Validate())
}

func TestSampleLittleEndian(t *testing.T) {
	b := NewBuffer(2, 1, Gray, 12)
	b.SetSample(1, 0x0ABC)
	assert.Equal(t, []byte{0, 0, 0xBC, 0x0A}, b.Data)
	assert.Equal(t, 0x0ABC, b.Sample(1))
	assert.Equal(t, 0x0ABC, b.At(1, 0, 0))
	assert.Equal(t, 4095, b.MaxValue())
}

func TestConvert(t *testing.T) {
	rgba := NewBuffer(2, 1, RGBA, 8)
	copy(rgba.Data, []byte{10, 20, 30, 40, 50, 60, 70, 80})

	rgb, err := rgba.Convert(RGB)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 50, 60, 70}, rgb.Data)

	back, err := rgb.Convert(RGBA)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 255, 50, 60, 70, 255}, back.Data)

	gray := NewBuffer(1, 1, Gray, 16)
	gray.SetSample(0, 1000)
	g3, err := gray.Convert(RGB)
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 1000, 1000}, []int{g3.Sample(0), g3.Sample(1), g3.Sample(2)})

	ga := NewBuffer(1, 1, GrayAlpha, 8)
	copy(ga.Data, []byte{7, 9})
	ga4, err := ga.Convert(RGBA)
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 7, 7, 9}, ga4.Data)

	ycc := NewBuffer(1, 1, YCbCr, 8)
	copy(ycc.Data, []byte{128, 128, 128})
	out, err := ycc.Convert(RGB)
	require.NoError(t, err)
	assert.Equal(t, []byte{128, 128, 128}, out.Data)

	deep := NewBuffer(1, 1, YCbCr, 16)
	_, err = deep.Convert(RGB)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)

	_, err = (&Buffer{Width: 1, Height: 1, ColorSpace: Unknown, Depth: 8}).Convert(RGB)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestWithDepth(t *testing.T) {
	b := NewBuffer(3, 1, Gray, 8)
	copy(b.Data, []byte{0, 128, 255})
	up, err := b.WithDepth(10)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 514, 1023}, []int{up.Sample(0), up.Sample(1), up.Sample(2)})

	down, err := up.WithDepth(8)
	require.NoError(t, err)
	assert.Equal(t, b.Data, down.Data)

	_, err = b.WithDepth(17)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

func TestFingerprint(t *testing.T) {
	a := NewBuffer(2, 2, RGB, 8)
	b := NewBuffer(2, 2, RGB, 8)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	b.Data[0] = 1
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), NewBuffer(4, 1, RGB, 8).Fingerprint())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("png: crc: %w", ErrFileCorrupted), KindFileCorrupted},
		{fmt.Errorf("x: %w", ErrNotMatch), KindNotMatch},
		{fmt.Errorf("x: %w", ErrIOFailed), KindIOFailed},
		{fmt.Errorf("x: %w", ErrUnsupportedFeature), KindUnsupportedFeature},
		{fmt.Errorf("x: %w", ErrUnknownFormat), KindUnknownFormat},
		{fmt.Errorf("x: %w", ErrMalformedStream), KindMalformedStream},
		{fmt.Errorf("other"), KindOther},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestOptions(t *testing.T) {
	o := Options{"jpeg.quality": "90", "bad": "x"}
	assert.Equal(t, 90, o.Int("jpeg.quality", 75))
	assert.Equal(t, 75, o.Int("bad", 75))
	assert.Equal(t, 1, o.Int("missing", 1))
	assert.Equal(t, "x", o.String("bad", "y"))
	assert.Equal(t, "y", Options(nil).String("bad", "y"))
}
