package scanline

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/jpfielding/raster.go/pkg/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefilterByHand(t *testing.T) {
	prev := []byte{10, 20, 30, 40}
	tests := []struct {
		name   string
		filter Filter
		in     []byte
		want   []byte
	}{
		{"None", None, []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}},
		{"Sub", Sub, []byte{1, 2, 3, 4}, []byte{1, 2, 4, 6}},
		{"Up", Up, []byte{1, 2, 3, 4}, []byte{11, 22, 33, 44}},
		// left=0 for i<2: 1+5, 2+10, 3+(6+30)/2, 4+(12+40)/2
		{"Average", Average, []byte{1, 2, 3, 4}, []byte{6, 12, 21, 30}},
		// every neighbourhood here resolves to the byte above
		{"Paeth", Paeth, []byte{1, 2, 3, 4}, []byte{11, 22, 33, 44}},
		{"SubWraps", Sub, []byte{200, 0, 100, 0}, []byte{200, 0, 44, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := append([]byte(nil), tt.in...)
			require.NoError(t, Defilter(tt.filter, cur, prev, 2))
			assert.Equal(t, tt.want, cur)
		})
	}
}

func TestDefilterFirstRow(t *testing.T) {
	cur := []byte{5, 5, 5}
	require.NoError(t, Defilter(Paeth, cur, nil, 1))
	// no row above: paeth degenerates to sub
	assert.Equal(t, []byte{5, 10, 15}, cur)
}

func TestDefilterUnknown(t *testing.T) {
	err := Defilter(Filter(5), []byte{1}, nil, 1)
	assert.ErrorIs(t, err, raster.ErrFileCorrupted)
}

func TestApplyDefilterRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for f := None; f <= Paeth; f++ {
		for _, bpp := range []int{1, 3, 4, 8} {
			t.Run(fmt.Sprintf("%s_bpp%d", f, bpp), func(t *testing.T) {
				rows := make([][]byte, 4)
				for i := range rows {
					rows[i] = make([]byte, 24)
					rng.Read(rows[i])
				}
				var prevRaw, prevRecon []byte
				for _, raw := range rows {
					enc := make([]byte, len(raw))
					Apply(f, enc, raw, prevRaw, bpp)
					require.NoError(t, Defilter(f, enc, prevRecon, bpp))
					assert.Equal(t, raw, enc)
					prevRaw, prevRecon = raw, enc
				}
			})
		}
	}
}

func TestChoosePrefersFlatPredictor(t *testing.T) {
	raw := []byte{10, 20, 30, 40, 50, 60}
	out := make([]byte, len(raw))
	f := Choose(out, raw, nil, 1)
	assert.Equal(t, Sub, f)
	assert.Equal(t, []byte{10, 10, 10, 10, 10, 10}, out)

	same := []byte{7, 99, 3, 42}
	f = Choose(out[:4], same, same, 1)
	assert.Equal(t, Up, f)
}

func TestReconstructDepths(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		depth      int
		components int
		raw        []byte
		want       []byte
	}{
		{"Gray1", 10, 1, 1, []byte{0, 0xA5, 0xC0}, []byte{1, 0, 1, 0, 0, 1, 0, 1, 1, 1}},
		{"Gray2", 3, 2, 1, []byte{0, 0x1B}, []byte{0, 1, 2}},
		{"Gray4", 3, 4, 1, []byte{0, 0x3C, 0xF0}, []byte{3, 12, 15}},
		{"RGB8", 1, 8, 3, []byte{0, 1, 2, 3}, []byte{1, 2, 3}},
		{"Gray16", 2, 16, 1, []byte{0, 0x12, 0x34, 0xAB, 0xCD}, []byte{0x34, 0x12, 0xCD, 0xAB}},
		{"Gray8Sub", 3, 8, 1, []byte{1, 5, 1, 1}, []byte{5, 6, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Reconstructor{Width: tt.width, Height: 1, Depth: tt.depth, Components: tt.components}
			assert.Equal(t, len(tt.raw), r.Stride())
			got, err := r.Reconstruct(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconstructErrors(t *testing.T) {
	r := &Reconstructor{Width: 4, Height: 2, Depth: 8, Components: 1}
	_, err := r.Reconstruct(make([]byte, 9))
	assert.ErrorIs(t, err, raster.ErrFileCorrupted)

	raw := make([]byte, 10)
	raw[5] = 9
	_, err = r.Reconstruct(raw)
	assert.ErrorIs(t, err, raster.ErrFileCorrupted)

	r.Depth = 3
	_, err = r.Reconstruct(make([]byte, 100))
	assert.ErrorIs(t, err, raster.ErrUnsupportedFeature)
}

func TestPack(t *testing.T) {
	assert.Equal(t, []byte{0xA5, 0xC0}, Pack([]byte{1, 0, 1, 0, 0, 1, 0, 1, 1, 1}, 10, 1))
	assert.Equal(t, []byte{0x3C, 0xF0}, Pack([]byte{3, 12, 15}, 3, 4))
	assert.Equal(t, []byte{0x12, 0x34}, Pack([]byte{0x34, 0x12}, 1, 16))
	assert.Equal(t, []byte{9, 8}, Pack([]byte{9, 8, 7}, 2, 8))
}

func TestParseFilter(t *testing.T) {
	f, ok := ParseFilter("paeth")
	assert.True(t, ok)
	assert.Equal(t, Paeth, f)
	_, ok = ParseFilter("adaptive")
	assert.False(t, ok)
	assert.Equal(t, "Filter(9)", Filter(9).String())
}
