package huffman

import (
	"fmt"
	"testing"

	"github.com/jpfielding/raster.go/pkg/compress/bitio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalCodes(t *testing.T) {
	// symbols A..H as 0..7
	counts, symbols, err := CountsFromLengths([]int{3, 3, 3, 3, 3, 2, 4, 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 0, 1, 2, 3, 4, 6, 7}, symbols)

	tbl, err := Build(counts, symbols)
	require.NoError(t, err)
	codes := tbl.Codes()

	want := map[byte]string{
		'F' - 'A': "00",
		'A' - 'A': "010",
		'B' - 'A': "011",
		'C' - 'A': "100",
		'D' - 'A': "101",
		'E' - 'A': "110",
		'G' - 'A': "1110",
		'H' - 'A': "1111",
	}
	for sym, code := range want {
		t.Run(string(rune('A'+sym)), func(t *testing.T) {
			c := codes[sym]
			assert.Equal(t, code, fmt.Sprintf("%0*b", c.Len, c.Bits))
		})
	}
}

func TestDecodeWalk(t *testing.T) {
	counts, symbols, err := CountsFromLengths([]int{3, 3, 3, 3, 3, 2, 4, 4})
	require.NoError(t, err)
	tbl, err := Build(counts, symbols)
	require.NoError(t, err)

	// H F A E G = 1111 00 010 110 1110 padded to 16 bits
	w := bitio.NewWriter(2)
	for _, c := range []string{"1111", "00", "010", "110", "1110"} {
		for _, ch := range c {
			w.WriteBits(uint32(ch-'0'), 1)
		}
	}
	r := bitio.NewReader(w.Bytes())
	var got []byte
	for i := 0; i < 5; i++ {
		sym, err := tbl.Decode(r)
		require.NoError(t, err)
		got = append(got, 'A'+sym)
	}
	assert.Equal(t, "HFAEG", string(got))

	_, err = tbl.Decode(r)
	assert.ErrorIs(t, err, bitio.ErrBufferUnderrun)
}

func TestIncompleteCodeSpace(t *testing.T) {
	var counts [MaxCodeLength]uint8
	counts[1] = 2 // 00, 01
	tbl, err := Build(counts, []byte{9, 10})
	require.NoError(t, err)

	_, err = tbl.Decode(bitio.NewReader([]byte{0xC0}))
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		counts  [MaxCodeLength]uint8
		symbols []byte
	}{
		{"CountMismatch", [MaxCodeLength]uint8{1, 1}, []byte{1}},
		{"OverSubscribed", [MaxCodeLength]uint8{3}, []byte{1, 2, 3}},
		{"OverSubscribedDeep", [MaxCodeLength]uint8{1, 3}, []byte{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.counts, tt.symbols)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestSingleCode(t *testing.T) {
	var counts [MaxCodeLength]uint8
	counts[0] = 1
	tbl, err := Build(counts, []byte{42})
	require.NoError(t, err)
	sym, err := tbl.Decode(bitio.NewReader([]byte{0x00}))
	require.NoError(t, err)
	assert.Equal(t, uint8(42), sym)
	assert.Equal(t, Code{Bits: 0, Len: 1}, tbl.Codes()[42])
	assert.Equal(t, []byte{42}, tbl.Symbols())
	assert.Equal(t, counts, tbl.Counts())
}
