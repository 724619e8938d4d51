// Package jpeg decodes and encodes baseline sequential JPEG.
package jpeg

// Marker codes, second byte after 0xFF.
const (
	markerSOF0  = 0xC0 // baseline
	markerSOF1  = 0xC1 // extended sequential, Huffman
	markerSOF2  = 0xC2 // progressive
	markerSOF3  = 0xC3 // lossless
	markerDHT   = 0xC4
	markerSOF5  = 0xC5
	markerSOF15 = 0xCF
	markerJPG   = 0xC8
	markerDAC   = 0xCC
	markerRST0  = 0xD0
	markerRST7  = 0xD7
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerDQT   = 0xDB
	markerDNL   = 0xDC
	markerDRI   = 0xDD
	markerAPP0  = 0xE0
	markerAPP14 = 0xEE
	markerAPP15 = 0xEF
	markerCOM   = 0xFE
	markerTEM   = 0x01
)

// Magic is the SOI marker followed by the next marker prefix.
var Magic = []byte{0xFF, markerSOI, 0xFF}

// blockSize is the number of coefficients in an 8x8 block.
const blockSize = 64

// maxPixels caps the frame size a SOF may declare.
const maxPixels = 1 << 28

// zigzag maps stream order to natural row-major order.
var zigzag = [blockSize]int{
	0, 1, 8, 16, 9, 2, 3, 10,
	17, 24, 32, 25, 18, 11, 4, 5,
	12, 19, 26, 33, 40, 48, 41, 34,
	27, 20, 13, 6, 7, 14, 21, 28,
	35, 42, 49, 56, 57, 50, 43, 36,
	29, 22, 15, 23, 30, 37, 44, 51,
	58, 59, 52, 45, 38, 31, 39, 46,
	53, 60, 61, 54, 47, 55, 62, 63,
}

// isSOF reports whether m starts a frame of any coding process.
func isSOF(m byte) bool {
	return m >= markerSOF0 && m <= markerSOF15 && m != markerDHT && m != markerJPG && m != markerDAC
}

// extend converts a magnitude category and its raw bits to a signed value.
func extend(bits, ssss int) int {
	if ssss == 0 {
		return 0
	}
	if bits < 1<<(ssss-1) {
		return bits - (1<<ssss - 1)
	}
	return bits
}

// categorize returns the magnitude category of v.
func categorize(v int) int {
	if v < 0 {
		v = -v
	}
	n := 0
	for v > 0 {
		v >>= 1
		n++
	}
	return n
}
