package jpeg

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/jpfielding/raster.go/pkg/compress/huffman"
	"github.com/jpfielding/raster.go/pkg/raster"
)

// Option keys understood by Encode.
const (
	OptQuality = "jpeg.quality" // quantization scale, 1..100
	OptRestart = "jpeg.restart" // MCUs between restart markers, 0 disables
)

// DefaultQuality matches the common libjpeg default.
const DefaultQuality = 75

// Annex K quantization tables in natural order.
var baseQuant = [2][blockSize]int{
	{
		16, 11, 10, 16, 24, 40, 51, 61,
		12, 12, 14, 19, 26, 58, 60, 55,
		14, 13, 16, 24, 40, 57, 69, 56,
		14, 17, 22, 29, 51, 87, 80, 62,
		18, 22, 37, 56, 68, 109, 103, 77,
		24, 35, 55, 64, 81, 104, 113, 92,
		49, 64, 78, 87, 103, 121, 120, 101,
		72, 92, 95, 98, 112, 100, 103, 99,
	},
	{
		17, 18, 24, 47, 99, 99, 99, 99,
		18, 21, 26, 66, 99, 99, 99, 99,
		24, 26, 56, 99, 99, 99, 99, 99,
		47, 66, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
		99, 99, 99, 99, 99, 99, 99, 99,
	},
}

// huffmanSpec is a DHT table: per length counts and symbols.
type huffmanSpec struct {
	counts  [huffman.MaxCodeLength]uint8
	symbols []byte
}

// Annex K Huffman tables: luminance DC, luminance AC, chrominance DC,
// chrominance AC.
var standardTables = [4]huffmanSpec{
	{
		[huffman.MaxCodeLength]uint8{0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0},
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	{
		[huffman.MaxCodeLength]uint8{0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125},
		[]byte{
			0x01, 0x02, 0x03, 0x00, 0x04, 0x11, 0x05, 0x12,
			0x21, 0x31, 0x41, 0x06, 0x13, 0x51, 0x61, 0x07,
			0x22, 0x71, 0x14, 0x32, 0x81, 0x91, 0xa1, 0x08,
			0x23, 0x42, 0xb1, 0xc1, 0x15, 0x52, 0xd1, 0xf0,
			0x24, 0x33, 0x62, 0x72, 0x82, 0x09, 0x0a, 0x16,
			0x17, 0x18, 0x19, 0x1a, 0x25, 0x26, 0x27, 0x28,
			0x29, 0x2a, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39,
			0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49,
			0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58, 0x59,
			0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68, 0x69,
			0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78, 0x79,
			0x7a, 0x83, 0x84, 0x85, 0x86, 0x87, 0x88, 0x89,
			0x8a, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97, 0x98,
			0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5, 0xa6, 0xa7,
			0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4, 0xb5, 0xb6,
			0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3, 0xc4, 0xc5,
			0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2, 0xd3, 0xd4,
			0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda, 0xe1, 0xe2,
			0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9, 0xea,
			0xf1, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	},
	{
		[huffman.MaxCodeLength]uint8{0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0},
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	},
	{
		[huffman.MaxCodeLength]uint8{0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119},
		[]byte{
			0x00, 0x01, 0x02, 0x03, 0x11, 0x04, 0x05, 0x21,
			0x31, 0x06, 0x12, 0x41, 0x51, 0x07, 0x61, 0x71,
			0x13, 0x22, 0x32, 0x81, 0x08, 0x14, 0x42, 0x91,
			0xa1, 0xb1, 0xc1, 0x09, 0x23, 0x33, 0x52, 0xf0,
			0x15, 0x62, 0x72, 0xd1, 0x0a, 0x16, 0x24, 0x34,
			0xe1, 0x25, 0xf1, 0x17, 0x18, 0x19, 0x1a, 0x26,
			0x27, 0x28, 0x29, 0x2a, 0x35, 0x36, 0x37, 0x38,
			0x39, 0x3a, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48,
			0x49, 0x4a, 0x53, 0x54, 0x55, 0x56, 0x57, 0x58,
			0x59, 0x5a, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
			0x69, 0x6a, 0x73, 0x74, 0x75, 0x76, 0x77, 0x78,
			0x79, 0x7a, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87,
			0x88, 0x89, 0x8a, 0x92, 0x93, 0x94, 0x95, 0x96,
			0x97, 0x98, 0x99, 0x9a, 0xa2, 0xa3, 0xa4, 0xa5,
			0xa6, 0xa7, 0xa8, 0xa9, 0xaa, 0xb2, 0xb3, 0xb4,
			0xb5, 0xb6, 0xb7, 0xb8, 0xb9, 0xba, 0xc2, 0xc3,
			0xc4, 0xc5, 0xc6, 0xc7, 0xc8, 0xc9, 0xca, 0xd2,
			0xd3, 0xd4, 0xd5, 0xd6, 0xd7, 0xd8, 0xd9, 0xda,
			0xe2, 0xe3, 0xe4, 0xe5, 0xe6, 0xe7, 0xe8, 0xe9,
			0xea, 0xf2, 0xf3, 0xf4, 0xf5, 0xf6, 0xf7, 0xf8,
			0xf9, 0xfa,
		},
	},
}

type encoder struct {
	ec      *raster.EncodeContext
	w       *bufio.Writer
	img     *raster.Buffer
	quant   [2][blockSize]int // natural order
	restart int
	codes   [4][256]huffman.Code
	err     error
}

// Encode writes buf as a baseline 4:4:4 (or grayscale) JFIF stream.
func Encode(ec *raster.EncodeContext, buf *raster.Buffer) error {
	if err := buf.Validate(); err != nil {
		return fmt.Errorf("jpeg: %v: %w", err, raster.ErrUnsupportedFeature)
	}
	if buf.Width < 1 || buf.Height < 1 || buf.Width > 0xFFFF || buf.Height > 0xFFFF {
		return fmt.Errorf("jpeg: dimensions %dx%d: %w", buf.Width, buf.Height, raster.ErrUnsupportedFeature)
	}
	img, err := normalize(buf)
	if err != nil {
		return err
	}
	e := &encoder{ec: ec, w: bufio.NewWriter(raster.Writer(ec.Dst)), img: img}
	quality := min(max(ec.Options.Int(OptQuality, DefaultQuality), 1), 100)
	e.scaleQuant(quality)
	e.restart = min(max(ec.Options.Int(OptRestart, 0), 0), 0xFFFF)
	ntables := 2
	if img.ColorSpace == raster.YCbCr {
		ntables = 4
	}
	for i := 0; i < ntables; i++ {
		t, err := huffman.Build(standardTables[i].counts, standardTables[i].symbols)
		if err != nil {
			return fmt.Errorf("jpeg: table %d: %w", i, err)
		}
		e.codes[i] = t.Codes()
	}
	ec.Log.DebugContext(ec.Ctx, "jpeg: encoding",
		slog.Int("width", img.Width),
		slog.Int("height", img.Height),
		slog.String("colorSpace", img.ColorSpace.String()),
		slog.Int("quality", quality))

	e.writeMarker(markerSOI)
	e.writeAPP0()
	e.writeDQT()
	e.writeSOF0()
	e.writeDHT(ntables)
	if e.restart > 0 {
		e.writeSegment(markerDRI, []byte{byte(e.restart >> 8), byte(e.restart)})
	}
	if comment, ok := img.Meta["comment"]; ok && len(comment) <= 0xFFFF-2 {
		e.writeSegment(markerCOM, []byte(comment))
	}
	e.writeSOS()
	e.writeMarker(markerEOI)
	if e.err == nil {
		e.err = e.w.Flush()
	}
	if e.err != nil {
		return ioErr(e.err)
	}
	return nil
}

// normalize converts buf to depth 8 Gray or YCbCr.
func normalize(buf *raster.Buffer) (*raster.Buffer, error) {
	img := buf
	var err error
	if img.Depth != 8 {
		if img, err = img.WithDepth(8); err != nil {
			return nil, fmt.Errorf("jpeg: %w", err)
		}
	}
	switch img.ColorSpace {
	case raster.Gray, raster.YCbCr:
		return img, nil
	case raster.GrayAlpha:
		img, err = img.Convert(raster.Gray)
	default:
		img, err = img.Convert(raster.YCbCr)
	}
	if err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	return img, nil
}

// scaleQuant applies the libjpeg quality curve to the Annex K tables.
func (e *encoder) scaleQuant(quality int) {
	scale := 200 - 2*quality
	if quality < 50 {
		scale = 5000 / quality
	}
	for t := range baseQuant {
		for i, v := range baseQuant[t] {
			e.quant[t][i] = min(max((v*scale+50)/100, 1), 255)
		}
	}
}

func (e *encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *encoder) writeMarker(m byte) {
	e.write([]byte{0xFF, m})
}

func (e *encoder) writeSegment(m byte, payload []byte) {
	e.writeMarker(m)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(payload)+2))
	e.write(l[:])
	e.write(payload)
}

func (e *encoder) writeAPP0() {
	e.writeSegment(markerAPP0, []byte{
		0x4A, 0x46, 0x49, 0x46, 0x00, // "JFIF\0"
		0x01, 0x01, // Version 1.1
		0x00,       // Units: no units
		0x00, 0x01, // X density = 1
		0x00, 0x01, // Y density = 1
		0x00, 0x00, // No thumbnail
	})
}

func (e *encoder) writeDQT() {
	n := 1
	if e.img.ColorSpace == raster.YCbCr {
		n = 2
	}
	payload := make([]byte, 0, n*(1+blockSize))
	for t := 0; t < n; t++ {
		payload = append(payload, byte(t))
		for k := 0; k < blockSize; k++ {
			payload = append(payload, byte(e.quant[t][zigzag[k]]))
		}
	}
	e.writeSegment(markerDQT, payload)
}

func (e *encoder) writeSOF0() {
	nc := e.img.ColorSpace.Components()
	payload := []byte{
		8,
		byte(e.img.Height >> 8), byte(e.img.Height),
		byte(e.img.Width >> 8), byte(e.img.Width),
		byte(nc),
	}
	for i := 0; i < nc; i++ {
		payload = append(payload, byte(i+1), 0x11, byte(min(i, 1)))
	}
	e.writeSegment(markerSOF0, payload)
}

func (e *encoder) writeDHT(n int) {
	var payload []byte
	for i := 0; i < n; i++ {
		class, id := byte(i%2), byte(i/2)
		payload = append(payload, class<<4|id)
		payload = append(payload, standardTables[i].counts[:]...)
		payload = append(payload, standardTables[i].symbols...)
	}
	e.writeSegment(markerDHT, payload)
}

func (e *encoder) writeSOS() {
	nc := e.img.ColorSpace.Components()
	payload := []byte{byte(nc)}
	for i := 0; i < nc; i++ {
		t := byte(min(i, 1))
		payload = append(payload, byte(i+1), t<<4|t)
	}
	payload = append(payload, 0, 63, 0)
	e.writeSegment(markerSOS, payload)

	bw := &bitWriter{e: e}
	preds := make([]int, nc)
	var samples, coefs [blockSize]float64
	mcu := 0
	for by := 0; by < e.img.Height; by += 8 {
		for bx := 0; bx < e.img.Width; bx += 8 {
			if e.restart > 0 && mcu > 0 && mcu%e.restart == 0 {
				bw.flush()
				e.writeMarker(markerRST0 + byte((mcu/e.restart-1)%8))
				clear(preds)
			}
			mcu++
			for ci := 0; ci < nc; ci++ {
				e.loadBlock(&samples, bx, by, ci)
				fdct(&samples, &coefs)
				t := min(ci, 1)
				preds[ci] = e.encodeBlock(bw, &coefs, preds[ci], t)
			}
		}
	}
	bw.flush()
}

// loadBlock copies a level shifted 8x8 block, replicating edge samples.
func (e *encoder) loadBlock(dst *[blockSize]float64, bx, by, ci int) {
	n := e.img.ColorSpace.Components()
	for y := 0; y < 8; y++ {
		sy := min(by+y, e.img.Height-1)
		for x := 0; x < 8; x++ {
			sx := min(bx+x, e.img.Width-1)
			dst[y*8+x] = float64(e.img.Data[(sy*e.img.Width+sx)*n+ci]) - 128
		}
	}
}

// encodeBlock quantizes and entropy codes one block, returning the new DC
// predictor.
func (e *encoder) encodeBlock(bw *bitWriter, coefs *[blockSize]float64, pred, t int) int {
	q := &e.quant[t]
	dcCodes, acCodes := &e.codes[2*t], &e.codes[2*t+1]

	dc := int(math.Round(coefs[0] / float64(q[0])))
	diff := dc - pred
	s := categorize(diff)
	bw.emit(dcCodes[s])
	bw.writeMagnitude(diff, s)

	run := 0
	for k := 1; k < blockSize; k++ {
		v := int(math.Round(coefs[zigzag[k]] / float64(q[zigzag[k]])))
		v = min(max(v, -1023), 1023)
		if v == 0 {
			run++
			continue
		}
		for run > 15 {
			bw.emit(acCodes[0xF0])
			run -= 16
		}
		s := categorize(v)
		bw.emit(acCodes[run<<4|s])
		bw.writeMagnitude(v, s)
		run = 0
	}
	if run > 0 {
		bw.emit(acCodes[0x00])
	}
	return dc
}

// bitWriter packs codes MSB first with 0xFF stuffing.
type bitWriter struct {
	e    *encoder
	buf  uint32
	bits int
}

func (b *bitWriter) writeBits(val, n int) {
	if n == 0 {
		return
	}
	b.buf = b.buf<<n | uint32(val&(1<<n-1))
	b.bits += n
	for b.bits >= 8 {
		b.bits -= 8
		v := byte(b.buf >> b.bits)
		if v == 0xFF {
			b.e.write([]byte{0xFF, 0x00})
		} else {
			b.e.write([]byte{v})
		}
	}
}

func (b *bitWriter) emit(c huffman.Code) {
	b.writeBits(int(c.Bits), int(c.Len))
}

// writeMagnitude appends the s low bits of v, ones complement when negative.
func (b *bitWriter) writeMagnitude(v, s int) {
	if v < 0 {
		v += 1<<s - 1
	}
	b.writeBits(v, s)
}

// flush pads with one bits.
func (b *bitWriter) flush() {
	if b.bits > 0 {
		b.writeBits(1<<(8-b.bits)-1, 8-b.bits)
	}
}
