package jpeg

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jpfielding/raster.go/pkg/compress/huffman"
	"github.com/jpfielding/raster.go/pkg/raster"
)

// entropyReader yields entropy-coded bits MSB first. 0xFF00 is a literal
// 0xFF. Any other marker stops the data and is held in marker.
type entropyReader struct {
	r      *bufio.Reader
	acc    uint32
	n      int
	marker byte
}

func (e *entropyReader) fill() error {
	b, err := e.r.ReadByte()
	if err != nil {
		return ioErr(err)
	}
	if b == 0xFF {
		c, err := e.r.ReadByte()
		if err != nil {
			return ioErr(err)
		}
		for c == 0xFF {
			if c, err = e.r.ReadByte(); err != nil {
				return ioErr(err)
			}
		}
		if c != 0 {
			e.marker = c
			return nil
		}
	}
	e.acc = e.acc<<8 | uint32(b)
	e.n += 8
	return nil
}

// ReadBit satisfies huffman.BitSource.
func (e *entropyReader) ReadBit() (uint32, error) {
	if e.n == 0 {
		if e.marker != 0 {
			return 0, fmt.Errorf("jpeg: entropy data ends at marker %#02x: %w", e.marker, raster.ErrFileCorrupted)
		}
		if err := e.fill(); err != nil {
			return 0, err
		}
		if e.n == 0 {
			return 0, fmt.Errorf("jpeg: entropy data ends at marker %#02x: %w", e.marker, raster.ErrFileCorrupted)
		}
	}
	e.n--
	return (e.acc >> e.n) & 1, nil
}

// receive reads an s bit magnitude.
func (e *entropyReader) receive(s int) (int, error) {
	v := 0
	for i := 0; i < s; i++ {
		bit, err := e.ReadBit()
		if err != nil {
			return 0, err
		}
		v = v<<1 | int(bit)
	}
	return v, nil
}

// restart drops the padding bits and consumes the expected RSTn marker.
func (e *entropyReader) restart(want byte) error {
	e.acc, e.n = 0, 0
	if e.marker == 0 {
		b, err := e.r.ReadByte()
		if err != nil {
			return ioErr(err)
		}
		if b != 0xFF {
			return fmt.Errorf("jpeg: expected RST%d, found data byte %#02x: %w", want-markerRST0, b, raster.ErrMalformedStream)
		}
		for b == 0xFF {
			if b, err = e.r.ReadByte(); err != nil {
				return ioErr(err)
			}
		}
		e.marker = b
	}
	if e.marker != want {
		return fmt.Errorf("jpeg: expected RST%d, found marker %#02x: %w", want-markerRST0, e.marker, raster.ErrMalformedStream)
	}
	e.marker = 0
	return nil
}

func (d *decoder) decodeScan(scan []*component) error {
	er := &entropyReader{r: d.r}
	for _, c := range scan {
		c.pred = 0
	}

	// one block per MCU when not interleaved, covering only the
	// component's own extent
	var mcus, perRow int
	if len(scan) == 1 {
		c := scan[0]
		cw := (d.width*c.h + d.hmax - 1) / d.hmax
		ch := (d.height*c.v + d.vmax - 1) / d.vmax
		perRow = (cw + 7) / 8
		mcus = perRow * ((ch + 7) / 8)
	} else {
		perRow = d.mcux
		mcus = d.mcux * d.mcuy
	}

	rst := byte(0)
	for m := 0; m < mcus; m++ {
		if d.restart > 0 && m > 0 && m%d.restart == 0 {
			if err := er.restart(markerRST0 + rst); err != nil {
				return err
			}
			rst = (rst + 1) % 8
			for _, c := range scan {
				c.pred = 0
			}
		}
		mx, my := m%perRow, m/perRow
		if len(scan) == 1 {
			if err := d.decodeBlock(er, scan[0], mx, my); err != nil {
				return err
			}
			continue
		}
		for _, c := range scan {
			for v := 0; v < c.v; v++ {
				for h := 0; h < c.h; h++ {
					if err := d.decodeBlock(er, c, mx*c.h+h, my*c.v+v); err != nil {
						return err
					}
				}
			}
		}
	}
	for _, c := range scan {
		c.decoded = true
	}
	d.pending = er.marker
	d.dc.Log.DebugContext(d.dc.Ctx, "jpeg: scan decoded", slog.Int("mcus", mcus), slog.Int("components", len(scan)))
	return nil
}

// decodeBlock entropy decodes, dequantizes and inverse transforms the block
// at block coordinates (bx, by) of c.
func (d *decoder) decodeBlock(er *entropyReader, c *component, bx, by int) error {
	var blk [blockSize]int32
	q := d.quant[c.tq]

	t, err := d.dcTables[c.td].Decode(er)
	if err != nil {
		return symbolErr(err)
	}
	if t > 11 {
		return fmt.Errorf("jpeg: DC magnitude category %d: %w", t, raster.ErrFileCorrupted)
	}
	bits, err := er.receive(int(t))
	if err != nil {
		return err
	}
	c.pred += extend(bits, int(t))
	blk[0] = int32(c.pred) * q[0]

	ac := d.acTables[c.ta]
	for k := 1; k < blockSize; {
		rs, err := ac.Decode(er)
		if err != nil {
			return symbolErr(err)
		}
		r, s := int(rs>>4), int(rs&0x0F)
		if s == 0 {
			if r == 0 { // EOB
				break
			}
			if r != 15 {
				return fmt.Errorf("jpeg: AC symbol %#02x: %w", rs, raster.ErrFileCorrupted)
			}
			k += 16 // ZRL
			continue
		}
		k += r
		if k >= blockSize {
			return fmt.Errorf("jpeg: AC coefficient index %d: %w", k, raster.ErrFileCorrupted)
		}
		bits, err := er.receive(s)
		if err != nil {
			return err
		}
		blk[zigzag[k]] = int32(extend(bits, s)) * q[k]
		k++
	}
	c.ensureRow(by)
	idct(&blk, c.plane, by*8*c.stride+bx*8, c.stride)
	return nil
}

func symbolErr(err error) error {
	if errors.Is(err, huffman.ErrInvalidCode) {
		return fmt.Errorf("jpeg: %v: %w", err, raster.ErrFileCorrupted)
	}
	return err
}
