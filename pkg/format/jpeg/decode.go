package jpeg

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/jpfielding/raster.go/pkg/compress/huffman"
	"github.com/jpfielding/raster.go/pkg/raster"
)

// component is one frame component and its decoded sample plane.
type component struct {
	id      byte
	h, v    int // sampling factors
	tq      byte
	td, ta  byte // scan table selectors
	pred    int  // DC predictor
	stride  int
	plane   []byte // grows one block row at a time as scans fill it
	decoded bool
}

// ensureRow extends the plane to cover block row by.
func (c *component) ensureRow(by int) {
	need := (by + 1) * 8 * c.stride
	if need > len(c.plane) {
		c.plane = slices.Grow(c.plane, need-len(c.plane))[:need]
	}
}

type decoder struct {
	dc        *raster.DecodeContext
	r         *bufio.Reader
	sof       bool
	precision int
	width     int
	height    int
	comps     []*component
	hmax      int
	vmax      int
	mcux      int
	mcuy      int
	quant     [4]*[blockSize]int32
	dcTables  [4]*huffman.Table
	acTables  [4]*huffman.Table
	restart   int
	jfif      bool
	adobe     bool
	transform byte
	meta      map[string]string
	pending   byte // marker that ended the last entropy segment
	eoi       bool
}

// Decode reads a baseline JPEG stream from the current position of dc.Src.
func Decode(dc *raster.DecodeContext) (*raster.Buffer, error) {
	d := &decoder{
		dc:   dc,
		r:    bufio.NewReader(raster.Reader(dc.Src)),
		meta: map[string]string{},
	}
	var soi [2]byte
	if err := d.readFull(soi[:]); err != nil {
		if errors.Is(err, raster.ErrFileCorrupted) {
			return nil, fmt.Errorf("jpeg: short stream: %w", raster.ErrNotMatch)
		}
		return nil, err
	}
	if soi[0] != 0xFF || soi[1] != markerSOI {
		return nil, fmt.Errorf("jpeg: missing SOI, found % x: %w", soi, raster.ErrNotMatch)
	}
	for !d.eoi {
		m, err := d.nextMarker()
		if err != nil {
			return nil, err
		}
		if err := d.dispatch(m); err != nil {
			return nil, err
		}
	}
	return d.image()
}

func (d *decoder) readFull(p []byte) error {
	_, err := io.ReadFull(d.r, p)
	return ioErr(err)
}

func (d *decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	return b, ioErr(err)
}

// ioErr maps reader failures onto the taxonomy.
func ioErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("jpeg: unexpected end of stream: %w", raster.ErrFileCorrupted)
	case errors.Is(err, raster.ErrIOFailed):
		return err
	default:
		return fmt.Errorf("jpeg: %v: %w", err, raster.ErrIOFailed)
	}
}

// nextMarker returns the marker left by the last scan, or reads 0xFF,
// any fill bytes and the marker code.
func (d *decoder) nextMarker() (byte, error) {
	if d.pending != 0 {
		m := d.pending
		d.pending = 0
		return m, nil
	}
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return 0, fmt.Errorf("jpeg: expected marker prefix, found %#02x: %w", b, raster.ErrMalformedStream)
	}
	for b == 0xFF {
		if b, err = d.readByte(); err != nil {
			return 0, err
		}
	}
	if b == 0 {
		return 0, fmt.Errorf("jpeg: stuffed zero outside entropy data: %w", raster.ErrMalformedStream)
	}
	return b, nil
}

// readSegment reads the length field and the payload that follows it.
func (d *decoder) readSegment(m byte) ([]byte, error) {
	var l [2]byte
	if err := d.readFull(l[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(l[:]))
	if n < 2 {
		return nil, fmt.Errorf("jpeg: marker %#02x length %d: %w", m, n, raster.ErrFileCorrupted)
	}
	p := make([]byte, n-2)
	if err := d.readFull(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *decoder) dispatch(m byte) error {
	switch {
	case m == markerSOI:
		return fmt.Errorf("jpeg: second SOI: %w", raster.ErrMalformedStream)
	case m == markerEOI:
		d.eoi = true
		return nil
	case m >= markerRST0 && m <= markerRST7:
		d.dc.Log.DebugContext(d.dc.Ctx, "jpeg: stray restart marker", slog.Int("marker", int(m)))
		return nil
	case m == markerTEM:
		return nil
	}
	p, err := d.readSegment(m)
	if err != nil {
		return err
	}
	d.dc.Log.DebugContext(d.dc.Ctx, "jpeg: segment", slog.String("marker", fmt.Sprintf("%#02x", m)), slog.Int("length", len(p)+2))
	switch {
	case m == markerSOF0 || m == markerSOF1:
		return d.parseSOF(p, m)
	case isSOF(m):
		return fmt.Errorf("jpeg: frame type SOF%d: %w", m-markerSOF0, raster.ErrUnsupportedFeature)
	case m == markerDHT:
		return d.parseDHT(p)
	case m == markerDQT:
		return d.parseDQT(p)
	case m == markerDRI:
		return d.parseDRI(p)
	case m == markerSOS:
		scan, err := d.parseSOS(p)
		if err != nil {
			return err
		}
		return d.decodeScan(scan)
	case m == markerDNL:
		return fmt.Errorf("jpeg: DNL: %w", raster.ErrUnsupportedFeature)
	case m == markerAPP0:
		d.jfif = len(p) >= 5 && string(p[:5]) == "JFIF\x00"
	case m == markerAPP14:
		if len(p) >= 12 && string(p[:5]) == "Adobe" {
			d.adobe = true
			d.transform = p[11]
		}
	case m == markerCOM:
		d.meta["comment"] = string(p)
	default:
		// remaining APPn and reserved markers carry nothing we need
	}
	return nil
}

func (d *decoder) parseSOF(p []byte, m byte) error {
	if d.sof {
		return fmt.Errorf("jpeg: second frame header: %w", raster.ErrMalformedStream)
	}
	if len(p) < 6 {
		return fmt.Errorf("jpeg: SOF length %d: %w", len(p), raster.ErrFileCorrupted)
	}
	d.precision = int(p[0])
	d.height = int(binary.BigEndian.Uint16(p[1:3]))
	d.width = int(binary.BigEndian.Uint16(p[3:5]))
	nc := int(p[5])
	if d.precision != 8 {
		return fmt.Errorf("jpeg: %d bit precision: %w", d.precision, raster.ErrUnsupportedFeature)
	}
	if len(p) != 6+3*nc {
		return fmt.Errorf("jpeg: SOF length %d for %d components: %w", len(p), nc, raster.ErrFileCorrupted)
	}
	if d.width == 0 {
		return fmt.Errorf("jpeg: zero width: %w", raster.ErrFileCorrupted)
	}
	if d.height == 0 {
		return fmt.Errorf("jpeg: height defined by DNL: %w", raster.ErrUnsupportedFeature)
	}
	if nc != 1 && nc != 3 {
		return fmt.Errorf("jpeg: %d components: %w", nc, raster.ErrUnsupportedFeature)
	}
	if d.width*d.height > maxPixels {
		return fmt.Errorf("jpeg: %dx%d exceeds %d pixels: %w", d.width, d.height, maxPixels, raster.ErrUnsupportedFeature)
	}
	d.hmax, d.vmax = 1, 1
	for i := 0; i < nc; i++ {
		c := &component{id: p[6+3*i], h: int(p[7+3*i] >> 4), v: int(p[7+3*i] & 0x0F), tq: p[8+3*i]}
		if c.h < 1 || c.h > 4 || c.v < 1 || c.v > 4 {
			return fmt.Errorf("jpeg: component %d sampling %dx%d: %w", c.id, c.h, c.v, raster.ErrFileCorrupted)
		}
		if c.tq > 3 {
			return fmt.Errorf("jpeg: component %d quant table %d: %w", c.id, c.tq, raster.ErrFileCorrupted)
		}
		for _, o := range d.comps {
			if o.id == c.id {
				return fmt.Errorf("jpeg: duplicate component id %d: %w", c.id, raster.ErrFileCorrupted)
			}
		}
		if nc == 1 {
			// a lone component is never interleaved
			c.h, c.v = 1, 1
		}
		d.hmax = max(d.hmax, c.h)
		d.vmax = max(d.vmax, c.v)
		d.comps = append(d.comps, c)
	}
	d.mcux = (d.width + 8*d.hmax - 1) / (8 * d.hmax)
	d.mcuy = (d.height + 8*d.vmax - 1) / (8 * d.vmax)
	for _, c := range d.comps {
		c.stride = d.mcux * c.h * 8
	}
	d.sof = true
	d.dc.Log.DebugContext(d.dc.Ctx, "jpeg: SOF parsed",
		slog.Int("marker", int(m)),
		slog.Int("width", d.width),
		slog.Int("height", d.height),
		slog.Int("components", nc),
		slog.Int("hmax", d.hmax),
		slog.Int("vmax", d.vmax))
	return nil
}

func (d *decoder) parseDHT(p []byte) error {
	for len(p) > 0 {
		if len(p) < 17 {
			return fmt.Errorf("jpeg: DHT truncated: %w", raster.ErrFileCorrupted)
		}
		class, id := p[0]>>4, p[0]&0x0F
		if class > 1 || id > 3 {
			return fmt.Errorf("jpeg: DHT class %d id %d: %w", class, id, raster.ErrFileCorrupted)
		}
		var counts [huffman.MaxCodeLength]uint8
		total := 0
		for i := range counts {
			counts[i] = p[1+i]
			total += int(p[1+i])
		}
		if total > 256 || len(p) < 17+total {
			return fmt.Errorf("jpeg: DHT declares %d symbols: %w", total, raster.ErrFileCorrupted)
		}
		t, err := huffman.Build(counts, p[17:17+total])
		if err != nil {
			return fmt.Errorf("jpeg: DHT class %d id %d: %v: %w", class, id, err, raster.ErrFileCorrupted)
		}
		if class == 0 {
			d.dcTables[id] = t
		} else {
			d.acTables[id] = t
		}
		d.dc.Log.DebugContext(d.dc.Ctx, "jpeg: DHT parsed", slog.Int("class", int(class)), slog.Int("id", int(id)), slog.Int("symbols", total))
		p = p[17+total:]
	}
	return nil
}

// parseDQT keeps tables in stream order; blocks dezigzag on store.
func (d *decoder) parseDQT(p []byte) error {
	for len(p) > 0 {
		pq, tq := p[0]>>4, p[0]&0x0F
		if pq > 1 || tq > 3 {
			return fmt.Errorf("jpeg: DQT precision %d id %d: %w", pq, tq, raster.ErrFileCorrupted)
		}
		n := blockSize * (int(pq) + 1)
		if len(p) < 1+n {
			return fmt.Errorf("jpeg: DQT truncated: %w", raster.ErrFileCorrupted)
		}
		q := new([blockSize]int32)
		for i := range q {
			if pq == 0 {
				q[i] = int32(p[1+i])
			} else {
				q[i] = int32(binary.BigEndian.Uint16(p[1+2*i:]))
			}
		}
		d.quant[tq] = q
		p = p[1+n:]
	}
	return nil
}

func (d *decoder) parseDRI(p []byte) error {
	if len(p) != 2 {
		return fmt.Errorf("jpeg: DRI length %d: %w", len(p)+2, raster.ErrFileCorrupted)
	}
	d.restart = int(binary.BigEndian.Uint16(p))
	return nil
}

func (d *decoder) parseSOS(p []byte) ([]*component, error) {
	if !d.sof {
		return nil, fmt.Errorf("jpeg: SOS before SOF: %w", raster.ErrMalformedStream)
	}
	if len(p) < 1 {
		return nil, fmt.Errorf("jpeg: empty SOS: %w", raster.ErrFileCorrupted)
	}
	ns := int(p[0])
	if ns < 1 || ns > len(d.comps) || len(p) != 4+2*ns {
		return nil, fmt.Errorf("jpeg: SOS with %d components, length %d: %w", ns, len(p)+2, raster.ErrFileCorrupted)
	}
	scan := make([]*component, 0, ns)
	for i := 0; i < ns; i++ {
		id, sel := p[1+2*i], p[2+2*i]
		var c *component
		for _, fc := range d.comps {
			if fc.id == id {
				c = fc
			}
		}
		if c == nil {
			return nil, fmt.Errorf("jpeg: SOS names unknown component %d: %w", id, raster.ErrMalformedStream)
		}
		for _, sc := range scan {
			if sc == c {
				return nil, fmt.Errorf("jpeg: SOS repeats component %d: %w", id, raster.ErrMalformedStream)
			}
		}
		c.td, c.ta = sel>>4, sel&0x0F
		if c.td > 3 || c.ta > 3 || d.dcTables[c.td] == nil || d.acTables[c.ta] == nil {
			return nil, fmt.Errorf("jpeg: component %d uses undefined Huffman table %d/%d: %w", id, c.td, c.ta, raster.ErrMalformedStream)
		}
		if d.quant[c.tq] == nil {
			return nil, fmt.Errorf("jpeg: component %d uses undefined quant table %d: %w", id, c.tq, raster.ErrMalformedStream)
		}
		scan = append(scan, c)
	}
	ss, se, ahal := p[1+2*ns], p[2+2*ns], p[3+2*ns]
	if ss != 0 || se != 63 || ahal != 0 {
		return nil, fmt.Errorf("jpeg: spectral selection %d..%d approx %#02x: %w", ss, se, ahal, raster.ErrUnsupportedFeature)
	}
	d.dc.Log.DebugContext(d.dc.Ctx, "jpeg: SOS parsed", slog.Int("components", ns), slog.Int("restart", d.restart))
	return scan, nil
}

func (d *decoder) image() (*raster.Buffer, error) {
	if !d.sof {
		return nil, fmt.Errorf("jpeg: no frame header: %w", raster.ErrFileCorrupted)
	}
	for _, c := range d.comps {
		if !c.decoded {
			return nil, fmt.Errorf("jpeg: component %d has no scan: %w", c.id, raster.ErrFileCorrupted)
		}
	}
	cs := raster.Gray
	if len(d.comps) == 3 {
		cs = raster.YCbCr
		if d.isRGB() {
			cs = raster.RGB
		}
	}
	buf := raster.NewBuffer(d.width, d.height, cs, 8)
	n := len(d.comps)
	for ci, c := range d.comps {
		for y := 0; y < d.height; y++ {
			row := c.plane[(y*c.v/d.vmax)*c.stride:]
			dst := buf.Data[y*d.width*n:]
			for x := 0; x < d.width; x++ {
				dst[x*n+ci] = row[x*c.h/d.hmax]
			}
		}
	}
	if len(d.meta) > 0 {
		buf.Meta = d.meta
	}
	return buf, nil
}

// isRGB reports whether three components hold RGB rather than YCbCr.
func (d *decoder) isRGB() bool {
	if d.adobe {
		return d.transform == 0
	}
	if d.jfif {
		return false
	}
	return d.comps[0].id == 'R' && d.comps[1].id == 'G' && d.comps[2].id == 'B'
}
