package png

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/jpfielding/raster.go/pkg/raster"
)

// Magic is the PNG signature.
var Magic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

const maxChunkLength = 1<<31 - 1

// chunk is one length-type-payload-crc record.
type chunk struct {
	Length uint32
	Type   string
	Data   []byte
	CRC    uint32
}

// readChunk reads the next chunk and verifies its crc.
func readChunk(src raster.Source) (*chunk, error) {
	var hdr [8]byte
	if err := raster.ReadFull(src, hdr[:]); err != nil {
		return nil, fmt.Errorf("png: chunk header: %w", err)
	}
	c := &chunk{
		Length: binary.BigEndian.Uint32(hdr[:4]),
		Type:   string(hdr[4:8]),
	}
	if c.Length > maxChunkLength {
		return nil, fmt.Errorf("png: %q chunk length %d too large: %w", c.Type, c.Length, raster.ErrFileCorrupted)
	}
	// grow with the data actually present so a bogus length cannot force
	// a huge allocation
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, raster.Reader(src), int64(c.Length)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("png: %q chunk truncated: %w", c.Type, raster.ErrFileCorrupted)
		}
		if errors.Is(err, raster.ErrIOFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("png: %q chunk: %v: %w", c.Type, err, raster.ErrIOFailed)
	}
	c.Data = buf.Bytes()
	var tail [4]byte
	if err := raster.ReadFull(src, tail[:]); err != nil {
		return nil, fmt.Errorf("png: %q chunk crc: %w", c.Type, err)
	}
	c.CRC = binary.BigEndian.Uint32(tail[:])
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:8])
	crc.Write(c.Data)
	if got := crc.Sum32(); got != c.CRC {
		return nil, fmt.Errorf("png: %q chunk crc %08x, computed %08x: %w", c.Type, c.CRC, got, raster.ErrFileCorrupted)
	}
	return c, nil
}

// writeChunk frames data as a chunk of type typ.
func writeChunk(dst raster.Source, typ string, data []byte) error {
	buf := make([]byte, 0, 12+len(data))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, typ...)
	buf = append(buf, data...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf[4:]))
	if err := raster.WriteFull(dst, buf); err != nil {
		return fmt.Errorf("png: write %s: %w", typ, err)
	}
	return nil
}
