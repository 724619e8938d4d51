package raster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

// Source is the byte stream a codec reads from or writes to.
type Source interface {
	OpenToRead() error
	OpenToWrite() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Seek positions the stream at an absolute offset.
	Seek(offset int64) error
	Close() error
}

// Options carries codec specific key=value settings. Unknown keys are ignored.
type Options map[string]string

// Int returns the integer value of key or def when absent or unparsable.
func (o Options) Int(key string, def int) int {
	v, ok := o[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// String returns the value of key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// DecodeContext is the per-call state every codec starts from.
type DecodeContext struct {
	ID      string
	Ctx     context.Context
	Src     Source
	Options Options
	Log     *slog.Logger
}

// NewDecodeContext tags the call with a fresh id and a logger carrying it.
func NewDecodeContext(ctx context.Context, src Source, opts Options) *DecodeContext {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	return &DecodeContext{
		ID:      id,
		Ctx:     ctx,
		Src:     src,
		Options: opts,
		Log:     slog.Default().With(slog.String("decode_id", id)),
	}
}

// EncodeContext is the per-call state for writing.
type EncodeContext struct {
	ID      string
	Ctx     context.Context
	Dst     Source
	Options Options
	Log     *slog.Logger
}

func NewEncodeContext(ctx context.Context, dst Source, opts Options) *EncodeContext {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	return &EncodeContext{
		ID:      id,
		Ctx:     ctx,
		Dst:     dst,
		Options: opts,
		Log:     slog.Default().With(slog.String("encode_id", id)),
	}
}

// ReadFull fills p from src. A short stream is FileCorrupted, any other
// failure IOFailed.
func ReadFull(src Source, p []byte) error {
	_, err := io.ReadFull(readerFunc(src.Read), p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("short read of %d bytes: %w", len(p), ErrFileCorrupted)
	case errors.Is(err, ErrIOFailed):
		return err
	default:
		return fmt.Errorf("%v: %w", err, ErrIOFailed)
	}
}

// WriteFull writes all of p to dst.
func WriteFull(dst Source, p []byte) error {
	for len(p) > 0 {
		n, err := dst.Write(p)
		if err != nil {
			if errors.Is(err, ErrIOFailed) {
				return err
			}
			return fmt.Errorf("%v: %w", err, ErrIOFailed)
		}
		if n == 0 {
			return fmt.Errorf("zero length write: %w", ErrIOFailed)
		}
		p = p[n:]
	}
	return nil
}

// Reader adapts a Source to io.Reader.
func Reader(src Source) io.Reader {
	return readerFunc(src.Read)
}

// Writer adapts a Source to io.Writer.
func Writer(dst Source) io.Writer {
	return writerFunc(dst.Write)
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
