// Package source provides byte stream implementations of raster.Source.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jpfielding/raster.go/pkg/raster"
)

var errNotOpen = errors.New("source: not open")

// File is a Source backed by a path on disk.
type File struct {
	Path string
	f    *os.File
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (s *File) OpenToRead() error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("source: open %s: %v: %w", s.Path, err, raster.ErrIOFailed)
	}
	s.f = f
	return nil
}

func (s *File) OpenToWrite() error {
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("source: create %s: %v: %w", s.Path, err, raster.ErrIOFailed)
	}
	s.f = f
	return nil
}

func (s *File) Read(p []byte) (int, error) {
	if s.f == nil {
		return 0, errNotOpen
	}
	return s.f.Read(p)
}

func (s *File) Write(p []byte) (int, error) {
	if s.f == nil {
		return 0, errNotOpen
	}
	return s.f.Write(p)
}

func (s *File) Seek(offset int64) error {
	if s.f == nil {
		return errNotOpen
	}
	if _, err := s.f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("source: seek %d: %v: %w", offset, err, raster.ErrIOFailed)
	}
	return nil
}

func (s *File) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Memory is a Source over an in-memory byte slice. Writes append.
type Memory struct {
	buf []byte
	r   *bytes.Reader
}

func NewMemory(data []byte) *Memory {
	return &Memory{buf: data}
}

func (m *Memory) OpenToRead() error {
	m.r = bytes.NewReader(m.buf)
	return nil
}

func (m *Memory) OpenToWrite() error {
	m.buf = m.buf[:0]
	m.r = nil
	return nil
}

func (m *Memory) Read(p []byte) (int, error) {
	if m.r == nil {
		return 0, errNotOpen
	}
	return m.r.Read(p)
}

func (m *Memory) Write(p []byte) (int, error) {
	m.buf = append(m.buf, p...)
	return len(p), nil
}

func (m *Memory) Seek(offset int64) error {
	if m.r == nil {
		return errNotOpen
	}
	if _, err := m.r.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("source: seek %d: %v: %w", offset, err, raster.ErrIOFailed)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Bytes returns everything written so far.
func (m *Memory) Bytes() []byte {
	return m.buf
}

// contextSource fails every call once ctx is done.
type contextSource struct {
	raster.Source
	ctx context.Context
}

// WithContext wraps src so reads and writes fail with IOFailed after ctx
// is cancelled.
func WithContext(ctx context.Context, src raster.Source) raster.Source {
	if ctx == nil {
		return src
	}
	return &contextSource{Source: src, ctx: ctx}
}

func (c *contextSource) check() error {
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("source: %v: %w", err, raster.ErrIOFailed)
	}
	return nil
}

func (c *contextSource) Read(p []byte) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.Source.Read(p)
}

func (c *contextSource) Write(p []byte) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.Source.Write(p)
}

func (c *contextSource) Seek(offset int64) error {
	if err := c.check(); err != nil {
		return err
	}
	return c.Source.Seek(offset)
}
