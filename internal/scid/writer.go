package scid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"backtester/internal/domain"
)

// Writer appends tick records to a new SCID stream. The header is written
// when the Writer is created.
type Writer struct {
	bw      *bufio.Writer
	closer  io.Closer
	divisor float64
	buf     [RecordSize]byte
	n       int
}

// NewWriter writes a header to w and returns a Writer for its records.
func NewWriter(w io.Writer, opts ...Option) (*Writer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	bw := bufio.NewWriterSize(w, 64*RecordSize)
	var hdr [HeaderSize]byte
	encodeHeader(hdr[:])
	if _, err := bw.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("writing scid header: %w", err)
	}
	return &Writer{bw: bw, divisor: o.divisor}, nil
}

// Create creates (or truncates) the file at path, making parent
// directories as needed.
func Create(path string, opts ...Option) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write appends one tick.
func (w *Writer) Write(t domain.Tick) error {
	encodeRecord(w.buf[:], t, w.divisor)
	if _, err := w.bw.Write(w.buf[:]); err != nil {
		return fmt.Errorf("writing scid record %d: %w", w.n, err)
	}
	w.n++
	return nil
}

// WriteAll appends ticks in order.
func (w *Writer) WriteAll(ticks []domain.Tick) error {
	for i := range ticks {
		if err := w.Write(ticks[i]); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of records written so far.
func (w *Writer) Count() int { return w.n }

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Close flushes and, for writers made by Create, closes the file.
func (w *Writer) Close() error {
	err := w.bw.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// WriteFile is a convenience that writes ticks to a new file at path.
func WriteFile(path string, ticks []domain.Tick, opts ...Option) error {
	w, err := Create(path, opts...)
	if err != nil {
		return err
	}
	if err := w.WriteAll(ticks); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
