package scid

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"backtester/internal/domain"
)

// File is a read-only, memory-mapped tick file. It is safe for concurrent
// readers; each Cursor carries its own offset.
type File struct {
	path    string
	r       *mmap.ReaderAt
	n       int
	divisor float64
}

// Open maps the file at path and validates its header and record layout.
// A missing or unreadable file yields domain.ErrFileAccess; any layout
// problem yields domain.ErrFormat.
func Open(path string, opts ...Option) (*File, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w: %w", path, domain.ErrFileAccess, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("opening %s: %w: is a directory", path, domain.ErrFileAccess)
	}

	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w: %w", path, domain.ErrFileAccess, err)
	}

	n, err := validate(r)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &File{path: path, r: r, n: n, divisor: o.divisor}, nil
}

// validate checks the header and returns the number of records.
func validate(r *mmap.ReaderAt) (int, error) {
	size := r.Len()
	if size < HeaderSize {
		return 0, fmt.Errorf("%w: file is %d bytes, shorter than the %d-byte header", domain.ErrFormat, size, HeaderSize)
	}

	var hdr [HeaderSize]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return 0, fmt.Errorf("%w: reading header: %w", domain.ErrFormat, err)
	}
	if [4]byte(hdr[0:4]) != magic {
		return 0, fmt.Errorf("%w: bad magic %q", domain.ErrFormat, hdr[0:4])
	}
	if hs := le.Uint32(hdr[4:8]); hs != HeaderSize {
		return 0, fmt.Errorf("%w: header size field is %d, want %d", domain.ErrFormat, hs, HeaderSize)
	}
	if rs := le.Uint32(hdr[8:12]); rs != RecordSize {
		return 0, fmt.Errorf("%w: record size field is %d, want %d", domain.ErrFormat, rs, RecordSize)
	}

	dataLen := size - HeaderSize
	if dataLen%RecordSize != 0 {
		return 0, fmt.Errorf("%w: data length %d is not a multiple of the %d-byte record (truncated trailing record)",
			domain.ErrFormat, dataLen, RecordSize)
	}
	return dataLen / RecordSize, nil
}

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Len returns the number of tick records.
func (f *File) Len() int { return f.n }

// Close unmaps the file.
func (f *File) Close() error {
	return f.r.Close()
}

// Tick decodes record i. It panics if i is out of range, like slice indexing.
func (f *File) Tick(i int) domain.Tick {
	if i < 0 || i >= f.n {
		panic(fmt.Sprintf("scid: record index %d out of range [0,%d)", i, f.n))
	}
	var buf [RecordSize]byte
	f.r.ReadAt(buf[:], recordOffset(i))
	return decodeRecord(buf[:], f.divisor)
}

// Ticks decodes every record into memory.
func (f *File) Ticks() ([]domain.Tick, error) {
	return f.ReadRange(0, f.n, make([]domain.Tick, 0, f.n))
}

// ReadRange decodes up to n records starting at offset and appends them to
// dst. Reading past the last record is not an error; fewer ticks are
// returned.
func (f *File) ReadRange(offset, n int, dst []domain.Tick) ([]domain.Tick, error) {
	if offset < 0 || n < 0 {
		return dst, fmt.Errorf("scid: negative range (offset %d, n %d)", offset, n)
	}
	end := min(offset+n, f.n)
	if offset >= end {
		return dst, nil
	}

	buf := make([]byte, (end-offset)*RecordSize)
	if _, err := f.r.ReadAt(buf, recordOffset(offset)); err != nil && err != io.EOF {
		return dst, fmt.Errorf("reading records %d-%d of %s: %w: %w", offset, end, f.path, domain.ErrFileAccess, err)
	}
	for i := 0; i < end-offset; i++ {
		dst = append(dst, decodeRecord(buf[i*RecordSize:], f.divisor))
	}
	return dst, nil
}

func recordOffset(i int) int64 {
	return int64(HeaderSize) + int64(i)*RecordSize
}

// ---------------------------------------------------------------------------
// Cursor
// ---------------------------------------------------------------------------

// Cursor pulls consecutive fixed-size chunks from a File. It can be
// restarted at any record offset without re-reading earlier records.
type Cursor struct {
	f   *File
	off int
}

// Cursor returns a cursor positioned at record offset.
func (f *File) Cursor(offset int) *Cursor {
	c := &Cursor{f: f}
	c.Seek(offset)
	return c
}

// Seek moves the cursor to record offset, clamped to [0, Len].
func (c *Cursor) Seek(offset int) {
	c.off = max(0, min(offset, c.f.n))
}

// Offset returns the index of the next record Next will return.
func (c *Cursor) Offset() int { return c.off }

// Next returns the next chunk of at most n ticks in a freshly allocated
// slice. It returns io.EOF once every record has been returned.
func (c *Cursor) Next(n int) ([]domain.Tick, error) {
	if n <= 0 {
		return nil, fmt.Errorf("scid: chunk size must be positive, got %d", n)
	}
	if c.off >= c.f.n {
		return nil, io.EOF
	}
	chunk, err := c.f.ReadRange(c.off, n, make([]domain.Tick, 0, min(n, c.f.n-c.off)))
	if err != nil {
		return nil, err
	}
	c.off += len(chunk)
	return chunk, nil
}
